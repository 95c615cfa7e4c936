package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// getBaseURL returns the base URL for API calls.
// Uses AUTHD_BASE_URL env var if set (for container tests),
// otherwise defaults to localhost:8080.
func getBaseURL() string {
	if url := os.Getenv("AUTHD_BASE_URL"); url != "" {
		return url
	}
	return "http://localhost:8080"
}

// httpClient creates an HTTP client with sensible defaults.
func httpClient() *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
	}
}

// doRequest performs an HTTP request and returns the response.
func doRequest(method, path string, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(data)
	}

	url := getBaseURL() + path
	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return httpClient().Do(req)
}

// parseResponse parses JSON response into target.
func parseResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}

var _ = Describe("HTTP Integration Tests", Ordered, func() {
	var (
		clientID string
		email    string
	)

	BeforeAll(func() {
		// Check if the server is reachable
		resp, err := doRequest("GET", "/healthz", nil)
		if err != nil {
			Skip(fmt.Sprintf("Server not reachable at %s: %v", getBaseURL(), err))
		}
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		email = fmt.Sprintf("it-%s@example.com", uuid.NewString()[:8])
	})

	Describe("Health Check", func() {
		It("should return healthy status", func() {
			resp, err := doRequest("GET", "/healthz", nil)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("should expose prometheus metrics", func() {
			resp, err := doRequest("GET", "/metrics", nil)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("authd_"))
		})
	})

	Describe("Registrations API", func() {
		It("should register a client", func() {
			payload := map[string]interface{}{
				"email": email,
				"name":  "HTTP Test Client",
			}

			resp, err := doRequest("POST", "/v1/registrations", payload)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var result map[string]interface{}
			Expect(parseResponse(resp, &result)).To(Succeed())

			data, ok := result["data"].(map[string]interface{})
			Expect(ok).To(BeTrue())
			clientID = data["id"].(string)

			Expect(data["email"]).To(Equal(email))
			Expect(data["name"]).To(Equal("HTTP Test Client"))
		})

		It("should get the registered client", func() {
			resp, err := doRequest("GET", "/v1/registrations/"+clientID, nil)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var result map[string]interface{}
			Expect(parseResponse(resp, &result)).To(Succeed())

			data := result["data"].(map[string]interface{})
			Expect(data["email"]).To(Equal(email))
		})

		It("should reject a duplicate email", func() {
			resp, err := doRequest("POST", "/v1/registrations", map[string]interface{}{
				"email": email,
				"name":  "Again",
			})
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
		})

		It("should reject an invalid request", func() {
			resp, err := doRequest("POST", "/v1/registrations", map[string]interface{}{
				"email": "not-an-email",
			})
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("Pipeline API", func() {
		It("should report the mail and retry consumers", func() {
			resp, err := doRequest("GET", "/v1/pipeline/consumers", nil)
			Expect(err).NotTo(HaveOccurred())

			var result map[string]interface{}
			Expect(parseResponse(resp, &result)).To(Succeed())

			data, ok := result["data"].([]interface{})
			Expect(ok).To(BeTrue())

			var names []string
			for _, c := range data {
				names = append(names, c.(map[string]interface{})["name"].(string))
			}
			Expect(names).To(ContainElements("mail", "retry"))
		})

		It("should eventually process the registration", func() {
			Eventually(func() float64 {
				resp, err := doRequest("GET", "/v1/pipeline/consumers", nil)
				if err != nil {
					return 0
				}
				var result map[string]interface{}
				if parseResponse(resp, &result) != nil {
					return 0
				}
				for _, c := range result["data"].([]interface{}) {
					status := c.(map[string]interface{})
					if status["name"] == "mail" {
						return status["processed"].(float64)
					}
				}
				return 0
			}).WithTimeout(15 * time.Second).WithPolling(250 * time.Millisecond).Should(BeNumerically(">=", 1))
		})

		It("should report the scheduled jobs", func() {
			resp, err := doRequest("GET", "/v1/pipeline/jobs", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var result map[string]interface{}
			Expect(parseResponse(resp, &result)).To(Succeed())

			_, ok := result["data"].([]interface{})
			Expect(ok).To(BeTrue())
		})
	})
})
