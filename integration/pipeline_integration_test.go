package integration

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"auth-go/internal/app"
	"auth-go/internal/config"
	"auth-go/internal/domain"
	"auth-go/internal/jobs"
	"auth-go/internal/mail"
	"auth-go/internal/messaging"
	"auth-go/internal/notification"
	queuemem "auth-go/internal/queue/memory"
	"auth-go/internal/registration"
	"auth-go/internal/scheduler"
	storemem "auth-go/internal/store/memory"
)

const pipelineConfig = `
storage:
  mode: memory
kafka:
  domain: registration
  partitions: 4
  reconnect:
    attempts: 3
    period: 5ms
    max_period: 20ms
  retry:
    max_attempts: 2
  consumers:
    mail:
      strategy: PARALLEL
      max_wait: 5ms
    retry:
      max_wait: 5ms
scheduler:
  lock_store: memory
  jobs:
    - name: client-audit
      lock_at_most_for: 1s
      lock_at_least_for: 20ms
logger:
  format: text
`

// countingMailer fails the first failures attempts and counts every attempt.
type countingMailer struct {
	attempts atomic.Int32
	failures atomic.Int32
	next     notification.Mailer
}

func (m *countingMailer) Send(ctx context.Context, mail notification.Mail) error {
	if m.attempts.Add(1) <= m.failures.Load() {
		return errors.New("smtp unavailable")
	}
	return m.next.Send(ctx, mail)
}

// readTopic decodes every retry envelope published to topic.
func readTopic(broker *queuemem.Broker, codec messaging.Codec, topic string) []messaging.RetryMessage {
	var out []messaging.RetryMessage
	for _, m := range broker.Messages(topic) {
		var env messaging.Envelope
		Expect(codec.Unmarshal(m.Value, &env)).To(Succeed())
		var msg messaging.RetryMessage
		Expect(codec.Unmarshal(env.Payload, &msg)).To(Succeed())
		out = append(out, msg)
	}
	return out
}

var _ = Describe("Registration pipeline", func() {
	var (
		cfg       *config.Config
		logger    *slog.Logger
		broker    *queuemem.Broker
		clients   *storemem.ClientRepository
		stub      *notification.StubMailer
		mailer    *countingMailer
		pipeline  *app.Pipeline
		lifecycle *app.Lifecycle
		registrar *registrationFixture
	)

	BeforeEach(func() {
		var err error
		cfg, err = config.Parse([]byte(pipelineConfig))
		Expect(err).NotTo(HaveOccurred())

		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		broker = queuemem.NewBroker(cfg.Kafka.Partitions)
		DeferCleanup(broker.Close)

		clients = storemem.NewClientRepository()
		stub = notification.NewStubMailer(logger)
		mailer = &countingMailer{next: stub}

		mailService := mail.NewService(mailer, storemem.NewIdempotencyStore(), cfg.Mail.From, cfg.Mail.IdempotencyTTL, logger)
		pipeline, err = app.NewPipeline(&cfg.Kafka, broker, broker, mailService, logger)
		Expect(err).NotTo(HaveOccurred())

		sched := scheduler.New(storemem.NewLockProvider(), logger)
		Expect(jobs.Register(sched, cfg.Scheduler.Jobs, map[string]scheduler.Task{
			jobs.ClientAudit: jobs.AuditClients(clients, logger),
		})).To(Succeed())

		lifecycle = app.New(sched, logger, pipeline.Consumers()...)
		registrar = newRegistrationFixture(clients, pipeline, logger)
	})

	JustBeforeEach(func() {
		Expect(lifecycle.OnReady(context.Background())).To(Succeed())
		DeferCleanup(lifecycle.OnShutdown)
	})

	It("sends exactly one welcome mail per registration", func() {
		client := registrar.register("ada@example.com", "Ada")

		Eventually(func() int { return len(stub.Sent()) }).WithTimeout(2 * time.Second).Should(Equal(1))
		Consistently(func() int { return len(stub.Sent()) }).WithTimeout(100 * time.Millisecond).Should(Equal(1))

		Expect(stub.Sent()[0].To).To(Equal(client.Email))
		Expect(broker.Len(cfg.Kafka.Producers[config.ProducerRetry].Topic)).To(BeZero())
	})

	Context("when the mailer keeps failing", func() {
		BeforeEach(func() {
			mailer.failures.Store(1000)
		})

		It("retries up to the ceiling and dead-letters the broadcast", func() {
			client := registrar.register("abc@example.com", "abc")
			topics := config.Topics(cfg.Kafka.Domain)

			Eventually(func() int { return broker.Len(topics.DLQ) }).WithTimeout(3 * time.Second).Should(Equal(1))

			retried := readTopic(broker, pipeline.Codec, topics.Retry)
			Expect(retried).To(HaveLen(2))
			Expect(retried[0].Attempt).To(BeEquivalentTo(1))
			Expect(retried[1].Attempt).To(BeEquivalentTo(2))

			dead := readTopic(broker, pipeline.Codec, topics.DLQ)
			Expect(dead).To(HaveLen(1))
			Expect(dead[0].Attempt).To(BeEquivalentTo(3))
			Expect(dead[0].Key).To(Equal(client.ID))
			Expect(dead[0].Type).To(Equal(domain.RegistrationBroadcastType))

			// Primary delivery plus one retry; the ceiling stops the third.
			Expect(mailer.attempts.Load()).To(BeEquivalentTo(2))
			Expect(stub.Sent()).To(BeEmpty())
		})
	})

	Context("when the mailer recovers", func() {
		BeforeEach(func() {
			mailer.failures.Store(1)
		})

		It("delivers the mail from the retry topic", func() {
			registrar.register("grace@example.com", "Grace")
			topics := config.Topics(cfg.Kafka.Domain)

			Eventually(func() int { return len(stub.Sent()) }).WithTimeout(3 * time.Second).Should(Equal(1))
			Expect(mailer.attempts.Load()).To(BeEquivalentTo(2))
			Expect(broker.Len(topics.Retry)).To(Equal(1))
			Expect(broker.Len(topics.DLQ)).To(BeZero())
		})
	})

	It("reports consumer and job status", func() {
		Eventually(func() []scheduler.JobStatus { return lifecycle.Jobs() }).Should(ContainElement(
			HaveField("Runs", BeNumerically(">=", 1)),
		))

		statuses := lifecycle.Consumers()
		Expect(statuses).To(HaveLen(2))
		Expect(statuses[0].Name).To(Equal(config.ConsumerMail))
		Expect(statuses[0].Strategy).To(Equal(messaging.StrategyParallel))
		Expect(statuses[1].Name).To(Equal(config.ConsumerRetry))
	})
})

// registrationFixture registers clients through the real service.
type registrationFixture struct {
	service *registration.Service
}

func newRegistrationFixture(clients *storemem.ClientRepository, p *app.Pipeline, logger *slog.Logger) *registrationFixture {
	return &registrationFixture{service: registration.NewService(clients, p.Registrations, logger)}
}

func (f *registrationFixture) register(email, name string) *domain.Client {
	client, err := f.service.Register(context.Background(), domain.RegistrationRequest{Email: email, Name: name})
	Expect(err).NotTo(HaveOccurred())
	return client
}
