package domain

import "time"

// RegistrationBroadcastType is the wire discriminator of RegistrationBroadcast.
const RegistrationBroadcastType = "registration-broadcast"

// RegistrationBroadcast announces a newly registered client on the
// registration topic.
type RegistrationBroadcast struct {
	ID    string    `cbor:"id" json:"id"`
	Email string    `cbor:"email" json:"email"`
	Name  string    `cbor:"name" json:"name"`
	Time  time.Time `cbor:"time" json:"time"`
}

// PayloadType implements messaging.Typed.
func (RegistrationBroadcast) PayloadType() string { return RegistrationBroadcastType }

// NewRegistrationBroadcast builds the broadcast for c.
func NewRegistrationBroadcast(c *Client) RegistrationBroadcast {
	return RegistrationBroadcast{
		ID:    c.ID,
		Email: c.Email,
		Name:  c.Name,
		Time:  c.CreatedAt,
	}
}
