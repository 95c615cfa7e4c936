package messaging

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Codec serializes envelopes and payloads.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// CBORCodec is the default binary codec.
type CBORCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCBORCodec creates a CBOR codec that keeps sub-second timestamps.
func NewCBORCodec() (*CBORCodec, error) {
	enc, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		return nil, fmt.Errorf("failed to build cbor encoder: %w", err)
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("failed to build cbor decoder: %w", err)
	}
	return &CBORCodec{enc: enc, dec: dec}, nil
}

func (c *CBORCodec) Name() string { return "cbor" }

func (c *CBORCodec) Marshal(v any) ([]byte, error) { return c.enc.Marshal(v) }

func (c *CBORCodec) Unmarshal(data []byte, v any) error { return c.dec.Unmarshal(data, v) }

// JSONCodec is a human-readable alternative for debugging topics.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// NewCodec returns the codec registered under name.
func NewCodec(name string) (Codec, error) {
	switch name {
	case "", "cbor":
		return NewCBORCodec()
	case "json":
		return JSONCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}
