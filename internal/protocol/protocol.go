// Package protocol defines the JSON envelopes exchanged over the duplex channel.
//
// Every message is a JSON object of the form
//
//	{"kind": "value", "data": {"key": "theme", "value": "dark"}}
//	{"kind": "ready"}
//
// A "value" envelope carries one environment key and its new value. A
// "ready" envelope carries no data and is sent once by the server after
// it has finished initializing the session.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Message kinds.
const (
	KindValue = "value"
	KindReady = "ready"
)

// ErrMalformed is returned by [Decode] for any envelope that does not
// conform to the protocol.
var ErrMalformed = errors.New("malformed envelope")

// Envelope is the wire form of every message.
type Envelope struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Value is the payload of a "value" envelope.
type Value struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// Message is a decoded envelope.
type Message struct {
	Kind string

	// Value is set when Kind is KindValue.
	Value Value
}

// EncodeValue returns the wire form of a "value" envelope.
func EncodeValue(key string, value any) ([]byte, error) {
	data, err := json.Marshal(Value{Key: key, Value: value})
	if err != nil {
		return nil, fmt.Errorf("encode value %q: %w", key, err)
	}
	return json.Marshal(Envelope{Kind: KindValue, Data: data})
}

// EncodeReady returns the wire form of a "ready" envelope.
func EncodeReady() []byte {
	return []byte(`{"kind":"ready"}`)
}

// Decode parses one wire message.
//
// Unknown kinds, invalid JSON, and value envelopes without a key are
// reported as [ErrMalformed]. Data on a ready envelope is ignored.
func Decode(raw []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Kind {
	case KindReady:
		return Message{Kind: KindReady}, nil

	case KindValue:
		if len(env.Data) == 0 {
			return Message{}, fmt.Errorf("%w: value envelope without data", ErrMalformed)
		}
		var v struct {
			Key   *string `json:"key"`
			Value any     `json:"value"`
		}
		if err := json.Unmarshal(env.Data, &v); err != nil {
			return Message{}, fmt.Errorf("%w: value data: %v", ErrMalformed, err)
		}
		if v.Key == nil {
			return Message{}, fmt.Errorf("%w: value envelope without key", ErrMalformed)
		}
		return Message{Kind: KindValue, Value: Value{Key: *v.Key, Value: v.Value}}, nil

	default:
		return Message{}, fmt.Errorf("%w: unknown kind %q", ErrMalformed, env.Kind)
	}
}
