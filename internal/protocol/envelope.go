// Package protocol defines the wire envelope and command/event/reason
// vocabulary for the duplex channel (spec.md §6), encoded as
// application/msgpack over length-prefixed frames.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Envelope is the single message shape used for commands, responses, and
// events: {id, type, payload}.
type Envelope struct {
	ID      string         `msgpack:"id"`
	Type    string         `msgpack:"type"`
	Payload map[string]any `msgpack:"payload"`
}

// maxFrameSize bounds a single frame to guard against a malicious or buggy
// client sending an unbounded length prefix.
const maxFrameSize = 1 << 20 // 1 MiB

// Encode serializes an Envelope to msgpack with a 4-byte big-endian length
// prefix, matching spec.md §6's "length-prefixed" framing requirement.
func Encode(w io.Writer, env Envelope) error {
	body, err := msgpack.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if len(body) > maxFrameSize {
		return fmt.Errorf("encode envelope: frame too large (%d bytes)", len(body))
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(body)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}
	return nil
}

// Decode reads one length-prefixed msgpack frame from r into an Envelope.
func Decode(r io.Reader) (Envelope, error) {
	var env Envelope
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return env, err
	}
	length := binary.BigEndian.Uint32(prefix[:])
	if length > maxFrameSize {
		return env, fmt.Errorf("decode envelope: frame too large (%d bytes)", length)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return env, fmt.Errorf("read frame body: %w", err)
	}
	if err := msgpack.Unmarshal(body, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

// MarshalFrame serializes an Envelope to msgpack bytes with no length
// prefix, for transports (gorilla/websocket) that already frame messages.
func MarshalFrame(env Envelope) ([]byte, error) {
	body, err := msgpack.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	if len(body) > maxFrameSize {
		return nil, fmt.Errorf("encode envelope: frame too large (%d bytes)", len(body))
	}
	return body, nil
}

// UnmarshalFrame parses one already-delimited msgpack frame into an
// Envelope.
func UnmarshalFrame(body []byte) (Envelope, error) {
	var env Envelope
	if len(body) > maxFrameSize {
		return env, fmt.Errorf("decode envelope: frame too large (%d bytes)", len(body))
	}
	if err := msgpack.Unmarshal(body, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

// Success builds a resp_success envelope replying to the command with id.
func Success(id string, data map[string]any) Envelope {
	return Envelope{ID: id, Type: RespSuccess, Payload: data}
}

// Error builds a resp_error envelope replying to the command with id.
func Error(id, reason, message string) Envelope {
	return Envelope{ID: id, Type: RespError, Payload: map[string]any{
		"reason":  reason,
		"message": message,
	}}
}

// Event builds a fresh-id event envelope of the given type.
func Event(id, eventType string, data map[string]any) Envelope {
	return Envelope{ID: id, Type: eventType, Payload: data}
}
