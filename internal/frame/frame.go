package frame

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

// PingChannel is the reserved channel used by the server for heartbeats.
const PingChannel = "ping"

// Errors
var (
	ErrEmptyFrame     = errors.New("empty frame")
	ErrMissingChannel = errors.New("frame has no channel")
)

// Kind tags a decoded frame.
type Kind int

const (
	KindData Kind = iota
	KindAck
	KindPing
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindAck:
		return "ack"
	case KindPing:
		return "ping"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Frame is a decoded unit received from the stream.
type Frame struct {
	Kind       Kind
	Channel    string
	Success    *bool           // nil when the field was absent
	Error      string          // server-provided error text, if any
	Payload    json.RawMessage // raw "data" field; nil for ping/ack
	ReceivedAt time.Time
}

// wire is the JSON shape of an inbound frame.
type wire struct {
	Channel string          `json:"channel"`
	Success *bool           `json:"success,omitempty"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Decode parses raw bytes into a Frame. It never panics; malformed input
// returns an error and the caller is expected to drop the frame.
func Decode(data []byte, receivedAt time.Time) (Frame, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Frame{}, ErrEmptyFrame
	}

	var w wire
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if w.Channel == "" {
		return Frame{}, ErrMissingChannel
	}

	f := Frame{
		Channel:    w.Channel,
		Success:    w.Success,
		Error:      w.Error,
		ReceivedAt: receivedAt,
	}

	switch {
	case w.Channel == PingChannel:
		f.Kind = KindPing
	case isTrue(w.Success):
		f.Kind = KindAck
	default:
		f.Kind = KindData
		if hasPayload(w.Data) {
			f.Payload = w.Data
		}
	}

	return f, nil
}

// HasPayload reports whether the frame carries a non-null data field.
func (f Frame) HasPayload() bool {
	return hasPayload(f.Payload)
}

func hasPayload(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

func isTrue(b *bool) bool {
	return b != nil && *b
}
