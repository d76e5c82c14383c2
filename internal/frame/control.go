package frame

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// Control actions.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// Params are optional filter parameters attached to a subscription.
type Params map[string]any

// Control is a client-to-server control message.
type Control struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
	Params  Params `json:"params,omitempty"`
}

// Encode marshals the control message.
func (c Control) Encode() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode %s %s: %w", c.Action, c.Channel, err)
	}
	return data, nil
}
