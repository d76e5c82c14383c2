package api

import (
	json "github.com/goccy/go-json"
)

// Envelope is the common REST response wrapper.
type Envelope struct {
	Success *bool           `json:"success,omitempty"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error,omitempty"`
}

// Failed reports an explicit "success":false.
func (e *Envelope) Failed() bool {
	return e.Success != nil && !*e.Success
}

// CandleOptions filters a candle backfill.
type CandleOptions struct {
	From  int64 // Unix ms, inclusive; 0 = server default
	To    int64 // Unix ms, exclusive; 0 = now
	Limit int
}

// PageOptions bounds a list backfill.
type PageOptions struct {
	Limit  int
	Before string // Cursor (signature or id) to page backwards from
}
