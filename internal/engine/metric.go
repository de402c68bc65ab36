package engine

import (
	"time"
)

// Attribute is a single free-form key/value pair attached to a metric.
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// QueryContext carries the caller context for one tracked execution.
// All fields are optional.
type QueryContext struct {
	UserID       string      `json:"user_id,omitempty"`
	TenantID     string      `json:"tenant_id,omitempty"`
	ConnectionID string      `json:"connection_id,omitempty"`
	Source       string      `json:"source,omitempty"`
	Attributes   []Attribute `json:"attributes,omitempty"`
}

// TrackInfo is the optional per-execution payload passed to Track.
// Rows below zero means the row count is unknown.
type TrackInfo struct {
	Rows    int64
	Plan    string
	Context QueryContext
}

// QueryMetric is one observed query execution. Metrics are immutable
// once built; the store evicts them, it never mutates them.
type QueryMetric struct {
	ID         string       `json:"id"`
	Query      string       `json:"query"`
	Pattern    string       `json:"pattern"`
	DurationMs float64      `json:"duration_ms"`
	Timestamp  time.Time    `json:"timestamp"`
	Rows       int64        `json:"rows"`
	Plan       string       `json:"plan,omitempty"`
	Context    QueryContext `json:"context"`
}

// BatchEntry is one element of a BatchTrack call.
type BatchEntry struct {
	Query     string
	StartedAt time.Time
	Info      *TrackInfo
}
