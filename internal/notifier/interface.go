// Package notifier tells operators about engine events: rate-limit
// suspensions, failed downloads and drained queues.
package notifier

import (
	"context"
	"time"
)

// Config holds notifier configuration
type Config struct {
	Type   string         `mapstructure:"type"`
	Params map[string]any `mapstructure:"params"`
}

// Notification is one engine event worth reporting.
type Notification struct {
	Kind     string    `json:"kind"`
	Provider string    `json:"provider"`
	Session  string    `json:"session,omitempty"`
	Symbol   string    `json:"symbol,omitempty"`
	Message  string    `json:"message,omitempty"`
	Time     time.Time `json:"time"`
}

// Notifier defines the interface for event notification
type Notifier interface {
	// Name returns the unique identifier for this notifier
	Name() string

	// Init initializes the notifier with configuration
	Init(cfg Config) error

	// Send delivers a single notification
	Send(ctx context.Context, n Notification) error

	// SendBatch delivers several notifications at once
	SendBatch(ctx context.Context, ns []Notification) error
}

// StringParam reads a string parameter, or "" if absent.
func StringParam(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return s
}

// StringMapParam reads a string map parameter. Config decoders produce
// map[string]any, tests tend to pass map[string]string.
func StringMapParam(params map[string]any, key string) map[string]string {
	switch m := params[key].(type) {
	case map[string]string:
		return m
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, v := range m {
			if s, ok := v.(string); ok {
				out[k] = s
			}
		}
		return out
	}
	return nil
}
