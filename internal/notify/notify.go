// Package notify delivers the user-facing outcome of an ingestion run
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"
)

// Kind tells success and failure notifications apart
type Kind string

const (
	Success Kind = "success"
	Failure Kind = "failure"
)

// Notification is the single message emitted at the end of a run
type Notification struct {
	UserID    string    `json:"user_id"`
	Kind      Kind      `json:"kind"`
	Message   string    `json:"message"`
	ReceiptID string    `json:"receipt_id,omitempty"`
	Total     string    `json:"total,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

// ToJSON converts the notification to JSON bytes
func (n Notification) ToJSON() ([]byte, error) {
	return json.Marshal(n)
}

// FromJSON reads a notification from JSON bytes
func FromJSON(data []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return Notification{}, err
	}
	return n, nil
}

// Notifier delivers notifications
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Log writes notifications to the structured log
type Log struct {
	logger *slog.Logger
}

// NewLog creates a Log notifier; a nil logger means slog.Default()
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger.With("component", "notify")}
}

func (l *Log) Notify(ctx context.Context, n Notification) error {
	level := slog.LevelInfo
	if n.Kind == Failure {
		level = slog.LevelWarn
	}
	l.logger.Log(ctx, level, n.Message,
		"user_id", n.UserID,
		"kind", n.Kind,
		"receipt_id", n.ReceiptID,
		"total", n.Total,
		"reason", n.Reason,
	)
	return nil
}

// Multi fans a notification out to every notifier. All notifiers are called
// even when one fails.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range m {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
