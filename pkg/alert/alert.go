// Package alert reports failures that need human attention, outside the
// normal retry path.
package alert

import (
	"context"
	"errors"
	"log/slog"
)

// Severity of an alert.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Alert is one out-of-band error report.
type Alert struct {
	Kind       string
	Severity   Severity
	Identifier string
	Data       map[string]any
}

// Sink receives alerts.
type Sink interface {
	Alert(ctx context.Context, a Alert) error
}

// LogSink writes alerts to a structured logger.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Alert(_ context.Context, a Alert) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Error("alert",
		"kind", a.Kind,
		"severity", a.Severity,
		"identifier", a.Identifier,
		"data", a.Data,
	)
	return nil
}

// Multi fans an alert out to several sinks and joins their errors.
type Multi []Sink

func (m Multi) Alert(ctx context.Context, a Alert) error {
	var errs []error
	for _, s := range m {
		if err := s.Alert(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards alerts.
type Nop struct{}

func (Nop) Alert(context.Context, Alert) error { return nil }
