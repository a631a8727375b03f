// Package notify delivers operator-facing alerts to chat services.
package notify

import (
	"context"
	"errors"
	"log/slog"
)

// Level is the severity of a notification.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Notifier sends a message to an operator channel.
type Notifier interface {
	Notify(ctx context.Context, level Level, message string) error
}

// LogNotifier writes notifications to slog. It is the fallback when no chat
// service is configured.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: slog.Default().With("component", "notify")}
}

func (n *LogNotifier) Notify(ctx context.Context, level Level, message string) error {
	switch level {
	case LevelError:
		n.log.Error(message)
	case LevelWarn:
		n.log.Warn(message)
	default:
		n.log.Info(message)
	}
	return nil
}

// Multi fans a notification out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, level Level, message string) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, level, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
