// Package notify delivers operator alerts for settlement events. Alerts are
// dispatched to every configured sender (Telegram, Discord); a single sender
// failure does not prevent delivery to the rest.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Notifier is the alert surface the service layer depends on.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Sender is the interface each notification channel implements.
type Sender interface {
	// Send delivers a single alert message.
	Send(ctx context.Context, message string) error
	// Name returns a human-readable identifier for the sender.
	Name() string
}

// Dispatcher fans an alert out to all registered senders.
type Dispatcher struct {
	senders []Sender
	logger  *slog.Logger
}

// NewDispatcher creates a Dispatcher delivering to the given senders.
func NewDispatcher(senders []Sender, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		senders: senders,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends an alert to every sender. Errors from individual senders are
// collected into one combined error.
func (d *Dispatcher) Notify(ctx context.Context, message string) error {
	if len(d.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range d.senders {
		if err := s.Send(ctx, message); err != nil {
			d.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// Compile-time interface check.
var _ Notifier = (*Dispatcher)(nil)
