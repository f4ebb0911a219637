// Package notify fans alert messages out to the configured channels. An
// alert failure never fails the operation that raised it; a dead channel
// only costs the operator the ping.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans alerts out to every configured Sender, applying an optional
// per-Event subscription filter. With no subscriptions configured, every
// event is delivered. NotifyAll skips the filter and is reserved for alerts
// that must always reach the operator, such as a failed rollback.
type Notifier struct {
	senders    []Sender
	subscribed map[Event]struct{} // nil means deliver everything
	logger     *slog.Logger
}

// NewNotifier builds a Notifier subscribed to the named events. Names come
// straight from config, so unknown entries are kept verbatim rather than
// rejected; they simply never match.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	n := &Notifier{
		senders: senders,
		logger:  logger.With(slog.String("component", "notifier")),
	}
	if len(events) > 0 {
		n.subscribed = make(map[Event]struct{}, len(events))
		for _, e := range events {
			n.subscribed[Event(strings.TrimSpace(e))] = struct{}{}
		}
	}
	return n
}

// Notify delivers the alert if the event is subscribed.
func (n *Notifier) Notify(ctx context.Context, event Event, title, message string) error {
	if n.subscribed != nil {
		if _, ok := n.subscribed[event]; !ok {
			n.logger.DebugContext(ctx, "event not subscribed",
				slog.String("event", string(event)),
			)
			return nil
		}
	}
	return n.fanOut(ctx, title, message)
}

// NotifyAll delivers the alert regardless of subscriptions.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.fanOut(ctx, title, message)
}

// fanOut tries every sender before reporting failures, so one dead channel
// does not silence the rest.
func (n *Notifier) fanOut(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "alert delivery failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "alert delivered",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %w", errors.Join(errs...))
	}
	return nil
}
