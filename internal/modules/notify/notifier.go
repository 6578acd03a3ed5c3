// README: Notifier fan-out and no-op implementations.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"glideway/internal/observability"
)

type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }

type named struct {
	name string
	n    Notifier
}

// Multi delivers each event to every channel. A failing channel does not
// stop delivery to the others.
type Multi struct {
	channels []named
	log      *slog.Logger
}

func NewMulti(log *slog.Logger) *Multi {
	return &Multi{log: log}
}

// Add registers a channel under a metrics label.
func (m *Multi) Add(name string, n Notifier) *Multi {
	m.channels = append(m.channels, named{name: name, n: n})
	return m
}

func (m *Multi) Len() int { return len(m.channels) }

func (m *Multi) Notify(ctx context.Context, e Event) error {
	var errs []error
	for _, c := range m.channels {
		if err := c.n.Notify(ctx, e); err != nil {
			observability.NotificationsFailedTotal.WithLabelValues(c.name).Inc()
			m.log.Warn("notification failed",
				"channel", c.name, "type", e.Type, "user_id", e.UserID, "ride_id", e.RideID, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	return errors.Join(errs...)
}
