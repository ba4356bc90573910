package services

import (
	"log/slog"

	"aerospin-backend/internal/models"
)

// Subscribe registers an observer and returns its event channel. Sends are
// non-blocking: a subscriber that falls behind loses events.
func (d *Dashboard) Subscribe(name string) <-chan models.DashboardEvent {
	ch := make(chan models.DashboardEvent, d.opts.ObserverBuffer)

	d.obsMu.Lock()
	defer d.obsMu.Unlock()
	if d.closed {
		close(ch)
		return ch
	}
	d.observers = append(d.observers, observer{name: name, ch: ch})
	d.logger.Debug("observer subscribed", slog.String("observer", name))
	return ch
}

// Close closes every observer channel. Later events are discarded.
func (d *Dashboard) Close() {
	d.obsMu.Lock()
	defer d.obsMu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	for _, o := range d.observers {
		close(o.ch)
	}
	d.observers = nil
}

// dispatch must be called without d.mu held
func (d *Dashboard) dispatch(events []models.DashboardEvent) {
	if len(events) == 0 {
		return
	}
	d.obsMu.Lock()
	defer d.obsMu.Unlock()
	if d.closed {
		return
	}
	for _, ev := range events {
		for _, o := range d.observers {
			select {
			case o.ch <- ev:
			default:
				d.logger.Warn("observer channel full, event dropped",
					slog.String("observer", o.name), slog.String("event", string(ev.Type)))
			}
		}
	}
}
