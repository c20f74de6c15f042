package event

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// LocalBus dispatches events synchronously, in the publisher's goroutine, to handlers in
// registration order. Every handler runs; the first failure is returned.
type LocalBus struct {
	mu       sync.RWMutex
	handlers map[Kind][]Handler
}

var _ Bus = (*LocalBus)(nil) // interface compliance check

func NewLocalBus() *LocalBus {
	return &LocalBus{handlers: make(map[Kind][]Handler)}
}

func (b *LocalBus) Subscribe(kind Kind, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], h)
}

func (b *LocalBus) Publish(ctx context.Context, ev Event) error {
	if !ev.Valid() {
		return errors.Errorf("invalid %q event %s", ev.Kind, ev.ID)
	}

	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[ev.Kind]))
	copy(handlers, b.handlers[ev.Kind])
	b.mu.RUnlock()

	var firstErr error
	for _, h := range handlers {
		if err := h(ctx, ev); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "handling %s event %s", ev.Kind, ev.ID)
		}
	}
	return firstErr
}
