package postgres

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/record"
)

var (
	minReconnectInterval = 10 * time.Second
	maxReconnectInterval = time.Minute
)

type (
	liveQuery struct {
		collection string
		load       func() ([]record.Record, error)
		onChange   func([]record.Record)
		last       string // fingerprint of the last delivered snapshot
	}

	// hub multiplexes every live query of a Store over a single LISTEN connection.
	// The records table trigger NOTIFYs the collection name on every write.
	hub struct {
		dsn    string
		logger core.Logger

		mu       sync.Mutex
		listener *pq.Listener
		queries  map[*liveQuery]struct{}
		done     chan struct{}
	}
)

func newHub(dsn string, logger core.Logger) *hub {
	return &hub{
		dsn:     dsn,
		logger:  logger,
		queries: make(map[*liveQuery]struct{}),
	}
}

// start must be called with h.mu held.
func (h *hub) start() error {
	if h.listener != nil {
		return nil
	}
	listener := pq.NewListener(h.dsn, minReconnectInterval, maxReconnectInterval, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			h.logger.Warn(fmt.Sprintf("record listener event %d: %v", ev, err), err)
		}
	})
	if err := listener.Listen(notifyChannel); err != nil {
		_ = listener.Close()
		return errors.Wrap(err, "listening to record changes")
	}
	h.listener = listener
	h.done = make(chan struct{})
	go h.loop(listener, h.done)
	return nil
}

func (h *hub) loop(listener *pq.Listener, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case n, ok := <-listener.Notify:
			if !ok {
				return
			}
			// a nil notification means the connection was re-established: anything may have changed
			collection := ""
			if n != nil {
				collection = n.Extra
			}
			h.refresh(collection)
		case <-time.After(90 * time.Second):
			go func() { _ = listener.Ping() }()
		}
	}
}

func (h *hub) refresh(collection string) {
	h.mu.Lock()
	lqs := make([]*liveQuery, 0, len(h.queries))
	for lq := range h.queries {
		if collection == "" || lq.collection == collection {
			lqs = append(lqs, lq)
		}
	}
	h.mu.Unlock()

	for _, lq := range lqs {
		h.deliver(lq)
	}
}

func (h *hub) deliver(lq *liveQuery) {
	recs, err := lq.load()
	if err != nil {
		h.logger.Error(fmt.Sprintf("reloading live query on %s: %v", lq.collection, err), err)
		return
	}
	fp := fingerprint(recs)

	h.mu.Lock()
	_, active := h.queries[lq]
	changed := fp != lq.last
	lq.last = fp
	h.mu.Unlock()

	if active && changed {
		lq.onChange(recs)
	}
}

func (h *hub) subscribe(ctx context.Context, collection string, load func() ([]record.Record, error), onChange func([]record.Record)) (record.Unsubscribe, error) {
	recs, err := load()
	if err != nil {
		return nil, err
	}

	lq := &liveQuery{collection: collection, load: load, onChange: onChange, last: fingerprint(recs)}
	h.mu.Lock()
	if err := h.start(); err != nil {
		h.mu.Unlock()
		return nil, core.NewQueryError(collection, err)
	}
	h.queries[lq] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.queries, lq)
			h.mu.Unlock()
		})
	}
	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			unsubscribe()
		}()
	}

	onChange(recs)
	return unsubscribe, nil
}

func (h *hub) close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener == nil {
		return nil
	}
	close(h.done)
	err := h.listener.Close()
	h.listener = nil
	return err
}

// fingerprint identifies a snapshot by its record ids and versions.
func fingerprint(recs []record.Record) string {
	var b strings.Builder
	for _, r := range recs {
		b.WriteString(r.ID)
		b.WriteByte('@')
		b.WriteString(r.UpdatedAt.Format(time.RFC3339Nano))
		b.WriteByte(';')
	}
	return b.String()
}
