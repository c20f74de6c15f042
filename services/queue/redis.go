// Package queue is the redis backed event.Bus: events are JSON messages on a redis list, consumed by Run.
// A message whose handlers fail is moved to the dead letter queue; it is never retried.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/event"
)

var pollTimeout = 5 * time.Second

type (
	RedisBus struct {
		client *redis.Client
		queue  string
		dlq    string
		logger core.Logger

		mu       sync.RWMutex
		handlers map[event.Kind][]event.Handler
	}

	deadLetter struct {
		Message  json.RawMessage `json:"message"`
		Error    string          `json:"error"`
		FailedAt time.Time       `json:"failedAt"`
	}
)

var _ event.Bus = (*RedisBus)(nil) // interface compliance check

func NewRedisBus(ctx context.Context, conf *core.Config, logger core.Logger) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     conf.Events.RedisAddr,
		Password: conf.Events.RedisPassword,
		DB:       conf.Events.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "pinging redis")
	}
	return newRedisBus(client, conf.Events.Queue, conf.Events.DLQSuffix, logger), nil
}

func newRedisBus(client *redis.Client, queue, dlqSuffix string, logger core.Logger) *RedisBus {
	return &RedisBus{
		client:   client,
		queue:    queue,
		dlq:      queue + dlqSuffix,
		logger:   logger,
		handlers: make(map[event.Kind][]event.Handler),
	}
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}

func (b *RedisBus) Subscribe(kind event.Kind, h event.Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], h)
}

// Publish enqueues ev; handlers run later, in the Run loop.
func (b *RedisBus) Publish(ctx context.Context, ev event.Event) error {
	if !ev.Valid() {
		return errors.Errorf("invalid %q event %s", ev.Kind, ev.ID)
	}
	msg, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshalling event")
	}
	if err := b.client.LPush(ctx, b.queue, msg).Err(); err != nil {
		return errors.Wrapf(err, "pushing %s event to %s", ev.Kind, b.queue)
	}
	return nil
}

// Run consumes the queue until ctx is done.
func (b *RedisBus) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		result, err := b.client.BRPop(ctx, pollTimeout, b.queue).Result()
		if err != nil {
			if err == redis.Nil {
				continue // timeout, poll again
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.logger.Error(fmt.Sprintf("consuming %s: %v", b.queue, err), err)
			time.Sleep(time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		msg := []byte(result[1])
		if err := b.handle(ctx, msg); err != nil {
			b.logger.Error(fmt.Sprintf("processing message from %s: %v", b.queue, err), err)
			b.deadLetter(ctx, msg, err)
		}
	}
}

// handle decodes one message and runs every handler of its kind.
func (b *RedisBus) handle(ctx context.Context, msg []byte) error {
	var ev event.Event
	if err := json.Unmarshal(msg, &ev); err != nil {
		return errors.Wrap(err, "unmarshalling event")
	}
	if !ev.Valid() {
		return errors.Errorf("invalid %q event %s", ev.Kind, ev.ID)
	}

	b.mu.RLock()
	handlers := make([]event.Handler, len(b.handlers[ev.Kind]))
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

func (b *RedisBus) deadLetter(ctx context.Context, msg []byte, cause error) {
	letter := deadLetter{FailedAt: time.Now().UTC(), Error: cause.Error()}
	if json.Valid(msg) {
		letter.Message = msg
	} else {
		letter.Message, _ = json.Marshal(string(msg))
	}
	payload, err := json.Marshal(letter)
	if err != nil {
		b.logger.Error(fmt.Sprintf("marshalling dead letter: %v", err), err)
		return
	}
	if err := b.client.LPush(ctx, b.dlq, payload).Err(); err != nil {
		b.logger.Error(fmt.Sprintf("moving message to %s: %v", b.dlq, err), err)
	}
}
