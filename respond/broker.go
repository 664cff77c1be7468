// Package respond provides the per-transaction rendezvous channel between
// response producers and long-polling consumers.
//
// A channel is keyed by session id and transaction id. Producers register a
// deferred payload constructor; consumers block until a payload is
// available. Production is deferred until the moment of delivery so a
// payload posted early still reflects every change made up to the instant a
// consumer arrives.
package respond

import (
	"context"
	"errors"
	"strconv"
	"sync"
)

// Sentinel errors for broker operations.
var (
	// ErrWritePending is returned when a write is posted on a key that
	// already has an undelivered write. At most one write may be pending
	// per key; callers must check WritePending first and defer instead of
	// double-posting.
	ErrWritePending = errors.New("write already pending on channel")
	// ErrReadPending is returned when a second consumer tries to wait on a
	// key that already has a waiting consumer.
	ErrReadPending = errors.New("read already pending on channel")
)

// Key builds the channel key for a session and transaction.
func Key(sessionID string, transactionID int64) string {
	return sessionID + ":" + strconv.FormatInt(transactionID, 10)
}

type channel[T any] struct {
	produce func() T     // set when a writer is parked on the key
	reader  chan func() T // set when a consumer is parked on the key
}

// Broker pairs at most one pending producer with at most one waiting
// consumer per key. Each pairing delivers exactly once and is then consumed.
// Safe for concurrent use.
type Broker[T any] struct {
	channels map[string]*channel[T]
	mu       sync.Mutex
}

// NewBroker creates an empty Broker.
func NewBroker[T any]() *Broker[T] {
	return &Broker[T]{channels: make(map[string]*channel[T])}
}

// WritePending reports whether the key has an undelivered write.
func (b *Broker[T]) WritePending(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.channels[key]
	return ok && ch.produce != nil
}

// Write registers produce as the pending payload for key. If a consumer is
// already waiting, the constructor is handed over immediately and invoked on
// the consumer's goroutine; otherwise it is parked until a consumer arrives.
// Returns ErrWritePending if the key already has an undelivered write.
func (b *Broker[T]) Write(key string, produce func() T) error {
	b.mu.Lock()
	ch, ok := b.channels[key]
	if !ok {
		b.channels[key] = &channel[T]{produce: produce}
		b.mu.Unlock()
		return nil
	}
	if ch.produce != nil {
		b.mu.Unlock()
		return ErrWritePending
	}

	// A consumer is parked on this key; the pairing is consumed.
	reader := ch.reader
	delete(b.channels, key)
	b.mu.Unlock()

	reader <- produce
	return nil
}

// Read delivers the next payload for key, blocking until a producer arrives
// or ctx is done. The payload constructor runs on the calling goroutine.
func (b *Broker[T]) Read(ctx context.Context, key string) (T, error) {
	var zero T

	b.mu.Lock()
	ch, ok := b.channels[key]
	if ok {
		if ch.reader != nil {
			b.mu.Unlock()
			return zero, ErrReadPending
		}
		produce := ch.produce
		delete(b.channels, key)
		b.mu.Unlock()
		return produce(), nil
	}

	reader := make(chan func() T, 1)
	b.channels[key] = &channel[T]{reader: reader}
	b.mu.Unlock()

	select {
	case produce := <-reader:
		return produce(), nil
	case <-ctx.Done():
		b.mu.Lock()
		if ch, ok := b.channels[key]; ok && ch.reader == reader {
			delete(b.channels, key)
		}
		b.mu.Unlock()
		// A writer may have claimed the pairing before we could withdraw.
		select {
		case produce := <-reader:
			return produce(), nil
		default:
			return zero, ctx.Err()
		}
	}
}
