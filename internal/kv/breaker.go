package kv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/NuxGame/dbfailover/internal/circuitbreaker"
)

// ErrBreakerOpen is returned for operations rejected while the record store
// circuit is open.
var ErrBreakerOpen = errors.New("kv: record store circuit open")

// BreakerStore wraps a Store with a circuit breaker so a dead backend fails
// fast instead of holding every health sweep for a full network timeout.
// Rejected and failed operations surface ordinary errors, which the state
// layer already absorbs into safe defaults.
type BreakerStore struct {
	inner Store
	br    *circuitbreaker.Breaker
}

// NewBreakerStore wraps inner with the given breaker.
func NewBreakerStore(inner Store, br *circuitbreaker.Breaker) *BreakerStore {
	return &BreakerStore{inner: inner, br: br}
}

// Get implements Store.
func (s *BreakerStore) Get(ctx context.Context, key string) ([]byte, error) {
	if !s.br.Allow() {
		return nil, ErrBreakerOpen
	}
	val, err := s.inner.Get(ctx, key)
	s.record(err)
	return val, err
}

// Put implements Store.
func (s *BreakerStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if !s.br.Allow() {
		return ErrBreakerOpen
	}
	err := s.inner.Put(ctx, key, value, ttl)
	s.record(err)
	return err
}

// Delete implements Store.
func (s *BreakerStore) Delete(ctx context.Context, key string) error {
	if !s.br.Allow() {
		return ErrBreakerOpen
	}
	err := s.inner.Delete(ctx, key)
	s.record(err)
	return err
}

// Ping implements Store. Pings pass through the breaker like any other
// call, so a readiness probe doubles as the half-open trial.
func (s *BreakerStore) Ping(ctx context.Context) error {
	if !s.br.Allow() {
		return ErrBreakerOpen
	}
	err := s.inner.Ping(ctx)
	s.record(err)
	return err
}

// FlushPrefix implements Flusher when the wrapped store does.
func (s *BreakerStore) FlushPrefix(ctx context.Context, prefix string) error {
	f, ok := s.inner.(Flusher)
	if !ok {
		return fmt.Errorf("kv: wrapped store does not support prefix flush")
	}
	if !s.br.Allow() {
		return ErrBreakerOpen
	}
	err := f.FlushPrefix(ctx, prefix)
	s.record(err)
	return err
}

// Close releases the wrapped store, if it holds resources.
func (s *BreakerStore) Close() error {
	if closer, ok := s.inner.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// record feeds an operation outcome to the breaker. A clean miss means the
// backend answered, so ErrNotFound counts as success.
func (s *BreakerStore) record(err error) {
	if err != nil && !errors.Is(err, ErrNotFound) {
		s.br.RecordFailure()
		return
	}
	s.br.RecordSuccess()
}
