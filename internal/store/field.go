package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultFlushWindow is the quiescence window between the last Set and the
// durable write it schedules.
const DefaultFlushWindow = 400 * time.Millisecond

// flushTimeout bounds one backend write issued from the debounce timer.
const flushTimeout = 5 * time.Second

// Field is a named slot of type T with an authoritative in-memory value and a
// lagging durable copy. Readers always see the most recent Set argument; the
// durable write is an asynchronous side effect, never a gate on visibility.
type Field[T any] struct {
	name    string
	key     string
	backend Backend
	window  time.Duration
	logger  *slog.Logger

	mu    sync.Mutex
	value T
	dirty bool
	timer *time.Timer
}

// NewField rehydrates the slot from the backend: a present, well-formed entry
// wins, anything else (missing entry, malformed JSON, backend error) falls
// back to def with a warning. Rehydration never fails the caller.
func NewField[T any](ctx context.Context, name, key string, def T, backend Backend, window time.Duration, logger *slog.Logger) *Field[T] {
	if window <= 0 {
		window = DefaultFlushWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	f := &Field[T]{
		name:    name,
		key:     key,
		backend: backend,
		window:  window,
		logger:  logger,
		value:   def,
	}

	raw, found, err := backend.Get(ctx, key)
	switch {
	case err != nil:
		logger.Warn("field rehydration failed, using default", "field", name, "error", err)
	case found:
		var v T
		if uerr := json.Unmarshal([]byte(raw), &v); uerr != nil {
			logger.Warn("stored field entry malformed, using default", "field", name, "error", uerr)
		} else {
			f.value = v
		}
	}
	return f
}

// Get returns the current in-memory value.
func (f *Field[T]) Get() T {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}

// Set updates the in-memory value immediately and (re)schedules the debounced
// durable flush: at most one write per quiescence window after the last Set.
// It never blocks on storage I/O.
func (f *Field[T]) Set(v T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.value = v
	f.dirty = true
	if f.timer == nil {
		f.timer = time.AfterFunc(f.window, f.flushFromTimer)
	} else {
		f.timer.Reset(f.window)
	}
}

func (f *Field[T]) flushFromTimer() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := f.Flush(ctx); err != nil {
		f.logger.Warn("durable flush failed, value retained in memory",
			"field", f.name, "error", err)
	}
}

// Flush writes the pending value to the backend, if any. The debounce timer
// uses it; shutdown drains call it directly. A failed write re-marks the
// field dirty so the next flush retries it.
func (f *Field[T]) Flush(ctx context.Context) error {
	f.mu.Lock()
	if !f.dirty {
		f.mu.Unlock()
		return nil
	}
	data, err := json.Marshal(f.value)
	if err != nil {
		f.dirty = false
		f.mu.Unlock()
		return fmt.Errorf("failed to marshal field %s: %w", f.name, err)
	}
	f.dirty = false
	f.mu.Unlock()

	if err := f.backend.Set(ctx, f.key, string(data)); err != nil {
		f.mu.Lock()
		f.dirty = true
		f.mu.Unlock()
		return fmt.Errorf("failed to persist field %s: %w", f.name, err)
	}
	return nil
}
