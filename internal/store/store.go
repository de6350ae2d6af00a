package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Store scopes a set of fields to one report session: it owns the backend,
// builds the durable keys, and tracks every registered field for shutdown
// drains.
type Store struct {
	backend Backend
	session string
	window  time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	flushers []func(context.Context) error
}

// NewStore wraps backend for one session. window <= 0 selects
// DefaultFlushWindow; a nil logger falls back to slog.Default.
func NewStore(backend Backend, session string, window time.Duration, logger *slog.Logger) *Store {
	if window <= 0 {
		window = DefaultFlushWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		backend: backend,
		session: session,
		window:  window,
		logger:  logger,
	}
}

// Key builds the durable key of one field, scoped by session.
func (s *Store) Key(field string) string {
	return fmt.Sprintf("report:%s:%s", s.session, field)
}

// Session returns the session identifier keys are scoped by.
func (s *Store) Session() string { return s.session }

// Register rehydrates the named field from the store's backend and tracks it
// for FlushAll.
func Register[T any](ctx context.Context, s *Store, field string, def T) *Field[T] {
	f := NewField(ctx, field, s.Key(field), def, s.backend, s.window, s.logger)
	s.mu.Lock()
	s.flushers = append(s.flushers, f.Flush)
	s.mu.Unlock()
	return f
}

// FlushAll force-drains every pending write. Used on shutdown and before
// handing the session to the headless exporter.
func (s *Store) FlushAll(ctx context.Context) error {
	s.mu.Lock()
	flushers := make([]func(context.Context) error, len(s.flushers))
	copy(flushers, s.flushers)
	s.mu.Unlock()

	var errs []error
	for _, flush := range flushers {
		if err := flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close releases the backend.
func (s *Store) Close() error { return s.backend.Close() }
