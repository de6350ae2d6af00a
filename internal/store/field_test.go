package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type note struct {
	Text string `json:"text"`
}

// flakyBackend fails the first N writes, then behaves like MemoryBackend.
type flakyBackend struct {
	*MemoryBackend
	mu       sync.Mutex
	failures int
}

func (f *flakyBackend) Set(ctx context.Context, key, value string) error {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return errors.New("backend unavailable")
	}
	f.mu.Unlock()
	return f.MemoryBackend.Set(ctx, key, value)
}

// brokenGetBackend errors every read.
type brokenGetBackend struct {
	*MemoryBackend
}

func (b *brokenGetBackend) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("backend offline")
}

func TestFieldRehydratesStoredValue(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	require.NoError(t, backend.Set(ctx, "k", `{"text":"kept"}`))

	f := NewField(ctx, "notes", "k", note{Text: "default"}, backend, time.Minute, nil)

	require.Equal(t, "kept", f.Get().Text)
}

func TestFieldDefaultsWhenEntryMissing(t *testing.T) {
	ctx := context.Background()
	f := NewField(ctx, "notes", "k", note{Text: "default"}, NewMemoryBackend(), time.Minute, nil)

	require.Equal(t, "default", f.Get().Text)
}

func TestFieldDefaultsOnMalformedEntry(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	require.NoError(t, backend.Set(ctx, "k", `{"text": 12`))

	f := NewField(ctx, "notes", "k", note{Text: "default"}, backend, time.Minute, nil)

	require.Equal(t, "default", f.Get().Text)
}

func TestFieldDefaultsOnBackendError(t *testing.T) {
	ctx := context.Background()
	backend := &brokenGetBackend{MemoryBackend: NewMemoryBackend()}

	var f *Field[note]
	require.NotPanics(t, func() {
		f = NewField(ctx, "notes", "k", note{Text: "default"}, backend, time.Minute, nil)
	})
	require.Equal(t, "default", f.Get().Text)
}

func TestSetIsVisibleToNextGet(t *testing.T) {
	ctx := context.Background()
	f := NewField(ctx, "notes", "k", note{}, NewMemoryBackend(), time.Minute, nil)

	f.Set(note{Text: "one"})
	require.Equal(t, "one", f.Get().Text)

	f.Set(note{Text: "two"})
	require.Equal(t, "two", f.Get().Text)
}

func TestBurstConvergesToSingleDurableWrite(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	f := NewField(ctx, "notes", "k", note{}, backend, 25*time.Millisecond, nil)

	for i := 0; i < 10; i++ {
		f.Set(note{Text: string(rune('a' + i))})
	}
	f.Set(note{Text: "final"})

	require.Eventually(t, func() bool {
		raw, found, _ := backend.Get(ctx, "k")
		return found && raw == `{"text":"final"}`
	}, 2*time.Second, 5*time.Millisecond)

	// Give a stray second flush time to show up before counting.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, backend.WriteCount("k"))
}

func TestSeparateBurstsIssueSeparateWrites(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	f := NewField(ctx, "notes", "k", note{}, backend, 20*time.Millisecond, nil)

	f.Set(note{Text: "first"})
	require.Eventually(t, func() bool { return backend.WriteCount("k") == 1 },
		2*time.Second, 5*time.Millisecond)

	f.Set(note{Text: "second"})
	require.Eventually(t, func() bool {
		raw, _, _ := backend.Get(ctx, "k")
		return backend.WriteCount("k") == 2 && raw == `{"text":"second"}`
	}, 2*time.Second, 5*time.Millisecond)
}

func TestFlushForcesImmediateWrite(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	f := NewField(ctx, "notes", "k", note{}, backend, time.Minute, nil)

	f.Set(note{Text: "pending"})
	require.NoError(t, f.Flush(ctx))

	raw, found, err := backend.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, `{"text":"pending"}`, raw)

	// Nothing pending: a second flush writes nothing.
	require.NoError(t, f.Flush(ctx))
	assert.Equal(t, 1, backend.WriteCount("k"))
}

func TestFailedWriteKeepsValueVisibleAndRetries(t *testing.T) {
	ctx := context.Background()
	backend := &flakyBackend{MemoryBackend: NewMemoryBackend(), failures: 1}
	f := NewField[note](ctx, "notes", "k", note{}, backend, time.Minute, nil)

	f.Set(note{Text: "survives"})
	require.Error(t, f.Flush(ctx))
	require.Equal(t, "survives", f.Get().Text)

	// The failure re-marked the field dirty, so the next flush lands it.
	require.NoError(t, f.Flush(ctx))
	raw, found, err := backend.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, `{"text":"survives"}`, raw)
}

func TestStoreKeysAreSessionScoped(t *testing.T) {
	s := NewStore(NewMemoryBackend(), "sess-42", time.Minute, nil)
	assert.Equal(t, "report:sess-42:notes", s.Key("notes"))
}

func TestStoreFlushAllDrainsEveryField(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	s := NewStore(backend, "sess", time.Minute, nil)

	a := Register(ctx, s, "fieldA", note{})
	b := Register(ctx, s, "fieldB", note{})
	a.Set(note{Text: "a"})
	b.Set(note{Text: "b"})

	require.NoError(t, s.FlushAll(ctx))

	rawA, foundA, _ := backend.Get(ctx, s.Key("fieldA"))
	rawB, foundB, _ := backend.Get(ctx, s.Key("fieldB"))
	require.True(t, foundA)
	require.True(t, foundB)
	assert.Equal(t, `{"text":"a"}`, rawA)
	assert.Equal(t, `{"text":"b"}`, rawB)
}
