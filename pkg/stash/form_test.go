package stash

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/stash/pkg/envelope"
	"github.com/dyluth/stash/pkg/merge"
	"github.com/dyluth/stash/pkg/store"
	"github.com/dyluth/stash/pkg/tabsync"
)

// seedEnvelope writes a well-formed stored envelope directly to the store.
func seedEnvelope(t *testing.T, s store.Store, key string, data merge.Value, version int, expiresAt *int64) {
	t.Helper()
	env := &envelope.Envelope{
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
		Version:   version,
		ExpiresAt: expiresAt,
	}
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, s.Set(context.Background(), key, string(raw)))
}

// fastOpts returns options with a short debounce so tests stay quick.
func fastOpts(s store.Store) Options {
	d := 20 * time.Millisecond
	return Options{Store: s, Debounce: &d}
}

func newTestForm(t *testing.T, key string, initial merge.Value, opts Options) *Form {
	t.Helper()
	f, err := New(context.Background(), key, initial, opts)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestNewRejectsEmptyKey(t *testing.T) {
	_, err := New(context.Background(), "", merge.Value{}, Options{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "key cannot be empty")
}

func TestRestore(t *testing.T) {
	ctx := context.Background()

	t.Run("restores and shallow-merges stored data", func(t *testing.T) {
		ms := store.NewMemoryStore()
		seedEnvelope(t, ms, "stash:form", merge.Value{"name": "John"}, 1, nil)

		var restored merge.Value
		opts := fastOpts(ms)
		opts.OnRestore = func(v merge.Value) { restored = v }

		f := newTestForm(t, "form", merge.Value{"name": "", "email": ""}, opts)

		assert.Equal(t, merge.Value{"name": "John", "email": ""}, f.Get())
		assert.True(t, f.IsRestored())
		assert.True(t, f.IsPersisted())
		assert.Equal(t, merge.Value{"name": "John", "email": ""}, restored)
	})

	t.Run("no stored data keeps the baseline", func(t *testing.T) {
		f := newTestForm(t, "fresh", merge.Value{"name": ""}, fastOpts(store.NewMemoryStore()))

		assert.Equal(t, merge.Value{"name": ""}, f.Get())
		assert.False(t, f.IsRestored())
		assert.False(t, f.IsPersisted())
		assert.False(t, f.IsDirty())
	})

	t.Run("expired data is deleted and the baseline stands", func(t *testing.T) {
		ms := store.NewMemoryStore()
		past := time.Now().UnixMilli() - 1
		seedEnvelope(t, ms, "stash:form", merge.Value{"name": "stale"}, 1, &past)

		f := newTestForm(t, "form", merge.Value{"name": "fresh"}, fastOpts(ms))

		assert.Equal(t, merge.Value{"name": "fresh"}, f.Get())
		assert.False(t, f.IsRestored())
		_, err := ms.Get(ctx, "stash:form")
		assert.True(t, store.IsNotFound(err))
	})

	t.Run("undecodable data falls back and reports a parse error", func(t *testing.T) {
		ms := store.NewMemoryStore()
		require.NoError(t, ms.Set(ctx, "stash:form", "{corrupt"))

		var reported *envelope.Error
		opts := fastOpts(ms)
		opts.OnError = func(err *envelope.Error) { reported = err }

		f := newTestForm(t, "form", merge.Value{"name": "safe"}, opts)

		assert.Equal(t, merge.Value{"name": "safe"}, f.Get())
		require.NotNil(t, reported)
		assert.Equal(t, envelope.ParseError, reported.Type)
	})

	t.Run("structurally invalid envelope reports corrupted data", func(t *testing.T) {
		ms := store.NewMemoryStore()
		require.NoError(t, ms.Set(ctx, "stash:form", `{"not":"an envelope"}`))

		var reported *envelope.Error
		opts := fastOpts(ms)
		opts.OnError = func(err *envelope.Error) { reported = err }

		f := newTestForm(t, "form", merge.Value{"name": "safe"}, opts)

		assert.Equal(t, merge.Value{"name": "safe"}, f.Get())
		require.NotNil(t, reported)
		assert.Equal(t, envelope.CorruptedData, reported.Type)
	})

	t.Run("history resets to the restored state", func(t *testing.T) {
		ms := store.NewMemoryStore()
		seedEnvelope(t, ms, "stash:form", merge.Value{"name": "John"}, 1, nil)

		opts := fastOpts(ms)
		opts.History.Enabled = true
		f := newTestForm(t, "form", merge.Value{"name": ""}, opts)

		assert.Equal(t, 1, f.HistoryLength())
		assert.False(t, f.CanUndo())
	})
}

func TestMigrationOnRestore(t *testing.T) {
	t.Run("older stored version is migrated", func(t *testing.T) {
		ms := store.NewMemoryStore()
		seedEnvelope(t, ms, "stash:form", merge.Value{"fullName": "John Doe"}, 1, nil)

		opts := fastOpts(ms)
		opts.Version = 2
		opts.Migrate = func(data any, from int) (any, error) {
			old := data.(map[string]any)
			return merge.Value{"name": old["fullName"]}, nil
		}

		f := newTestForm(t, "form", merge.Value{"name": ""}, opts)
		assert.Equal(t, merge.Value{"name": "John Doe"}, f.Get())
	})

	t.Run("failed migration falls back to the baseline", func(t *testing.T) {
		ms := store.NewMemoryStore()
		seedEnvelope(t, ms, "stash:form", merge.Value{"v1": true}, 1, nil)

		var reported *envelope.Error
		opts := fastOpts(ms)
		opts.Version = 2
		opts.Migrate = func(any, int) (any, error) { return nil, errors.New("cannot upgrade") }
		opts.OnError = func(err *envelope.Error) { reported = err }

		f := newTestForm(t, "form", merge.Value{"name": "safe"}, opts)

		assert.Equal(t, merge.Value{"name": "safe"}, f.Get())
		require.NotNil(t, reported)
		assert.Equal(t, envelope.MigrationFailed, reported.Type)
	})
}

func TestScheduledSave(t *testing.T) {
	ctx := context.Background()

	t.Run("set persists after the debounce window", func(t *testing.T) {
		ms := store.NewMemoryStore()
		f := newTestForm(t, "form", merge.Value{"name": ""}, fastOpts(ms))

		f.Set(merge.Value{"name": "typing"})
		_, err := ms.Get(ctx, "stash:form")
		assert.True(t, store.IsNotFound(err), "write must not happen synchronously")

		waitFor(t, func() bool { return f.IsPersisted() })
		assert.True(t, f.Size() > 0)
		assert.False(t, f.LastSaved().IsZero())
	})

	t.Run("burst of sets lands the last value", func(t *testing.T) {
		ms := store.NewMemoryStore()
		f := newTestForm(t, "form", merge.Value{"n": float64(0)}, fastOpts(ms))

		for i := 1; i <= 5; i++ {
			f.Set(merge.Value{"n": float64(i)})
		}
		waitFor(t, func() bool { return f.IsPersisted() })

		v, ok := f.GetPersistedValue(ctx)
		require.True(t, ok)
		assert.Equal(t, merge.Value{"n": float64(5)}, v)
	})

	t.Run("excluded fields never reach the store", func(t *testing.T) {
		ms := store.NewMemoryStore()
		opts := fastOpts(ms)
		opts.Exclude = []string{"password"}
		f := newTestForm(t, "form", merge.Value{"name": "", "password": ""}, opts)

		f.Set(merge.Value{"name": "a", "password": "b"})
		f.ForceSave(ctx)

		raw, err := ms.Get(ctx, "stash:form")
		require.NoError(t, err)

		var env map[string]any
		require.NoError(t, json.Unmarshal([]byte(raw), &env))
		assert.Equal(t, map[string]any{"name": "a"}, env["data"])

		// The live state still has the excluded field.
		assert.Equal(t, merge.Value{"name": "a", "password": "b"}, f.Get())
	})

	t.Run("validate gate skips the write silently", func(t *testing.T) {
		ms := store.NewMemoryStore()
		var reported bool
		opts := fastOpts(ms)
		opts.Validate = func(v merge.Value) bool { return false }
		opts.OnError = func(*envelope.Error) { reported = true }

		f := newTestForm(t, "form", merge.Value{"name": ""}, opts)
		f.Set(merge.Value{"name": "rejected"})
		f.ForceSave(ctx)

		_, err := ms.Get(ctx, "stash:form")
		assert.True(t, store.IsNotFound(err))
		assert.False(t, reported, "a failed validate gate is not an error")
	})

	t.Run("beforePersist rewrites the outgoing state", func(t *testing.T) {
		ms := store.NewMemoryStore()
		opts := fastOpts(ms)
		opts.BeforePersist = func(v merge.Value) merge.Value {
			out := merge.Clone(v)
			out["normalized"] = true
			return out
		}

		f := newTestForm(t, "form", merge.Value{}, opts)
		f.Set(merge.Value{"name": "a"})
		f.ForceSave(ctx)

		v, ok := f.GetPersistedValue(ctx)
		require.True(t, ok)
		assert.Equal(t, true, v["normalized"])
	})

	t.Run("write failure reports but never rolls back live state", func(t *testing.T) {
		var reported *envelope.Error
		var full bool
		opts := fastOpts(quotaStore{store.NewMemoryStore()})
		opts.OnError = func(err *envelope.Error) { reported = err }
		opts.OnStorageFull = func() { full = true }

		f := newTestForm(t, "form", merge.Value{"name": ""}, opts)
		f.Set(merge.Value{"name": "kept"})
		f.ForceSave(ctx)

		assert.Equal(t, merge.Value{"name": "kept"}, f.Get())
		require.NotNil(t, reported)
		assert.Equal(t, envelope.QuotaExceeded, reported.Type)
		assert.True(t, full)
		assert.False(t, f.IsPersisted())
	})

	t.Run("expiration stamps the envelope", func(t *testing.T) {
		ms := store.NewMemoryStore()
		opts := fastOpts(ms)
		opts.ExpirationMinutes = 10

		f := newTestForm(t, "form", merge.Value{}, opts)
		f.Set(merge.Value{"a": float64(1)})
		f.ForceSave(ctx)

		raw, err := ms.Get(ctx, "stash:form")
		require.NoError(t, err)
		var env map[string]any
		require.NoError(t, json.Unmarshal([]byte(raw), &env))
		assert.Contains(t, env, "expiresAt")
	})
}

// quotaStore rejects writes the way a full backend would. The availability
// probe's sentinel write is allowed through so the store is not swapped for
// the in-memory fallback.
type quotaStore struct {
	*store.MemoryStore
}

func (q quotaStore) Set(ctx context.Context, key, value string) error {
	if key == "stash:__probe__" {
		return q.MemoryStore.Set(ctx, key, value)
	}
	return errors.New("quota exceeded")
}

func TestPauseResume(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	f := newTestForm(t, "form", merge.Value{"name": ""}, fastOpts(ms))

	f.Pause()
	assert.True(t, f.IsPaused())

	f.Set(merge.Value{"name": "while paused"})
	time.Sleep(60 * time.Millisecond)
	_, err := ms.Get(ctx, "stash:form")
	assert.True(t, store.IsNotFound(err), "paused forms must not write")

	// Resume does not retroactively flush what Pause cancelled.
	f.Resume()
	assert.False(t, f.IsPaused())
	time.Sleep(60 * time.Millisecond)
	_, err = ms.Get(ctx, "stash:form")
	assert.True(t, store.IsNotFound(err))

	// The next change schedules normally.
	f.Set(merge.Value{"name": "after resume"})
	waitFor(t, func() bool { return f.IsPersisted() })
}

func TestClearResetRevert(t *testing.T) {
	ctx := context.Background()

	t.Run("clear removes stored state but not memory", func(t *testing.T) {
		ms := store.NewMemoryStore()
		f := newTestForm(t, "form", merge.Value{"name": ""}, fastOpts(ms))

		f.Set(merge.Value{"name": "live"})
		f.ForceSave(ctx)
		require.True(t, f.IsPersisted())

		require.NoError(t, f.Clear(ctx))

		assert.False(t, f.IsPersisted())
		assert.True(t, f.LastSaved().IsZero())
		assert.Zero(t, f.Size())
		assert.Equal(t, merge.Value{"name": "live"}, f.Get(), "in-memory state is untouched")
		_, err := ms.Get(ctx, "stash:form")
		assert.True(t, store.IsNotFound(err))
	})

	t.Run("clear does not echo back into the live state", func(t *testing.T) {
		// A watchable store reports our own removal back to us; that echo
		// must not be treated as an external clear, or Clear would reset
		// the in-memory state it promises not to touch.
		ms := store.NewMemoryStore()
		opts := fastOpts(ms)
		opts.Sync.Enabled = true

		f := newTestForm(t, "form", merge.Value{"name": ""}, opts)
		f.Set(merge.Value{"name": "live edit"})
		f.ForceSave(ctx)

		require.NoError(t, f.Clear(ctx))
		time.Sleep(50 * time.Millisecond) // let the watch loop drain

		assert.Equal(t, merge.Value{"name": "live edit"}, f.Get())
	})

	t.Run("reset restores the baseline and clears", func(t *testing.T) {
		ms := store.NewMemoryStore()
		opts := fastOpts(ms)
		opts.History.Enabled = true
		f := newTestForm(t, "form", merge.Value{"name": "initial"}, opts)

		f.Set(merge.Value{"name": "edited"})
		f.ForceSave(ctx)

		require.NoError(t, f.Reset(ctx))

		assert.Equal(t, merge.Value{"name": "initial"}, f.Get())
		assert.False(t, f.IsDirty())
		assert.False(t, f.CanUndo())
		_, err := ms.Get(ctx, "stash:form")
		assert.True(t, store.IsNotFound(err))
	})

	t.Run("revert adopts the persisted value", func(t *testing.T) {
		ms := store.NewMemoryStore()
		f := newTestForm(t, "form", merge.Value{"name": ""}, fastOpts(ms))

		f.Set(merge.Value{"name": "saved"})
		f.ForceSave(ctx)
		f.Set(merge.Value{"name": "unsaved edit"})
		f.Pause() // keep the edit out of the store

		require.NoError(t, f.Revert(ctx))
		assert.Equal(t, merge.Value{"name": "saved"}, f.Get())
		assert.False(t, f.IsRestored(), "revert must not mark the form restored")
	})

	t.Run("revert with nothing persisted is a no-op", func(t *testing.T) {
		f := newTestForm(t, "form", merge.Value{"name": "x"}, fastOpts(store.NewMemoryStore()))
		require.NoError(t, f.Revert(ctx))
		assert.Equal(t, merge.Value{"name": "x"}, f.Get())
	})
}

func TestGetPersistedValue(t *testing.T) {
	ctx := context.Background()

	t.Run("is a pure read", func(t *testing.T) {
		ms := store.NewMemoryStore()
		seedEnvelope(t, ms, "stash:form", merge.Value{"name": "stored"}, 1, nil)

		var restores int
		opts := fastOpts(ms)
		opts.OnRestore = func(merge.Value) { restores++ }
		f := newTestForm(t, "form", merge.Value{"name": ""}, opts)
		require.Equal(t, 1, restores)

		f.Set(merge.Value{"name": "live"})
		v, ok := f.GetPersistedValue(ctx)

		require.True(t, ok)
		assert.Equal(t, merge.Value{"name": "stored"}, v)
		assert.Equal(t, merge.Value{"name": "live"}, f.Get(), "state must not change")
		assert.Equal(t, 1, restores, "onRestore must not fire again")
	})

	t.Run("expired value reads as absent without deletion", func(t *testing.T) {
		ms := store.NewMemoryStore()
		f := newTestForm(t, "form", merge.Value{}, fastOpts(ms))

		past := time.Now().UnixMilli() - 1
		seedEnvelope(t, ms, "stash:form", merge.Value{"name": "stale"}, 1, &past)

		_, ok := f.GetPersistedValue(ctx)
		assert.False(t, ok)
		_, err := ms.Get(ctx, "stash:form")
		assert.NoError(t, err, "pure read must not delete")
	})
}

func TestIsDirty(t *testing.T) {
	f := newTestForm(t, "form", merge.Value{"name": "base"}, fastOpts(store.NewMemoryStore()))

	assert.False(t, f.IsDirty())

	f.Set(merge.Value{"name": "changed"})
	assert.True(t, f.IsDirty())

	// Dirty compares against the original baseline, not the last save.
	f.ForceSave(context.Background())
	assert.True(t, f.IsDirty())

	f.Set(merge.Value{"name": "base"})
	assert.False(t, f.IsDirty())
}

func TestUndoRedo(t *testing.T) {
	ms := store.NewMemoryStore()
	opts := fastOpts(ms)
	opts.History.Enabled = true
	opts.History.MaxLength = 3
	f := newTestForm(t, "form", merge.Value{"n": float64(0)}, opts)

	f.Set(merge.Value{"n": float64(1)})
	f.Set(merge.Value{"n": float64(2)})

	assert.True(t, f.CanUndo())
	assert.False(t, f.CanRedo())
	assert.Equal(t, 3, f.HistoryLength())
	assert.Equal(t, 2, f.HistoryIndex())

	t.Run("undo steps the live state back", func(t *testing.T) {
		v := f.Undo()
		assert.Equal(t, merge.Value{"n": float64(1)}, v)
		assert.Equal(t, merge.Value{"n": float64(1)}, f.Get())
		assert.True(t, f.CanRedo())
	})

	t.Run("redo steps forward again", func(t *testing.T) {
		v := f.Redo()
		assert.Equal(t, merge.Value{"n": float64(2)}, v)
		assert.False(t, f.CanRedo())
	})

	t.Run("a new set clears the redo branch", func(t *testing.T) {
		f.Undo()
		require.True(t, f.CanRedo())
		f.Set(merge.Value{"n": float64(9)})
		assert.False(t, f.CanRedo())
	})

	t.Run("history stays bounded", func(t *testing.T) {
		for i := 10; i < 20; i++ {
			f.Set(merge.Value{"n": float64(i)})
		}
		assert.Equal(t, 3, f.HistoryLength())
	})
}

func TestUndoRedoWithoutHistory(t *testing.T) {
	ms := store.NewMemoryStore()
	f := newTestForm(t, "form", merge.Value{"name": "base"}, fastOpts(ms))

	f.Set(merge.Value{"name": "edited"})

	// With history disabled these must leave the state alone, not quietly
	// step back to the baseline.
	assert.Equal(t, merge.Value{"name": "edited"}, f.Undo())
	assert.Equal(t, merge.Value{"name": "edited"}, f.Redo())
	assert.Equal(t, merge.Value{"name": "edited"}, f.Get())
	assert.False(t, f.CanUndo())
	assert.False(t, f.CanRedo())

	f.ForceSave(context.Background())
	v, ok := f.GetPersistedValue(context.Background())
	require.True(t, ok)
	assert.Equal(t, merge.Value{"name": "edited"}, v)
}

func TestWithClear(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	f := newTestForm(t, "form", merge.Value{"name": ""}, fastOpts(ms))

	f.Set(merge.Value{"name": "submit me"})
	f.ForceSave(ctx)

	t.Run("handler failure keeps the stored state", func(t *testing.T) {
		submit := f.WithClear(func(ctx context.Context) error {
			return fmt.Errorf("server rejected")
		})
		assert.Error(t, submit(ctx))
		assert.True(t, f.IsPersisted())
	})

	t.Run("handler success clears", func(t *testing.T) {
		submit := f.WithClear(func(ctx context.Context) error { return nil })
		require.NoError(t, submit(ctx))
		assert.False(t, f.IsPersisted())
		_, err := ms.Get(ctx, "stash:form")
		assert.True(t, store.IsNotFound(err))
	})
}

func TestCloseFlushesPendingSave(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()

	d := time.Hour // would never fire on its own
	opts := Options{Store: ms, Debounce: &d}
	f, err := New(ctx, "form", merge.Value{"name": ""}, opts)
	require.NoError(t, err)

	f.Set(merge.Value{"name": "must survive teardown"})
	require.NoError(t, f.Close())

	raw, err := ms.Get(ctx, "stash:form")
	require.NoError(t, err)
	var env map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &env))
	assert.Equal(t, map[string]any{"name": "must survive teardown"}, env["data"])

	// Close is idempotent.
	require.NoError(t, f.Close())
}

func TestDisabledForm(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	seedEnvelope(t, ms, "stash:form", merge.Value{"name": "stored"}, 1, nil)

	enabled := false
	opts := fastOpts(ms)
	opts.Enabled = &enabled
	f := newTestForm(t, "form", merge.Value{"name": "plain"}, opts)

	assert.Equal(t, merge.Value{"name": "plain"}, f.Get(), "disabled forms do not restore")
	assert.False(t, f.IsRestored())

	f.Set(merge.Value{"name": "edited"})
	f.ForceSave(ctx)
	time.Sleep(50 * time.Millisecond)

	v, err := ms.Get(ctx, "stash:form")
	require.NoError(t, err)
	assert.Contains(t, v, "stored", "disabled forms do not overwrite")
}

func TestTransformedPersistence(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()

	opts := fastOpts(ms)
	opts.Obfuscate = true
	opts.Compress = true
	opts.CompressThreshold = 10

	f := newTestForm(t, "form", merge.Value{"name": ""}, opts)
	f.Set(merge.Value{"name": "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"})
	f.ForceSave(ctx)

	raw, err := ms.Get(ctx, "stash:form")
	require.NoError(t, err)
	assert.NotEmpty(t, raw)
	assert.NotEqual(t, byte('{'), raw[0], "stored value must not be plain JSON")

	// A second form with the same pipeline restores it.
	g := newTestForm(t, "form", merge.Value{"name": ""}, opts)
	assert.Equal(t, merge.Value{"name": "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"}, g.Get())
	assert.True(t, g.IsRestored())
}

func TestCrossContextSync(t *testing.T) {
	ctx := context.Background()

	setupPair := func(t *testing.T) (*Form, *Form, *store.MemoryStore) {
		ms := store.NewMemoryStore()
		bus := tabsync.NewMemoryBus()

		mkOpts := func() Options {
			opts := fastOpts(ms)
			opts.Sync.Enabled = true
			opts.Sync.Bus = bus
			return opts
		}
		a := newTestForm(t, "form", merge.Value{"name": ""}, mkOpts())
		b := newTestForm(t, "form", merge.Value{"name": ""}, mkOpts())
		return a, b, ms
	}

	t.Run("a save in one context updates the other", func(t *testing.T) {
		a, b, _ := setupPair(t)

		a.Set(merge.Value{"name": "from A"})
		a.ForceSave(ctx)

		waitFor(t, func() bool {
			return merge.DeepEqual(b.Get(), merge.Value{"name": "from A"})
		})
		assert.Equal(t, merge.Value{"name": "from A"}, a.Get(), "sender state unchanged by its own echo")
	})

	t.Run("a clear in one context resets the other to its baseline", func(t *testing.T) {
		a, b, _ := setupPair(t)

		a.Set(merge.Value{"name": "temp"})
		a.ForceSave(ctx)
		waitFor(t, func() bool {
			return merge.DeepEqual(b.Get(), merge.Value{"name": "temp"})
		})

		require.NoError(t, a.Clear(ctx))
		waitFor(t, func() bool {
			return merge.DeepEqual(b.Get(), merge.Value{"name": ""})
		})
		assert.False(t, b.IsPersisted())
	})

	t.Run("request sync makes peers re-broadcast", func(t *testing.T) {
		a, b, _ := setupPair(t)

		b.Set(merge.Value{"name": "B's state"})
		b.Pause() // keep it unsaved so only the broadcast can carry it

		a.RequestSync(ctx)
		waitFor(t, func() bool {
			return merge.DeepEqual(a.Get(), merge.Value{"name": "B's state"})
		})
	})

	t.Run("onSync observes deliveries", func(t *testing.T) {
		ms := store.NewMemoryStore()
		bus := tabsync.NewMemoryBus()

		var mu sync.Mutex
		var sources []tabsync.Source

		optsA := fastOpts(ms)
		optsA.Sync.Enabled = true
		optsA.Sync.Bus = bus
		a := newTestForm(t, "form", merge.Value{"name": ""}, optsA)

		optsB := fastOpts(ms)
		optsB.Sync.Enabled = true
		optsB.Sync.Bus = bus
		optsB.Sync.OnSync = func(data any, source tabsync.Source) {
			mu.Lock()
			sources = append(sources, source)
			mu.Unlock()
		}
		_ = newTestForm(t, "form", merge.Value{"name": ""}, optsB)

		a.Set(merge.Value{"name": "observed"})
		a.ForceSave(ctx)

		waitFor(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(sources) > 0
		})
	})
}
