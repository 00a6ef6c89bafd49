package stash

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dyluth/stash/internal/schedule"
	"github.com/dyluth/stash/pkg/envelope"
	"github.com/dyluth/stash/pkg/history"
	"github.com/dyluth/stash/pkg/merge"
	"github.com/dyluth/stash/pkg/store"
	"github.com/dyluth/stash/pkg/tabsync"
	"github.com/dyluth/stash/pkg/transform"
)

// Form owns the persisted state for one key: it restores on construction,
// coalesces saves, keeps the undo history, and feeds reconciled external
// updates back into the local state. All methods are goroutine-safe.
//
// The store is a shared resource: other code and other contexts may write
// the same key at any time. Every read is treated as potentially stale and
// every write as potentially clobbered; the broadcast layer is a
// notification channel on top of last-writer-wins, not a consistency
// protocol.
type Form struct {
	ctx    context.Context
	cancel context.CancelFunc

	key  string // full storage key: prefix + form key
	opts Options

	store store.Store
	pipe  transform.Pipeline
	ctrl  *schedule.Controller
	sync  *tabsync.Manager

	mu          sync.Mutex
	state       merge.Value
	initial     merge.Value // the caller's baseline, for Reset and IsDirty
	hist        *history.Stack[merge.Value]
	isRestored  bool
	isPersisted bool
	paused      bool
	lastSaved   time.Time
	size        int

	closeOnce sync.Once
}

// New creates a form for the given key and baseline state, restoring any
// previously persisted value before returning. Restore failures (corrupt,
// expired, migration error) are recovered locally: the form falls back to
// the baseline and reports through OnError; New itself only fails on
// programmer misuse.
func New(ctx context.Context, key string, initial merge.Value, opts Options) (*Form, error) {
	return newForm(ctx, key, initial, resolveOptions(Options{}, opts))
}

// Form creates a form using the provider's defaults underneath the
// per-call options.
func (p *Provider) Form(ctx context.Context, key string, initial merge.Value, opts Options) (*Form, error) {
	return newForm(ctx, key, initial, resolveOptions(p.defaults, opts))
}

func newForm(ctx context.Context, key string, initial merge.Value, opts Options) (*Form, error) {
	if key == "" {
		return nil, fmt.Errorf("form key cannot be empty")
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	f := &Form{
		ctx:     runCtx,
		cancel:  cancel,
		key:     opts.KeyPrefix + key,
		opts:    opts,
		store:   store.WithFallback(ctx, opts.Store),
		state:   merge.Clone(initial),
		initial: merge.Clone(initial),
		paused:  opts.Paused,
		pipe: transform.Pipeline{
			Serialize:         opts.Serialize,
			Deserialize:       opts.Deserialize,
			Compress:          opts.Compress,
			CompressThreshold: opts.CompressThreshold,
			Obfuscate:         opts.Obfuscate,
		},
	}
	f.hist = history.New(merge.Clone(initial), opts.History.MaxLength)

	var throttle time.Duration
	if opts.Throttle != nil {
		throttle = *opts.Throttle
	}
	f.ctrl = schedule.NewController(*opts.Debounce, throttle, func(v any) {
		f.persist(f.ctx, v.(merge.Value))
	})

	if opts.enabled() {
		f.restore(ctx)
	}

	if opts.Sync.Enabled {
		f.sync = tabsync.NewManager(runCtx, tabsync.Config{
			Key:        f.key,
			Channel:    opts.Sync.Channel,
			Bus:        opts.Sync.Bus,
			Store:      f.store,
			Strategy:   opts.Sync.ConflictStrategy,
			Resolver:   opts.Sync.ConflictResolver,
			LocalState: func() any { return f.Get() },
			Decode:     f.pipe.Decode,
			OnSync:     opts.Sync.OnSync,
		})
		f.sync.OnUpdate(func(data any, _ tabsync.Source) {
			f.applyExternal(data)
		})
		f.sync.OnRequest(func() {
			// A peer asked for a re-broadcast; answer with our state.
			_ = f.sync.Broadcast(f.ctx, f.Get())
		})
	}

	return f, nil
}

// Key returns the full storage key, prefix included.
func (f *Form) Key() string {
	return f.key
}

// restore performs the load path: get -> decode -> validate -> expiry ->
// migrate -> merge -> adopt. Every failure falls back to the baseline.
func (f *Form) restore(ctx context.Context) {
	raw, err := f.store.Get(ctx, f.key)
	if store.IsNotFound(err) {
		return
	}
	if err != nil {
		f.report(err)
		return
	}

	decoded, ok := f.pipe.Decode(raw)
	if !ok {
		f.report(&envelope.Error{Type: envelope.ParseError, Err: fmt.Errorf("stored value for %q could not be decoded", f.key)})
		return
	}

	env, err := envelope.Parse(decoded)
	if err != nil {
		f.report(err)
		return
	}

	if env.Expired(time.Now()) {
		// Expired data is deleted, not restored; the baseline stands.
		_ = f.store.Remove(ctx, f.key)
		return
	}

	data, err := envelope.Migrate(env.Data, env.Version, f.opts.Version, f.opts.Migrate)
	if err != nil {
		f.report(err)
		return
	}

	stored, ok := data.(merge.Value)
	if !ok {
		f.report(&envelope.Error{Type: envelope.CorruptedData, Err: fmt.Errorf("stored data for %q is not an object", f.key)})
		return
	}

	merged := merge.Merge(f.opts.MergeStrategy, f.opts.MergeFunc, stored, f.initial)

	f.mu.Lock()
	f.state = merged
	f.isRestored = true
	f.isPersisted = true
	f.lastSaved = time.UnixMilli(env.Timestamp)
	f.size = len(raw)
	f.hist.Reset(merge.Clone(merged))
	f.mu.Unlock()

	if f.opts.OnRestore != nil {
		f.opts.OnRestore(merged)
	}
}

// Get returns a copy of the current state.
func (f *Form) Get() merge.Value {
	f.mu.Lock()
	defer f.mu.Unlock()
	return merge.Clone(f.state)
}

// Set replaces the current state, records it in history, and schedules a
// save.
func (f *Form) Set(v merge.Value) {
	f.adopt(merge.Clone(v))
}

// Update applies fn to a copy of the current state and adopts the result.
func (f *Form) Update(fn func(v merge.Value) merge.Value) {
	f.mu.Lock()
	next := fn(merge.Clone(f.state))
	f.mu.Unlock()
	f.adopt(next)
}

func (f *Form) adopt(v merge.Value) {
	f.mu.Lock()
	f.state = v
	if f.opts.History.Enabled {
		f.hist.Push(merge.Clone(v))
	}
	f.mu.Unlock()

	f.scheduleSave(v)
}

func (f *Form) scheduleSave(v merge.Value) {
	if !f.opts.enabled() {
		return
	}
	f.mu.Lock()
	paused := f.paused
	f.mu.Unlock()
	if paused {
		return
	}
	f.ctrl.Save(merge.Clone(v))
}

// persist is the write path: beforePersist -> exclusion -> validate gate
// -> envelope -> pipeline -> store. A failed write never touches the
// in-memory state; the user's in-progress edit survives persistence
// problems.
func (f *Form) persist(ctx context.Context, v merge.Value) {
	if f.opts.BeforePersist != nil {
		v = f.opts.BeforePersist(v)
	}
	v = exclude(v, f.opts.Exclude)

	if f.opts.Validate != nil && !f.opts.Validate(v) {
		// Silent skip: a failed validate gate is not an error.
		return
	}

	env := envelope.New(v, f.opts.Version, f.opts.ExpirationMinutes)
	raw, err := f.pipe.Encode(env)
	if err != nil {
		f.report(err)
		return
	}

	if len(raw) > f.opts.SizeWarning && f.opts.OnSizeWarning != nil {
		f.opts.OnSizeWarning(len(raw))
	}

	if f.sync != nil {
		// Noted before the write lands, so the watch loop cannot observe
		// our own write first and deliver it back as an external update.
		f.sync.NoteWrite(raw)
	}

	if err := f.store.Set(ctx, f.key, raw); err != nil {
		f.report(err)
		return
	}

	f.mu.Lock()
	f.isPersisted = true
	f.lastSaved = time.Now()
	f.size = len(raw)
	f.mu.Unlock()

	if f.sync != nil {
		_ = f.sync.Broadcast(ctx, v)
	}
}

// exclude strips the named top-level fields from a copy of v. Excluded
// fields never reach the store at all.
func exclude(v merge.Value, fields []string) merge.Value {
	if len(fields) == 0 {
		return v
	}
	out := merge.Clone(v)
	for _, field := range fields {
		delete(out, field)
	}
	return out
}

// report classifies err and notifies the configured observers.
func (f *Form) report(err error) {
	etype := envelope.Classify(err)

	if f.opts.OnError != nil {
		var e *envelope.Error
		if classified, ok := err.(*envelope.Error); ok {
			e = classified
		} else {
			e = &envelope.Error{Type: etype, Err: err}
		}
		f.opts.OnError(e)
	}
	if etype == envelope.QuotaExceeded && f.opts.OnStorageFull != nil {
		f.opts.OnStorageFull()
	}
}

// applyExternal feeds a reconciled update from another context into the
// local state. The save path is intentionally not triggered: the data is
// already persisted, and re-saving would echo broadcasts back and forth.
func (f *Form) applyExternal(data any) {
	if data == nil {
		// The other context cleared the key.
		f.mu.Lock()
		f.state = merge.Clone(f.initial)
		f.isPersisted = false
		f.lastSaved = time.Time{}
		f.size = 0
		if f.opts.History.Enabled {
			f.hist.Push(merge.Clone(f.initial))
		}
		f.mu.Unlock()
		return
	}

	v, ok := data.(map[string]any)
	if !ok {
		return
	}

	f.mu.Lock()
	f.state = merge.Clone(v)
	f.isPersisted = true
	if f.opts.History.Enabled {
		f.hist.Push(merge.Clone(v))
	}
	f.mu.Unlock()
}

// ForceSave cancels any scheduled write and persists the current state
// immediately. It bypasses the scheduler entirely, so it is never itself
// debounced or throttled.
func (f *Form) ForceSave(ctx context.Context) {
	if !f.opts.enabled() {
		return
	}
	f.ctrl.Cancel()
	f.persist(ctx, f.Get())
}

// Pause stops scheduling future writes and cancels any pending one. Safe
// to call when nothing is pending.
func (f *Form) Pause() {
	f.mu.Lock()
	f.paused = true
	f.mu.Unlock()
	f.ctrl.Cancel()
}

// Resume re-enables save scheduling. It does not retroactively flush
// whatever Pause cancelled; the next state change schedules normally.
func (f *Form) Resume() {
	f.mu.Lock()
	f.paused = false
	f.mu.Unlock()
}

// IsPaused reports whether save scheduling is suspended.
func (f *Form) IsPaused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paused
}

// Clear removes the stored envelope and resets the persisted-state
// bookkeeping. The in-memory state is untouched.
func (f *Form) Clear(ctx context.Context) error {
	f.ctrl.Cancel()

	if f.sync != nil && f.IsPersisted() {
		// Noted before the removal lands, so the watch loop does not
		// deliver our own removal back as an external clear and wipe the
		// live state. Scoped to IsPersisted: removing an absent key emits
		// no event, and an unmatched note would suppress a real one.
		f.sync.NoteRemove()
	}

	if err := f.store.Remove(ctx, f.key); err != nil {
		f.report(err)
		return err
	}

	f.mu.Lock()
	f.isPersisted = false
	f.lastSaved = time.Time{}
	f.size = 0
	f.mu.Unlock()

	if f.sync != nil {
		_ = f.sync.BroadcastClear(ctx)
	}
	return nil
}

// Reset restores the in-memory state to the original baseline, collapses
// history, and clears the stored envelope.
func (f *Form) Reset(ctx context.Context) error {
	f.mu.Lock()
	f.state = merge.Clone(f.initial)
	f.hist.Reset(merge.Clone(f.initial))
	f.mu.Unlock()

	return f.Clear(ctx)
}

// Revert adopts the currently persisted value as the live state, without
// marking the form restored. No-op when nothing is persisted.
func (f *Form) Revert(ctx context.Context) error {
	v, ok := f.GetPersistedValue(ctx)
	if !ok {
		return nil
	}

	f.mu.Lock()
	f.state = v
	if f.opts.History.Enabled {
		f.hist.Push(merge.Clone(v))
	}
	f.mu.Unlock()
	return nil
}

// GetPersistedValue reads the stored value through the same validation,
// expiration, and migration checks as the restore path, but as a pure
// read: no state change, no OnRestore, and expired data is merely
// reported absent rather than deleted.
func (f *Form) GetPersistedValue(ctx context.Context) (merge.Value, bool) {
	raw, err := f.store.Get(ctx, f.key)
	if err != nil {
		return nil, false
	}
	decoded, ok := f.pipe.Decode(raw)
	if !ok {
		return nil, false
	}
	env, err := envelope.Parse(decoded)
	if err != nil {
		return nil, false
	}
	if env.Expired(time.Now()) {
		return nil, false
	}
	data, err := envelope.Migrate(env.Data, env.Version, f.opts.Version, f.opts.Migrate)
	if err != nil {
		return nil, false
	}
	v, ok := data.(merge.Value)
	if !ok {
		return nil, false
	}
	return merge.Clone(v), true
}

// IsDirty reports whether the live state differs structurally from the
// original baseline (not from the last-saved value).
func (f *Form) IsDirty() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !merge.DeepEqual(f.state, f.initial)
}

// Size returns the byte size of the last written stored value.
func (f *Form) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.size
}

// IsPersisted reports whether a stored envelope currently exists for this
// form, as far as this context knows.
func (f *Form) IsPersisted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.isPersisted
}

// IsRestored reports whether construction adopted a previously persisted
// value.
func (f *Form) IsRestored() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.isRestored
}

// LastSaved returns the time of the last successful write, or the zero
// time when none happened.
func (f *Form) LastSaved() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastSaved
}

// Undo steps the state one history entry back and schedules a save of the
// undone state. No-op without history or at the oldest entry.
func (f *Form) Undo() merge.Value {
	if !f.opts.History.Enabled {
		return f.Get()
	}

	f.mu.Lock()
	v := merge.Clone(f.hist.Undo())
	f.state = v
	f.mu.Unlock()

	f.scheduleSave(v)
	return v
}

// Redo steps the state one history entry forward. Counterpart of Undo.
func (f *Form) Redo() merge.Value {
	if !f.opts.History.Enabled {
		return f.Get()
	}

	f.mu.Lock()
	v := merge.Clone(f.hist.Redo())
	f.state = v
	f.mu.Unlock()

	f.scheduleSave(v)
	return v
}

// CanUndo reports whether an older history entry exists.
func (f *Form) CanUndo() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hist.CanUndo()
}

// CanRedo reports whether a newer history entry exists.
func (f *Form) CanRedo() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hist.CanRedo()
}

// HistoryIndex returns the history cursor position.
func (f *Form) HistoryIndex() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hist.Index()
}

// HistoryLength returns the number of history entries.
func (f *Form) HistoryLength() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hist.Len()
}

// WithClear wraps a submit handler so the stored state is cleared when
// the handler succeeds. Handler errors pass through and leave the stored
// state alone.
func (f *Form) WithClear(handler func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := handler(ctx); err != nil {
			return err
		}
		return f.Clear(ctx)
	}
}

// RequestSync asks other contexts to re-broadcast their state.
// Best-effort; no-op when sync is disabled.
func (f *Form) RequestSync(ctx context.Context) {
	if f.sync != nil {
		_ = f.sync.RequestSync(ctx)
	}
}

// Close flushes any pending save - state must not be lost on teardown -
// and then shuts down sync. Idempotent. Implements io.Closer.
func (f *Form) Close() error {
	f.closeOnce.Do(func() {
		f.ctrl.Flush()
		if f.sync != nil {
			f.sync.Destroy()
		}
		f.cancel()
	})
	return nil
}
