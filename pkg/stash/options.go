package stash

import (
	"time"

	"github.com/dyluth/stash/pkg/envelope"
	"github.com/dyluth/stash/pkg/merge"
	"github.com/dyluth/stash/pkg/store"
	"github.com/dyluth/stash/pkg/tabsync"
)

// Built-in defaults. These are the bottom tier of option resolution and
// are never mutated at runtime.
const (
	// DefaultKeyPrefix namespaces stash keys in the shared backend.
	DefaultKeyPrefix = "stash:"
	// DefaultDebounce is the save-coalescing window.
	DefaultDebounce = 300 * time.Millisecond
	// DefaultVersion is the schema version when the caller sets none.
	DefaultVersion = 1
	// DefaultSizeWarning is the stored-value size, in bytes, above which
	// OnSizeWarning fires.
	DefaultSizeWarning = 1 << 20
)

// HistoryOptions configures the undo/redo stack.
type HistoryOptions struct {
	Enabled   bool
	MaxLength int // 0 means history.DefaultMaxLength
}

// SyncOptions configures cross-context synchronization.
type SyncOptions struct {
	Enabled bool
	// Bus carries broadcast messages. Nil is a soft-fail: the form still
	// syncs through the store watch when the backend supports it.
	Bus     tabsync.Bus
	Channel string // tabsync.DefaultChannel when empty

	ConflictStrategy tabsync.ConflictStrategy
	// ConflictResolver reconciles (local, remote) under the merge and
	// ask-user strategies. Without it both degrade to latest-wins.
	ConflictResolver tabsync.Resolver

	// OnSync observes every delivered external update.
	OnSync func(data any, source tabsync.Source)
}

// Options configures one form. All fields are optional; unset fields fall
// through the provider defaults to the built-in defaults. Pointer fields
// exist where the zero value is a meaningful setting (a zero Debounce
// disables debouncing, which is different from "not specified").
type Options struct {
	// Store is the key/value backend. Nil (or a store that fails its
	// availability probe) falls back to the process-wide in-memory store.
	Store store.Store

	KeyPrefix string

	Debounce *time.Duration // nil: DefaultDebounce; 0: disabled
	Throttle *time.Duration // nil or 0: disabled

	// Exclude lists top-level fields stripped from the persisted data
	// (passwords, tokens). They never reach the store.
	Exclude []string

	// ExpirationMinutes stamps envelopes with an expiry this far in the
	// future. Zero means no expiry.
	ExpirationMinutes int

	Version int // schema version; 0 means DefaultVersion
	Migrate envelope.MigrateFunc

	MergeStrategy merge.Strategy // "" means merge.Shallow
	MergeFunc     merge.Func

	// Validate gates every save; returning false skips the write
	// silently. BeforePersist runs before exclusion filtering and may
	// rewrite the outgoing state.
	Validate      func(v merge.Value) bool
	BeforePersist func(v merge.Value) merge.Value

	// Custom codec hooks; see transform.Pipeline.
	Serialize         func(v any) (string, error)
	Deserialize       func(s string) (v any, ok bool)
	Compress          bool
	CompressThreshold int
	Obfuscate         bool

	Enabled *bool // nil: enabled
	Paused  bool

	History HistoryOptions
	Sync    SyncOptions

	// Single-callback-slot observers; the last registration wins.
	OnRestore     func(v merge.Value)
	OnError       func(err *envelope.Error)
	OnStorageFull func()
	OnSizeWarning func(bytes int)

	SizeWarning int // bytes; 0 means DefaultSizeWarning
}

// Provider carries a middle tier of defaults for every form it creates:
// built-in defaults < provider defaults < per-call options.
type Provider struct {
	defaults Options
}

// NewProvider creates a provider with the given defaults. The defaults
// are captured by value; later mutation of the argument has no effect.
func NewProvider(defaults Options) *Provider {
	return &Provider{defaults: defaults}
}

// resolveOptions overlays the three tiers into one fully-resolved struct.
// Resolution is per-field: a tier overrides a field only when it sets it.
func resolveOptions(provider, call Options) Options {
	out := Options{}
	overlay(&out, provider)
	overlay(&out, call)

	// Fill remaining gaps from the built-in tier.
	if out.KeyPrefix == "" {
		out.KeyPrefix = DefaultKeyPrefix
	}
	if out.Debounce == nil {
		d := DefaultDebounce
		out.Debounce = &d
	}
	if out.Version == 0 {
		out.Version = DefaultVersion
	}
	if out.MergeStrategy == "" {
		out.MergeStrategy = merge.Shallow
	}
	if out.SizeWarning == 0 {
		out.SizeWarning = DefaultSizeWarning
	}
	if out.Sync.Channel == "" {
		out.Sync.Channel = tabsync.DefaultChannel
	}
	if out.Sync.ConflictStrategy == "" {
		out.Sync.ConflictStrategy = tabsync.LatestWins
	}
	return out
}

func overlay(dst *Options, src Options) {
	if src.Store != nil {
		dst.Store = src.Store
	}
	if src.KeyPrefix != "" {
		dst.KeyPrefix = src.KeyPrefix
	}
	if src.Debounce != nil {
		dst.Debounce = src.Debounce
	}
	if src.Throttle != nil {
		dst.Throttle = src.Throttle
	}
	if src.Exclude != nil {
		dst.Exclude = src.Exclude
	}
	if src.ExpirationMinutes != 0 {
		dst.ExpirationMinutes = src.ExpirationMinutes
	}
	if src.Version != 0 {
		dst.Version = src.Version
	}
	if src.Migrate != nil {
		dst.Migrate = src.Migrate
	}
	if src.MergeStrategy != "" {
		dst.MergeStrategy = src.MergeStrategy
	}
	if src.MergeFunc != nil {
		dst.MergeFunc = src.MergeFunc
	}
	if src.Validate != nil {
		dst.Validate = src.Validate
	}
	if src.BeforePersist != nil {
		dst.BeforePersist = src.BeforePersist
	}
	if src.Serialize != nil {
		dst.Serialize = src.Serialize
	}
	if src.Deserialize != nil {
		dst.Deserialize = src.Deserialize
	}
	if src.Compress {
		dst.Compress = true
	}
	if src.CompressThreshold != 0 {
		dst.CompressThreshold = src.CompressThreshold
	}
	if src.Obfuscate {
		dst.Obfuscate = true
	}
	if src.Enabled != nil {
		dst.Enabled = src.Enabled
	}
	if src.Paused {
		dst.Paused = true
	}
	if src.History.Enabled {
		dst.History.Enabled = true
	}
	if src.History.MaxLength != 0 {
		dst.History.MaxLength = src.History.MaxLength
	}
	if src.Sync.Enabled {
		dst.Sync.Enabled = true
	}
	if src.Sync.Bus != nil {
		dst.Sync.Bus = src.Sync.Bus
	}
	if src.Sync.Channel != "" {
		dst.Sync.Channel = src.Sync.Channel
	}
	if src.Sync.ConflictStrategy != "" {
		dst.Sync.ConflictStrategy = src.Sync.ConflictStrategy
	}
	if src.Sync.ConflictResolver != nil {
		dst.Sync.ConflictResolver = src.Sync.ConflictResolver
	}
	if src.Sync.OnSync != nil {
		dst.Sync.OnSync = src.Sync.OnSync
	}
	if src.OnRestore != nil {
		dst.OnRestore = src.OnRestore
	}
	if src.OnError != nil {
		dst.OnError = src.OnError
	}
	if src.OnStorageFull != nil {
		dst.OnStorageFull = src.OnStorageFull
	}
	if src.OnSizeWarning != nil {
		dst.OnSizeWarning = src.OnSizeWarning
	}
	if src.SizeWarning != 0 {
		dst.SizeWarning = src.SizeWarning
	}
}

func (o Options) enabled() bool {
	return o.Enabled == nil || *o.Enabled
}
