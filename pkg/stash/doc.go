// Package stash persists form-like state into a key/value backend and
// restores it transparently. A Form wraps one storage key: it loads and
// reconciles previously persisted data on construction, coalesces rapid
// state changes into bounded-frequency writes, keeps a bounded undo/redo
// history, and - when sync is enabled - converges with other contexts
// editing the same key through a broadcast bus and a store-watch fallback.
//
// Persistence is deliberately forgiving: corrupt, expired, or
// unmigratable stored data falls back to the caller's baseline state and
// is reported through callbacks, never by an error escaping construction.
// A failed write never rolls back the in-memory state.
//
// Options resolve in three tiers: built-in defaults, then Provider
// defaults, then per-call Options, each overriding per field.
package stash
