// Package tabsync keeps multiple contexts (processes, or peers within one
// process) editing the same form key loosely consistent. A broadcast bus
// carries typed messages between contexts; where the store can report
// external writes, a store watch serves as the universal fallback path.
//
// Sync is best-effort by design: messages may be lost, malformed payloads
// are dropped silently, and the storage layer stays last-writer-wins. The
// bus is a notification channel, not a consistency protocol.
package tabsync

// MessageType discriminates sync messages.
type MessageType string

const (
	// TypeUpdate carries a new state for a key.
	TypeUpdate MessageType = "update"
	// TypeClear announces that a key's stored state was removed.
	TypeClear MessageType = "clear"
	// TypeRequest asks peers to re-broadcast their current state.
	TypeRequest MessageType = "request"
)

// Message is the wire format exchanged over the bus. TabID identifies the
// sending context purely for self-message filtering; it is not a logical
// clock and implies no ordering across contexts.
type Message struct {
	Type      MessageType `json:"type"`
	Key       string      `json:"key"`
	Data      any         `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
	TabID     string      `json:"tabId"`
}

// Source tells a sync consumer which path delivered an update.
type Source string

const (
	// SourceBroadcast marks updates that arrived over the bus.
	SourceBroadcast Source = "broadcast"
	// SourceStorage marks updates observed through the store watch.
	SourceStorage Source = "storage"
)

// ConflictStrategy selects how an incoming remote state is reconciled
// with local state.
type ConflictStrategy string

const (
	// LatestWins adopts the incoming state as-is.
	LatestWins ConflictStrategy = "latest-wins"
	// MergeStrategy hands (local, remote) to the configured resolver.
	// Without a resolver it degrades to LatestWins.
	MergeStrategy ConflictStrategy = "merge"
	// AskUser is accepted for compatibility; it behaves like
	// MergeStrategy, leaving the actual prompting to the resolver the
	// caller supplies.
	AskUser ConflictStrategy = "ask-user"
)
