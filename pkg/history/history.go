// Package history implements the bounded undo/redo stack the engine keeps
// over state snapshots.
package history

// Stack is a bounded sequence of snapshots (oldest to newest) with a
// cursor at the "current" entry. Pushing while the cursor sits mid-stack
// discards the redo branch before appending. The stack always holds at
// least one entry.
//
// Stack is not goroutine-safe; the owning form serializes access.
type Stack[T any] struct {
	states []T
	index  int
	max    int
}

// DefaultMaxLength bounds a stack when no explicit limit is configured.
const DefaultMaxLength = 50

// New creates a single-entry stack holding initial. maxLength values
// below 1 fall back to DefaultMaxLength.
func New[T any](initial T, maxLength int) *Stack[T] {
	if maxLength < 1 {
		maxLength = DefaultMaxLength
	}
	return &Stack[T]{states: []T{initial}, max: maxLength}
}

// Push appends s as the new current entry, dropping any redo branch and
// trimming the oldest entries when the stack exceeds its bound.
func (h *Stack[T]) Push(s T) {
	h.states = append(h.states[:h.index+1], s)
	if len(h.states) > h.max {
		h.states = h.states[len(h.states)-h.max:]
	}
	h.index = len(h.states) - 1
}

// Undo moves the cursor one entry back and returns the new current state.
// At the oldest entry it is a no-op.
func (h *Stack[T]) Undo() T {
	if h.index > 0 {
		h.index--
	}
	return h.states[h.index]
}

// Redo moves the cursor one entry forward and returns the new current
// state. At the newest entry it is a no-op.
func (h *Stack[T]) Redo() T {
	if h.index < len(h.states)-1 {
		h.index++
	}
	return h.states[h.index]
}

// GoTo moves the cursor to i, clamped into the valid range, and returns
// the state there.
func (h *Stack[T]) GoTo(i int) T {
	if i < 0 {
		i = 0
	}
	if i > len(h.states)-1 {
		i = len(h.states) - 1
	}
	h.index = i
	return h.states[h.index]
}

// Reset collapses the stack to a single entry.
func (h *Stack[T]) Reset(initial T) {
	h.states = []T{initial}
	h.index = 0
}

// Current returns the state under the cursor.
func (h *Stack[T]) Current() T {
	return h.states[h.index]
}

// CanUndo reports whether an older entry exists.
func (h *Stack[T]) CanUndo() bool {
	return h.index > 0
}

// CanRedo reports whether a newer entry exists.
func (h *Stack[T]) CanRedo() bool {
	return h.index < len(h.states)-1
}

// Index returns the cursor position.
func (h *Stack[T]) Index() int {
	return h.index
}

// Len returns the number of entries.
func (h *Stack[T]) Len() int {
	return len(h.states)
}
