// Package envelope defines the versioned, timestamped wrapper around
// persisted form data, plus the validation, expiration, and migration
// logic that gates a restore.
package envelope

import (
	"fmt"
	"time"
)

// Envelope wraps the data actually written to a store. It is created on
// every successful write and replaced wholesale on the next one.
type Envelope struct {
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"` // write-time wall clock, unix ms
	Version   int    `json:"version"`   // schema version, >= 1
	ExpiresAt *int64 `json:"expiresAt,omitempty"`
}

// New wraps data in an envelope stamped with the current time. A positive
// expirationMinutes sets ExpiresAt that far in the future. Versions below
// 1 are normalized to 1.
func New(data any, version int, expirationMinutes int) *Envelope {
	if version < 1 {
		version = 1
	}
	now := time.Now().UnixMilli()
	e := &Envelope{
		Data:      data,
		Timestamp: now,
		Version:   version,
	}
	if expirationMinutes != 0 {
		exp := now + int64(expirationMinutes)*60_000
		e.ExpiresAt = &exp
	}
	return e
}

// Parse interprets a decoded JSON value as an envelope. Anything that
// fails the structural check (a data field present, numeric timestamp and
// version) is corrupted data, not a parse error; the caller distinguishes
// the two because deserialization already succeeded.
func Parse(v any) (*Envelope, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, &Error{Type: CorruptedData, Err: fmt.Errorf("stored value is not an object")}
	}

	if _, ok := m["data"]; !ok {
		return nil, &Error{Type: CorruptedData, Err: fmt.Errorf("stored value has no data field")}
	}
	ts, ok := m["timestamp"].(float64)
	if !ok {
		return nil, &Error{Type: CorruptedData, Err: fmt.Errorf("stored value has no numeric timestamp")}
	}
	ver, ok := m["version"].(float64)
	if !ok {
		return nil, &Error{Type: CorruptedData, Err: fmt.Errorf("stored value has no numeric version")}
	}

	e := &Envelope{
		Data:      m["data"],
		Timestamp: int64(ts),
		Version:   int(ver),
	}
	if exp, ok := m["expiresAt"].(float64); ok {
		v := int64(exp)
		e.ExpiresAt = &v
	}
	return e, nil
}

// Expired reports whether the envelope has an expiry in the past relative
// to now. Envelopes without ExpiresAt never expire.
func (e *Envelope) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && now.UnixMilli() > *e.ExpiresAt
}

// MigrateFunc upgrades data written at an older schema version. It
// receives the stored data and the version it was written at.
type MigrateFunc func(data any, fromVersion int) (any, error)

// Migrate applies fn when the stored version predates the current one.
// Same-or-newer stored versions pass through untouched. A needed migration
// with no fn also passes the data through unchanged - the caller opted
// into that risk by bumping the version without supplying a migrator.
// An fn error aborts the whole restore with MigrationFailed; partially
// migrated data must never surface.
func Migrate(data any, storedVersion, currentVersion int, fn MigrateFunc) (any, error) {
	if storedVersion >= currentVersion {
		return data, nil
	}
	if fn == nil {
		return data, nil
	}
	out, err := fn(data, storedVersion)
	if err != nil {
		return nil, &Error{Type: MigrationFailed, Err: fmt.Errorf("migration from version %d to %d failed: %w", storedVersion, currentVersion, err)}
	}
	return out, nil
}
