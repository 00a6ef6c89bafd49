package envelope

import (
	"errors"
	"strings"
)

// ErrorType classifies persistence failures. There is no fatal class:
// every failure degrades to "persistence temporarily unavailable".
type ErrorType string

const (
	// QuotaExceeded means the backend rejected a write for capacity
	// reasons.
	QuotaExceeded ErrorType = "QUOTA_EXCEEDED"
	// ParseError means a stored value could not be deserialized.
	ParseError ErrorType = "PARSE_ERROR"
	// CorruptedData means a deserialized value failed the envelope's
	// structural validation.
	CorruptedData ErrorType = "CORRUPTED_DATA"
	// ValidationFailed means the caller's validate hook rejected a state.
	// This path is a silent save skip and is never reported as an error.
	ValidationFailed ErrorType = "VALIDATION_FAILED"
	// MigrationFailed means the caller's migrate hook returned an error.
	MigrationFailed ErrorType = "MIGRATION_FAILED"
	// Unknown covers everything else.
	Unknown ErrorType = "UNKNOWN"
)

// Error pairs a failure with its classification. It wraps the underlying
// error for errors.Is/As chains.
type Error struct {
	Type ErrorType
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Type)
	}
	return string(e.Type) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Classify maps an arbitrary error onto the taxonomy. Already-classified
// errors keep their type; otherwise the error text is inspected for
// quota- and parse-related hints, since backends rarely expose typed
// errors for those conditions.
func Classify(err error) ErrorType {
	if err == nil {
		return Unknown
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "quota"),
		strings.Contains(msg, "storage full"),
		strings.Contains(msg, "no space"),
		strings.Contains(msg, "oom"):
		return QuotaExceeded
	case strings.Contains(msg, "json"),
		strings.Contains(msg, "parse"),
		strings.Contains(msg, "unmarshal"),
		strings.Contains(msg, "unexpected end"):
		return ParseError
	default:
		return Unknown
	}
}
