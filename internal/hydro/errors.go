package hydro

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownProvider is returned when a provider id is not registered.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrNotFound is returned when a station has no cache entry.
	ErrNotFound = errors.New("no cache entry for station")
)

// TransportError reports a failed upstream call. Retryable errors are retried
// inside the transport client; the ones that reach callers have exhausted that.
type TransportError struct {
	Provider  string
	Resource  Resource
	URL       string
	Status    int // 0 when no response was received
	Retryable bool
	Err       error
}

func (e *TransportError) Error() string {
	msg := fmt.Sprintf("transport: %s %s", e.Provider, e.Resource)
	if e.Status != 0 {
		msg += fmt.Sprintf(": status %d", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError reports a payload that could not be decoded. When Partial is
// set, the decoder still returned the records it could read and Skipped
// counts the rows it dropped.
type DecodeError struct {
	Format  Format
	Row     int // first offending row, 1-based over data rows; 0 if not row specific
	Skipped int
	Partial bool
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Partial {
		return fmt.Sprintf("decode %s: skipped %d row(s), first at row %d: %v", e.Format, e.Skipped, e.Row, e.Err)
	}
	return fmt.Sprintf("decode %s: %v", e.Format, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsPartialDecode reports whether err only signals skipped rows.
func IsPartialDecode(err error) bool {
	var de *DecodeError
	return errors.As(err, &de) && de.Partial
}

// CacheError reports a storage failure.
type CacheError struct {
	Op        string
	StationID string
	Err       error
}

func (e *CacheError) Error() string {
	if e.StationID != "" {
		return fmt.Sprintf("cache %s %s: %v", e.Op, e.StationID, e.Err)
	}
	return fmt.Sprintf("cache %s: %v", e.Op, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }
