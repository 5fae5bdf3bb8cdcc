package fetch

import (
	"fmt"
	"time"
)

// Status summarises where a query stands.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusLoading  Status = "loading"
	StatusSuccess  Status = "success"
	StatusError    Status = "error"
	StatusDisabled Status = "disabled"
)

// Source records where the data in a State came from.
type Source string

const (
	SourceNone   Source = ""
	SourceCache  Source = "cache"
	SourceFetch  Source = "fetch"
	SourceShared Source = "shared"
	SourceMutate Source = "mutate"
)

// State is the observable result of a query: data, error and loading status.
type State[T any] struct {
	Data      T
	HasData   bool
	Err       error
	Status    Status
	Source    Source
	UpdatedAt time.Time
	// Stale is set when cached data older than the stale time was served.
	Stale bool
}

// Loading reports whether a fetch is in progress for the query.
func (s State[T]) Loading() bool { return s.Status == StatusLoading }

// FetchError wraps a failure returned by a query's fetch function.
type FetchError struct {
	Key string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch: %s: %v", e.Key, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
