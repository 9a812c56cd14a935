package logmanager

import (
	"errors"
	"fmt"
	"strings"
)

// ErrAllStoresFailed matches a WriteError in which no writable store accepted the entry.
var ErrAllStoresFailed = errors.New("logmanager: all writable stores failed") //nolint:gochecknoglobals // sentinel error

// ErrQueueClosed is returned by Queue.Enqueue after Close.
var ErrQueueClosed = errors.New("logmanager: queue closed") //nolint:gochecknoglobals // sentinel error

// StoreError is one store's AddEntry failure.
type StoreError struct {
	Store string
	Err   error
}

func (e StoreError) Error() string {
	return e.Store + ": " + e.Err.Error()
}

func (e StoreError) Unwrap() error { return e.Err }

// WriteError is returned by Manager.Write when at least one writable store
// failed. Stores that succeeded keep the entry.
type WriteError struct {
	Attempted int
	Failures  []StoreError
}

func (e *WriteError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Error())
	}
	return fmt.Sprintf("logmanager: %d of %d stores failed: %s", len(e.Failures), e.Attempted, strings.Join(parts, "; "))
}

// Unwrap exposes every store error, plus ErrAllStoresFailed when nothing succeeded.
func (e *WriteError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures)+1)
	if e.Attempted > 0 && len(e.Failures) == e.Attempted {
		errs = append(errs, ErrAllStoresFailed)
	}
	for _, f := range e.Failures {
		errs = append(errs, f)
	}
	return errs
}

// AllFailed reports whether no store accepted the entry.
func (e *WriteError) AllFailed() bool {
	return e.Attempted > 0 && len(e.Failures) == e.Attempted
}
