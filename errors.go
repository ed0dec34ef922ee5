package qcache

import (
	"errors"
	"fmt"

	perrors "github.com/jmgilman/go/errors"
)

var (
	// ErrCancelled resolves a fetch that was superseded, cancelled or whose
	// entry was removed. It is never stored on an entry.
	ErrCancelled = errors.New("qcache: fetch cancelled")

	ErrClosed      = errors.New("qcache: cache closed")
	ErrInvalidKey  = errors.New("qcache: invalid key")
	ErrNoFetchFunc = errors.New("qcache: no fetch func")

	// ErrDetached is returned by Subscription.Await after the entry was removed.
	ErrDetached = errors.New("qcache: subscription detached")
)

// NetworkError reports a request that got no response.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	if e.Err == nil {
		return "network error"
	}
	return "network error: " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError reports a non-2xx response. Message is the server's payload, if any.
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	switch {
	case e.Status != 0 && e.Message != "":
		return fmt.Sprintf("server error (%d): %s", e.Status, e.Message)
	case e.Message != "":
		return "server error: " + e.Message
	default:
		return fmt.Sprintf("server error (%d)", e.Status)
	}
}

// MutationError is returned by Mutate after rollback has completed.
type MutationError struct {
	Mutation   string
	ID         string
	Err        error
	RolledBack int // entries restored from the snapshot
}

func (e *MutationError) Error() string {
	name := e.Mutation
	if name == "" {
		name = "mutation"
	}
	if e.RolledBack > 0 {
		return fmt.Sprintf("%s %s failed (rolled back %d): %v", name, e.ID, e.RolledBack, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", name, e.ID, e.Err)
}

func (e *MutationError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying: network failures, 5xx
// responses and errors classified retryable by github.com/jmgilman/go/errors.
// Cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, ErrCancelled) {
		return false
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return true
	}
	var se *ServerError
	if errors.As(err, &se) {
		return se.Status >= 500
	}
	return perrors.IsRetryable(err)
}
