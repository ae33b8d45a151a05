package sync

import "fmt"

// StatusKind enumerates the engine lifecycle states.
type StatusKind string

const (
	StatusIdle         StatusKind = "idle"
	StatusReady        StatusKind = "ready"
	StatusInitializing StatusKind = "initializing"
	StatusSyncing      StatusKind = "syncing"
	StatusConnected    StatusKind = "connected"
	StatusDisconnected StatusKind = "disconnected"
	StatusError        StatusKind = "error"
)

// Status is the engine state, with a reason attached to the error variant.
// It is a value type with explicit equality so callers can compare states
// without worrying about the reason on non-error kinds.
type Status struct {
	Kind   StatusKind
	Reason string
}

// Equal reports whether two statuses are the same state. The reason only
// participates for the error variant.
func (s Status) Equal(other Status) bool {
	if s.Kind != other.Kind {
		return false
	}
	if s.Kind == StatusError {
		return s.Reason == other.Reason
	}
	return true
}

func (s Status) String() string {
	if s.Kind == StatusError && s.Reason != "" {
		return fmt.Sprintf("error(%s)", s.Reason)
	}
	return string(s.Kind)
}

func statusOf(kind StatusKind) Status {
	return Status{Kind: kind}
}

func errorStatus(reason string) Status {
	return Status{Kind: StatusError, Reason: reason}
}
