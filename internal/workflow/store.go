package workflow

import (
	"context"
	"time"
)

// StatusChange is a conditional status write: it applies only while the
// stored version still equals ExpectedVersion.
type StatusChange struct {
	RequestID       string
	ExpectedVersion int64
	From            Status
	To              Status
	Comment         string
	ActorID         string
	At              time.Time
}

// ChangeKind names the kind of write recorded in the change feed.
type ChangeKind string

const (
	ChangeCreated      ChangeKind = "created"
	ChangeTransitioned ChangeKind = "transitioned"
	ChangeUpdated      ChangeKind = "updated"
	ChangeWithdrawn    ChangeKind = "withdrawn"
)

// ChangeEvent is one entry of a store's change feed.
type ChangeEvent struct {
	Seq        int64      `json:"seq"`
	RequestID  string     `json:"request_id"`
	Kind       ChangeKind `json:"kind"`
	FromStatus Status     `json:"from_status,omitempty"`
	ToStatus   Status     `json:"to_status"`
	ActorID    string     `json:"actor_id"`
	Comment    string     `json:"comment,omitempty"`
	Version    int64      `json:"version"`
	At         time.Time  `json:"at"`
}

// StreamFilter narrows a change feed. Zero values match everything.
type StreamFilter struct {
	RequestID string
	AfterSeq  int64
	Kinds     []ChangeKind
}

func (f StreamFilter) Match(ev ChangeEvent) bool {
	if ev.Seq <= f.AfterSeq {
		return false
	}
	if f.RequestID != "" && ev.RequestID != f.RequestID {
		return false
	}
	if len(f.Kinds) == 0 {
		return true
	}
	for _, k := range f.Kinds {
		if k == ev.Kind {
			return true
		}
	}
	return false
}

// RequestStore is the narrow contract the engine needs from durable storage.
// GetByID returns ErrRequestNotFound for missing or deleted requests.
// CompareAndSwapStatus returns the new version, ErrVersionMismatch when the
// stored version moved, or ErrRequestNotFound.
type RequestStore interface {
	GetByID(ctx context.Context, id string) (*ExpenseRequest, error)
	CompareAndSwapStatus(ctx context.Context, change StatusChange) (int64, error)
}

// ChangeStreamer exposes the read-side change feed. The returned channel is
// closed when ctx is done.
type ChangeStreamer interface {
	StreamAll(ctx context.Context, filter StreamFilter) <-chan ChangeEvent
}
