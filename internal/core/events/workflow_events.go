package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeRequestSubmitted    = "expense.request.submitted"
	EventTypeRequestTransitioned = "expense.request.transitioned"
	EventTypeRequestUpdated      = "expense.request.updated"
	EventTypeRequestWithdrawn    = "expense.request.withdrawn"
)

// RequestTransitionedEvent is emitted once per successful status change.
type RequestTransitionedEvent struct {
	BaseEvent
	RequestID           string `json:"request_id"`
	RequesterID         string `json:"requester_id"`
	RequesterDepartment string `json:"requester_department"`
	FromStatus          string `json:"from_status"`
	ToStatus            string `json:"to_status"`
	ActorID             string `json:"actor_id"`
	ActorRole           string `json:"actor_role"`
	Comment             string `json:"comment,omitempty"`
	Version             int64  `json:"version"`
}

type TransitionParams struct {
	RequestID           string
	RequesterID         string
	RequesterDepartment string
	FromStatus          string
	ToStatus            string
	ActorID             string
	ActorRole           string
	Comment             string
	Version             int64
	At                  time.Time
}

func NewRequestTransitionedEvent(p TransitionParams) *RequestTransitionedEvent {
	if p.At.IsZero() {
		p.At = time.Now()
	}
	return &RequestTransitionedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeRequestTransitioned,
			Timestamp: p.At,
			Data: map[string]interface{}{
				"request_id":           p.RequestID,
				"requester_id":         p.RequesterID,
				"requester_department": p.RequesterDepartment,
				"from_status":          p.FromStatus,
				"to_status":            p.ToStatus,
				"actor_id":             p.ActorID,
				"actor_role":           p.ActorRole,
				"comment":              p.Comment,
				"version":              p.Version,
			},
		},
		RequestID:           p.RequestID,
		RequesterID:         p.RequesterID,
		RequesterDepartment: p.RequesterDepartment,
		FromStatus:          p.FromStatus,
		ToStatus:            p.ToStatus,
		ActorID:             p.ActorID,
		ActorRole:           p.ActorRole,
		Comment:             p.Comment,
		Version:             p.Version,
	}
}

// RequestLifecycleEvent covers submission, payload edits and withdrawal.
type RequestLifecycleEvent struct {
	BaseEvent
	RequestID           string `json:"request_id"`
	RequesterID         string `json:"requester_id"`
	RequesterDepartment string `json:"requester_department"`
	Title               string `json:"title"`
	Amount              int64  `json:"amount"`
	Version             int64  `json:"version"`
}

func newLifecycleEvent(eventType, requestID, requesterID, department, title string, amount, version int64) *RequestLifecycleEvent {
	return &RequestLifecycleEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      eventType,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"request_id":           requestID,
				"requester_id":         requesterID,
				"requester_department": department,
				"title":                title,
				"amount":               amount,
				"version":              version,
			},
		},
		RequestID:           requestID,
		RequesterID:         requesterID,
		RequesterDepartment: department,
		Title:               title,
		Amount:              amount,
		Version:             version,
	}
}

func NewRequestSubmittedEvent(requestID, requesterID, department, title string, amount, version int64) *RequestLifecycleEvent {
	return newLifecycleEvent(EventTypeRequestSubmitted, requestID, requesterID, department, title, amount, version)
}

func NewRequestUpdatedEvent(requestID, requesterID, department, title string, amount, version int64) *RequestLifecycleEvent {
	return newLifecycleEvent(EventTypeRequestUpdated, requestID, requesterID, department, title, amount, version)
}

func NewRequestWithdrawnEvent(requestID, requesterID, department, title string, amount, version int64) *RequestLifecycleEvent {
	return newLifecycleEvent(EventTypeRequestWithdrawn, requestID, requesterID, department, title, amount, version)
}
