package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/frahmantamala/expense-approval/internal/core/events"
	"github.com/frahmantamala/expense-approval/internal/workflow"
	"github.com/google/uuid"
)

type Kind string

const (
	KindSubmitted    Kind = "submitted"
	KindDecision     Kind = "decision"
	KindEscalated    Kind = "escalated"
	KindWithdrawn    Kind = "withdrawn"
	KindAwaitsAction Kind = "awaits_action"
)

// Recipient addresses a single user or every holder of a role, optionally
// within one department.
type Recipient struct {
	UserID     string        `json:"user_id,omitempty"`
	Role       workflow.Role `json:"role,omitempty"`
	Department string        `json:"department,omitempty"`
}

func (r Recipient) String() string {
	if r.UserID != "" {
		return "user:" + r.UserID
	}
	if r.Department != "" {
		return fmt.Sprintf("role:%s@%s", r.Role, r.Department)
	}
	return "role:" + string(r.Role)
}

type Notification struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"kind"`
	Recipient Recipient       `json:"recipient"`
	RequestID string          `json:"request_id"`
	Status    workflow.Status `json:"status,omitempty"`
	Message   string          `json:"message"`
	CreatedAt time.Time       `json:"created_at"`
}

// Notifier delivers one notification. Implementations must be safe for
// concurrent use by the dispatcher's workers.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(ctx context.Context, n Notification) error {
	lg := l.Logger
	if lg == nil {
		lg = slog.Default()
	}
	lg.InfoContext(ctx, "notification",
		"notification_id", n.ID,
		"kind", n.Kind,
		"recipient", n.Recipient.String(),
		"request_id", n.RequestID,
		"status", n.Status,
		"message", n.Message)
	return nil
}

func newNotification(kind Kind, to Recipient, requestID string, status workflow.Status, msg string, at time.Time) Notification {
	return Notification{
		ID:        uuid.NewString(),
		Kind:      kind,
		Recipient: to,
		RequestID: requestID,
		Status:    status,
		Message:   msg,
		CreatedAt: at,
	}
}

// FromTransition tells the requester about every status change and the
// executive tier when a request is forwarded to it.
func FromTransition(ev *events.RequestTransitionedEvent) []Notification {
	to := workflow.Status(ev.ToStatus)
	at := ev.OccurredAt()

	out := []Notification{
		newNotification(decisionKind(to), Recipient{UserID: ev.RequesterID}, ev.RequestID, to,
			requesterMessage(to, ev.Comment), at),
	}
	if to == workflow.StatusWaitingExecutive {
		out = append(out, newNotification(KindAwaitsAction, Recipient{Role: workflow.RoleManager}, ev.RequestID, to,
			"An expense request is waiting for executive approval", at))
	}
	return out
}

// FromLifecycle routes submissions and withdrawals to the department's
// section managers. Payload edits produce nothing.
func FromLifecycle(ev *events.RequestLifecycleEvent) []Notification {
	to := Recipient{Role: workflow.RoleSectionManager, Department: ev.RequesterDepartment}
	switch ev.EventType() {
	case events.EventTypeRequestSubmitted:
		return []Notification{newNotification(KindSubmitted, to, ev.RequestID, workflow.StatusPending,
			fmt.Sprintf("New expense request %q for %d awaits your review", ev.Title, ev.Amount), ev.OccurredAt())}
	case events.EventTypeRequestWithdrawn:
		return []Notification{newNotification(KindWithdrawn, to, ev.RequestID, "",
			fmt.Sprintf("Expense request %q was withdrawn by the requester", ev.Title), ev.OccurredAt())}
	}
	return nil
}

// FromChange builds notifications from a change-feed entry. req is the
// current snapshot of the request, or nil when it can no longer be read.
func FromChange(ev workflow.ChangeEvent, req *workflow.ExpenseRequest) []Notification {
	switch ev.Kind {
	case workflow.ChangeTransitioned:
		if req == nil {
			return nil
		}
		return FromTransition(&events.RequestTransitionedEvent{
			BaseEvent:           events.BaseEvent{ID: fmt.Sprintf("change-%d", ev.Seq), Type: events.EventTypeRequestTransitioned, Timestamp: ev.At},
			RequestID:           ev.RequestID,
			RequesterID:         req.RequesterID,
			RequesterDepartment: req.RequesterDepartment,
			FromStatus:          ev.FromStatus.String(),
			ToStatus:            ev.ToStatus.String(),
			ActorID:             ev.ActorID,
			Comment:             ev.Comment,
			Version:             ev.Version,
		})
	case workflow.ChangeCreated:
		if req == nil {
			return nil
		}
		return FromLifecycle(&events.RequestLifecycleEvent{
			BaseEvent:           events.BaseEvent{ID: fmt.Sprintf("change-%d", ev.Seq), Type: events.EventTypeRequestSubmitted, Timestamp: ev.At},
			RequestID:           ev.RequestID,
			RequesterID:         req.RequesterID,
			RequesterDepartment: req.RequesterDepartment,
			Title:               req.Title,
			Amount:              req.Amount,
			Version:             ev.Version,
		})
	}
	return nil
}

func decisionKind(to workflow.Status) Kind {
	if to == workflow.StatusWaitingExecutive {
		return KindEscalated
	}
	return KindDecision
}

func requesterMessage(to workflow.Status, comment string) string {
	var msg string
	switch to {
	case workflow.StatusApproved:
		msg = "Your expense request was approved"
	case workflow.StatusApprovedByDepartment:
		msg = "Your expense request was approved by your department"
	case workflow.StatusRejected:
		msg = "Your expense request was rejected"
	case workflow.StatusWaitingExecutive:
		msg = "Your expense request was forwarded for executive approval"
	default:
		msg = fmt.Sprintf("Your expense request moved to %s", to)
	}
	if comment != "" {
		msg += ": " + comment
	}
	return msg
}
