package workflow

import (
	"time"

	"github.com/google/uuid"
)

// Payload holds the requester-editable fields of an expense request.
type Payload struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	ExpenseType string   `json:"expense_type"`
	Amount      int64    `json:"amount"`
	Attachments []string `json:"attachments"`
}

// ExpenseRequest is the aggregate under workflow control.
type ExpenseRequest struct {
	ID                  string `json:"id"`
	RequesterID         string `json:"requester_id"`
	RequesterName       string `json:"requester_name,omitempty"`
	RequesterDepartment string `json:"requester_department"`
	Payload
	Status          Status    `json:"status"`
	DecisionComment string    `json:"decision_comment,omitempty"`
	Version         int64     `json:"version"`
	Deleted         bool      `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// NewRequest builds a pending request owned by the submitting actor.
// Requester identity is taken from the actor and never from the payload.
func NewRequest(actor Actor, payload Payload, now time.Time) *ExpenseRequest {
	return &ExpenseRequest{
		ID:                  uuid.NewString(),
		RequesterID:         actor.ID,
		RequesterName:       actor.Name,
		RequesterDepartment: actor.Department,
		Payload:             payload.clone(),
		Status:              StatusPending,
		Version:             1,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// Clone returns a deep copy so callers can hand out snapshots safely.
func (r *ExpenseRequest) Clone() *ExpenseRequest {
	if r == nil {
		return nil
	}
	c := *r
	c.Payload = r.Payload.clone()
	return &c
}

func (r *ExpenseRequest) IsRequester(actor Actor) bool {
	return actor.ID != "" && actor.ID == r.RequesterID
}

func (r *ExpenseRequest) IsTerminal() bool {
	return r.Status.IsTerminal()
}

// withTransition returns the snapshot a successful status write produces.
func (r *ExpenseRequest) withTransition(to Status, comment string, version int64, at time.Time) *ExpenseRequest {
	c := r.Clone()
	c.Status = to
	c.DecisionComment = comment
	c.Version = version
	c.UpdatedAt = at
	return c
}

func (p Payload) clone() Payload {
	c := p
	if p.Attachments != nil {
		c.Attachments = append([]string(nil), p.Attachments...)
	}
	return c
}
