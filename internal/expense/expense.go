package expense

import (
	"context"
	"time"

	expenseDatamodel "github.com/frahmantamala/expense-approval/internal/core/datamodel/expense"
	"github.com/frahmantamala/expense-approval/internal/workflow"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ListFilter narrows a List query. Empty fields match everything.
type ListFilter struct {
	RequesterID string
	Department  string
	Statuses    []workflow.Status
	Limit       int
	Offset      int
}

// Store is the full persistence contract of the expense module. The engine
// only sees its workflow.RequestStore subset.
type Store interface {
	workflow.RequestStore
	workflow.ChangeStreamer

	Create(ctx context.Context, req *workflow.ExpenseRequest) error
	// UpdatePayload replaces the editable fields while the stored version
	// equals expectedVersion and returns the new version.
	UpdatePayload(ctx context.Context, id string, expectedVersion int64, payload workflow.Payload, actorID string, at time.Time) (int64, error)
	// SoftDelete marks the request deleted under the same version condition.
	SoftDelete(ctx context.Context, id string, expectedVersion int64, actorID string, at time.Time) error
	List(ctx context.Context, filter ListFilter) ([]*workflow.ExpenseRequest, int64, error)
	// Summary aggregates the requests matching filter per status, ignoring
	// its paging fields. Statuses without requests may be omitted.
	Summary(ctx context.Context, filter ListFilter) ([]StatusTotals, error)
	History(ctx context.Context, requestID string) ([]workflow.ChangeEvent, error)
}

// RequestView is a request as seen by one actor.
type RequestView struct {
	*workflow.ExpenseRequest
	AllowedTransitions []workflow.Status `json:"allowed_transitions"`
	Projected          bool              `json:"projected,omitempty"`
}

type ListResult struct {
	Requests []*workflow.ExpenseRequest `json:"requests"`
	Total    int64                      `json:"total"`
	Limit    int                        `json:"limit"`
	Offset   int                        `json:"offset"`
}

// StatusTotals is the count and summed amount of one status.
type StatusTotals struct {
	Status workflow.Status `json:"status"`
	Count  int64           `json:"count"`
	Amount int64           `json:"amount"`
}

// Summary is the dashboard view of the requests within an actor's read scope.
type Summary struct {
	ByStatus       []StatusTotals `json:"by_status"`
	TotalCount     int64          `json:"total_count"`
	TotalAmount    int64          `json:"total_amount"`
	ApprovedCount  int64          `json:"approved_count"`
	ApprovedAmount int64          `json:"approved_amount"`
}

// NewSummary folds per-status totals into a Summary listing every status in
// lifecycle order.
func NewSummary(totals []StatusTotals) *Summary {
	byStatus := make(map[workflow.Status]StatusTotals, len(totals))
	for _, t := range totals {
		acc := byStatus[t.Status]
		acc.Count += t.Count
		acc.Amount += t.Amount
		byStatus[t.Status] = acc
	}

	out := &Summary{ByStatus: make([]StatusTotals, 0, len(workflow.AllStatuses()))}
	for _, st := range workflow.AllStatuses() {
		t := byStatus[st]
		t.Status = st
		out.ByStatus = append(out.ByStatus, t)
		out.TotalCount += t.Count
		out.TotalAmount += t.Amount
		if st.IsApproval() {
			out.ApprovedCount += t.Count
			out.ApprovedAmount += t.Amount
		}
	}
	return out
}

func ToDataModel(r *workflow.ExpenseRequest) *expenseDatamodel.ExpenseRequest {
	return &expenseDatamodel.ExpenseRequest{
		ID:                  r.ID,
		RequesterID:         r.RequesterID,
		RequesterName:       r.RequesterName,
		RequesterDepartment: r.RequesterDepartment,
		Title:               r.Title,
		Description:         r.Description,
		ExpenseType:         r.ExpenseType,
		Amount:              r.Amount,
		Attachments:         append([]string(nil), r.Attachments...),
		Status:              r.Status.String(),
		DecisionComment:     r.DecisionComment,
		Version:             r.Version,
		Deleted:             r.Deleted,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
}

func FromDataModel(m *expenseDatamodel.ExpenseRequest) *workflow.ExpenseRequest {
	return &workflow.ExpenseRequest{
		ID:                  m.ID,
		RequesterID:         m.RequesterID,
		RequesterName:       m.RequesterName,
		RequesterDepartment: m.RequesterDepartment,
		Payload: workflow.Payload{
			Title:       m.Title,
			Description: m.Description,
			ExpenseType: m.ExpenseType,
			Amount:      m.Amount,
			Attachments: append([]string(nil), m.Attachments...),
		},
		Status:          workflow.Status(m.Status),
		DecisionComment: m.DecisionComment,
		Version:         m.Version,
		Deleted:         m.Deleted,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func FromDataModelSlice(rows []*expenseDatamodel.ExpenseRequest) []*workflow.ExpenseRequest {
	result := make([]*workflow.ExpenseRequest, len(rows))
	for i, r := range rows {
		result[i] = FromDataModel(r)
	}
	return result
}

func ChangeFromDataModel(m *expenseDatamodel.ExpenseRequestChange) workflow.ChangeEvent {
	return workflow.ChangeEvent{
		Seq:        m.Seq,
		RequestID:  m.RequestID,
		Kind:       workflow.ChangeKind(m.Kind),
		FromStatus: workflow.Status(m.FromStatus),
		ToStatus:   workflow.Status(m.ToStatus),
		ActorID:    m.ActorID,
		Comment:    m.Comment,
		Version:    m.Version,
		At:         m.CreatedAt,
	}
}
