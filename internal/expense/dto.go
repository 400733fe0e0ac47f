package expense

import "github.com/frahmantamala/expense-approval/internal/workflow"

// SubmitRequestDTO is the body of a new expense request. Requester identity
// is never accepted from the client.
type SubmitRequestDTO struct {
	Title       string   `json:"title" validate:"required,max=200"`
	Description string   `json:"description" validate:"max=2000"`
	ExpenseType string   `json:"expense_type" validate:"max=100"`
	Amount      int64    `json:"amount" validate:"gt=0"`
	Attachments []string `json:"attachments" validate:"max=20,dive,required,max=500"`
}

func (dto SubmitRequestDTO) Payload() workflow.Payload {
	return workflow.Payload{
		Title:       dto.Title,
		Description: dto.Description,
		ExpenseType: dto.ExpenseType,
		Amount:      dto.Amount,
		Attachments: dto.Attachments,
	}
}

// UpdateRequestDTO patches the payload of a pending request. Nil fields are
// left unchanged; Version must match the stored version.
type UpdateRequestDTO struct {
	Version     int64     `json:"version" validate:"gte=1"`
	Title       *string   `json:"title,omitempty" validate:"omitempty,min=1,max=200"`
	Description *string   `json:"description,omitempty" validate:"omitempty,max=2000"`
	ExpenseType *string   `json:"expense_type,omitempty" validate:"omitempty,max=100"`
	Amount      *int64    `json:"amount,omitempty" validate:"omitempty,gt=0"`
	Attachments *[]string `json:"attachments,omitempty" validate:"omitempty,max=20,dive,required,max=500"`
}

// Apply returns base with the non-nil fields of dto applied.
func (dto UpdateRequestDTO) Apply(base workflow.Payload) workflow.Payload {
	out := base
	if dto.Title != nil {
		out.Title = *dto.Title
	}
	if dto.Description != nil {
		out.Description = *dto.Description
	}
	if dto.ExpenseType != nil {
		out.ExpenseType = *dto.ExpenseType
	}
	if dto.Amount != nil {
		out.Amount = *dto.Amount
	}
	if dto.Attachments != nil {
		out.Attachments = append([]string(nil), (*dto.Attachments)...)
	}
	return out
}

type TransitionDTO struct {
	TargetStatus string `json:"target_status" validate:"required,workflow_status"`
	Comment      string `json:"comment" validate:"max=1000"`
	DryRun       bool   `json:"dry_run"`
}

type ListQuery struct {
	Status string `json:"status" validate:"omitempty,workflow_status"`
	Mine   bool   `json:"mine"`
	Limit  int    `json:"limit" validate:"gte=0,lte=100"`
	Offset int    `json:"offset" validate:"gte=0"`
}
