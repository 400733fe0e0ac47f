package expense

import "time"

type ExpenseRequest struct {
	ID                  string    `gorm:"column:id;primaryKey;type:varchar(36)"`
	RequesterID         string    `gorm:"column:requester_id;not null;index"`
	RequesterName       string    `gorm:"column:requester_name"`
	RequesterDepartment string    `gorm:"column:requester_department;not null;index"`
	Title               string    `gorm:"column:title;not null"`
	Description         string    `gorm:"column:description"`
	ExpenseType         string    `gorm:"column:expense_type"`
	Amount              int64     `gorm:"column:amount;not null"`
	Attachments         []string  `gorm:"column:attachments;type:text;serializer:json"`
	Status              string    `gorm:"column:status;not null;index"`
	DecisionComment     string    `gorm:"column:decision_comment"`
	Version             int64     `gorm:"column:version;not null;default:1"`
	Deleted             bool      `gorm:"column:deleted;not null;default:false"`
	CreatedAt           time.Time `gorm:"column:created_at"`
	UpdatedAt           time.Time `gorm:"column:updated_at"`
}

func (ExpenseRequest) TableName() string {
	return "expense_requests"
}

// ExpenseRequestChange is one row of the append-only change feed.
type ExpenseRequestChange struct {
	Seq        int64     `gorm:"column:seq;primaryKey;autoIncrement" db:"seq"`
	RequestID  string    `gorm:"column:request_id;not null;index" db:"request_id"`
	Kind       string    `gorm:"column:kind;not null" db:"kind"`
	FromStatus string    `gorm:"column:from_status" db:"from_status"`
	ToStatus   string    `gorm:"column:to_status;not null" db:"to_status"`
	ActorID    string    `gorm:"column:actor_id;not null" db:"actor_id"`
	Comment    string    `gorm:"column:comment" db:"comment"`
	Version    int64     `gorm:"column:version;not null" db:"version"`
	CreatedAt  time.Time `gorm:"column:created_at" db:"created_at"`
}

func (ExpenseRequestChange) TableName() string {
	return "expense_request_changes"
}
