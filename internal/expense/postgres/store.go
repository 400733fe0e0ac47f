package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	expenseDatamodel "github.com/frahmantamala/expense-approval/internal/core/datamodel/expense"
	"github.com/frahmantamala/expense-approval/internal/expense"
	"github.com/frahmantamala/expense-approval/internal/workflow"
	"github.com/jmoiron/sqlx"
	"gorm.io/gorm"
)

const (
	defaultPollInterval = time.Second
	defaultBatchSize    = 100
)

// Store implements expense.Store. Writes go through gorm; the change feed and
// history are read with sqlx over the same connection pool.
type Store struct {
	db           *gorm.DB
	reader       *sqlx.DB
	logger       *slog.Logger
	pollInterval time.Duration
	batchSize    int
}

var _ expense.Store = (*Store)(nil)

type Option func(*Store)

func WithPollInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewStore(db *gorm.DB, opts ...Option) (*Store, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap sql.DB: %w", err)
	}

	s := &Store{
		db:           db,
		reader:       sqlx.NewDb(sqlDB, sqlxDriverName(db.Dialector.Name())),
		logger:       slog.Default(),
		pollInterval: defaultPollInterval,
		batchSize:    defaultBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// sqlxDriverName picks the name sqlx uses to choose a bind variable style.
func sqlxDriverName(dialect string) string {
	if dialect == "postgres" {
		return "pgx"
	}
	return "sqlite3"
}

func (s *Store) Create(ctx context.Context, req *workflow.ExpenseRequest) error {
	row := expense.ToDataModel(req)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(row).Error; err != nil {
			return err
		}
		return tx.Create(&expenseDatamodel.ExpenseRequestChange{
			RequestID: req.ID,
			Kind:      string(workflow.ChangeCreated),
			ToStatus:  req.Status.String(),
			ActorID:   req.RequesterID,
			Version:   req.Version,
			CreatedAt: req.CreatedAt,
		}).Error
	})
}

func (s *Store) GetByID(ctx context.Context, id string) (*workflow.ExpenseRequest, error) {
	var row expenseDatamodel.ExpenseRequest
	err := s.db.WithContext(ctx).
		Where("id = ? AND deleted = ?", id, false).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, workflow.ErrRequestNotFound
		}
		return nil, err
	}
	return expense.FromDataModel(&row), nil
}

func (s *Store) CompareAndSwapStatus(ctx context.Context, change workflow.StatusChange) (int64, error) {
	newVersion := change.ExpectedVersion + 1
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.conditionalUpdate(tx, change.RequestID, change.ExpectedVersion, map[string]interface{}{
			"status":           change.To.String(),
			"decision_comment": change.Comment,
			"updated_at":       change.At,
		}); err != nil {
			return err
		}
		return tx.Create(&expenseDatamodel.ExpenseRequestChange{
			RequestID:  change.RequestID,
			Kind:       string(workflow.ChangeTransitioned),
			FromStatus: change.From.String(),
			ToStatus:   change.To.String(),
			ActorID:    change.ActorID,
			Comment:    change.Comment,
			Version:    newVersion,
			CreatedAt:  change.At,
		}).Error
	})
	if err != nil {
		return 0, err
	}
	return newVersion, nil
}

func (s *Store) UpdatePayload(ctx context.Context, id string, expectedVersion int64, payload workflow.Payload, actorID string, at time.Time) (int64, error) {
	newVersion := expectedVersion + 1
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.statusOf(tx, id)
		if err != nil {
			return err
		}
		if err := s.conditionalUpdate(tx, id, expectedVersion, map[string]interface{}{
			"title":        payload.Title,
			"description":  payload.Description,
			"expense_type": payload.ExpenseType,
			"amount":       payload.Amount,
			"attachments":  attachmentsValue(payload.Attachments),
			"updated_at":   at,
		}); err != nil {
			return err
		}
		return tx.Create(&expenseDatamodel.ExpenseRequestChange{
			RequestID:  id,
			Kind:       string(workflow.ChangeUpdated),
			FromStatus: current,
			ToStatus:   current,
			ActorID:    actorID,
			Version:    newVersion,
			CreatedAt:  at,
		}).Error
	})
	if err != nil {
		return 0, err
	}
	return newVersion, nil
}

func (s *Store) SoftDelete(ctx context.Context, id string, expectedVersion int64, actorID string, at time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.statusOf(tx, id)
		if err != nil {
			return err
		}
		if err := s.conditionalUpdate(tx, id, expectedVersion, map[string]interface{}{
			"deleted":    true,
			"updated_at": at,
		}); err != nil {
			return err
		}
		return tx.Create(&expenseDatamodel.ExpenseRequestChange{
			RequestID:  id,
			Kind:       string(workflow.ChangeWithdrawn),
			FromStatus: current,
			ToStatus:   current,
			ActorID:    actorID,
			Version:    expectedVersion + 1,
			CreatedAt:  at,
		}).Error
	})
}

// conditionalUpdate applies updates and bumps the version only while the row
// still carries expectedVersion.
func (s *Store) conditionalUpdate(tx *gorm.DB, id string, expectedVersion int64, updates map[string]interface{}) error {
	updates["version"] = gorm.Expr("version + 1")
	res := tx.Model(&expenseDatamodel.ExpenseRequest{}).
		Where("id = ? AND version = ? AND deleted = ?", id, expectedVersion, false).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var count int64
	if err := tx.Model(&expenseDatamodel.ExpenseRequest{}).
		Where("id = ? AND deleted = ?", id, false).
		Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return workflow.ErrRequestNotFound
	}
	return workflow.ErrVersionMismatch
}

func (s *Store) statusOf(tx *gorm.DB, id string) (string, error) {
	var row expenseDatamodel.ExpenseRequest
	err := tx.Select("status").Where("id = ? AND deleted = ?", id, false).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", workflow.ErrRequestNotFound
	}
	return row.Status, err
}

func (s *Store) filtered(ctx context.Context, filter expense.ListFilter) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&expenseDatamodel.ExpenseRequest{}).Where("deleted = ?", false)
	if filter.RequesterID != "" {
		query = query.Where("requester_id = ?", filter.RequesterID)
	}
	if filter.Department != "" {
		query = query.Where("requester_department = ?", filter.Department)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = st.String()
		}
		query = query.Where("status IN ?", statuses)
	}
	return query
}

func (s *Store) List(ctx context.Context, filter expense.ListFilter) ([]*workflow.ExpenseRequest, int64, error) {
	query := s.filtered(ctx, filter)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []*expenseDatamodel.ExpenseRequest
	q := query.Order("created_at DESC").Order("id ASC").Offset(filter.Offset)
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return expense.FromDataModelSlice(rows), total, nil
}

type statusTotalsRow struct {
	Status string
	Count  int64
	Amount int64
}

func (s *Store) Summary(ctx context.Context, filter expense.ListFilter) ([]expense.StatusTotals, error) {
	var rows []statusTotalsRow
	err := s.filtered(ctx, filter).
		Select("status, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS amount").
		Group("status").
		Order("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]expense.StatusTotals, len(rows))
	for i, r := range rows {
		out[i] = expense.StatusTotals{Status: workflow.Status(r.Status), Count: r.Count, Amount: r.Amount}
	}
	return out, nil
}

// PingContext reports whether the underlying connection pool is reachable.
func (s *Store) PingContext(ctx context.Context) error {
	return s.reader.PingContext(ctx)
}
