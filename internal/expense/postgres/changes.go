package postgres

import (
	"context"
	"encoding/json"
	"time"

	expenseDatamodel "github.com/frahmantamala/expense-approval/internal/core/datamodel/expense"
	"github.com/frahmantamala/expense-approval/internal/expense"
	"github.com/frahmantamala/expense-approval/internal/workflow"
)

const changeColumns = "seq, request_id, kind, from_status, to_status, actor_id, comment, version, created_at"

func (s *Store) History(ctx context.Context, requestID string) ([]workflow.ChangeEvent, error) {
	var rows []expenseDatamodel.ExpenseRequestChange
	query := s.reader.Rebind("SELECT " + changeColumns + " FROM expense_request_changes WHERE request_id = ? ORDER BY seq ASC")
	if err := s.reader.SelectContext(ctx, &rows, query, requestID); err != nil {
		return nil, err
	}
	out := make([]workflow.ChangeEvent, len(rows))
	for i := range rows {
		out[i] = expense.ChangeFromDataModel(&rows[i])
	}
	return out, nil
}

// StreamAll polls the change table from filter.AfterSeq onwards. Full
// batches are drained back to back; otherwise the reader waits one poll
// interval. The channel closes when ctx is done.
func (s *Store) StreamAll(ctx context.Context, filter workflow.StreamFilter) <-chan workflow.ChangeEvent {
	out := make(chan workflow.ChangeEvent)
	go func() {
		defer close(out)
		cursor := filter.AfterSeq

		for {
			batch, err := s.changesAfter(ctx, cursor, filter.RequestID)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Warn("change feed poll failed", "error", err, "after_seq", cursor)
			}

			for _, ev := range batch {
				cursor = ev.Seq
				if !filter.Match(ev) {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}

			if len(batch) == s.batchSize {
				continue
			}
			if !sleep(ctx, s.pollInterval) {
				return
			}
		}
	}()
	return out
}

func (s *Store) changesAfter(ctx context.Context, after int64, requestID string) ([]workflow.ChangeEvent, error) {
	query := "SELECT " + changeColumns + " FROM expense_request_changes WHERE seq > ?"
	args := []interface{}{after}
	if requestID != "" {
		query += " AND request_id = ?"
		args = append(args, requestID)
	}
	query += " ORDER BY seq ASC LIMIT ?"
	args = append(args, s.batchSize)

	var rows []expenseDatamodel.ExpenseRequestChange
	if err := s.reader.SelectContext(ctx, &rows, s.reader.Rebind(query), args...); err != nil {
		return nil, err
	}
	out := make([]workflow.ChangeEvent, len(rows))
	for i := range rows {
		out[i] = expense.ChangeFromDataModel(&rows[i])
	}
	return out, nil
}

func attachmentsValue(attachments []string) string {
	if attachments == nil {
		attachments = []string{}
	}
	b, _ := json.Marshal(attachments)
	return string(b)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
