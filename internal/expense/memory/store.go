// Package memory is a process-local expense.Store used for development,
// demos and tests. Writes are linearizable per store through a single mutex.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/frahmantamala/expense-approval/internal/expense"
	"github.com/frahmantamala/expense-approval/internal/workflow"
)

type Store struct {
	mu       sync.RWMutex
	requests map[string]*workflow.ExpenseRequest
	changes  []workflow.ChangeEvent
	// notify is closed and replaced on every append to wake stream readers.
	notify chan struct{}
}

var _ expense.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		requests: make(map[string]*workflow.ExpenseRequest),
		notify:   make(chan struct{}),
	}
}

func (s *Store) Create(ctx context.Context, req *workflow.ExpenseRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests[req.ID] = req.Clone()
	s.appendLocked(workflow.ChangeEvent{
		RequestID: req.ID,
		Kind:      workflow.ChangeCreated,
		ToStatus:  req.Status,
		ActorID:   req.RequesterID,
		Version:   req.Version,
		At:        req.CreatedAt,
	})
	return nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*workflow.ExpenseRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.requests[id]
	if !ok || req.Deleted {
		return nil, workflow.ErrRequestNotFound
	}
	return req.Clone(), nil
}

func (s *Store) CompareAndSwapStatus(ctx context.Context, change workflow.StatusChange) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	req, err := s.currentLocked(change.RequestID, change.ExpectedVersion)
	if err != nil {
		return 0, err
	}
	req.Status = change.To
	req.DecisionComment = change.Comment
	req.Version++
	req.UpdatedAt = change.At

	s.appendLocked(workflow.ChangeEvent{
		RequestID:  req.ID,
		Kind:       workflow.ChangeTransitioned,
		FromStatus: change.From,
		ToStatus:   change.To,
		ActorID:    change.ActorID,
		Comment:    change.Comment,
		Version:    req.Version,
		At:         change.At,
	})
	return req.Version, nil
}

func (s *Store) UpdatePayload(ctx context.Context, id string, expectedVersion int64, payload workflow.Payload, actorID string, at time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	req, err := s.currentLocked(id, expectedVersion)
	if err != nil {
		return 0, err
	}
	req.Payload = payload
	req.Payload.Attachments = append([]string(nil), payload.Attachments...)
	req.Version++
	req.UpdatedAt = at

	s.appendLocked(workflow.ChangeEvent{
		RequestID:  req.ID,
		Kind:       workflow.ChangeUpdated,
		FromStatus: req.Status,
		ToStatus:   req.Status,
		ActorID:    actorID,
		Version:    req.Version,
		At:         at,
	})
	return req.Version, nil
}

func (s *Store) SoftDelete(ctx context.Context, id string, expectedVersion int64, actorID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	req, err := s.currentLocked(id, expectedVersion)
	if err != nil {
		return err
	}
	req.Deleted = true
	req.Version++
	req.UpdatedAt = at

	s.appendLocked(workflow.ChangeEvent{
		RequestID:  req.ID,
		Kind:       workflow.ChangeWithdrawn,
		FromStatus: req.Status,
		ToStatus:   req.Status,
		ActorID:    actorID,
		Version:    req.Version,
		At:         at,
	})
	return nil
}

func (s *Store) List(ctx context.Context, filter expense.ListFilter) ([]*workflow.ExpenseRequest, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*workflow.ExpenseRequest
	for _, req := range s.requests {
		if matches(req, filter) {
			matched = append(matched, req)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	start := filter.Offset
	if start > len(matched) {
		start = len(matched)
	}
	end := len(matched)
	if filter.Limit > 0 && start+filter.Limit < end {
		end = start + filter.Limit
	}

	out := make([]*workflow.ExpenseRequest, 0, end-start)
	for _, req := range matched[start:end] {
		out = append(out, req.Clone())
	}
	return out, total, nil
}

func (s *Store) Summary(ctx context.Context, filter expense.ListFilter) ([]expense.StatusTotals, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	byStatus := make(map[workflow.Status]*expense.StatusTotals)
	for _, req := range s.requests {
		if !matches(req, filter) {
			continue
		}
		t, ok := byStatus[req.Status]
		if !ok {
			t = &expense.StatusTotals{Status: req.Status}
			byStatus[req.Status] = t
		}
		t.Count++
		t.Amount += req.Amount
	}

	out := make([]expense.StatusTotals, 0, len(byStatus))
	for _, st := range workflow.AllStatuses() {
		if t, ok := byStatus[st]; ok {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *Store) History(ctx context.Context, requestID string) ([]workflow.ChangeEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []workflow.ChangeEvent{}
	for _, ev := range s.changes {
		if ev.RequestID == requestID {
			out = append(out, ev)
		}
	}
	return out, nil
}

// StreamAll replays the matching history and then follows new changes
// until ctx is done.
func (s *Store) StreamAll(ctx context.Context, filter workflow.StreamFilter) <-chan workflow.ChangeEvent {
	out := make(chan workflow.ChangeEvent)
	go func() {
		defer close(out)
		cursor := filter.AfterSeq
		for {
			s.mu.RLock()
			pending := make([]workflow.ChangeEvent, 0)
			for _, ev := range s.changes {
				if ev.Seq > cursor {
					pending = append(pending, ev)
				}
			}
			wake := s.notify
			s.mu.RUnlock()

			for _, ev := range pending {
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

			select {
			case <-wake:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (s *Store) currentLocked(id string, expectedVersion int64) (*workflow.ExpenseRequest, error) {
	req, ok := s.requests[id]
	if !ok || req.Deleted {
		return nil, workflow.ErrRequestNotFound
	}
	if req.Version != expectedVersion {
		return nil, workflow.ErrVersionMismatch
	}
	return req, nil
}

func (s *Store) appendLocked(ev workflow.ChangeEvent) {
	ev.Seq = int64(len(s.changes)) + 1
	s.changes = append(s.changes, ev)
	close(s.notify)
	s.notify = make(chan struct{})
}

func matches(req *workflow.ExpenseRequest, f expense.ListFilter) bool {
	if req.Deleted {
		return false
	}
	if f.RequesterID != "" && req.RequesterID != f.RequesterID {
		return false
	}
	if f.Department != "" && req.RequesterDepartment != f.Department {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, st := range f.Statuses {
		if req.Status == st {
			return true
		}
	}
	return false
}

func (s *Store) PingContext(ctx context.Context) error {
	return ctx.Err()
}
