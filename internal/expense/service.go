package expense

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/frahmantamala/expense-approval/internal/core/common/validation"
	"github.com/frahmantamala/expense-approval/internal/core/events"
	"github.com/frahmantamala/expense-approval/internal/workflow"
)

// Service is the CRUD plumbing around the workflow engine. Every status
// change goes through the engine; the service never writes status itself.
type Service struct {
	store     Store
	engine    *workflow.Engine
	validator *workflow.Validator
	publisher workflow.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(store Store, engine *workflow.Engine, publisher workflow.Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		engine:    engine,
		validator: engine.Validator(),
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Submit(ctx context.Context, actor workflow.Actor, dto SubmitRequestDTO) (*RequestView, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if appErr := validation.Struct(dto); appErr != nil {
		s.logger.Warn("submit validation failed", "error", appErr, "actor_id", actor.ID)
		return nil, appErr
	}

	req := workflow.NewRequest(actor, dto.Payload(), s.now())
	if err := s.store.Create(ctx, req); err != nil {
		s.logger.Error("failed to create expense request", "error", err, "actor_id", actor.ID)
		return nil, workflow.NewError(workflow.KindStoreUnavailable, req.ID, err)
	}

	s.logger.Info("expense request submitted",
		"request_id", req.ID,
		"requester_id", req.RequesterID,
		"department", req.RequesterDepartment,
		"amount", req.Amount)

	s.publish(ctx, events.NewRequestSubmittedEvent(req.ID, req.RequesterID, req.RequesterDepartment, req.Title, req.Amount, req.Version))
	return s.view(actor, req), nil
}

func (s *Service) Get(ctx context.Context, actor workflow.Actor, id string) (*RequestView, error) {
	req, err := s.loadVisible(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return s.view(actor, req), nil
}

// List returns the requests within the actor's read scope: employees see
// their own, section managers their department, managers everything.
func (s *Service) List(ctx context.Context, actor workflow.Actor, q ListQuery) (*ListResult, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if appErr := validation.Struct(q); appErr != nil {
		return nil, appErr
	}

	filter, err := scopeFilter(actor, q.Mine)
	if err != nil {
		return nil, err
	}
	filter.Limit, filter.Offset = q.Limit, q.Offset
	if q.Status != "" {
		filter.Statuses = []workflow.Status{workflow.Status(q.Status)}
	}
	return s.list(ctx, filter)
}

// Inbox lists the requests the actor can act on right now.
func (s *Service) Inbox(ctx context.Context, actor workflow.Actor, q ListQuery) (*ListResult, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if appErr := validation.Struct(q); appErr != nil {
		return nil, appErr
	}

	statuses := s.validator.Policy().ActionableStatuses(actor.Role)
	if len(statuses) == 0 {
		return nil, workflow.NewError(workflow.KindForbiddenScope, "", nil)
	}

	filter, err := scopeFilter(actor, false)
	if err != nil {
		return nil, err
	}
	filter.Statuses, filter.Limit, filter.Offset = statuses, q.Limit, q.Offset
	result, err := s.list(ctx, filter)
	if err != nil {
		return nil, err
	}

	actionable := make([]*workflow.ExpenseRequest, 0, len(result.Requests))
	for _, req := range result.Requests {
		if len(s.validator.AllowedTargets(actor, req)) > 0 {
			actionable = append(actionable, req)
		}
	}
	result.Total -= int64(len(result.Requests) - len(actionable))
	result.Requests = actionable
	return result, nil
}

// Summary aggregates counts and amounts per status over the same scope as
// List.
func (s *Service) Summary(ctx context.Context, actor workflow.Actor, mine bool) (*Summary, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	filter, err := scopeFilter(actor, mine)
	if err != nil {
		return nil, err
	}

	totals, err := s.store.Summary(ctx, filter)
	if err != nil {
		s.logger.Error("failed to summarize expense requests", "error", err, "actor_id", actor.ID)
		return nil, workflow.NewError(workflow.KindStoreUnavailable, "", err)
	}
	return NewSummary(totals), nil
}

func (s *Service) Update(ctx context.Context, actor workflow.Actor, id string, dto UpdateRequestDTO) (*RequestView, error) {
	if appErr := validation.Struct(dto); appErr != nil {
		return nil, appErr
	}
	req, err := s.loadEditable(ctx, actor, id, dto.Version)
	if err != nil {
		return nil, err
	}

	payload := dto.Apply(req.Payload)
	at := s.now()
	version, err := s.store.UpdatePayload(ctx, req.ID, dto.Version, payload, actor.ID, at)
	if err != nil {
		return nil, s.writeError(req, err)
	}

	updated := req.Clone()
	updated.Payload = payload
	updated.Version = version
	updated.UpdatedAt = at

	s.logger.Info("expense request updated", "request_id", id, "actor_id", actor.ID, "version", version)
	s.publish(ctx, events.NewRequestUpdatedEvent(updated.ID, updated.RequesterID, updated.RequesterDepartment, updated.Title, updated.Amount, updated.Version))
	return s.view(actor, updated), nil
}

// Withdraw soft-deletes a pending request on behalf of its requester.
func (s *Service) Withdraw(ctx context.Context, actor workflow.Actor, id string, version int64) error {
	if appErr := validation.Var("version", version, "gte=1"); appErr != nil {
		return appErr
	}
	req, err := s.loadEditable(ctx, actor, id, version)
	if err != nil {
		return err
	}
	if err := s.store.SoftDelete(ctx, req.ID, version, actor.ID, s.now()); err != nil {
		return s.writeError(req, err)
	}

	s.logger.Info("expense request withdrawn", "request_id", id, "actor_id", actor.ID)
	s.publish(ctx, events.NewRequestWithdrawnEvent(req.ID, req.RequesterID, req.RequesterDepartment, req.Title, req.Amount, version+1))
	return nil
}

func (s *Service) History(ctx context.Context, actor workflow.Actor, id string) ([]workflow.ChangeEvent, error) {
	if _, err := s.loadVisible(ctx, actor, id); err != nil {
		return nil, err
	}
	changes, err := s.store.History(ctx, id)
	if err != nil {
		return nil, workflow.NewError(workflow.KindStoreUnavailable, id, err)
	}
	return changes, nil
}

// Transition delegates to the engine. A dry run validates locally and
// returns the projected snapshot without writing.
func (s *Service) Transition(ctx context.Context, actor workflow.Actor, id string, dto TransitionDTO) (*RequestView, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if appErr := validation.Struct(dto); appErr != nil {
		return nil, appErr
	}
	target := workflow.Status(dto.TargetStatus)

	if dto.DryRun {
		req, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		tentative, err := workflow.Project(s.validator, actor, req, target, dto.Comment)
		if err != nil {
			return nil, err
		}
		v := s.view(actor, tentative.Projected)
		v.Projected = true
		return v, nil
	}

	updated, err := s.engine.RequestTransition(ctx, &actor, id, target, dto.Comment)
	if err != nil {
		return nil, err
	}
	s.logger.Info("expense request transitioned",
		"request_id", id,
		"actor_id", actor.ID,
		"status", updated.Status,
		"version", updated.Version)
	return s.view(actor, updated), nil
}

func (s *Service) load(ctx context.Context, id string) (*workflow.ExpenseRequest, error) {
	req, err := s.store.GetByID(ctx, id)
	switch {
	case errors.Is(err, workflow.ErrRequestNotFound):
		return nil, workflow.NewError(workflow.KindNotFound, id, err)
	case err != nil:
		s.logger.Error("failed to load expense request", "error", err, "request_id", id)
		return nil, workflow.NewError(workflow.KindStoreUnavailable, id, err)
	case req == nil || req.Deleted:
		return nil, workflow.NewError(workflow.KindNotFound, id, nil)
	}
	return req, nil
}

func (s *Service) loadVisible(ctx context.Context, actor workflow.Actor, id string) (*workflow.ExpenseRequest, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	req, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.validator.CanView(actor, req) {
		s.logger.Warn("read outside actor scope", "request_id", id, "actor_id", actor.ID, "actor_role", actor.Role)
		return nil, workflow.NewError(workflow.KindForbiddenScope, id, nil)
	}
	return req, nil
}

func (s *Service) loadEditable(ctx context.Context, actor workflow.Actor, id string, version int64) (*workflow.ExpenseRequest, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	req, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.validator.CheckEditable(actor, req); err != nil {
		return nil, err
	}
	if req.Version != version {
		return nil, workflow.NewError(workflow.KindStaleVersion, id, workflow.ErrVersionMismatch)
	}
	return req, nil
}

func (s *Service) writeError(req *workflow.ExpenseRequest, err error) error {
	switch {
	case errors.Is(err, workflow.ErrVersionMismatch):
		return workflow.NewError(workflow.KindStaleVersion, req.ID, err)
	case errors.Is(err, workflow.ErrRequestNotFound):
		return workflow.NewError(workflow.KindNotFound, req.ID, err)
	}
	s.logger.Error("expense request write failed", "error", err, "request_id", req.ID)
	return workflow.NewError(workflow.KindStoreUnavailable, req.ID, err)
}

func (s *Service) list(ctx context.Context, filter ListFilter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultPageSize
	}
	if filter.Limit > MaxPageSize {
		filter.Limit = MaxPageSize
	}
	requests, total, err := s.store.List(ctx, filter)
	if err != nil {
		s.logger.Error("failed to list expense requests", "error", err)
		return nil, workflow.NewError(workflow.KindStoreUnavailable, "", err)
	}
	if requests == nil {
		requests = []*workflow.ExpenseRequest{}
	}
	return &ListResult{Requests: requests, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

func (s *Service) view(actor workflow.Actor, req *workflow.ExpenseRequest) *RequestView {
	return &RequestView{
		ExpenseRequest:     req,
		AllowedTransitions: s.validator.AllowedTargets(actor, req),
	}
}

func (s *Service) publish(ctx context.Context, ev events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(context.WithoutCancel(ctx), ev); err != nil {
		s.logger.Error("failed to publish event", "event_type", ev.EventType(), "error", err)
	}
}

func requireActor(actor workflow.Actor) error {
	if !actor.IsValid() {
		return workflow.NewError(workflow.KindUnauthenticated, "", nil)
	}
	return nil
}

// scopeFilter narrows store reads to what actor may see. A section manager
// never gets an unscoped filter.
func scopeFilter(actor workflow.Actor, mine bool) (ListFilter, error) {
	switch {
	case mine || actor.Role == workflow.RoleEmployee:
		return ListFilter{RequesterID: actor.ID}, nil
	case actor.Role == workflow.RoleSectionManager:
		if actor.Department == "" {
			return ListFilter{}, workflow.NewError(workflow.KindForbiddenScope, "", nil)
		}
		return ListFilter{Department: actor.Department}, nil
	case actor.Role == workflow.RoleManager:
		return ListFilter{}, nil
	}
	return ListFilter{}, workflow.NewError(workflow.KindForbiddenScope, "", nil)
}
