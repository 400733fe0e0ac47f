package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/frahmantamala/expense-approval/internal/core/events"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/frahmantamala/expense-approval/internal/workflow"

// conflictRetries bounds how many times a write is re-attempted after the
// stored version moved underneath the engine.
const conflictRetries = 1

// Publisher receives the domain event of every applied transition.
type Publisher interface {
	Publish(ctx context.Context, event events.Event) error
}

type Engine struct {
	store     RequestStore
	validator *Validator
	publisher Publisher
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

type Option func(*Engine)

func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func WithValidator(v *Validator) Option {
	return func(e *Engine) {
		if v != nil {
			e.validator = v
		}
	}
}

// NewEngine wires the engine to its store. The engine holds no per-request
// state and is safe for concurrent use.
func NewEngine(store RequestStore, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		validator: NewValidator(nil),
		logger:    slog.Default(),
		tracer:    otel.Tracer(tracerName),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Validator() *Validator {
	return e.validator
}

// RequestTransition moves request requestID to target on behalf of actor.
// On success it returns the new snapshot; on failure a *TransitionError and
// nothing has been written.
func (e *Engine) RequestTransition(ctx context.Context, actor *Actor, requestID string, target Status, comment string) (*ExpenseRequest, error) {
	ctx, span := e.tracer.Start(ctx, "workflow.RequestTransition",
		trace.WithAttributes(
			attribute.String("workflow.request_id", requestID),
			attribute.String("workflow.target_status", target.String()),
		))
	defer span.End()

	if actor != nil {
		span.SetAttributes(
			attribute.String("workflow.actor_id", actor.ID),
			attribute.String("workflow.actor_role", actor.Role.String()),
		)
	}

	result, err := e.requestTransition(ctx, actor, requestID, target, comment)
	if err != nil {
		kind := KindOf(err)
		span.SetAttributes(attribute.String("workflow.error_kind", string(kind)))
		span.RecordError(err)
		if kind != KindAbandoned {
			span.SetStatus(codes.Error, string(kind))
		}
		e.audit(ctx, kind, actor, requestID, target, err)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("workflow.status", result.Status.String()),
		attribute.Int64("workflow.version", result.Version),
	)
	return result, nil
}

func (e *Engine) requestTransition(ctx context.Context, actor *Actor, requestID string, target Status, comment string) (*ExpenseRequest, error) {
	if actor == nil || !actor.IsValid() {
		return nil, &TransitionError{Kind: KindUnauthenticated, RequestID: requestID, To: target}
	}

	req, err := e.load(ctx, requestID, target, actor.Role)
	if err != nil {
		return nil, err
	}

	if req.Status == target && e.validator.Authorizes(*actor, req, target) {
		e.logger.DebugContext(ctx, "transition already applied",
			"request_id", req.ID, "status", req.Status, "actor_id", actor.ID)
		return req, nil
	}

	if _, err := e.validator.Validate(*actor, req, target); err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return nil, newError(KindAbandoned, req, target, actor.Role, cerr)
		}

		at := e.now()
		version, err := e.store.CompareAndSwapStatus(ctx, StatusChange{
			RequestID:       req.ID,
			ExpectedVersion: req.Version,
			From:            req.Status,
			To:              target,
			Comment:         comment,
			ActorID:         actor.ID,
			At:              at,
		})
		switch {
		case err == nil:
			updated := req.withTransition(target, comment, version, at)
			e.publish(ctx, actor, req.Status, updated)
			return updated, nil

		case errors.Is(err, ErrRequestNotFound):
			return nil, newError(KindNotFound, req, target, actor.Role, err)

		case errors.Is(err, ErrVersionMismatch):
			if attempt >= conflictRetries {
				return nil, newError(KindStaleVersion, req, target, actor.Role, err)
			}
			fresh, lerr := e.load(ctx, requestID, target, actor.Role)
			if lerr != nil {
				return nil, lerr
			}
			_, verr := e.validator.Validate(*actor, fresh, target)
			if fresh.Status != req.Status {
				// Someone else moved the request; report the conflict along
				// with what the fresh state says about this call.
				return nil, newError(KindStaleVersion, fresh, target, actor.Role, verr)
			}
			if verr != nil {
				return nil, verr
			}
			e.logger.InfoContext(ctx, "retrying transition after version conflict",
				"request_id", req.ID, "observed_version", req.Version, "fresh_version", fresh.Version)
			req = fresh

		case ctx.Err() != nil:
			return nil, newError(KindAbandoned, req, target, actor.Role, errors.Join(ctx.Err(), err))

		default:
			return nil, newError(KindStoreUnavailable, req, target, actor.Role, err)
		}
	}
}

func (e *Engine) load(ctx context.Context, requestID string, target Status, role Role) (*ExpenseRequest, error) {
	req, err := e.store.GetByID(ctx, requestID)
	switch {
	case errors.Is(err, ErrRequestNotFound):
		return nil, &TransitionError{Kind: KindNotFound, RequestID: requestID, To: target, Role: role, Err: err}
	case err != nil && ctx.Err() != nil:
		return nil, &TransitionError{Kind: KindAbandoned, RequestID: requestID, To: target, Role: role, Err: errors.Join(ctx.Err(), err)}
	case err != nil:
		return nil, &TransitionError{Kind: KindStoreUnavailable, RequestID: requestID, To: target, Role: role, Err: err}
	case req == nil || req.Deleted:
		return nil, &TransitionError{Kind: KindNotFound, RequestID: requestID, To: target, Role: role}
	}
	return req, nil
}

// publish hands the event to the publisher detached from the caller's
// cancellation; the transition already stands, so failures are only logged.
func (e *Engine) publish(ctx context.Context, actor *Actor, from Status, updated *ExpenseRequest) {
	if e.publisher == nil {
		return
	}
	ev := events.NewRequestTransitionedEvent(events.TransitionParams{
		RequestID:           updated.ID,
		RequesterID:         updated.RequesterID,
		RequesterDepartment: updated.RequesterDepartment,
		FromStatus:          from.String(),
		ToStatus:            updated.Status.String(),
		ActorID:             actor.ID,
		ActorRole:           actor.Role.String(),
		Comment:             updated.DecisionComment,
		Version:             updated.Version,
		At:                  updated.UpdatedAt,
	})
	if err := e.publisher.Publish(context.WithoutCancel(ctx), ev); err != nil {
		e.logger.ErrorContext(ctx, "failed to publish transition event",
			"request_id", updated.ID, "event_id", ev.EventID(), "error", err)
	}
}

func (e *Engine) audit(ctx context.Context, kind ErrorKind, actor *Actor, requestID string, target Status, err error) {
	attrs := []any{"request_id", requestID, "target_status", target, "error", err}
	if actor != nil {
		attrs = append(attrs, "actor_id", actor.ID, "actor_role", actor.Role, "actor_department", actor.Department)
	}

	switch kind {
	case KindIllegalTransition:
		e.logger.WarnContext(ctx, "illegal transition attempted", append(attrs, "audit", "workflow.illegal_transition")...)
	case KindForbiddenScope:
		e.logger.WarnContext(ctx, "transition outside actor scope", append(attrs, "audit", "workflow.forbidden_scope")...)
	case KindStoreUnavailable:
		e.logger.ErrorContext(ctx, "request store unavailable", attrs...)
	case KindAbandoned:
		e.logger.DebugContext(ctx, "transition abandoned by caller before write", attrs...)
	default:
		e.logger.InfoContext(ctx, "transition refused", append(attrs, "kind", kind)...)
	}
}
