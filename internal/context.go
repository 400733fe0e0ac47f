package internal

import (
	"context"
	"time"

	"github.com/frahmantamala/expense-approval/internal/workflow"
)

type ctxKey string

const ContextActorKey ctxKey = "actor"

// ActorFromContext returns the caller resolved by the auth middleware.
func ActorFromContext(ctx context.Context) (workflow.Actor, bool) {
	if ctx == nil {
		return workflow.Actor{}, false
	}
	actor, ok := ctx.Value(ContextActorKey).(workflow.Actor)
	if !ok || actor.ID == "" {
		return workflow.Actor{}, false
	}
	return actor, true
}

func ContextWithActor(ctx context.Context, actor workflow.Actor) context.Context {
	return context.WithValue(ctx, ContextActorKey, actor)
}

// WithTimeout returns a context with timeout, defaulting to 5 seconds if duration is zero or negative.
func WithTimeout(ctx context.Context, duration time.Duration) (context.Context, context.CancelFunc) {
	if duration <= 0 {
		duration = 5 * time.Second
	}
	return context.WithTimeout(ctx, duration)
}
