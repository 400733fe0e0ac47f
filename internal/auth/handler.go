package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/frahmantamala/expense-approval/internal"
	"github.com/frahmantamala/expense-approval/internal/transport"
	"github.com/frahmantamala/expense-approval/pkg/logger"
)

type Handler struct {
	*transport.BaseHandler
	Provider IdentityProvider
}

func NewHandler(provider IdentityProvider) *Handler {
	lg := logger.LoggerWrapper()
	if lg == nil {
		lg = slog.Default()
	}
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		Provider:    provider,
	}
}

// AuthMiddleware resolves the caller and stores it in the request context.
// Handlers read it back and pass it explicitly into service calls.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := h.Provider.Resolve(r)
		if err != nil {
			h.Logger.Warn("auth middleware: unresolved caller", "error", err, "path", r.URL.Path)
			switch {
			case errors.Is(err, ErrTokenExpired):
				h.WriteAppError(w, internal.ErrTokenExpired)
			case errors.Is(err, ErrMissingToken):
				h.WriteAppError(w, internal.ErrUnauthenticated)
			default:
				h.WriteAppError(w, internal.ErrInvalidToken)
			}
			return
		}

		ctx := internal.ContextWithActor(r.Context(), actor)
		ctx = logger.With(ctx, "actor_id", actor.ID, "actor_role", actor.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Me returns the resolved caller.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	actor, ok := internal.ActorFromContext(r.Context())
	if !ok {
		h.WriteAppError(w, internal.ErrUnauthenticated)
		return
	}
	h.WriteJSON(w, http.StatusOK, actor)
}
