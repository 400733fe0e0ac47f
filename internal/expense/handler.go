package expense

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/frahmantamala/expense-approval/internal"
	"github.com/frahmantamala/expense-approval/internal/transport"
	"github.com/frahmantamala/expense-approval/internal/workflow"
	"github.com/frahmantamala/expense-approval/pkg/logger"
	"github.com/go-chi/chi"
)

type ServiceAPI interface {
	Submit(ctx context.Context, actor workflow.Actor, dto SubmitRequestDTO) (*RequestView, error)
	Get(ctx context.Context, actor workflow.Actor, id string) (*RequestView, error)
	List(ctx context.Context, actor workflow.Actor, q ListQuery) (*ListResult, error)
	Inbox(ctx context.Context, actor workflow.Actor, q ListQuery) (*ListResult, error)
	Summary(ctx context.Context, actor workflow.Actor, mine bool) (*Summary, error)
	Update(ctx context.Context, actor workflow.Actor, id string, dto UpdateRequestDTO) (*RequestView, error)
	Withdraw(ctx context.Context, actor workflow.Actor, id string, version int64) error
	History(ctx context.Context, actor workflow.Actor, id string) ([]workflow.ChangeEvent, error)
	Transition(ctx context.Context, actor workflow.Actor, id string, dto TransitionDTO) (*RequestView, error)
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(service ServiceAPI) *Handler {
	lg := logger.LoggerWrapper()
	if lg == nil {
		lg = slog.Default()
	}
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		Service:     service,
	}
}

// Routes mounts the expense endpoints on r. Callers are expected to have
// installed the auth middleware already; inboxGuard wraps only the inbox.
func (h *Handler) Routes(r chi.Router, inboxGuard ...func(http.Handler) http.Handler) {
	r.Post("/", h.Submit)
	r.Get("/", h.List)
	r.With(inboxGuard...).Get("/inbox", h.Inbox)
	r.Get("/summary", h.Summary)
	r.Get("/{id}", h.Get)
	r.Patch("/{id}", h.Update)
	r.Delete("/{id}", h.Withdraw)
	r.Post("/{id}/transitions", h.Transition)
	r.Get("/{id}/history", h.History)
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (workflow.Actor, bool) {
	actor, ok := internal.ActorFromContext(r.Context())
	if !ok {
		h.Logger.Error("actor not found in context", "path", r.URL.Path)
		h.WriteAppError(w, internal.ErrUnauthenticated)
		return workflow.Actor{}, false
	}
	return actor, true
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var dto SubmitRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.Logger.Error("Submit: invalid request body", "error", err)
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	view, err := h.Service.Submit(r.Context(), actor, dto)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusCreated, view)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	view, err := h.Service.Get(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	q, err := parseListQuery(r)
	if err != nil {
		h.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.Service.List(r.Context(), actor, q)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) Inbox(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	q, err := parseListQuery(r)
	if err != nil {
		h.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.Service.Inbox(r.Context(), actor, q)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	q, err := parseListQuery(r)
	if err != nil {
		h.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	summary, err := h.Service.Summary(r.Context(), actor, q.Mine)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, summary)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var dto UpdateRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.Logger.Error("Update: invalid request body", "error", err)
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	view, err := h.Service.Update(r.Context(), actor, chi.URLParam(r, "id"), dto)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	version, err := strconv.ParseInt(r.URL.Query().Get("version"), 10, 64)
	if err != nil {
		h.WriteAppError(w, internal.NewValidationFieldError("version", "version query parameter is required", internal.ErrCodeInvalidVersion))
		return
	}

	if err := h.Service.Withdraw(r.Context(), actor, chi.URLParam(r, "id"), version); err != nil {
		h.HandleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var dto TransitionDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.Logger.Error("Transition: invalid request body", "error", err)
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	view, err := h.Service.Transition(r.Context(), actor, chi.URLParam(r, "id"), dto)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	changes, err := h.Service.History(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"request_id": chi.URLParam(r, "id"),
		"changes":    changes,
	})
}

type queryError string

func (e queryError) Error() string { return string(e) }

func parseListQuery(r *http.Request) (ListQuery, error) {
	values := r.URL.Query()
	q := ListQuery{Status: values.Get("status")}

	if limitStr := values.Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil {
			return q, queryError("limit must be an integer")
		}
		q.Limit = l
	}
	if offsetStr := values.Get("offset"); offsetStr != "" {
		o, err := strconv.Atoi(offsetStr)
		if err != nil {
			return q, queryError("offset must be an integer")
		}
		q.Offset = o
	}
	if mine := values.Get("mine"); mine != "" {
		b, err := strconv.ParseBool(mine)
		if err != nil {
			return q, queryError("mine must be a boolean")
		}
		q.Mine = b
	}
	return q, nil
}
