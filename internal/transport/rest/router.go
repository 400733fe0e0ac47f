package rest

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/frahmantamala/expense-approval/api"
	"github.com/frahmantamala/expense-approval/internal/auth"
	"github.com/frahmantamala/expense-approval/internal/expense"
	"github.com/frahmantamala/expense-approval/internal/transport"
	"github.com/frahmantamala/expense-approval/internal/transport/middleware"
	"github.com/frahmantamala/expense-approval/internal/transport/swagger"
	"github.com/frahmantamala/expense-approval/internal/workflow"
	"github.com/frahmantamala/expense-approval/pkg/logger"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"
)

// Dependencies groups everything the HTTP surface needs. Nil handlers leave
// their routes unmounted.
type Dependencies struct {
	AuthHandler    *auth.Handler
	ExpenseHandler *expense.Handler
	Policy         *workflow.PolicyTable
	Health         *HealthHandler
	OpenAPI        *openapi3.T
	AllowedOrigins string
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

type policyResponse struct {
	Rules            []workflow.Rule   `json:"rules"`
	TerminalStatuses []workflow.Status `json:"terminal_statuses"`
}

func RegisterAllRoutes(router *chi.Mux, deps Dependencies) error {
	if deps.Health == nil {
		deps.Health = NewHealthHandler(nil)
	}
	if deps.Logger == nil {
		deps.Logger = logger.L()
	}
	if deps.Policy == nil {
		deps.Policy = workflow.DefaultPolicy()
	}

	var contract func(http.Handler) http.Handler
	if deps.OpenAPI != nil {
		v, err := middleware.OpenAPIValidator(deps.OpenAPI)
		if err != nil {
			return err
		}
		contract = v
	}

	// Apply global middleware
	router.Use(middleware.CORS(deps.AllowedOrigins))
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(deps.Logger))
	router.Use(middleware.LoggingMiddleware(deps.Logger))
	if deps.RequestTimeout > 0 {
		router.Use(chiMiddleware.Timeout(deps.RequestTimeout))
	}

	router.Get(swagger.SpecPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		w.Write(api.OpenAPISpec)
	})
	router.Handle("/swagger/*", swagger.Handler())

	policy := policyResponse{Rules: deps.Policy.Rules()}
	for _, s := range workflow.AllStatuses() {
		if s.IsTerminal() {
			policy.TerminalStatuses = append(policy.TerminalStatuses, s)
		}
	}
	base := transport.NewBaseHandler(deps.Logger)

	// Mount API under /api/v1 to match the OpenAPI paths
	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", deps.Health.healthCheckHandler)
		r.Get("/ping", deps.Health.pingHandler)

		if deps.AuthHandler == nil {
			return
		}

		r.Group(func(pr chi.Router) {
			pr.Use(deps.AuthHandler.AuthMiddleware)
			if contract != nil {
				pr.Use(contract)
			}

			pr.Get("/me", deps.AuthHandler.Me)
			pr.Get("/policy", func(w http.ResponseWriter, r *http.Request) {
				base.WriteJSON(w, http.StatusOK, policy)
			})

			if deps.ExpenseHandler != nil {
				pr.Route("/expenses", func(er chi.Router) {
					deps.ExpenseHandler.Routes(er, middleware.RequireApprover(deps.Policy))
				})
			}
		})
	})
	return nil
}

// LoadContract parses the embedded OpenAPI document.
func LoadContract() (*openapi3.T, error) {
	return middleware.LoadOpenAPI(api.OpenAPISpec)
}
