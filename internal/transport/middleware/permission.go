package middleware

import (
	"net/http"

	"github.com/frahmantamala/expense-approval/internal"
	"github.com/frahmantamala/expense-approval/internal/workflow"
	"github.com/frahmantamala/expense-approval/pkg/logger"
)

// RequireRole admits only callers holding one of roles. It must run after
// the auth middleware.
func RequireRole(roles ...workflow.Role) func(http.Handler) http.Handler {
	allowed := make(map[workflow.Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := internal.ActorFromContext(r.Context())
			if !ok {
				writeAppError(w, internal.ErrUnauthenticated)
				return
			}

			if !allowed[actor.Role] {
				logger.From(r.Context()).Warn("access denied: role not permitted",
					"actor_id", actor.ID,
					"actor_role", actor.Role,
					"required_roles", roles,
					"path", r.URL.Path)
				writeAppError(w, internal.ErrRoleRequired)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireApprover admits any role that appears on an edge of the policy.
func RequireApprover(policy *workflow.PolicyTable) func(http.Handler) http.Handler {
	var roles []workflow.Role
	for _, role := range workflow.AllRoles() {
		if policy.Grants(role) {
			roles = append(roles, role)
		}
	}
	return RequireRole(roles...)
}
