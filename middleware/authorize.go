package middleware

import (
	"net/http"
	"slices"
)

// RequireRole admits callers whose access token carries one of roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return require(func(role, _ string) bool {
		return slices.Contains(roles, role)
	}, "access denied: role not allowed")
}

// RequireDepartment admits callers whose access token carries one of ids.
func RequireDepartment(ids ...string) func(http.Handler) http.Handler {
	return require(func(_, department string) bool {
		return department != "" && slices.Contains(ids, department)
	}, "access denied: department not allowed")
}

func require(allow func(role, department string) bool, denied string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, ok := AuthResultFromContext(r.Context())
			if !ok || res == nil {
				writeMessage(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			if !allow(res.Role, res.DepartmentID) {
				writeMessage(w, http.StatusForbidden, denied)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
