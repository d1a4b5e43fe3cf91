package middleware

import (
	"net/http"

	"community-issue-feed/pkg/response"
)

// RequireVolunteer lets through only users who chose the volunteer role.
func RequireVolunteer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFrom(r.Context())
		if !ok {
			response.Error(w, http.StatusUnauthorized, "Unauthorized", "")
			return
		}

		if !claims.IsVolunteer {
			response.Error(w, http.StatusForbidden, "Forbidden", "Volunteer role required")
			return
		}

		next.ServeHTTP(w, r)
	})
}
