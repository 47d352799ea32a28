package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/tunekit/tunekit-api/internal/runner"
)

type contextKey string

const jobIDKey contextKey = "job_id"

// JobToken authenticates the runner's report callbacks. The bearer token is
// the job-scoped JWT minted at launch; its subject is placed in the request
// context for the handler to match against the path.
func JobToken(signingKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}

			jobID, err := runner.VerifyJobToken(strings.TrimPrefix(auth, "Bearer "), []byte(signingKey))
			if err != nil {
				http.Error(w, "invalid job token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), jobIDKey, jobID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// JobIDFromRequest returns the job id carried by a verified job token.
func JobIDFromRequest(r *http.Request) (string, bool) {
	jobID, ok := r.Context().Value(jobIDKey).(string)
	return jobID, ok
}
