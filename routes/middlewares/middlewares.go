package middlewares

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/oauth"

	"github.com/formdeck/formdeck/app"
	"github.com/formdeck/formdeck/fault"
	"github.com/formdeck/formdeck/httpx"
	"github.com/formdeck/formdeck/model"
	"github.com/formdeck/formdeck/policy"
)

// Authenticated verifies the bearer token, then resolves the caller against
// the user table. A valid signature is not enough: the credential's embedded
// role/status must still match the stored user, so a demoted or suspended
// user cannot keep acting on a token issued while privileged.
func Authenticated(app app.App) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return chi.Chain(oauth.Authorize(app.TokenSecret, nil), identity(app)).Handler(next)
	}
}

// MaybeAuthenticated resolves the caller when a credential is present and
// passes the request through anonymously when it is not. Used on routes that
// are public for published resources but owner-gated otherwise.
func MaybeAuthenticated(app app.App) func(http.Handler) http.Handler {
	authenticated := Authenticated(app)
	return func(next http.Handler) http.Handler {
		authed := authenticated(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "" {
				next.ServeHTTP(w, r)
				return
			}
			authed.ServeHTTP(w, r)
		})
	}
}

func identity(app app.App) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := r.Context().Value(oauth.ClaimsContext).(map[string]string)
			if !ok {
				httpx.RenderError(w, r, "auth.claims", fault.New(fault.Unauthenticated, "invalid credential"))
				return
			}
			userID, err := strconv.ParseInt(claims[httpx.ClaimUserID], 10, 64)
			if err != nil {
				httpx.RenderError(w, r, "auth.claims.user_id", fault.New(fault.Unauthenticated, "invalid credential"))
				return
			}

			var role, status string
			err = app.QueryRowContext(r.Context(),
				"SELECT role, status FROM user WHERE id=?", userID).
				Scan(&role, &status)
			if errors.Is(err, sql.ErrNoRows) {
				httpx.RenderError(w, r, "auth.refetch", fault.New(fault.Unauthenticated, "user no longer exists"))
				return
			}
			if err != nil {
				httpx.RenderError(w, r, "auth.refetch", fault.NewInternal("loading user", err))
				return
			}

			if role != claims[httpx.ClaimRole] || status != claims[httpx.ClaimStatus] {
				httpx.RenderError(w, r, "auth.stale",
					fault.New(fault.StaleCredential, "credential no longer matches stored role/status"))
				return
			}
			if model.UserStatus(status) != model.UserActive {
				httpx.RenderError(w, r, "auth.suspended", fault.New(fault.Forbidden, "account is not active"))
				return
			}

			ctx := policy.WithIdentity(r.Context(), policy.Identity{
				ID:     userID,
				Role:   model.Role(role),
				Status: model.UserStatus(status),
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminOnly requires a caller already resolved by Authenticated to hold the
// admin role.
func AdminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := policy.IdentityFrom(r.Context())
		if actor == nil {
			httpx.RenderError(w, r, "auth.admin", fault.New(fault.Unauthenticated, "credential required"))
			return
		}
		if err := policy.CanManageUsers(*actor); err != nil {
			httpx.RenderError(w, r, "auth.admin", err)
			return
		}
		next.ServeHTTP(w, r)
	})
}
