package authgate

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"account_service/internal/auth"
	resp "account_service/internal/lib/api/response"
	"account_service/internal/lib/cookies"
	sl "account_service/internal/lib/logger"
	"account_service/internal/models"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type ctxKey struct{}

// New wraps protected endpoints. The session cookie pair is validated
// and rotated before the handler runs; the resolved user lands in the
// request context. Any auth failure short-circuits with a uniform 401.
func New(log *slog.Logger, authService *auth.Auth) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middleware.authgate.New"

			log := log.With(
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)

			accessToken, refreshToken := cookies.Pair(r)

			user, pair, err := authService.Authenticate(r.Context(), accessToken, refreshToken)
			if err != nil {
				if errors.Is(err, auth.ErrInvalidCredentials) {
					render.Status(r, http.StatusUnauthorized)
					render.JSON(w, r, resp.Error("Unauthorized"))

					return
				}

				log.Error("failed to authenticate request", sl.Err(err))

				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, resp.Error("Internal error"))

				return
			}

			cookies.SetPair(w,
				pair.AccessToken,
				pair.RefreshToken,
				authService.AccessTTL(),
				authService.RefreshTTL(),
			)

			ctx := context.WithValue(r.Context(), ctxKey{}, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserFromContext returns the identity attached by the gate.
func UserFromContext(ctx context.Context) (models.User, bool) {
	user, ok := ctx.Value(ctxKey{}).(models.User)
	return user, ok
}
