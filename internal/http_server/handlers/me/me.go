package me

import (
	"log/slog"
	"net/http"

	resp "account_service/internal/lib/api/response"
	"account_service/internal/middleware/authgate"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type Response struct {
	resp.Response
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	IsVerified bool   `json:"is_verified"`
}

// New returns the authenticated user's profile. The password hash
// never leaves the handler.
func New(log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.me.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		user, ok := authgate.UserFromContext(r.Context())
		if !ok {
			// Only reachable when the route is wired without the gate.
			log.Error("no identity in request context")

			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, resp.Error("Unauthorized"))

			return
		}

		render.JSON(w, r, Response{
			Response:   resp.OK(),
			ID:         user.ID.String(),
			Name:       user.Name,
			Email:      user.Email,
			IsVerified: user.IsVerified,
		})
	}
}
