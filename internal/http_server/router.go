package httpserver

import (
	"log/slog"

	"account_service/internal/auth"
	forgotPassword "account_service/internal/http_server/handlers/forgot_password"
	"account_service/internal/http_server/handlers/login"
	"account_service/internal/http_server/handlers/logout"
	"account_service/internal/http_server/handlers/me"
	"account_service/internal/http_server/handlers/register"
	resendEmail "account_service/internal/http_server/handlers/resend_verification_email"
	resetPassword "account_service/internal/http_server/handlers/reset_password"
	"account_service/internal/http_server/handlers/verify"
	"account_service/internal/lib/verification"
	"account_service/internal/middleware/authgate"
	rateLimit "account_service/internal/middleware/ratelimit"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-playground/validator/v10"
)

// NewRouter wires every endpoint. Protected routes sit behind the auth
// gate; logout validates its own cookies so that a rejected logout does
// not rotate the pair first.
func NewRouter(
	log *slog.Logger,
	validate *validator.Validate,
	authService *auth.Auth,
	msgSender verification.Publisher,
	baseURL string,
) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.With(rateLimit.Register()).Post("/register",
		register.New(log, validate, authService, msgSender, baseURL),
	)
	r.With(rateLimit.Verify()).Get("/verify/{token}",
		verify.New(log, authService),
	)
	r.With(rateLimit.ResendVerificationEmail()).Post("/verify/resend",
		resendEmail.New(log, validate, authService, msgSender, baseURL),
	)
	r.With(rateLimit.Login()).Post("/login",
		login.New(log, validate, authService),
	)
	r.With(rateLimit.Logout()).Get("/logout",
		logout.New(log, authService),
	)
	r.With(rateLimit.ForgotPassword()).Post("/forget-password",
		forgotPassword.New(log, validate, authService, msgSender, baseURL),
	)
	r.With(rateLimit.ResetPassword()).Post("/reset-password/{token}",
		resetPassword.New(log, validate, authService),
	)

	r.Group(func(r chi.Router) {
		r.Use(authgate.New(log, authService))

		r.Get("/me", me.New(log))
	})

	return r
}
