package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	jwtlib "account_service/internal/lib/jwt"
	sl "account_service/internal/lib/logger"
	"account_service/internal/lib/random"
	"account_service/internal/models"
	"account_service/internal/storage"

	"github.com/google/uuid"
	passwordvalidator "github.com/wagslane/go-password-validator"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("user already exists")
	ErrEmailNotVerified   = errors.New("email not verified")
	ErrWeakPassword       = errors.New("password is too weak")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrAlreadyVerified    = errors.New("email already verified")
)

const minPasswordEntropy = 60

type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

type Auth struct {
	log         *slog.Logger
	usrSaver    UserSaver
	usrProvider UserProvider
	sessions    SessionStore
	denylist    Denylist
	tokens      *jwtlib.Manager
	resetTTL    time.Duration
}

type UserSaver interface {
	SaveUser(ctx context.Context, email, name string, passHash []byte, verificationToken string) (uuid.UUID, error)
	SetVerificationToken(ctx context.Context, userID uuid.UUID, token string) error
	SetResetToken(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) error
	ConsumeVerificationToken(ctx context.Context, token string) (uuid.UUID, error)
	ConsumePasswordReset(ctx context.Context, token string, now time.Time, newPassHash []byte) (uuid.UUID, error)
}

type UserProvider interface {
	UserByEmail(ctx context.Context, email string) (models.User, error)
	UserByID(ctx context.Context, id uuid.UUID) (models.User, error)
}

type SessionStore interface {
	SetRefreshHash(ctx context.Context, userID uuid.UUID, hash string) error
	SwapRefreshHash(ctx context.Context, userID uuid.UUID, oldHash, newHash string) error
	ClearRefreshHash(ctx context.Context, userID uuid.UUID, hash string) error
}

type Denylist interface {
	DenyAccessToken(ctx context.Context, tokenHash string, ttl time.Duration) error
	IsAccessTokenDenied(ctx context.Context, tokenHash string) (bool, error)
}

func New(
	log *slog.Logger,
	userSaver UserSaver,
	userProvider UserProvider,
	sessions SessionStore,
	denylist Denylist,
	tokens *jwtlib.Manager,
	resetTTL time.Duration,
) *Auth {
	return &Auth{
		log:         log,
		usrSaver:    userSaver,
		usrProvider: userProvider,
		sessions:    sessions,
		denylist:    denylist,
		tokens:      tokens,
		resetTTL:    resetTTL,
	}
}

// AccessTTL and RefreshTTL expose the token lifetimes for cookie
// max-age decisions at the transport layer.
func (a *Auth) AccessTTL() time.Duration  { return a.tokens.AccessTTL() }
func (a *Auth) RefreshTTL() time.Duration { return a.tokens.RefreshTTL() }

// Register creates an unverified user and returns its id together with
// the opaque verification token the caller must deliver by email.
func (a *Auth) Register(
	ctx context.Context,
	name, email, pass string,
) (uuid.UUID, string, error) {
	const op = "auth.Register"

	log := a.log.With(
		slog.String("op", op),
	)

	log.Info("Registering new user")

	if err := passwordvalidator.Validate(pass, minPasswordEntropy); err != nil {
		log.Info("weak password rejected")
		return uuid.Nil, "", ErrWeakPassword
	}

	passHash, err := bcrypt.GenerateFromPassword([]byte(pass), bcrypt.DefaultCost)
	if err != nil {
		log.Error("failed to generate password hash", sl.Err(err))
		return uuid.Nil, "", fmt.Errorf("%s: %w", op, err)
	}

	verificationToken, err := random.NewOpaqueToken()
	if err != nil {
		log.Error("failed to generate verification token", sl.Err(err))
		return uuid.Nil, "", fmt.Errorf("%s: %w", op, err)
	}

	id, err := a.usrSaver.SaveUser(ctx, email, name, passHash, verificationToken)
	if err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			log.Warn("User already exists")

			return uuid.Nil, "", fmt.Errorf("%s: %w", op, ErrUserExists)
		}

		log.Error("Failed to save user", sl.Err(err))

		return uuid.Nil, "", fmt.Errorf("%s: %w", op, err)
	}

	return id, verificationToken, nil
}

// * Login проверяет учетные данные и возвращает пару токенов
func (a *Auth) Login(
	ctx context.Context,
	email, password string,
) (models.User, TokenPair, error) {
	const op = "Auth.Login"

	log := a.log.With(slog.String("op", op))

	user, err := a.usrProvider.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("user not found")
			// Unknown email and wrong password must be indistinguishable.
			return models.User{}, TokenPair{}, ErrInvalidCredentials
		}

		log.Error("failed to get user", sl.Err(err))
		return models.User{}, TokenPair{}, err
	}

	if err := bcrypt.CompareHashAndPassword(user.PassHash, []byte(password)); err != nil {
		log.Info("invalid credentials", sl.Err(err))
		return models.User{}, TokenPair{}, ErrInvalidCredentials
	}

	if !user.IsVerified {
		return models.User{}, TokenPair{}, ErrEmailNotVerified
	}

	pair, refreshHash, err := a.issuePair(user.ID)
	if err != nil {
		log.Error("failed to issue token pair", sl.Err(err))
		return models.User{}, TokenPair{}, err
	}

	if err := a.sessions.SetRefreshHash(ctx, user.ID, refreshHash); err != nil {
		log.Error("failed to save refresh token", sl.Err(err))
		return models.User{}, TokenPair{}, err
	}

	log.Info("user logged in successfully", slog.String("uid", user.ID.String()))
	return user, pair, nil
}

// Authenticate validates the cookie pair of an incoming request and
// rotates it. The access token is tried first; a request without one
// falls back to the refresh token, which is cross-checked against the
// stored hash. Every success replaces both tokens, so a stolen token
// is good for at most one use. Nothing is persisted on rejection.
func (a *Auth) Authenticate(
	ctx context.Context,
	accessToken, refreshToken string,
) (models.User, TokenPair, error) {
	const op = "auth.Authenticate"

	log := a.log.With(slog.String("op", op))

	switch {
	case accessToken != "":
		userID, err := a.tokens.ParseAccessToken(accessToken)
		if err != nil {
			log.Info("invalid access token")
			return models.User{}, TokenPair{}, ErrInvalidCredentials
		}

		denied, err := a.denylist.IsAccessTokenDenied(ctx, tokenHash(accessToken))
		if err != nil {
			log.Error("failed to check denylist", sl.Err(err))
			return models.User{}, TokenPair{}, fmt.Errorf("%s: %w", op, err)
		}
		if denied {
			log.Info("revoked access token rejected")
			return models.User{}, TokenPair{}, ErrInvalidCredentials
		}

		user, err := a.usrProvider.UserByID(ctx, userID)
		if err != nil {
			if errors.Is(err, storage.ErrUserNotFound) {
				return models.User{}, TokenPair{}, ErrInvalidCredentials
			}

			log.Error("failed to load user", sl.Err(err))
			return models.User{}, TokenPair{}, err
		}

		pair, refreshHash, err := a.issuePair(user.ID)
		if err != nil {
			log.Error("failed to issue token pair", sl.Err(err))
			return models.User{}, TokenPair{}, err
		}

		if err := a.sessions.SetRefreshHash(ctx, user.ID, refreshHash); err != nil {
			log.Error("failed to rotate refresh token", sl.Err(err))
			return models.User{}, TokenPair{}, err
		}

		return user, pair, nil

	case refreshToken != "":
		userID, err := a.tokens.ParseRefreshToken(refreshToken)
		if err != nil {
			log.Info("invalid refresh token")
			return models.User{}, TokenPair{}, ErrInvalidCredentials
		}

		user, err := a.usrProvider.UserByID(ctx, userID)
		if err != nil {
			if errors.Is(err, storage.ErrUserNotFound) {
				return models.User{}, TokenPair{}, ErrInvalidCredentials
			}

			log.Error("failed to load user", sl.Err(err))
			return models.User{}, TokenPair{}, err
		}

		pair, newHash, err := a.issuePair(user.ID)
		if err != nil {
			log.Error("failed to issue token pair", sl.Err(err))
			return models.User{}, TokenPair{}, err
		}

		err = a.sessions.SwapRefreshHash(ctx, user.ID, tokenHash(refreshToken), newHash)
		if err != nil {
			if errors.Is(err, storage.ErrSessionNotFound) {
				log.Info("stale refresh token rejected")
				return models.User{}, TokenPair{}, ErrInvalidCredentials
			}

			log.Error("failed to rotate refresh token", sl.Err(err))
			return models.User{}, TokenPair{}, err
		}

		return user, pair, nil

	default:
		return models.User{}, TokenPair{}, ErrInvalidCredentials
	}
}

// Logout invalidates the session. The refresh token must verify and
// match the persisted hash; a structurally valid token that was already
// rotated out or logged out is rejected. The access token is denylisted
// for the rest of its lifetime.
func (a *Auth) Logout(
	ctx context.Context,
	accessToken, refreshToken string,
) error {
	const op = "auth.Logout"

	log := a.log.With(
		slog.String("op", op),
	)

	userID, err := a.tokens.ParseRefreshToken(refreshToken)
	if err != nil {
		log.Warn("invalid refresh token")
		return ErrInvalidCredentials
	}

	err = a.sessions.ClearRefreshHash(ctx, userID, tokenHash(refreshToken))
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			log.Warn("refresh token does not match stored session")
			return ErrInvalidCredentials
		}

		log.Error("failed to clear refresh token", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if accessToken != "" {
		err = a.denylist.DenyAccessToken(ctx, tokenHash(accessToken), a.tokens.AccessTTL())
		if err != nil {
			log.Error("failed to denylist access token", sl.Err(err))
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	log.Info("logout successful")

	return nil
}

// VerifyEmail consumes a verification token. The storage consume is a
// single conditional update, so the token is single-use.
func (a *Auth) VerifyEmail(ctx context.Context, token string) (uuid.UUID, error) {
	const op = "auth.VerifyEmail"

	log := a.log.With(
		slog.String("op", op),
	)

	userID, err := a.usrSaver.ConsumeVerificationToken(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			log.Info("verification token not found")
			return uuid.Nil, ErrInvalidToken
		}

		log.Error("failed to consume verification token", sl.Err(err))
		return uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("email verified", slog.String("uid", userID.String()))

	return userID, nil
}

// RenewVerification issues a fresh verification token for an account
// that has not confirmed its email yet. The previous token stops
// matching once overwritten.
func (a *Auth) RenewVerification(ctx context.Context, email string) (uuid.UUID, string, error) {
	const op = "auth.RenewVerification"

	log := a.log.With(
		slog.String("op", op),
	)

	user, err := a.usrProvider.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return uuid.Nil, "", storage.ErrUserNotFound
		}

		log.Error("failed to get user", sl.Err(err))
		return uuid.Nil, "", fmt.Errorf("%s: %w", op, err)
	}

	if user.IsVerified {
		return uuid.Nil, "", ErrAlreadyVerified
	}

	token, err := random.NewOpaqueToken()
	if err != nil {
		log.Error("failed to generate verification token", sl.Err(err))
		return uuid.Nil, "", fmt.Errorf("%s: %w", op, err)
	}

	if err := a.usrSaver.SetVerificationToken(ctx, user.ID, token); err != nil {
		log.Error("failed to store verification token", sl.Err(err))
		return uuid.Nil, "", fmt.Errorf("%s: %w", op, err)
	}

	return user.ID, token, nil
}

// ForgotPassword opens a reset window and returns the opaque token the
// caller must deliver by email. Token and expiry are stored together.
func (a *Auth) ForgotPassword(ctx context.Context, email string) (string, error) {
	const op = "auth.ForgotPassword"

	log := a.log.With(
		slog.String("op", op),
	)

	user, err := a.usrProvider.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Info("password reset requested for unknown email")
			return "", storage.ErrUserNotFound
		}

		log.Error("failed to get user", sl.Err(err))
		return "", fmt.Errorf("%s: %w", op, err)
	}

	token, err := random.NewOpaqueToken()
	if err != nil {
		log.Error("failed to generate reset token", sl.Err(err))
		return "", fmt.Errorf("%s: %w", op, err)
	}

	expiresAt := time.Now().Add(a.resetTTL)

	if err := a.usrSaver.SetResetToken(ctx, user.ID, token, expiresAt); err != nil {
		log.Error("failed to store reset token", sl.Err(err))
		return "", fmt.Errorf("%s: %w", op, err)
	}

	log.Info("password reset window opened",
		slog.String("uid", user.ID.String()),
		slog.String("token_prefix", token[:8]),
	)

	return token, nil
}

// ResetPassword consumes a reset token. The storage consume matches
// token and expiry and clears both in one atomic update, so a retry
// with the same token fails even under concurrent requests.
func (a *Auth) ResetPassword(ctx context.Context, token, newPassword string) (uuid.UUID, error) {
	const op = "auth.ResetPassword"

	log := a.log.With(
		slog.String("op", op),
	)

	if err := passwordvalidator.Validate(newPassword, minPasswordEntropy); err != nil {
		log.Info("weak password rejected")
		return uuid.Nil, ErrWeakPassword
	}

	passHash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		log.Error("failed to generate password hash", sl.Err(err))
		return uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	userID, err := a.usrSaver.ConsumePasswordReset(ctx, token, time.Now(), passHash)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			log.Info("reset token invalid or expired")
			return uuid.Nil, ErrInvalidToken
		}

		log.Error("failed to consume reset token", sl.Err(err))
		return uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("password reset successful", slog.String("uid", userID.String()))

	return userID, nil
}

func (a *Auth) issuePair(userID uuid.UUID) (TokenPair, string, error) {
	accessToken, err := a.tokens.NewAccessToken(userID)
	if err != nil {
		return TokenPair{}, "", err
	}

	refreshToken, err := a.tokens.NewRefreshToken(userID)
	if err != nil {
		return TokenPair{}, "", err
	}

	return TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, tokenHash(refreshToken), nil
}

// tokenHash returns the sha256 hex digest stored and compared instead
// of the raw token.
func tokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
