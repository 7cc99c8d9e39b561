package verification

import (
	"context"
	"fmt"
	"log/slog"

	"account_service/internal/models"
)

type Publisher interface {
	SendMessage(ctx context.Context, msg models.Message) error
}

// SendVerificationEmail queues the verification link. Delivery failure
// is logged but not returned: registration must not fail because the
// mail pipeline is down.
func SendVerificationEmail(
	ctx context.Context,
	log *slog.Logger,
	pub Publisher,
	baseURL, email, token string,
) {
	msg := models.Message{
		Email:   email,
		Link:    fmt.Sprintf("%s/verify/%s", baseURL, token),
		Purpose: models.PurposeEmailVerification,
	}

	if err := pub.SendMessage(ctx, msg); err != nil {
		log.Error("failed to queue verification email", slog.Any("err", err))
	}
}

// SendResetEmail queues the password-reset link. Unlike verification,
// a queue failure is returned: a reset request that cannot deliver its
// link has accomplished nothing.
func SendResetEmail(
	ctx context.Context,
	pub Publisher,
	baseURL, email, token string,
) error {
	msg := models.Message{
		Email:   email,
		Link:    fmt.Sprintf("%s/reset-password/%s", baseURL, token),
		Purpose: models.PurposePasswordReset,
	}

	return pub.SendMessage(ctx, msg)
}
