package verification

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"account_service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPublisher struct {
	last models.Message
	err  error
}

func (p *stubPublisher) SendMessage(_ context.Context, msg models.Message) error {
	if p.err != nil {
		return p.err
	}
	p.last = msg

	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSendVerificationEmailBuildsLink(t *testing.T) {
	pub := &stubPublisher{}

	SendVerificationEmail(context.Background(), discardLogger(), pub,
		"http://localhost:8080", "a@x.com", "tok123")

	assert.Equal(t, "a@x.com", pub.last.Email)
	assert.Equal(t, "http://localhost:8080/verify/tok123", pub.last.Link)
	assert.Equal(t, models.PurposeEmailVerification, pub.last.Purpose)
}

func TestSendVerificationEmailSwallowsQueueFailure(t *testing.T) {
	pub := &stubPublisher{err: errors.New("broker down")}

	// Must not panic or propagate: registration already succeeded.
	SendVerificationEmail(context.Background(), discardLogger(), pub,
		"http://localhost:8080", "a@x.com", "tok123")
}

func TestSendResetEmail(t *testing.T) {
	pub := &stubPublisher{}

	err := SendResetEmail(context.Background(), pub,
		"http://localhost:8080", "a@x.com", "tok456")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/reset-password/tok456", pub.last.Link)
	assert.Equal(t, models.PurposePasswordReset, pub.last.Purpose)
}

func TestSendResetEmailPropagatesQueueFailure(t *testing.T) {
	pub := &stubPublisher{err: errors.New("broker down")}

	err := SendResetEmail(context.Background(), pub,
		"http://localhost:8080", "a@x.com", "tok456")
	assert.Error(t, err)
}
