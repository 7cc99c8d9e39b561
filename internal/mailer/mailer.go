package mailer

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"
)

type Mailer struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Send delivers one message over SMTP. The call honours ctx so a slow
// provider cannot stall the consumer indefinitely.
func (m *Mailer) Send(ctx context.Context, to, subject, body string) error {
	const op = "mailer.Send"

	msg := gomail.NewMessage()
	msg.SetHeader("To", to)
	msg.SetHeader("From", m.from())
	msg.SetHeader("Subject", subject)

	msg.SetBody("text/plain", body)

	dialer := gomail.NewDialer(m.Host, m.Port, m.Username, m.Password)

	done := make(chan error, 1)
	go func() {
		done <- dialer.DialAndSend(msg)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	}
}

func (m *Mailer) from() string {
	if m.From != "" {
		return m.From
	}
	return m.Username
}
