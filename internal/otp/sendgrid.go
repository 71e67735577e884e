package otp

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

type SendGridSender struct {
	APIKey string
	From   string
}

func (s SendGridSender) message(email, purpose, code string) *mail.SGMailV3 {
	from := mail.NewEmail("roomchat", s.From)
	to := mail.NewEmail("", email)
	subject := "Your roomchat verification code"
	body := fmt.Sprintf("Your verification code for %s is %s", purpose, code)
	return mail.NewSingleEmail(from, subject, to, body, "<p>"+body+"</p>")
}

func (s SendGridSender) Send(ctx context.Context, email, purpose, code string) error {
	resp, err := sendgrid.NewSendClient(s.APIKey).SendWithContext(ctx, s.message(email, purpose, code))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid: status %d", resp.StatusCode)
	}
	return nil
}
