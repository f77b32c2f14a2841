package utils

import (
	"context"
	"fmt"
	"log"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

type OTPPurpose string

const (
	OTPVerify OTPPurpose = "verify"
	OTPReset  OTPPurpose = "reset"
)

// Mailer delivers transactional mail.
type Mailer interface {
	Send(ctx context.Context, to, subject, plainText, html string) error
}

// SendGridMailer sends mail through the SendGrid v3 API.
type SendGridMailer struct {
	client *sendgrid.Client
	from   *mail.Email
}

func NewSendGridMailer(apiKey string, from string) *SendGridMailer {
	return &SendGridMailer{
		client: sendgrid.NewSendClient(apiKey),
		from:   mail.NewEmail("Postdeck Support", from),
	}
}

func (m *SendGridMailer) Send(ctx context.Context, to, subject, plainText, html string) error {
	message := mail.NewSingleEmail(m.from, subject, mail.NewEmail("", to), plainText, html)

	response, err := m.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sending email: %w", err)
	}
	if response.StatusCode >= 300 {
		return fmt.Errorf("sendgrid returned status %d: %s", response.StatusCode, response.Body)
	}
	return nil
}

// LogMailer writes mail to the log. Used when no SendGrid key is configured.
type LogMailer struct{}

func (LogMailer) Send(_ context.Context, to, subject, plainText, _ string) error {
	log.Printf("mail to %s: %s: %s", to, subject, plainText)
	return nil
}

// SendOTP mails a verification or password reset code.
func SendOTP(ctx context.Context, mailer Mailer, email string, otp string, purpose OTPPurpose) error {
	subject := "Verify your account"
	intro := "Your verification code is"
	if purpose == OTPReset {
		subject = "Password Reset Code"
		intro = "Your password reset code is"
	}

	plainTextContent := fmt.Sprintf("%s: %s", intro, otp)
	htmlContent := fmt.Sprintf("<strong>%s: %s</strong>", intro, otp)

	if err := mailer.Send(ctx, email, subject, plainTextContent, htmlContent); err != nil {
		log.Println("Error sending email:", err)
		return err
	}

	log.Println("OTP email sent successfully to user: ", email)
	return nil
}
