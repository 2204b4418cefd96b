package internal

import (
	"context"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"
)

// Mailer sends the account and sharing emails.
type Mailer interface {
	SendPasswordReset(ctx context.Context, toEmail, resetCode string) error
	SendShareNotification(ctx context.Context, toEmail, fromEmail, fileName, shareURL string, expiresAt *time.Time) error
}

// SendmailMailer delivers through the local sendmail binary.
type SendmailMailer struct {
	FromEmail string
	PublicURL string
}

func (m *SendmailMailer) SendPasswordReset(ctx context.Context, toEmail, resetCode string) error {
	msg, err := passwordResetMsg(m.FromEmail, toEmail, m.PublicURL+"/reset-code/"+resetCode)
	if err != nil {
		return err
	}
	return m.send(ctx, msg)
}

func (m *SendmailMailer) SendShareNotification(ctx context.Context, toEmail, fromEmail, fileName, shareURL string, expiresAt *time.Time) error {
	msg, err := shareNotificationMsg(m.FromEmail, toEmail, fromEmail, fileName, shareURL, expiresAt)
	if err != nil {
		return err
	}
	return m.send(ctx, msg)
}

func (m *SendmailMailer) send(ctx context.Context, msg *mail.Msg) error {
	if err := msg.WriteToSendmailWithContext(ctx, mail.SendmailPath); err != nil {
		return fmt.Errorf("sendmail err: %s", err)
	}
	return nil
}

func newMsg(fromEmail, toEmail, subject, body string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(fromEmail); err != nil {
		return nil, fmt.Errorf("invalid from email address '%s': %s", fromEmail, err)
	}
	if err := msg.To(toEmail); err != nil {
		return nil, fmt.Errorf("invalid to email address '%s': %s", toEmail, err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)
	return msg, nil
}

func passwordResetMsg(fromEmail, toEmail, resetURL string) (*mail.Msg, error) {
	body := "Click here to reset your password: " + resetURL + "\n\nThe link is valid for one hour and can be used once."
	return newMsg(fromEmail, toEmail, "GDrive password reset", body)
}

func shareNotificationMsg(fromEmail, toEmail, sharedBy, fileName, shareURL string, expiresAt *time.Time) (*mail.Msg, error) {
	body := fmt.Sprintf("%s shared the file \"%s\" with you.\n\nOpen it here: %s\n", sharedBy, fileName, shareURL)
	if expiresAt != nil {
		body += fmt.Sprintf("\nThe link expires on %s.\n", expiresAt.UTC().Format(time.RFC1123))
	}
	return newMsg(fromEmail, toEmail, "A file was shared with you on GDrive", body)
}
