// Package notify delivers like and comment notifications and password reset
// links.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"text/template"

	"socialfeed/feed"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// SendGrid emails notifications through SendGrid.
type SendGrid struct {
	client   *sendgrid.Client
	fromName string
	fromAddr string
	siteURL  string
}

var _ feed.Notifier = (*SendGrid)(nil)
var _ feed.ResetMailer = (*SendGrid)(nil)

// NewSendGrid creates a SendGrid notifier.  siteURL is linked from every
// message.
func NewSendGrid(client *sendgrid.Client, fromName, fromAddr, siteURL string) *SendGrid {
	return &SendGrid{
		client:   client,
		fromName: fromName,
		fromAddr: fromAddr,
		siteURL:  siteURL,
	}
}

const notificationPlain = `
{{- .Body}}

Open the feed: {{.SiteURL}}

You can turn these emails off in Settings.
`

var notificationPlainTemplate = template.Must(template.New("notification").Parse(notificationPlain))

const resetPlain = `
{{- "" -}}
Someone asked to reset the password of your account.  To choose a new
password, open this link within the next hour:

{{.Link}}

If it wasn't you, you can ignore this email.
`

var resetPlainTemplate = template.Must(template.New("reset").Parse(resetPlain))

func (s *SendGrid) newMessage(toName, toAddr, subject string, tmpl *template.Template, data interface{}) (*mail.SGMailV3, error) {
	message := mail.NewV3Mail()
	message.From = mail.NewEmail(s.fromName, s.fromAddr)
	message.Subject = subject

	personalization := mail.NewPersonalization()
	personalization.To = append(personalization.To, mail.NewEmail(toName, toAddr))
	message.Personalizations = append(message.Personalizations, personalization)

	textContent := &bytes.Buffer{}
	if err := tmpl.Execute(textContent, data); err != nil {
		return nil, fmt.Errorf("while templating plain-text email content: %w", err)
	}

	message.Content = append(message.Content, mail.NewContent("text/plain", textContent.String()))
	return message, nil
}

// notificationMessage builds the email for a notification.
func (s *SendGrid) notificationMessage(to *feed.Recipient, n *feed.Notification) (*mail.SGMailV3, error) {
	data := struct {
		Body    string
		SiteURL string
	}{
		Body:    n.Body,
		SiteURL: s.siteURL,
	}
	return s.newMessage(to.Name, to.Email, n.Title, notificationPlainTemplate, data)
}

func (s *SendGrid) resetMessage(email, link string) (*mail.SGMailV3, error) {
	data := struct {
		Link string
	}{
		Link: link,
	}
	return s.newMessage("", email, "Reset your password", resetPlainTemplate, data)
}

// Notify emails n to its recipient.  Recipients without an address are
// skipped.
func (s *SendGrid) Notify(ctx context.Context, to *feed.Recipient, n *feed.Notification) error {
	if to.Email == "" {
		slog.InfoContext(ctx, "Skipping notification for user without email", slog.String("user", to.UserID))
		return nil
	}

	message, err := s.notificationMessage(to, n)
	if err != nil {
		return err
	}
	if err := s.send(ctx, message); err != nil {
		return fmt.Errorf("while sending %s notification: %w", n.Kind, err)
	}
	return nil
}

// SendPasswordReset emails a password reset link.
func (s *SendGrid) SendPasswordReset(ctx context.Context, email, link string) error {
	message, err := s.resetMessage(email, link)
	if err != nil {
		return err
	}
	if err := s.send(ctx, message); err != nil {
		return fmt.Errorf("while sending password reset: %w", err)
	}
	return nil
}

func (s *SendGrid) send(ctx context.Context, message *mail.SGMailV3) error {
	resp, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("while sending mail through SendGrid: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("non-2XX response while sending mail through Sendgrid: %d %s", resp.StatusCode, resp.Body)
	}

	return nil
}
