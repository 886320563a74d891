package alerts

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"
)

// EmailCredentials come from the operator config (or, for the manual
// send endpoint, from the request body). The server holds no SMTP
// credentials of its own.
type EmailCredentials struct {
	User       string
	Password   string
	Sender     string
	SenderName string
	Recipients []string
}

type Email struct {
	Subject   string
	Body      string
	Image     []byte
	ImageType string
}

// EmailSender delivers alert mail over SMTPS. MIME assembly is entirely
// go-mail's job.
type EmailSender struct {
	host string
	port int
}

func NewEmailSender(host string, port int) *EmailSender {
	return &EmailSender{host: host, port: port}
}

func (s *EmailSender) Send(ctx context.Context, creds EmailCredentials, msg Email) error {
	m := mail.NewMsg()
	fromName := creds.SenderName
	if fromName == "" {
		fromName = creds.Sender
	}
	if err := m.FromFormat(fromName, creds.Sender); err != nil {
		return fmt.Errorf("invalid sender address: %w", err)
	}
	if err := m.To(creds.Recipients...); err != nil {
		return fmt.Errorf("invalid recipient address: %w", err)
	}

	subject := msg.Subject
	if subject == "" {
		subject = "Fall Detector Alert"
	}
	body := msg.Body
	if body == "" {
		body = "Fall Detector alert triggered."
	}
	m.Subject(subject)
	m.SetBodyString(mail.TypeTextPlain, body)
	if len(msg.Image) > 0 {
		imageType := msg.ImageType
		if imageType == "" {
			imageType = "image/jpeg"
		}
		if err := m.AttachReader("alert-image.jpg", bytes.NewReader(msg.Image),
			mail.WithFileContentType(mail.ContentType(imageType))); err != nil {
			return fmt.Errorf("attach alert image: %w", err)
		}
	}

	client, err := mail.NewClient(s.host,
		mail.WithPort(s.port),
		mail.WithSSL(),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(creds.User),
		mail.WithPassword(creds.Password),
		mail.WithTimeout(10*time.Second),
	)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
