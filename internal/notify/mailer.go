package notify

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/go-gomail/gomail"
)

type Attachment struct {
	Name string
	Data []byte
}

type Mail struct {
	To          string
	Subject     string
	Body        string
	Attachments []Attachment
}

type Mailer interface {
	Send(ctx context.Context, m Mail) error
}

// SMTPMailer delivers mail through a single SMTP relay.
type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPMailer(host string, port int, username, password, from string) *SMTPMailer {
	return &SMTPMailer{
		dialer: gomail.NewDialer(host, port, username, password),
		from:   from,
	}
}

func (s *SMTPMailer) Send(ctx context.Context, m Mail) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", s.from)
	msg.SetHeader("To", m.To)
	msg.SetHeader("Subject", m.Subject)
	msg.SetBody("text/plain", m.Body)

	for _, a := range m.Attachments {
		data := a.Data
		msg.Attach(a.Name, gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(data)
			return err
		}))
	}

	if err := s.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("error sending email: %w", err)
	}
	return nil
}

// LogMailer is used when no SMTP relay is configured.
type LogMailer struct{}

func (LogMailer) Send(_ context.Context, m Mail) error {
	log.Printf("mail to=%s subject=%q attachments=%d (smtp disabled)", m.To, m.Subject, len(m.Attachments))
	return nil
}
