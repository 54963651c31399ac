package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/upmcplanetracker/generic-plane-tracker/internal/monitoring"
)

// SendMailFunc matches smtp.SendMail, injectable for tests.
type SendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Email delivers messages over SMTP. An empty Recipient disables the
// sink.
type Email struct {
	Addr      string
	From      string
	Recipient string
	Username  string
	Password  string

	SendMail SendMailFunc
}

func NewEmail(addr, from, recipient, username, password string) *Email {
	return &Email{
		Addr:      addr,
		From:      from,
		Recipient: recipient,
		Username:  username,
		Password:  password,
		SendMail:  smtp.SendMail,
	}
}

func (e *Email) Name() string { return "email" }

func (e *Email) Deliver(_ context.Context, m Message) error {
	if e.Recipient == "" {
		monitoring.Logf("email: recipient not set, skipping notification")
		return nil
	}

	var auth smtp.Auth
	if e.Username != "" {
		host := e.Addr
		if i := strings.IndexByte(host, ':'); i >= 0 {
			host = host[:i]
		}
		auth = smtp.PlainAuth("", e.Username, e.Password, host)
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		e.From, e.Recipient, m.Subject, m.Body)

	if err := e.SendMail(e.Addr, auth, e.From, []string{e.Recipient}, []byte(msg)); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", e.Recipient, err)
	}
	return nil
}
