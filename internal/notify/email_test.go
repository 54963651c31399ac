package notify

import (
	"context"
	"net/smtp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMail struct {
	addr string
	from string
	to   []string
	msg  string
}

func newTestEmail(sent *[]sentMail) *Email {
	e := NewEmail("smtp.example.com:587", "tracker@example.com", "owner@example.com", "tracker", "secret")
	e.SendMail = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		*sent = append(*sent, sentMail{addr: addr, from: from, to: to, msg: string(msg)})
		return nil
	}
	return e
}

func TestEmailDeliver(t *testing.T) {
	var sent []sentMail
	e := newTestEmail(&sent)

	err := e.Deliver(context.Background(), Message{
		Subject: "Plane Tracker: N628TS (A1B2C3) has landed!",
		Body:    "🛬 N628TS (A1B2C3) has landed.",
	})
	require.NoError(t, err)
	require.Len(t, sent, 1)

	assert.Equal(t, "smtp.example.com:587", sent[0].addr)
	assert.Equal(t, "tracker@example.com", sent[0].from)
	assert.Equal(t, []string{"owner@example.com"}, sent[0].to)
	assert.Contains(t, sent[0].msg, "Subject: Plane Tracker: N628TS (A1B2C3) has landed!\r\n")
	assert.Contains(t, sent[0].msg, "charset=utf-8")
	assert.Contains(t, sent[0].msg, "🛬 N628TS (A1B2C3) has landed.")
}

func TestEmailSkipsWithoutRecipient(t *testing.T) {
	var sent []sentMail
	e := newTestEmail(&sent)
	e.Recipient = ""

	require.NoError(t, e.Deliver(context.Background(), Message{Subject: "s", Body: "b"}))
	assert.Empty(t, sent)
}

func TestEmailSendFailure(t *testing.T) {
	e := NewEmail("smtp.example.com:587", "a@b", "c@d", "", "")
	e.SendMail = func(string, smtp.Auth, string, []string, []byte) error {
		return assert.AnError
	}
	assert.Error(t, e.Deliver(context.Background(), Message{Subject: "s", Body: "b"}))
}
