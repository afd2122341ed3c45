// Package confirm sends a short reply to senders whose unsubscribe request
// was carried out. Sending is best effort: a failure is logged by the
// caller and never changes the outcome of the request itself.
package confirm

import (
	"bytes"
	"fmt"
	"io"
	"net/smtp"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
)

const confirmationBody = `Hello,

Your unsubscribe request has been processed. You will no longer receive marketing emails from us.

If this was a mistake, reply to this message and we will restore your subscription.
`

type Sender struct {
	host     string
	port     int
	username string
	password string
}

func NewSender(host string, port int, username, password string) *Sender {
	return &Sender{
		host:     host,
		port:     port,
		username: username,
		password: password,
	}
}

// SendConfirmation replies to a processed unsubscribe request. When the
// original Message-ID is known the reply is threaded onto it.
func (s *Sender) SendConfirmation(to, originalSubject, originalMessageID string) error {
	msg, err := s.buildMessage(to, originalSubject, originalMessageID)
	if err != nil {
		return fmt.Errorf("failed to build confirmation: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	auth := smtp.PlainAuth("", s.username, s.password, s.host)

	if err := smtp.SendMail(addr, auth, s.username, []string{to}, msg); err != nil {
		return fmt.Errorf("failed to send confirmation to %s: %w", to, err)
	}
	return nil
}

func (s *Sender) buildMessage(to, originalSubject, originalMessageID string) ([]byte, error) {
	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{{Address: s.username}})
	h.SetAddressList("To", []*mail.Address{{Address: to}})
	h.SetSubject(replySubject(originalSubject))
	if originalMessageID != "" {
		id := originalMessageID
		if !strings.HasPrefix(id, "<") {
			id = "<" + id + ">"
		}
		h.Set("In-Reply-To", id)
		h.Set("References", id)
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(w, confirmationBody); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func replySubject(original string) string {
	original = strings.TrimSpace(original)
	if original == "" {
		return "Unsubscribe confirmation"
	}
	if strings.HasPrefix(strings.ToLower(original), "re:") {
		return original
	}
	return "Re: " + original
}
