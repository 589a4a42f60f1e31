package email

import (
	"context"
	"errors"
	"net/mail"
	"strings"
)

// Sender delivers one transactional message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type Message struct {
	To       string
	Subject  string
	HTMLBody string
	TextBody string
	// Tag groups messages in the provider's statistics.
	Tag string
}

func (m Message) Validate() error {
	switch {
	case !validAddress(m.To):
		return errors.Join(ErrInvalidMessage, errors.New("recipient is not a valid address"))
	case strings.TrimSpace(m.Subject) == "":
		return errors.Join(ErrInvalidMessage, errors.New("subject is required"))
	case m.HTMLBody == "" && m.TextBody == "":
		return errors.Join(ErrInvalidMessage, errors.New("body is required"))
	}
	return nil
}

func validAddress(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}
