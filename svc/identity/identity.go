package identity

import (
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Identity is the durable handle of a billing subject. It exists before and
// independently of any login account.
type Identity struct {
	ID                  uuid.UUID
	Email               string
	ExternalCustomerRef string // processor customer id, set once
	CreatedAt           time.Time
}

// NormalizeEmail trims and lowercases email and checks it parses as a bare address.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}
