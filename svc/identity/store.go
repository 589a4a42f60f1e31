package identity

import (
	"context"

	"github.com/google/uuid"
)

// Store persists identities.
type Store interface {
	// GetOrCreate returns the identity for email, inserting candidate when
	// none exists. Must be atomic under concurrent calls for the same email.
	GetOrCreate(ctx context.Context, candidate Identity) (Identity, error)

	// GetByID returns ErrIdentityNotFound when missing.
	GetByID(ctx context.Context, id uuid.UUID) (Identity, error)

	// GetByEmail returns ErrIdentityNotFound when missing.
	GetByEmail(ctx context.Context, email string) (Identity, error)

	// GetByCustomerRef returns ErrIdentityNotFound when missing.
	GetByCustomerRef(ctx context.Context, ref string) (Identity, error)

	// SetCustomerRef binds ref if the identity has none yet and returns the
	// stored identity. A different existing ref yields ErrCustomerRefConflict.
	SetCustomerRef(ctx context.Context, id uuid.UUID, ref string) (Identity, error)
}
