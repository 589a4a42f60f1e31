package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/adminbilling/pkg/pg"
)

type pgStore struct {
	db pg.DBTX
}

// NewPostgresStore returns a Store backed by the tenant_identities table.
func NewPostgresStore(pool *pgxpool.Pool) Store {
	return &pgStore{db: pool}
}

const identityColumns = `identity_id, email, COALESCE(external_customer_ref, ''), created_at`

func scanIdentity(row pgx.Row) (Identity, error) {
	var ident Identity
	err := row.Scan(&ident.ID, &ident.Email, &ident.ExternalCustomerRef, &ident.CreatedAt)
	if pg.IsNotFoundError(err) {
		return Identity{}, ErrIdentityNotFound
	}
	return ident, err
}

// GetOrCreate relies on the unique email constraint: the insert is a no-op
// for a concurrent winner and the follow-up select returns the winner's row.
func (s *pgStore) GetOrCreate(ctx context.Context, candidate Identity) (Identity, error) {
	var ref any
	if candidate.ExternalCustomerRef != "" {
		ref = candidate.ExternalCustomerRef
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO tenant_identities (identity_id, email, external_customer_ref, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email) DO NOTHING`,
		candidate.ID, candidate.Email, ref, candidate.CreatedAt,
	)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			// the customer ref is owned by someone else; retry without it
			candidate.ExternalCustomerRef = ""
			return s.GetOrCreate(ctx, candidate)
		}
		return Identity{}, err
	}
	return s.GetByEmail(ctx, candidate.Email)
}

func (s *pgStore) GetByID(ctx context.Context, id uuid.UUID) (Identity, error) {
	return scanIdentity(s.db.QueryRow(ctx,
		`SELECT `+identityColumns+` FROM tenant_identities WHERE identity_id = $1`, id))
}

func (s *pgStore) GetByEmail(ctx context.Context, email string) (Identity, error) {
	return scanIdentity(s.db.QueryRow(ctx,
		`SELECT `+identityColumns+` FROM tenant_identities WHERE email = $1`, email))
}

func (s *pgStore) GetByCustomerRef(ctx context.Context, ref string) (Identity, error) {
	return scanIdentity(s.db.QueryRow(ctx,
		`SELECT `+identityColumns+` FROM tenant_identities WHERE external_customer_ref = $1`, ref))
}

func (s *pgStore) SetCustomerRef(ctx context.Context, id uuid.UUID, ref string) (Identity, error) {
	ident, err := scanIdentity(s.db.QueryRow(ctx, `
		UPDATE tenant_identities
		SET external_customer_ref = $2
		WHERE identity_id = $1 AND (external_customer_ref IS NULL OR external_customer_ref = $2)
		RETURNING `+identityColumns,
		id, ref,
	))
	switch {
	case err == nil:
		return ident, nil
	case pg.IsDuplicateKeyError(err):
		return Identity{}, ErrCustomerRefConflict
	case errors.Is(err, ErrIdentityNotFound):
		// Either the identity is missing or it already holds another ref.
		if _, getErr := s.GetByID(ctx, id); getErr != nil {
			return Identity{}, getErr
		}
		return Identity{}, ErrCustomerRefConflict
	default:
		return Identity{}, err
	}
}
