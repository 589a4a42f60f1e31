package identity

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/adminbilling/pkg/logger"
)

// Service resolves external billing subjects to tenant identities.
type Service interface {
	// ResolveOrCreate returns the identity bound to email, creating it on first contact.
	// The same email always resolves to the same identity.
	ResolveOrCreate(ctx context.Context, email string) (Identity, error)
	Get(ctx context.Context, id uuid.UUID) (Identity, error)
	GetByEmail(ctx context.Context, email string) (Identity, error)
	ResolveByCustomerRef(ctx context.Context, ref string) (Identity, error)
	// AttachCustomerRef binds the processor customer id once; rebinding to a
	// different id fails with ErrCustomerRefConflict.
	AttachCustomerRef(ctx context.Context, id uuid.UUID, ref string) (Identity, error)
}

type service struct {
	store Store
	log   *slog.Logger
	now   func() time.Time
}

// ServiceOption configures the identity service.
type ServiceOption func(*service)

func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService panics if store is nil.
func NewService(store Store, opts ...ServiceOption) Service {
	if store == nil {
		panic("identity: Store is required")
	}
	s := &service{
		store: store,
		log:   logger.Discard(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) ResolveOrCreate(ctx context.Context, email string) (Identity, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return Identity{}, err
	}

	candidate := Identity{
		ID:        uuid.New(),
		Email:     normalized,
		CreatedAt: s.now().UTC(),
	}
	ident, err := s.store.GetOrCreate(ctx, candidate)
	if err != nil {
		return Identity{}, err
	}
	if ident.ID == candidate.ID {
		s.log.InfoContext(ctx, "tenant identity created",
			logger.Component("identity"),
			logger.TenantID(ident.ID),
		)
	}
	return ident, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (Identity, error) {
	return s.store.GetByID(ctx, id)
}

func (s *service) GetByEmail(ctx context.Context, email string) (Identity, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return Identity{}, err
	}
	return s.store.GetByEmail(ctx, normalized)
}

func (s *service) ResolveByCustomerRef(ctx context.Context, ref string) (Identity, error) {
	if ref == "" {
		return Identity{}, ErrInvalidCustomerRef
	}
	return s.store.GetByCustomerRef(ctx, ref)
}

func (s *service) AttachCustomerRef(ctx context.Context, id uuid.UUID, ref string) (Identity, error) {
	if ref == "" {
		return Identity{}, ErrInvalidCustomerRef
	}
	ident, err := s.store.SetCustomerRef(ctx, id, ref)
	if errors.Is(err, ErrCustomerRefConflict) {
		s.log.WarnContext(ctx, "customer reference conflict",
			logger.Component("identity"),
			logger.TenantID(id),
			logger.Error(err),
		)
	}
	return ident, err
}
