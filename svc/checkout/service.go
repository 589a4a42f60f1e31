package checkout

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dmitrymomot/adminbilling/pkg/logger"
	"github.com/dmitrymomot/adminbilling/pkg/processor"
	"github.com/dmitrymomot/adminbilling/pkg/retry"
	"github.com/dmitrymomot/adminbilling/svc/identity"
	"github.com/dmitrymomot/adminbilling/svc/plans"
	"github.com/dmitrymomot/adminbilling/svc/subscription"
)

// SubscriptionReader is the read side of the subscription service used for validation.
type SubscriptionReader interface {
	Current(ctx context.Context, tenantID uuid.UUID) (subscription.Snapshot, error)
	HasTrialHistory(ctx context.Context, tenantID uuid.UUID) (bool, error)
}

// Service builds and opens hosted checkout sessions.
type Service interface {
	// BuildCheckout validates the request and returns the processor request
	// with typed metadata attached. It has no side effects.
	BuildCheckout(ctx context.Context, tenant identity.Identity, planKey plans.Key, isTrial bool, kind ChangeKind) (processor.CheckoutRequest, error)
	// CreateSession builds the request and opens the session at the processor.
	CreateSession(ctx context.Context, tenant identity.Identity, planKey plans.Key, isTrial bool, kind ChangeKind) (processor.CheckoutSession, error)
}

type service struct {
	catalog plans.Catalog
	subs    SubscriptionReader
	proc    processor.Processor
	retrier *retry.Retrier
	cfg     Config
	log     *slog.Logger
}

// ServiceOption configures the checkout service.
type ServiceOption func(*service)

func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *service) {
		if l != nil {
			s.log = l
		}
	}
}

func WithRetrier(r *retry.Retrier) ServiceOption {
	return func(s *service) {
		if r != nil {
			s.retrier = r
		}
	}
}

// NewService panics on a nil dependency.
func NewService(catalog plans.Catalog, subs SubscriptionReader, proc processor.Processor, cfg Config, opts ...ServiceOption) Service {
	switch {
	case catalog == nil:
		panic("checkout: plans.Catalog is required")
	case subs == nil:
		panic("checkout: SubscriptionReader is required")
	case proc == nil:
		panic("checkout: processor.Processor is required")
	}
	s := &service{
		catalog: catalog,
		subs:    subs,
		proc:    proc,
		cfg:     cfg,
		retrier: retry.New(retry.DefaultConfig(), processor.IsTransient),
		log:     logger.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) BuildCheckout(ctx context.Context, tenant identity.Identity, planKey plans.Key, isTrial bool, kind ChangeKind) (processor.CheckoutRequest, error) {
	if !kind.Valid() {
		return processor.CheckoutRequest{}, ErrInvalidChangeKind
	}

	// the trial has no price of its own; it runs on the monthly price
	if planKey == plans.Trial {
		planKey, isTrial = plans.Monthly, true
	}
	plan, err := s.catalog.Get(ctx, planKey)
	if err != nil {
		return processor.CheckoutRequest{}, errors.Join(ErrInvalidPlan, err)
	}
	if plan.ExternalPriceRef == "" {
		return processor.CheckoutRequest{}, errors.Join(ErrInvalidPlan, processor.ErrMissingPriceRef)
	}

	if isTrial {
		if !s.catalog.TrialEligible(plan.Key) {
			return processor.CheckoutRequest{}, ErrTrialNotAllowed
		}
		used, err := s.subs.HasTrialHistory(ctx, tenant.ID)
		if err != nil {
			return processor.CheckoutRequest{}, err
		}
		if used {
			return processor.CheckoutRequest{}, ErrTrialAlreadyUsed
		}
	}

	cur, err := s.subs.Current(ctx, tenant.ID)
	switch {
	case errors.Is(err, subscription.ErrSnapshotNotFound):
	case err != nil:
		return processor.CheckoutRequest{}, err
	case cur.IsActive && cur.PlanKey == plan.Key:
		return processor.CheckoutRequest{}, ErrAlreadySubscribedToPlan
	}

	meta := Metadata{
		TenantID:    tenant.ID,
		TenantEmail: tenant.Email,
		PlanKey:     plan.Key,
		IsTrial:     isTrial,
		ChangeKind:  kind,
	}
	req := processor.CheckoutRequest{
		PriceRef:   plan.ExternalPriceRef,
		Metadata:   meta.Encode(),
		SuccessURL: s.cfg.SuccessURL,
		CancelURL:  s.cfg.CancelURL,
	}
	if tenant.ExternalCustomerRef != "" {
		req.CustomerRef = tenant.ExternalCustomerRef
	} else {
		req.CustomerEmail = tenant.Email
	}
	if isTrial {
		req.TrialDays = plans.TrialDays
	}
	return req, nil
}

func (s *service) CreateSession(ctx context.Context, tenant identity.Identity, planKey plans.Key, isTrial bool, kind ChangeKind) (processor.CheckoutSession, error) {
	req, err := s.BuildCheckout(ctx, tenant, planKey, isTrial, kind)
	if err != nil {
		return processor.CheckoutSession{}, err
	}

	session, err := retry.Value(ctx, s.retrier, func(ctx context.Context) (processor.CheckoutSession, error) {
		return s.proc.CreateCheckoutSession(ctx, req)
	})
	if err != nil {
		s.log.ErrorContext(ctx, "failed to create checkout session",
			logger.Component("checkout"),
			logger.TenantID(tenant.ID),
			logger.Error(err),
		)
		if processor.IsTransient(err) {
			return processor.CheckoutSession{}, errors.Join(ErrProcessorUnavailable, err)
		}
		return processor.CheckoutSession{}, errors.Join(ErrCheckoutFailed, err)
	}
	if session.URL == "" {
		return processor.CheckoutSession{}, errors.Join(ErrCheckoutFailed, processor.ErrNoCheckoutURL)
	}

	s.log.InfoContext(ctx, "checkout session created",
		logger.Component("checkout"),
		logger.TenantID(tenant.ID),
		logger.PlanKey(req.Metadata[metaPlanKey]),
		slog.String("change_kind", string(kind)),
		slog.String("session_id", session.ID),
	)
	return session, nil
}
