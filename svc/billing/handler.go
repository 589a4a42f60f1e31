package billing

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/adminbilling/pkg/idempotency"
	"github.com/dmitrymomot/adminbilling/pkg/logger"
	"github.com/dmitrymomot/adminbilling/pkg/processor"
	"github.com/dmitrymomot/adminbilling/pkg/ratelimiter"
	"github.com/dmitrymomot/adminbilling/pkg/requestid"
	"github.com/dmitrymomot/adminbilling/svc/dashboard"
	"github.com/dmitrymomot/adminbilling/svc/identity"
	"github.com/dmitrymomot/adminbilling/svc/plans"
	"github.com/dmitrymomot/adminbilling/svc/reconciler"
	"github.com/dmitrymomot/adminbilling/svc/subscription"
)

const (
	// SignatureHeader carries the processor webhook signature.
	SignatureHeader = "Stripe-Signature"

	maxRequestBytes = 64 << 10
	maxWebhookBytes = 1 << 20
)

type Handler struct {
	svc        Service
	identities identity.Service
	webhooks   reconciler.Service
	idemStore  idempotency.Store
	idemOpts   []idempotency.Option
	idem       func(http.Handler) http.Handler
	limiter    ratelimiter.Limiter
	limit      func(http.Handler) http.Handler
	log        *slog.Logger
}

type HandlerOption func(*Handler)

func WithHandlerLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// WithIdempotency guards mutating routes with store. Keys are scoped by the
// actor email.
func WithIdempotency(store idempotency.Store, opts ...idempotency.Option) HandlerOption {
	return func(h *Handler) {
		h.idemStore = store
		h.idemOpts = opts
	}
}

// WithRateLimit caps mutating requests per actor. The limiter fails open.
func WithRateLimit(l ratelimiter.Limiter) HandlerOption {
	return func(h *Handler) { h.limiter = l }
}

// NewHandler panics if svc, identities or webhooks is nil.
func NewHandler(svc Service, identities identity.Service, webhooks reconciler.Service, opts ...HandlerOption) *Handler {
	switch {
	case svc == nil:
		panic("billing: Service is required")
	case identities == nil:
		panic("billing: identity.Service is required")
	case webhooks == nil:
		panic("billing: reconciler.Service is required")
	}
	h := &Handler{
		svc:        svc,
		identities: identities,
		webhooks:   webhooks,
		idem:       passthrough,
		limit:      passthrough,
		log:        logger.Discard(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.idemStore != nil {
		base := []idempotency.Option{
			idempotency.WithNamespace("billing"),
			idempotency.WithActor(actorID),
			idempotency.WithLogger(h.log),
			idempotency.WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
				respondError(w, r, h.log, err)
			}),
		}
		h.idem = idempotency.Middleware(h.idemStore, append(base, h.idemOpts...)...)
	}
	if h.limiter != nil {
		h.limit = ratelimiter.Middleware(h.limiter, actorID,
			ratelimiter.WithFailOpen(),
			ratelimiter.WithMiddlewareLogger(h.log),
			ratelimiter.WithDeniedHandler(func(w http.ResponseWriter, r *http.Request, _ ratelimiter.Result) {
				respondError(w, r, h.log, ErrRateLimited)
			}),
		)
	}
	return h
}

// Routes mounts POST /webhooks/stripe and the /api/billing group.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestid.Middleware)

	r.Post("/webhooks/stripe", h.webhook)

	r.Route("/api/billing", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(RequireRole(RoleAdmin, RoleSuperadmin))

			r.Group(func(r chi.Router) {
				r.Use(h.limit, h.idem)
				r.Post("/cancel", h.tenantRoute(h.cancel))
				r.Post("/uncancel", h.tenantRoute(h.uncancel))
				r.Post("/change-plan", h.tenantRoute(h.changePlan))
				r.Post("/checkout", h.tenantRoute(h.checkout))
				r.Post("/portal", h.tenantRoute(h.portal))
			})

			r.Get("/payment-method", h.tenantRoute(h.paymentMethod))
			r.Get("/dashboard", h.tenantRoute(h.dashboard))
			r.Get("/reactivation-options", h.tenantRoute(h.reactivationOptions))
		})

		r.With(RequireRole(RoleSuperadmin)).Get("/revenue", h.revenue)
	})
	return r
}

func passthrough(next http.Handler) http.Handler { return next }

type tenantHandler func(w http.ResponseWriter, r *http.Request, tenant identity.Identity)

// tenantRoute resolves the actor's billing identity before calling fn.
func (h *Handler) tenantRoute(fn tenantHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok {
			respondError(w, r, h.log, ErrUnauthenticated)
			return
		}
		tenant, err := h.identities.ResolveOrCreate(r.Context(), actor.Email)
		if err != nil {
			respondError(w, r, h.log, err)
			return
		}
		fn(w, r.WithContext(logger.WithTenant(r.Context(), tenant.ID)), tenant)
	}
}

func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxRequestBytes))
	if err != nil {
		return ValidationError{"body": {"unreadable or too large"}}
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return ValidationError{"body": {"invalid JSON"}}
	}
	return nil
}

type subscriptionResponse struct {
	State           subscription.State `json:"state"`
	PlanKey         plans.Key          `json:"plan_key"`
	IsTrial         bool               `json:"is_trial"`
	IsActive        bool               `json:"is_active"`
	IsCanceled      bool               `json:"is_canceled"`
	CycleStart      time.Time          `json:"cycle_start"`
	CycleEnd        *time.Time         `json:"cycle_end"`
	NextBillingDate *time.Time         `json:"next_billing_date"`
}

func toSubscriptionResponse(s subscription.Snapshot, now time.Time) subscriptionResponse {
	return subscriptionResponse{
		State:           s.State(now),
		PlanKey:         s.PlanKey,
		IsTrial:         s.IsTrial,
		IsActive:        s.IsActive,
		IsCanceled:      s.IsCanceled,
		CycleStart:      s.CycleStart,
		CycleEnd:        s.CycleEnd,
		NextBillingDate: s.NextBillingDate,
	}
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request, tenant identity.Identity) {
	snap, err := h.svc.Cancel(r.Context(), tenant)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	respond(w, http.StatusOK, toSubscriptionResponse(snap, time.Now()))
}

func (h *Handler) uncancel(w http.ResponseWriter, r *http.Request, tenant identity.Identity) {
	snap, err := h.svc.Uncancel(r.Context(), tenant)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	respond(w, http.StatusOK, toSubscriptionResponse(snap, time.Now()))
}

type changePlanRequest struct {
	TargetPlan plans.Key `json:"target_plan"`
}

func (h *Handler) changePlan(w http.ResponseWriter, r *http.Request, tenant identity.Identity) {
	var req changePlanRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, r, h.log, err)
		return
	}
	if req.TargetPlan == "" {
		respondError(w, r, h.log, ValidationError{"target_plan": {"required"}})
		return
	}
	if !req.TargetPlan.Valid() {
		respondError(w, r, h.log, ErrInvalidTargetPlan)
		return
	}
	tr, err := h.svc.ChangePlan(r.Context(), tenant, req.TargetPlan)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{
		"next_plan_key":          tr.TargetPlanKey,
		"next_plan_effective_at": tr.EffectiveAt,
	})
}

type checkoutRequest struct {
	PlanKey plans.Key `json:"plan_key"`
	IsTrial bool      `json:"is_trial"`
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request, tenant identity.Identity) {
	var req checkoutRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, r, h.log, err)
		return
	}
	if req.PlanKey == "" {
		respondError(w, r, h.log, ValidationError{"plan_key": {"required"}})
		return
	}
	if !req.PlanKey.Valid() {
		respondError(w, r, h.log, ErrInvalidTargetPlan)
		return
	}
	session, err := h.svc.Checkout(r.Context(), tenant, req.PlanKey, req.IsTrial)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"session_id": session.ID, "url": session.URL})
}

func (h *Handler) portal(w http.ResponseWriter, r *http.Request, tenant identity.Identity) {
	session, err := h.svc.Portal(r.Context(), tenant)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"url": session.URL})
}

func (h *Handler) paymentMethod(w http.ResponseWriter, r *http.Request, tenant identity.Identity) {
	pm, err := h.svc.PaymentMethod(r.Context(), tenant)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{
		"brand":     pm.Brand,
		"last4":     pm.Last4,
		"exp_month": pm.ExpMonth,
		"exp_year":  pm.ExpYear,
	})
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request, tenant identity.Identity) {
	view, err := h.svc.Dashboard(r.Context(), tenant)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	respond(w, http.StatusOK, view)
}

func (h *Handler) reactivationOptions(w http.ResponseWriter, r *http.Request, tenant identity.Identity) {
	opts, err := h.svc.ReactivationOptions(r.Context(), tenant)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	respond(w, http.StatusOK, opts)
}

func (h *Handler) revenue(w http.ResponseWriter, r *http.Request) {
	period, err := dashboard.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	report, err := h.svc.Revenue(r.Context(), period)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	respond(w, http.StatusOK, report)
}

// webhook answers 200 once a delivery is applied or acknowledged, 400 for
// payloads that will never verify and 500 when the sender should redeliver.
func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	ctx := context.WithoutCancel(r.Context())
	res, err := h.webhooks.Handle(ctx, payload, r.Header.Get(SignatureHeader))
	switch {
	case errors.Is(err, processor.ErrInvalidSignature), errors.Is(err, processor.ErrMalformedEvent):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid webhook"})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "processing failed"})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"received": true, "outcome": res.Outcome})
	}
}
