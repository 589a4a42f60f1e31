package reconciler

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dmitrymomot/adminbilling/pkg/logger"
	"github.com/dmitrymomot/adminbilling/pkg/processor"
	"github.com/dmitrymomot/adminbilling/svc/subscription"
)

// Notifier is told about events worth telling the tenant about.
// Calls happen after the state change committed and must not block for long.
type Notifier interface {
	SubscriptionStarted(ctx context.Context, tenantID uuid.UUID, snap subscription.Snapshot)
	PaymentFailed(ctx context.Context, tenantID uuid.UUID, invoice processor.Invoice)
}

type nopNotifier struct{}

func (nopNotifier) SubscriptionStarted(context.Context, uuid.UUID, subscription.Snapshot) {}
func (nopNotifier) PaymentFailed(context.Context, uuid.UUID, processor.Invoice)           {}

type logNotifier struct {
	log *slog.Logger
}

// NewLogNotifier returns a Notifier that only logs.
func NewLogNotifier(log *slog.Logger) Notifier {
	if log == nil {
		log = logger.Discard()
	}
	return logNotifier{log: log}
}

func (n logNotifier) SubscriptionStarted(ctx context.Context, tenantID uuid.UUID, snap subscription.Snapshot) {
	n.log.InfoContext(ctx, "notify: subscription started",
		logger.Component("notifier"),
		logger.TenantID(tenantID),
		logger.PlanKey(snap.PlanKey),
		slog.Bool("is_trial", snap.IsTrial),
	)
}

func (n logNotifier) PaymentFailed(ctx context.Context, tenantID uuid.UUID, invoice processor.Invoice) {
	n.log.WarnContext(ctx, "notify: payment failed",
		logger.Component("notifier"),
		logger.TenantID(tenantID),
		slog.String("invoice_id", invoice.ID),
		slog.Int64("amount_cents", invoice.AmountPaid),
	)
}
