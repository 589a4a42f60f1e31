package reconciler

import (
	"bytes"
	"context"
	"html/template"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dmitrymomot/adminbilling/pkg/email"
	"github.com/dmitrymomot/adminbilling/pkg/logger"
	"github.com/dmitrymomot/adminbilling/pkg/processor"
	"github.com/dmitrymomot/adminbilling/svc/identity"
	"github.com/dmitrymomot/adminbilling/svc/plans"
	"github.com/dmitrymomot/adminbilling/svc/subscription"
)

const sendTimeout = 5 * time.Second

var mailTemplates = template.Must(template.New("mail").Parse(`
{{define "subscription_started"}}<p>Hi,</p>
<p>Your {{if .IsTrial}}free trial of the {{end}}<strong>{{.Plan}}</strong> plan is active{{with .CycleEnd}} until {{.Format "January 2, 2006"}}{{end}}.</p>
<p>You can manage billing from your dashboard at any time.</p>{{end}}
{{define "payment_failed"}}<p>Hi,</p>
<p>We could not collect your payment of <strong>${{.Amount}}</strong>.</p>
<p>Please update your payment method to keep your subscription active.</p>{{end}}
`))

type emailNotifier struct {
	sender     email.Sender
	identities identity.Service
	catalog    plans.Catalog
	log        *slog.Logger
}

// NewEmailNotifier mails the tenant's billing address. Delivery failures are
// logged and never fail the webhook.
func NewEmailNotifier(sender email.Sender, identities identity.Service, catalog plans.Catalog, log *slog.Logger) Notifier {
	if sender == nil || identities == nil || catalog == nil {
		panic("reconciler: email notifier requires a sender, identities and a catalog")
	}
	if log == nil {
		log = logger.Discard()
	}
	return &emailNotifier{sender: sender, identities: identities, catalog: catalog, log: log}
}

func (n *emailNotifier) SubscriptionStarted(ctx context.Context, tenantID uuid.UUID, snap subscription.Snapshot) {
	plan := string(snap.PlanKey)
	if p, err := n.catalog.Get(ctx, snap.PlanKey); err == nil {
		plan = p.DisplayText
	}
	subject := "Your subscription is active"
	if snap.IsTrial {
		subject = "Your free trial has started"
	}
	n.send(ctx, tenantID, "", "subscription_started", subject, map[string]any{
		"Plan":     plan,
		"IsTrial":  snap.IsTrial,
		"CycleEnd": snap.CycleEnd,
	})
}

func (n *emailNotifier) PaymentFailed(ctx context.Context, tenantID uuid.UUID, invoice processor.Invoice) {
	n.send(ctx, tenantID, invoice.CustomerEmail, "payment_failed", "We could not process your payment", map[string]any{
		"Amount": decimal.New(invoice.AmountDue, -2).StringFixed(2),
	})
}

// send prefers the identity's address over fallback.
func (n *emailNotifier) send(ctx context.Context, tenantID uuid.UUID, fallback, tmpl, subject string, data any) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
	defer cancel()

	to := fallback
	if id, err := n.identities.Get(ctx, tenantID); err == nil {
		to = id.Email
	}
	if to == "" {
		n.log.WarnContext(ctx, "no address for billing notification",
			logger.Component("notifier"),
			logger.TenantID(tenantID),
			logger.Event(tmpl),
		)
		return
	}

	var body bytes.Buffer
	if err := mailTemplates.ExecuteTemplate(&body, tmpl, data); err != nil {
		n.log.ErrorContext(ctx, "failed to render billing notification",
			logger.Component("notifier"),
			logger.Event(tmpl),
			logger.Error(err),
		)
		return
	}

	err := n.sender.Send(ctx, email.Message{To: to, Subject: subject, HTMLBody: body.String(), Tag: tmpl})
	if err != nil {
		n.log.ErrorContext(ctx, "failed to send billing notification",
			logger.Component("notifier"),
			logger.TenantID(tenantID),
			logger.Event(tmpl),
			logger.Error(err),
		)
		return
	}
	n.log.InfoContext(ctx, "billing notification sent",
		logger.Component("notifier"),
		logger.TenantID(tenantID),
		logger.Event(tmpl),
	)
}
