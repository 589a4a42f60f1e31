package billing

import (
	"errors"
	"net/http"
	"strings"

	"github.com/dmitrymomot/adminbilling/pkg/idempotency"
	"github.com/dmitrymomot/adminbilling/pkg/processor"
	"github.com/dmitrymomot/adminbilling/svc/checkout"
	"github.com/dmitrymomot/adminbilling/svc/dashboard"
	"github.com/dmitrymomot/adminbilling/svc/identity"
	"github.com/dmitrymomot/adminbilling/svc/plans"
	"github.com/dmitrymomot/adminbilling/svc/subscription"
)

// Facade errors, each mapped to one catalog entry.
var (
	ErrCustomerNotFound    = errors.New("no processor customer for tenant")
	ErrScheduleFailed      = errors.New("processor rejected the plan change schedule")
	ErrPortalUnavailable   = errors.New("billing portal unavailable")
	ErrBoundaryUnavailable = errors.New("billing cycle boundary unavailable")
)

// APIError is a catalog entry: a stable machine code and its HTTP status.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e APIError) Error() string { return e.Code }

var (
	ErrUnauthenticated          = APIError{Status: http.StatusUnauthorized, Code: "UNAUTHENTICATED", Message: "authentication required"}
	ErrForbidden                = APIError{Status: http.StatusForbidden, Code: "FORBIDDEN", Message: "role not allowed"}
	ErrValidation               = APIError{Status: http.StatusBadRequest, Code: "VALIDATION_ERROR", Message: "invalid request"}
	ErrInvalidTargetPlan        = APIError{Status: http.StatusBadRequest, Code: "INVALID_TARGET_PLAN", Message: "invalid target plan"}
	ErrTransitionNotAllowed     = APIError{Status: http.StatusBadRequest, Code: "TRANSITION_NOT_ALLOWED", Message: "transition not allowed"}
	ErrTrialCheckoutRequired    = APIError{Status: http.StatusBadRequest, Code: "TRIAL_CHECKOUT_REQUIRED", Message: "trial subscriptions change plan through checkout"}
	ErrTrialNotAllowed          = APIError{Status: http.StatusBadRequest, Code: "TRIAL_NOT_ALLOWED", Message: "trial not available"}
	ErrAlreadySubscribed        = APIError{Status: http.StatusConflict, Code: "ALREADY_SUBSCRIBED", Message: "already subscribed to this plan"}
	ErrDuplicateActive          = APIError{Status: http.StatusConflict, Code: "DUPLICATE_ACTIVE_SUBSCRIPTION", Message: "tenant already has an active subscription"}
	ErrNotCanceled              = APIError{Status: http.StatusConflict, Code: "NOT_CANCELED", Message: "subscription is not canceled"}
	ErrIdempotencyKeyReused     = APIError{Status: http.StatusConflict, Code: "IDEMPOTENCY_KEY_REUSED", Message: "idempotency key reused with a different request"}
	ErrIdempotencyInProgress    = APIError{Status: http.StatusConflict, Code: "IDEMPOTENCY_REQUEST_IN_PROGRESS", Message: "a request with this idempotency key is in progress"}
	ErrRateLimited              = APIError{Status: http.StatusTooManyRequests, Code: "RATE_LIMITED", Message: "too many billing requests, retry later"}
	ErrProfileNotFound          = APIError{Status: http.StatusNotFound, Code: "PROFILE_NOT_FOUND", Message: "billing profile not found"}
	ErrNoActiveSubscription     = APIError{Status: http.StatusNotFound, Code: "NO_ACTIVE_SUBSCRIPTION", Message: "no active subscription"}
	ErrCustomerNotFoundAPI      = APIError{Status: http.StatusNotFound, Code: "CUSTOMER_NOT_FOUND", Message: "no payment customer on file"}
	ErrPlanChangeScheduleFailed = APIError{Status: http.StatusBadGateway, Code: "PLAN_CHANGE_SCHEDULE_FAILED", Message: "plan change could not be scheduled"}
	ErrCheckoutSessionFailed    = APIError{Status: http.StatusBadGateway, Code: "CHECKOUT_SESSION_FAILED", Message: "checkout session could not be created"}
	ErrBillingPortalUnavailable = APIError{Status: http.StatusBadGateway, Code: "BILLING_PORTAL_UNAVAILABLE", Message: "billing portal unavailable"}
	ErrBoundaryUnavailableAPI   = APIError{Status: http.StatusServiceUnavailable, Code: "BILLING_BOUNDARY_UNAVAILABLE", Message: "billing cycle boundary unavailable, retry later"}
	ErrProcessorUnavailable     = APIError{Status: http.StatusServiceUnavailable, Code: "PROCESSOR_UNAVAILABLE", Message: "payment processor unavailable, retry later"}
	ErrTenantBusy               = APIError{Status: http.StatusServiceUnavailable, Code: "TENANT_BUSY", Message: "another billing change is in progress, retry later"}
	ErrInternal                 = APIError{Status: http.StatusInternalServerError, Code: "INTERNAL_ERROR", Message: "internal error"}
)

// ValidationError maps field names to problems.
type ValidationError map[string][]string

func (v ValidationError) Error() string {
	fields := make([]string, 0, len(v))
	for f := range v {
		fields = append(fields, f)
	}
	return "invalid fields: " + strings.Join(fields, ", ")
}

// catalog is ordered: facade errors come before the processor errors they wrap.
var catalog = []struct {
	target error
	api    APIError
}{
	{ErrScheduleFailed, ErrPlanChangeScheduleFailed},
	{ErrPortalUnavailable, ErrBillingPortalUnavailable},
	{ErrBoundaryUnavailable, ErrBoundaryUnavailableAPI},
	{ErrCustomerNotFound, ErrCustomerNotFoundAPI},
	{processor.ErrNoPaymentMethod, ErrCustomerNotFoundAPI},

	{idempotency.ErrKeyReused, ErrIdempotencyKeyReused},
	{idempotency.ErrRequestInProgress, ErrIdempotencyInProgress},
	{idempotency.ErrInvalidKey, ErrValidation},

	{identity.ErrIdentityNotFound, ErrProfileNotFound},
	{identity.ErrInvalidEmail, ErrValidation},
	{dashboard.ErrInvalidPeriod, ErrValidation},

	{checkout.ErrAlreadySubscribedToPlan, ErrAlreadySubscribed},
	{checkout.ErrTrialAlreadyUsed, ErrTrialNotAllowed},
	{checkout.ErrTrialNotAllowed, ErrTrialNotAllowed},
	{checkout.ErrInvalidPlan, ErrInvalidTargetPlan},
	{checkout.ErrInvalidChangeKind, ErrValidation},
	{checkout.ErrProcessorUnavailable, ErrProcessorUnavailable},
	{checkout.ErrCheckoutFailed, ErrCheckoutSessionFailed},

	{subscription.ErrDuplicateActiveSubscription, ErrDuplicateActive},
	{subscription.ErrNoActiveSubscription, ErrNoActiveSubscription},
	{subscription.ErrSnapshotNotFound, ErrNoActiveSubscription},
	{subscription.ErrNotCanceled, ErrNotCanceled},
	{subscription.ErrTrialCheckoutRequired, ErrTrialCheckoutRequired},
	{subscription.ErrInvalidTargetPlan, ErrInvalidTargetPlan},
	{subscription.ErrInvalidTransition, ErrTransitionNotAllowed},
	{subscription.ErrSubscriptionCanceled, ErrTransitionNotAllowed},
	{subscription.ErrImmediateChangeUnsupported, ErrTransitionNotAllowed},
	{subscription.ErrUnknownTenant, ErrProfileNotFound},
	{subscription.ErrTenantBusy, ErrTenantBusy},
	{plans.ErrPlanNotFound, ErrInvalidTargetPlan},

	{processor.ErrTransient, ErrProcessorUnavailable},
}

// Classify maps err to its catalog entry. Unknown errors are INTERNAL_ERROR.
func Classify(err error) APIError {
	var api APIError
	if errors.As(err, &api) {
		return api
	}
	var verr ValidationError
	if errors.As(err, &verr) {
		return ErrValidation
	}
	for _, e := range catalog {
		if errors.Is(err, e.target) {
			return e.api
		}
	}
	if processor.IsTransient(err) {
		return ErrProcessorUnavailable
	}
	return ErrInternal
}
