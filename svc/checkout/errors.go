package checkout

import "errors"

var (
	ErrTrialAlreadyUsed        = errors.New("tenant already used the free trial")
	ErrTrialNotAllowed         = errors.New("plan does not offer a trial")
	ErrAlreadySubscribedToPlan = errors.New("tenant already holds this plan; use plan change or uncancel")
	ErrInvalidPlan             = errors.New("invalid checkout plan")
	ErrInvalidChangeKind       = errors.New("invalid checkout change kind")
	ErrCheckoutFailed          = errors.New("failed to create checkout session")
	ErrProcessorUnavailable    = errors.New("payment processor unavailable")
	ErrMissingMetadata         = errors.New("processor object carries no checkout metadata")
	ErrInvalidMetadata         = errors.New("invalid checkout metadata")
)
