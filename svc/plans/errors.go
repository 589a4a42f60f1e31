package plans

import "errors"

var (
	ErrPlanNotFound        = errors.New("plan not found")
	ErrInvalidPlan         = errors.New("invalid plan definition")
	ErrDuplicatePlanKey    = errors.New("duplicate plan key")
	ErrDuplicatePriceRef   = errors.New("duplicate plan price reference")
	ErrPlanMissingPriceRef = errors.New("paid plan requires a price reference")
)
