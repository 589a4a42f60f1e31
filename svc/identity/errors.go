package identity

import "errors"

var (
	ErrInvalidEmail        = errors.New("invalid email address")
	ErrIdentityNotFound    = errors.New("tenant identity not found")
	ErrCustomerRefConflict = errors.New("customer reference already bound to another value")
	ErrInvalidCustomerRef  = errors.New("customer reference is required")
)
