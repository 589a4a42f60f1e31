package dashboard

import "errors"

var ErrInvalidPeriod = errors.New("invalid revenue period; use day, week or month")
