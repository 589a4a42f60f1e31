package subscription

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestLockError(t *testing.T) {
	t.Parallel()

	for _, code := range []string{"55P03", "40P01"} {
		err := lockError(&pgconn.PgError{Code: code})
		assert.ErrorIs(t, err, ErrTenantBusy, code)
	}

	other := &pgconn.PgError{Code: "23505"}
	assert.NotErrorIs(t, lockError(other), ErrTenantBusy)
	assert.NoError(t, lockError(nil))

	boom := errors.New("boom")
	assert.Same(t, boom, lockError(boom))
}
