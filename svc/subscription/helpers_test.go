package subscription_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/adminbilling/svc/plans"
	"github.com/dmitrymomot/adminbilling/svc/subscription"
)

var t0 = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(at time.Time) *testClock { return &testClock{now: at} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testCatalog(t *testing.T) plans.Catalog {
	t.Helper()
	c, err := plans.NewCatalog(plans.Defaults(plans.Config{
		MonthlyPriceRef:   "price_monthly",
		QuarterlyPriceRef: "price_quarterly",
		AnnualPriceRef:    "price_annual",
	})...)
	require.NoError(t, err)
	return c
}

func newService(t *testing.T, clock *testClock, opts ...subscription.ServiceOption) (subscription.Service, subscription.Store) {
	t.Helper()
	store := subscription.NewMemoryStore()
	opts = append([]subscription.ServiceOption{subscription.WithClock(clock.Now)}, opts...)
	return subscription.NewService(store, testCatalog(t), opts...), store
}

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

func at(t time.Time) *time.Time { return &t }
