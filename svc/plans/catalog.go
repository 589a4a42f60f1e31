package plans

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/samber/lo"
)

// Catalog is a read-only plan lookup.
type Catalog interface {
	Get(ctx context.Context, key Key) (Plan, error)
	GetByPriceRef(ctx context.Context, ref string) (Plan, error)
	List(ctx context.Context) []Plan
	Paid(ctx context.Context) []Plan
	TrialEligible(key Key) bool
}

type catalog struct {
	byKey      map[Key]Plan
	byPriceRef map[string]Plan
	ordered    []Plan
}

// order fixes listing order independently of input order.
var order = []Key{Trial, Monthly, Quarterly, Annual}

// trialEligible lists paid plans that may start with a free trial on reactivation.
var trialEligible = map[Key]bool{Monthly: true, Quarterly: true}

// NewCatalog validates the plans and builds a Catalog.
func NewCatalog(plans ...Plan) (Catalog, error) {
	c := &catalog{
		byKey:      make(map[Key]Plan, len(plans)),
		byPriceRef: make(map[string]Plan, len(plans)),
	}
	for _, p := range plans {
		if !p.Key.Valid() || p.PriceCents < 0 {
			return nil, errors.Join(ErrInvalidPlan, fmt.Errorf("plan %q", p.Key))
		}
		if _, dup := c.byKey[p.Key]; dup {
			return nil, errors.Join(ErrDuplicatePlanKey, fmt.Errorf("plan %q", p.Key))
		}
		if !p.IsTrial() && p.ExternalPriceRef == "" {
			return nil, errors.Join(ErrPlanMissingPriceRef, fmt.Errorf("plan %q", p.Key))
		}
		if p.ExternalPriceRef != "" {
			if _, dup := c.byPriceRef[p.ExternalPriceRef]; dup {
				return nil, errors.Join(ErrDuplicatePriceRef, fmt.Errorf("price %q", p.ExternalPriceRef))
			}
			c.byPriceRef[p.ExternalPriceRef] = p
		}
		c.byKey[p.Key] = p
	}
	for _, k := range order {
		if p, ok := c.byKey[k]; ok {
			c.ordered = append(c.ordered, p)
		}
	}
	return c, nil
}

// MustCatalog is NewCatalog that panics on invalid input.
func MustCatalog(plans ...Plan) Catalog {
	c, err := NewCatalog(plans...)
	if err != nil {
		panic(fmt.Sprintf("invalid plan catalog: %v", err))
	}
	return c
}

func (c *catalog) Get(_ context.Context, key Key) (Plan, error) {
	p, ok := c.byKey[key]
	if !ok {
		return Plan{}, errors.Join(ErrPlanNotFound, fmt.Errorf("key %q", key))
	}
	return p, nil
}

func (c *catalog) GetByPriceRef(_ context.Context, ref string) (Plan, error) {
	p, ok := c.byPriceRef[ref]
	if !ok || ref == "" {
		return Plan{}, errors.Join(ErrPlanNotFound, fmt.Errorf("price %q", ref))
	}
	return p, nil
}

func (c *catalog) List(context.Context) []Plan {
	return slices.Clone(c.ordered)
}

func (c *catalog) Paid(context.Context) []Plan {
	return lo.Filter(c.ordered, func(p Plan, _ int) bool { return !p.IsTrial() })
}

func (c *catalog) TrialEligible(key Key) bool {
	return trialEligible[key]
}
