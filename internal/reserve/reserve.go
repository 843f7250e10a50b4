// Package reserve computes the scheduled monthly contributions that fill a
// building's reserve fund between its start and target dates.
package reserve

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"condominio/internal/alloc"
	"condominio/internal/core"
)

// referenceNamespace seeds deterministic reserve reference IDs so that a
// scheduler retrying a month regenerates the same idempotency key.
var referenceNamespace = uuid.MustParse("9f2c1b74-55a0-4c09-8f3e-7d61c2a40d11")

// ReferenceID derives the idempotent ledger reference for one building's
// contribution of one month.
func ReferenceID(buildingID int64, ym core.YearMonth) uuid.UUID {
	key := fmt.Sprintf("reserve/%d/%04d-%02d", buildingID, ym.Year, ym.Month)
	return uuid.NewSHA1(referenceNamespace, []byte(key))
}

// Store is the slice of the storage layer the calculator reads.
type Store interface {
	ListApartments(ctx context.Context, buildingID int64) ([]core.Apartment, error)
	CountApartmentsInDebtBefore(ctx context.Context, buildingID int64, cutoff time.Time) (int64, error)
}

// Contribution is the resolved outcome for one building and month. When the
// month is outside the collection window or the policy suppresses it, Shares
// is empty and Reason explains why.
type Contribution struct {
	BuildingID int64
	Month      core.YearMonth
	RefID      uuid.UUID
	// Shares maps apartment ID to its contribution in cents.
	Shares map[int64]int64
	Total  int64
	// Eligible is false when the month lies outside [start, start+duration).
	Eligible bool
	// Suppressed is true when the month is eligible but the
	// after-obligations policy skipped it because apartments still carried
	// unpaid debt at the start of the month.
	Suppressed bool
	Reason     string
}

type Calculator struct {
	store Store
}

func NewCalculator(store Store) *Calculator {
	return &Calculator{store: store}
}

// MonthlyContribution resolves what the building collects for ym. The goal
// splits evenly across the duration; the final scheduled month absorbs the
// division remainder so the schedule sums back to the goal exactly.
func (c *Calculator) MonthlyContribution(ctx context.Context, b core.Building, ym core.YearMonth) (*Contribution, error) {
	contribution := &Contribution{
		BuildingID: b.ID,
		Month:      ym,
		RefID:      ReferenceID(b.ID, ym),
		Shares:     map[int64]int64{},
	}

	if b.Reserve == nil {
		contribution.Reason = "no reserve fund configured"
		return contribution, nil
	}
	rf := *b.Reserve
	if err := rf.Validate(); err != nil {
		return nil, &core.ConfigurationError{Field: "reserve", Reason: "invalid reserve fund", Err: err}
	}

	// The window is bounded by both the duration and the target date; a
	// target date earlier than start plus duration cuts collection short.
	idx := monthIndex(rf.StartDate.YM(), ym)
	if idx < 0 || idx >= rf.DurationMonths || !ym.Start().Before(rf.TargetDate.Time) {
		contribution.Reason = "month outside collection window"
		return contribution, nil
	}
	contribution.Eligible = true

	if rf.Priority == core.PriorityAfterObligations {
		indebted, err := c.store.CountApartmentsInDebtBefore(ctx, b.ID, ym.Start())
		if err != nil {
			return nil, fmt.Errorf("check outstanding obligations: %w", err)
		}
		if indebted > 0 {
			contribution.Suppressed = true
			contribution.Reason = fmt.Sprintf("%d apartments carry unpaid obligations", indebted)
			return contribution, nil
		}
	}

	amount := monthlyTarget(rf.Goal.Cents, rf.DurationMonths, idx)
	if amount == 0 {
		contribution.Reason = "nothing left to collect this month"
		return contribution, nil
	}

	roster, err := c.store.ListApartments(ctx, b.ID)
	if err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}
	shares, err := alloc.Distribute(amount, roster, rf.Basis)
	if err != nil {
		return nil, fmt.Errorf("distribute reserve contribution: %w", err)
	}

	contribution.Shares = shares
	contribution.Total = amount
	return contribution, nil
}

// monthIndex returns how many months ym lies after start, negative when it
// precedes it.
func monthIndex(start, ym core.YearMonth) int {
	return (ym.Year-start.Year)*12 + (ym.Month - start.Month)
}

// monthlyTarget is the amount scheduled for the idx-th month of the plan.
func monthlyTarget(goal int64, duration, idx int) int64 {
	base := goal / int64(duration)
	if idx == duration-1 {
		return goal - base*int64(duration-1)
	}
	return base
}
