// Package alloc implements the common-expense distribution engine: given an
// approved expense and a building's apartment roster it computes each
// apartment's share in cents. Allocation is pure and deterministic so that
// retried postings always regenerate identical ledger entries.
package alloc

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"condominio/internal/core"
)

// Allocation is the outcome of distributing one expense across a roster.
type Allocation struct {
	ExpenseID uuid.UUID
	Rule      core.DistributionRule
	// Shares maps apartment ID to its charge in cents. Every apartment of
	// the roster has an entry, possibly zero.
	Shares map[int64]int64
	// Total is the exact sum of all shares.
	Total int64
	// Variance is Total minus the expense's nominal amount. It is zero for
	// every rule except fixed-per-apartment, where a roster that changed
	// mid-period legitimately over- or under-collects. The difference is
	// reported here, never silently absorbed.
	Variance int64
}

// Share returns the computed share for one apartment.
func (a *Allocation) Share(apartmentID int64) int64 {
	return a.Shares[apartmentID]
}

// Allocate distributes a single expense across the roster.
//
// Percentage-of-other-expenses cannot be resolved in isolation because its
// amount derives from the rest of the period's batch; use AllocateBatch.
func Allocate(e core.Expense, roster []core.Apartment) (*Allocation, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if len(roster) == 0 {
		return nil, &core.ConfigurationError{Field: "roster", Reason: "no apartments in building", Err: core.ErrEmptyRoster}
	}
	ordered := orderRoster(roster)

	switch e.Rule {
	case core.RuleEqualShare:
		return equalShare(e, ordered)
	case core.RuleByParticipation:
		return weighted(e, e.Amount.Cents, ordered, core.BasisParticipation)
	case core.RuleByHeatingMills:
		return weighted(e, e.Amount.Cents, ordered, core.BasisHeating)
	case core.RuleByElevatorMills:
		return weighted(e, e.Amount.Cents, ordered, core.BasisElevator)
	case core.RuleFixedPerApartment:
		return fixedPerApartment(e, ordered)
	case core.RulePercentageOfOthers:
		return nil, &core.ConfigurationError{
			Field:  "rule",
			Reason: "percentage_of_other_expenses must be resolved within a period batch",
		}
	default:
		return nil, &core.ConfigurationError{Field: "rule", Reason: string(e.Rule), Err: core.ErrUnknownRule}
	}
}

// AllocateBatch distributes a period's expenses. Percentage-of-others
// expenses are resolved last, against the sum of every other allocation's
// total, then distributed by participation mills. Results are returned in
// the input order.
func AllocateBatch(expenses []core.Expense, roster []core.Apartment) ([]*Allocation, error) {
	results := make([]*Allocation, len(expenses))
	var othersTotal int64

	for i, e := range expenses {
		if e.Rule == core.RulePercentageOfOthers {
			continue
		}
		a, err := Allocate(e, roster)
		if err != nil {
			return nil, fmt.Errorf("allocate %s: %w", e.ID, err)
		}
		results[i] = a
		othersTotal += a.Total
	}

	for i, e := range expenses {
		if e.Rule != core.RulePercentageOfOthers {
			continue
		}
		if err := e.Validate(); err != nil {
			return nil, err
		}
		if len(roster) == 0 {
			return nil, &core.ConfigurationError{Field: "roster", Reason: "no apartments in building", Err: core.ErrEmptyRoster}
		}
		derived := othersTotal * e.PercentBP / 10000
		a, err := weighted(e, derived, orderRoster(roster), core.BasisParticipation)
		if err != nil {
			return nil, fmt.Errorf("allocate %s: %w", e.ID, err)
		}
		results[i] = a
	}

	return results, nil
}

// orderRoster returns a copy sorted by apartment number, lowest first. The
// first element absorbs cent-level remainders, which keeps allocation
// deterministic across retries.
func orderRoster(roster []core.Apartment) []core.Apartment {
	ordered := append([]core.Apartment(nil), roster...)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Number != ordered[j].Number {
			return ordered[i].Number < ordered[j].Number
		}
		return ordered[i].ID < ordered[j].ID
	})
	return ordered
}

func equalShare(e core.Expense, ordered []core.Apartment) (*Allocation, error) {
	amount := e.Amount.Cents
	n := int64(len(ordered))
	base := amount / n
	remainder := amount - base*n

	shares := make(map[int64]int64, len(ordered))
	for _, apt := range ordered {
		shares[apt.ID] = base
	}
	shares[ordered[0].ID] += remainder

	return &Allocation{ExpenseID: e.ID, Rule: e.Rule, Shares: shares, Total: amount}, nil
}

func weighted(e core.Expense, amount int64, ordered []core.Apartment, basis core.WeightBasis) (*Allocation, error) {
	shares, err := distribute(amount, ordered, basis)
	if err != nil {
		return nil, err
	}
	return &Allocation{ExpenseID: e.ID, Rule: e.Rule, Shares: shares, Total: amount}, nil
}

// Distribute splits an amount across the roster by the given weight basis,
// with the same remainder correction as expense allocation. The reserve
// fund policy reuses it for monthly contributions.
func Distribute(amount int64, roster []core.Apartment, basis core.WeightBasis) (map[int64]int64, error) {
	if len(roster) == 0 {
		return nil, &core.ConfigurationError{Field: "roster", Reason: "no apartments in building", Err: core.ErrEmptyRoster}
	}
	if amount < 0 {
		return nil, &core.ConfigurationError{Field: "amount", Reason: "negative amount", Err: core.ErrInvalidAmount}
	}
	return distribute(amount, orderRoster(roster), basis)
}

func distribute(amount int64, ordered []core.Apartment, basis core.WeightBasis) (map[int64]int64, error) {
	shares := make(map[int64]int64, len(ordered))

	var sumWeights int64
	for _, apt := range ordered {
		w := apt.Weight(basis)
		if w < 0 {
			return nil, &core.ConfigurationError{
				Field:  fmt.Sprintf("apartment %d", apt.Number),
				Reason: fmt.Sprintf("negative %s weight", basis),
			}
		}
		if w == 0 && !basis.ConsumptionBased() {
			// An ownership weight of zero means the roster is misconfigured,
			// not that the apartment consumes nothing.
			return nil, &core.ConfigurationError{
				Field:  fmt.Sprintf("apartment %d", apt.Number),
				Reason: fmt.Sprintf("zero %s weight", basis),
				Err:    core.ErrZeroWeight,
			}
		}
		sumWeights += w
		shares[apt.ID] = 0
	}
	if sumWeights == 0 {
		return nil, &core.ConfigurationError{
			Field:  string(basis),
			Reason: "all apartment weights are zero",
			Err:    core.ErrZeroWeight,
		}
	}

	var allocated int64
	for _, apt := range ordered {
		w := apt.Weight(basis)
		if w == 0 {
			continue
		}
		share := amount * w / sumWeights
		shares[apt.ID] = share
		allocated += share
	}

	// Floor division leaves a sub-cent remainder per apartment; hand the
	// accumulated difference to the lowest-numbered participating
	// apartment so the shares sum back to the source amount exactly.
	if remainder := amount - allocated; remainder != 0 {
		for _, apt := range ordered {
			if apt.Weight(basis) > 0 {
				shares[apt.ID] += remainder
				break
			}
		}
	}

	return shares, nil
}

func fixedPerApartment(e core.Expense, ordered []core.Apartment) (*Allocation, error) {
	shares := make(map[int64]int64, len(ordered))
	var total int64
	for _, apt := range ordered {
		shares[apt.ID] = e.FixedAmount.Cents
		total += e.FixedAmount.Cents
	}
	return &Allocation{
		ExpenseID: e.ID,
		Rule:      e.Rule,
		Shares:    shares,
		Total:     total,
		Variance:  total - e.Amount.Cents,
	}, nil
}
