package balance

import (
	"context"
	"fmt"

	"condominio/internal/core"
)

// Aging buckets, in days outstanding.
const (
	Bucket0To30  = "0-30"
	Bucket31To60 = "31-60"
	Bucket61To90 = "61-90"
	BucketOver90 = "90+"
)

// AgedDebt is one indebted apartment's position as of the report date.
type AgedDebt struct {
	ApartmentID int64
	Number      int
	// Outstanding is the apartment's debt in cents as of the report date.
	Outstanding int64
	// OldestUnpaid is the date of the oldest charge not yet covered by
	// payments, matched oldest-first.
	OldestUnpaid core.Date
	AgeDays      int
	Bucket       string
}

// DebtReport lists every apartment of a building that owes money as of a
// given date, aged by its oldest uncovered charge.
type DebtReport struct {
	BuildingID       int64
	AsOf             core.Date
	Items            []AgedDebt
	TotalOutstanding int64
}

// DebtReport builds the aging report for one building. Payments are matched
// against charges oldest-first, so a partial payment ages the remainder of
// the oldest charge rather than the newest.
func (s *Service) DebtReport(ctx context.Context, buildingID int64, asOf core.Date) (*DebtReport, error) {
	q := s.repo.Queries()
	roster, err := q.ListApartments(ctx, buildingID)
	if err != nil {
		return nil, fmt.Errorf("debt report for building %d: %w", buildingID, err)
	}

	report := &DebtReport{BuildingID: buildingID, AsOf: asOf}
	for _, apt := range roster {
		entries, err := q.ListApartmentEntries(ctx, apt.ID)
		if err != nil {
			return nil, fmt.Errorf("debt report for apartment %d: %w", apt.ID, err)
		}
		item, indebted := ageApartment(apt, entries, asOf)
		if !indebted {
			continue
		}
		report.Items = append(report.Items, item)
		report.TotalOutstanding += item.Outstanding
	}
	return report, nil
}

type openCharge struct {
	date      core.Date
	remaining int64
}

// ageApartment replays an apartment's entries up to asOf and reports its
// aged debt. The second return is false when the apartment owes nothing.
func ageApartment(apt core.Apartment, entries []core.LedgerEntry, asOf core.Date) (AgedDebt, bool) {
	var charges []openCharge
	var creditPool int64
	var balance int64

	for _, e := range entries {
		if e.Date.After(asOf.Time) {
			continue
		}
		balance += e.Amount
		if e.Amount > 0 {
			charges = append(charges, openCharge{date: e.Date, remaining: e.Amount})
		} else {
			creditPool += -e.Amount
		}
	}
	if balance <= 0 {
		return AgedDebt{}, false
	}

	oldest := asOf
	for i := range charges {
		if creditPool >= charges[i].remaining {
			creditPool -= charges[i].remaining
			continue
		}
		charges[i].remaining -= creditPool
		creditPool = 0
		oldest = charges[i].date
		break
	}

	days := int(asOf.Sub(oldest.Time).Hours() / 24)
	return AgedDebt{
		ApartmentID:  apt.ID,
		Number:       apt.Number,
		Outstanding:  balance,
		OldestUnpaid: oldest,
		AgeDays:      days,
		Bucket:       bucketFor(days),
	}, true
}

func bucketFor(days int) string {
	switch {
	case days <= 30:
		return Bucket0To30
	case days <= 60:
		return Bucket31To60
	case days <= 90:
		return Bucket61To90
	default:
		return BucketOver90
	}
}
