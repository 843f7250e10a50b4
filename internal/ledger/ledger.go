// Package ledger is the append-only store of monetary movements and the
// reconciliation guard in front of it. Posting is idempotent per source
// record, transactional per reference key, and recomputes apartment
// balances wholesale so the cached column can never drift from the ledger.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"condominio/internal/alloc"
	"condominio/internal/core"
	"condominio/internal/storage"
)

type Service struct {
	repo *storage.SQLiteRepository
}

func NewService(repo *storage.SQLiteRepository) *Service {
	return &Service{repo: repo}
}

// PostCharges writes one charge entry per apartment share of an allocated
// expense. Retrying with the same expense is a no-op: the existing entries
// are returned unchanged.
func (s *Service) PostCharges(ctx context.Context, e core.Expense, a *alloc.Allocation) ([]core.LedgerEntry, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if err := guardShares(e, a); err != nil {
		return nil, err
	}

	var entries []core.LedgerEntry
	err := s.repo.WithTx(ctx, func(q *storage.Queries) error {
		existing, err := q.CountLiveEntriesForReference(ctx, core.RefExpense, e.ID)
		if err != nil {
			return err
		}
		if existing > 0 {
			entries, err = q.ListEntriesForReference(ctx, core.RefExpense, e.ID)
			if err != nil {
				return err
			}
			slog.InfoContext(ctx, "Charges already posted, skipping",
				"reference_type", core.RefExpense,
				"reference_id", e.ID,
				"entry_count", len(entries))
			return nil
		}

		for _, apartmentID := range orderedApartmentIDs(a.Shares) {
			share := a.Shares[apartmentID]
			if share == 0 {
				continue
			}
			entry := core.LedgerEntry{
				BuildingID:  e.BuildingID,
				ApartmentID: apartmentID,
				Amount:      share,
				Type:        core.EntryChargeIssued,
				Date:        e.IncurredOn,
				RefType:     core.RefExpense,
				RefID:       e.ID,
			}
			id, err := q.InsertLedgerEntry(ctx, entry)
			if err != nil {
				return err
			}
			entry.ID = id
			entries = append(entries, entry)
		}

		return rebuildBalances(ctx, q, entries)
	})
	if err != nil {
		return nil, fmt.Errorf("post charges %s: %w", e.ID, err)
	}
	return entries, nil
}

// PostPayment writes the single credit entry for a payment.
func (s *Service) PostPayment(ctx context.Context, p core.Payment) (core.LedgerEntry, error) {
	if err := p.Validate(); err != nil {
		return core.LedgerEntry{}, err
	}

	entry := core.LedgerEntry{
		BuildingID:  p.BuildingID,
		ApartmentID: p.ApartmentID,
		Amount:      -p.Amount.Cents,
		Type:        core.EntryPaymentReceived,
		Date:        p.PaidOn,
		RefType:     core.RefPayment,
		RefID:       p.ID,
	}

	err := s.repo.WithTx(ctx, func(q *storage.Queries) error {
		existing, err := q.CountLiveEntriesForReference(ctx, core.RefPayment, p.ID)
		if err != nil {
			return err
		}
		if existing > 0 {
			found, err := q.ListEntriesForReference(ctx, core.RefPayment, p.ID)
			if err != nil {
				return err
			}
			entry = found[0]
			slog.InfoContext(ctx, "Payment already posted, skipping",
				"reference_type", core.RefPayment,
				"reference_id", p.ID)
			return nil
		}

		id, err := q.InsertLedgerEntry(ctx, entry)
		if err != nil {
			return err
		}
		entry.ID = id
		return rebuildBalances(ctx, q, []core.LedgerEntry{entry})
	})
	if err != nil {
		return core.LedgerEntry{}, fmt.Errorf("post payment %s: %w", p.ID, err)
	}
	return entry, nil
}

// PostReserve writes one reserve-contribution entry per apartment share,
// dated the first of the target month. The caller supplies a deterministic
// reference ID so at-least-once schedulers stay idempotent.
func (s *Service) PostReserve(ctx context.Context, buildingID int64, ym core.YearMonth, shares map[int64]int64, refID uuid.UUID) ([]core.LedgerEntry, error) {
	var entries []core.LedgerEntry
	err := s.repo.WithTx(ctx, func(q *storage.Queries) error {
		existing, err := q.CountLiveEntriesForReference(ctx, core.RefReserve, refID)
		if err != nil {
			return err
		}
		if existing > 0 {
			entries, err = q.ListEntriesForReference(ctx, core.RefReserve, refID)
			return err
		}

		for _, apartmentID := range orderedApartmentIDs(shares) {
			share := shares[apartmentID]
			if share == 0 {
				continue
			}
			entry := core.LedgerEntry{
				BuildingID:  buildingID,
				ApartmentID: apartmentID,
				Amount:      share,
				Type:        core.EntryReserveContribution,
				Date:        core.Date{Time: ym.Start()},
				RefType:     core.RefReserve,
				RefID:       refID,
			}
			id, err := q.InsertLedgerEntry(ctx, entry)
			if err != nil {
				return err
			}
			entry.ID = id
			entries = append(entries, entry)
		}
		return rebuildBalances(ctx, q, entries)
	})
	if err != nil {
		return nil, fmt.Errorf("post reserve %s: %w", refID, err)
	}
	return entries, nil
}

// Reverse tombstones every live entry of a reference key and rebuilds the
// affected apartment balances. Amounts are never mutated; editing an
// expense is Reverse followed by a fresh PostCharges.
func (s *Service) Reverse(ctx context.Context, refType core.ReferenceType, refID uuid.UUID) (int64, error) {
	var reversed int64
	err := s.repo.WithTx(ctx, func(q *storage.Queries) error {
		entries, err := q.ListEntriesForReference(ctx, refType, refID)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		reversed, err = q.MarkEntriesReversed(ctx, refType, refID, time.Now())
		if err != nil {
			return err
		}
		return rebuildBalances(ctx, q, entries)
	})
	if err != nil {
		return 0, fmt.Errorf("reverse %s/%s: %w", refType, refID, err)
	}
	if reversed > 0 {
		slog.InfoContext(ctx, "Reversed ledger entries",
			"reference_type", refType,
			"reference_id", refID,
			"entry_count", reversed)
	}
	return reversed, nil
}

// RebuildBalance is the read-repair operation: it replays the whole ledger
// for one apartment and stores the result as the cached balance.
func (s *Service) RebuildBalance(ctx context.Context, apartmentID int64) (int64, error) {
	var balance int64
	err := s.repo.WithTx(ctx, func(q *storage.Queries) error {
		var err error
		balance, err = q.SumApartmentLedger(ctx, apartmentID)
		if err != nil {
			return err
		}
		return q.UpdateApartmentBalance(ctx, apartmentID, balance)
	})
	if err != nil {
		return 0, fmt.Errorf("rebuild balance for apartment %d: %w", apartmentID, err)
	}
	return balance, nil
}

// guardShares verifies that an allocation reconciles against its source
// expense before anything touches the ledger.
func guardShares(e core.Expense, a *alloc.Allocation) error {
	var sum int64
	for _, share := range a.Shares {
		sum += share
	}
	if sum != a.Total {
		return &core.ReconciliationError{
			RefType:  core.RefExpense,
			RefID:    e.ID,
			Expected: a.Total,
			Computed: sum,
			Reason:   "share sum does not match allocation total",
		}
	}
	switch e.Rule {
	case core.RuleFixedPerApartment, core.RulePercentageOfOthers:
		// The allocated total is authoritative here; any variance against
		// the nominal amount is reported on the allocation itself.
	default:
		if sum != e.Amount.Cents {
			return &core.ReconciliationError{
				RefType:  core.RefExpense,
				RefID:    e.ID,
				Expected: e.Amount.Cents,
				Computed: sum,
				Reason:   "share sum does not match expense amount",
			}
		}
	}
	return nil
}

// rebuildBalances recomputes the cached balance of every apartment touched
// by a posting, inside the posting's own transaction.
func rebuildBalances(ctx context.Context, q *storage.Queries, entries []core.LedgerEntry) error {
	seen := make(map[int64]bool, len(entries))
	for _, e := range entries {
		if seen[e.ApartmentID] {
			continue
		}
		seen[e.ApartmentID] = true
		balance, err := q.SumApartmentLedger(ctx, e.ApartmentID)
		if err != nil {
			return err
		}
		if err := q.UpdateApartmentBalance(ctx, e.ApartmentID, balance); err != nil {
			return err
		}
	}
	return nil
}

func orderedApartmentIDs(shares map[int64]int64) []int64 {
	ids := make([]int64, 0, len(shares))
	for id := range shares {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
