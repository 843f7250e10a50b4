package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"condominio/internal/alloc"
	"condominio/internal/amqp"
	"condominio/internal/core"
	"condominio/internal/ledger"
	"condominio/internal/reserve"
	"condominio/internal/storage"
)

// Publisher pushes posting notifications out to the message broker.
type Publisher interface {
	PublishLedgerPosted(ctx context.Context, msg *amqp.LedgerPostedMessage) error
}

// AllocationService turns source records into ledger entries: it persists
// the record, allocates it across the roster, and posts the result. The
// publisher is optional; when set, every posting emits a notification on a
// best-effort basis.
type AllocationService struct {
	repo      *storage.SQLiteRepository
	ledger    *ledger.Service
	reserve   *reserve.Calculator
	publisher Publisher
}

func NewAllocationService(repo *storage.SQLiteRepository, ledgerSvc *ledger.Service, publisher Publisher) *AllocationService {
	return &AllocationService{
		repo:      repo,
		ledger:    ledgerSvc,
		reserve:   reserve.NewCalculator(repo.Queries()),
		publisher: publisher,
	}
}

// PostExpense persists one expense and posts its charges. Retrying with the
// same expense ID is safe end to end.
func (s *AllocationService) PostExpense(ctx context.Context, e core.Expense) ([]core.LedgerEntry, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	q := s.repo.Queries()

	if _, err := q.GetExpense(ctx, e.ID); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		if err := q.CreateExpense(ctx, e); err != nil {
			return nil, err
		}
	}

	roster, err := q.ListApartments(ctx, e.BuildingID)
	if err != nil {
		return nil, err
	}
	a, err := alloc.Allocate(e, roster)
	if err != nil {
		return nil, err
	}

	entries, err := s.ledger.PostCharges(ctx, e, a)
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Posted expense",
		"building_id", e.BuildingID,
		"reference_id", e.ID,
		"rule", e.Rule,
		"entry_count", len(entries))
	s.notify(ctx, core.RefExpense, e.ID, e.BuildingID, entries, false)
	return entries, nil
}

// PostPeriod persists and posts a batch of expenses together, so that
// percentage-of-other-expenses items resolve against the rest of the batch.
func (s *AllocationService) PostPeriod(ctx context.Context, buildingID int64, expenses []core.Expense) ([]core.LedgerEntry, error) {
	q := s.repo.Queries()
	roster, err := q.ListApartments(ctx, buildingID)
	if err != nil {
		return nil, err
	}
	allocations, err := alloc.AllocateBatch(expenses, roster)
	if err != nil {
		return nil, err
	}

	var all []core.LedgerEntry
	for i, e := range expenses {
		if _, err := q.GetExpense(ctx, e.ID); err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				return nil, err
			}
			if err := q.CreateExpense(ctx, e); err != nil {
				return nil, err
			}
		}
		entries, err := s.ledger.PostCharges(ctx, e, allocations[i])
		if err != nil {
			return nil, err
		}
		s.notify(ctx, core.RefExpense, e.ID, buildingID, entries, false)
		all = append(all, entries...)
	}
	return all, nil
}

// RecordPayment persists one payment and posts its credit entry. Retrying
// with the same payment ID is safe, including after a crash between the two
// writes.
func (s *AllocationService) RecordPayment(ctx context.Context, p core.Payment) (core.LedgerEntry, error) {
	if err := p.Validate(); err != nil {
		return core.LedgerEntry{}, err
	}
	q := s.repo.Queries()

	if _, err := q.GetPayment(ctx, p.ID); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return core.LedgerEntry{}, err
		}
		if err := q.CreatePayment(ctx, p); err != nil {
			return core.LedgerEntry{}, err
		}
	}

	entry, err := s.ledger.PostPayment(ctx, p)
	if err != nil {
		return core.LedgerEntry{}, err
	}

	slog.InfoContext(ctx, "Recorded payment",
		"building_id", p.BuildingID,
		"apartment_id", p.ApartmentID,
		"amount_cents", p.Amount.Cents)
	s.notify(ctx, core.RefPayment, p.ID, p.BuildingID, []core.LedgerEntry{entry}, false)
	return entry, nil
}

// CollectReserve resolves and posts the building's reserve contribution for
// one month. A suppressed or ineligible month posts nothing.
func (s *AllocationService) CollectReserve(ctx context.Context, b core.Building, ym core.YearMonth) (*reserve.Contribution, error) {
	contribution, err := s.reserve.MonthlyContribution(ctx, b, ym)
	if err != nil {
		return nil, err
	}
	if contribution.Total == 0 {
		slog.InfoContext(ctx, "No reserve contribution this month",
			"building_id", b.ID,
			"year", ym.Year,
			"month", ym.Month,
			"reason", contribution.Reason)
		return contribution, nil
	}

	entries, err := s.ledger.PostReserve(ctx, b.ID, ym, contribution.Shares, contribution.RefID)
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Collected reserve contribution",
		"building_id", b.ID,
		"year", ym.Year,
		"month", ym.Month,
		"amount_cents", contribution.Total)
	s.notify(ctx, core.RefReserve, contribution.RefID, b.ID, entries, false)
	return contribution, nil
}

// ReverseExpense tombstones an expense's charges. Reposting under the same
// expense ID afterwards is allowed; correcting an expense is reverse plus a
// fresh post.
func (s *AllocationService) ReverseExpense(ctx context.Context, id uuid.UUID) (int64, error) {
	e, err := s.repo.Queries().GetExpense(ctx, id)
	if err != nil {
		return 0, err
	}
	reversed, err := s.ledger.Reverse(ctx, core.RefExpense, id)
	if err != nil {
		return 0, err
	}
	if reversed > 0 {
		s.notify(ctx, core.RefExpense, id, e.BuildingID, nil, true)
	}
	return reversed, nil
}

// notify publishes best-effort: a broker outage must never fail a posting
// that is already committed.
func (s *AllocationService) notify(ctx context.Context, refType core.ReferenceType, refID uuid.UUID, buildingID int64, entries []core.LedgerEntry, reversed bool) {
	if s.publisher == nil {
		return
	}
	msg := amqp.NewLedgerPostedMessage(refType, refID, buildingID, entries)
	msg.Reversed = reversed
	if err := s.publisher.PublishLedgerPosted(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "Failed to publish posting notification",
			"error", err,
			"reference_type", refType,
			"reference_id", refID)
	}
}
