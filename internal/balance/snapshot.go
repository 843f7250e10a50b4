// Package balance produces per-building monthly snapshots and the debt
// aging report. Snapshots form a chain: each month's previous obligations
// are the prior month's carry forward, grounded at the building's financial
// start.
package balance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"condominio/internal/core"
	"condominio/internal/storage"
)

type Service struct {
	repo *storage.SQLiteRepository
}

func NewService(repo *storage.SQLiteRepository) *Service {
	return &Service{repo: repo}
}

// Snapshot returns the monthly balance for ym, recomputing and persisting
// every stale ancestor back to the building's financial start. The whole
// backfill chain runs in one transaction so a crash mid-way never leaves a
// half-rebuilt chain.
func (s *Service) Snapshot(ctx context.Context, buildingID int64, ym core.YearMonth) (core.MonthlyBalance, error) {
	var result core.MonthlyBalance
	err := s.repo.WithTx(ctx, func(q *storage.Queries) error {
		b, err := q.GetBuilding(ctx, buildingID)
		if err != nil {
			return err
		}
		r := &resolver{q: q, building: b, memo: map[core.YearMonth]core.MonthlyBalance{}}
		result, err = r.resolve(ctx, ym)
		if err != nil {
			return err
		}
		if r.recomputed > 0 {
			slog.InfoContext(ctx, "Backfilled monthly snapshots",
				"building_id", buildingID,
				"year", ym.Year,
				"month", ym.Month,
				"recomputed", r.recomputed)
		}
		return nil
	})
	if err != nil {
		return core.MonthlyBalance{}, fmt.Errorf("snapshot %d/%04d-%02d: %w", buildingID, ym.Year, ym.Month, err)
	}
	return result, nil
}

type resolver struct {
	q          *storage.Queries
	building   core.Building
	memo       map[core.YearMonth]core.MonthlyBalance
	recomputed int
}

func (r *resolver) resolve(ctx context.Context, ym core.YearMonth) (core.MonthlyBalance, error) {
	if mb, ok := r.memo[ym]; ok {
		return mb, nil
	}

	start := r.building.FinancialStart.YM()
	if ym.Before(start) {
		// Months before the books opened carry nothing. Not persisted.
		return core.MonthlyBalance{BuildingID: r.building.ID, Year: ym.Year, Month: ym.Month}, nil
	}

	chainStart := ym == start
	var prevCarry int64
	if !chainStart {
		prev, err := r.resolve(ctx, ym.Prev())
		if err != nil {
			return core.MonthlyBalance{}, err
		}
		prevCarry = prev.CarryForward
	}

	stored, found, err := r.q.GetMonthlyBalance(ctx, r.building.ID, ym)
	if err != nil {
		return core.MonthlyBalance{}, err
	}
	newest, hasEntries, err := r.q.NewestEntryChange(ctx, r.building.ID, ym.Start(), ym.End())
	if err != nil {
		return core.MonthlyBalance{}, err
	}

	// A stored snapshot is reusable only when its link to the previous
	// month still holds and no ledger entry of the month was created or
	// reversed after it was written. The link check catches edits deep in
	// the past that shifted every later carry forward.
	if found && stored.PreviousObligations == prevCarry &&
		(!hasEntries || !newest.After(stored.UpdatedAt)) {
		r.memo[ym] = stored
		return stored, nil
	}

	charges, payments, err := r.q.MonthTotals(ctx, r.building.ID, ym.Start(), ym.End())
	if err != nil {
		return core.MonthlyBalance{}, err
	}
	mb := core.MonthlyBalance{
		BuildingID:          r.building.ID,
		Year:                ym.Year,
		Month:               ym.Month,
		TotalCharges:        charges,
		TotalPayments:       payments,
		PreviousObligations: prevCarry,
		CarryForward:        prevCarry + charges - payments,
		ChainStart:          chainStart,
		UpdatedAt:           time.Now().UTC(),
	}
	if err := mb.Check(); err != nil {
		return core.MonthlyBalance{}, err
	}
	if err := r.q.UpsertMonthlyBalance(ctx, mb); err != nil {
		return core.MonthlyBalance{}, err
	}
	r.recomputed++
	r.memo[ym] = mb
	return mb, nil
}
