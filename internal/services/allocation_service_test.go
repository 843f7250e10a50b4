package services

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"condominio/internal/core"
	"condominio/internal/ledger"
	"condominio/internal/storage"
)

func newTestService(t *testing.T) (*AllocationService, *storage.SQLiteRepository) {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "condo.db"))
	if err != nil {
		t.Fatalf("open test repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return NewAllocationService(repo, ledger.NewService(repo), nil), repo
}

func seedRoster(t *testing.T, repo *storage.SQLiteRepository, reserve *core.ReserveFund) (buildingID int64, apartmentIDs []int64) {
	t.Helper()
	ctx := context.Background()
	q := repo.Queries()

	buildingID, err := q.CreateBuilding(ctx, core.Building{
		Name:           "Via Garibaldi 3",
		FinancialStart: core.NewDate(2025, 1, 1),
		DefaultBasis:   core.BasisParticipation,
		Reserve:        reserve,
	})
	if err != nil {
		t.Fatalf("create building: %v", err)
	}
	for i, mills := range []int64{600, 400} {
		id, err := q.CreateApartment(ctx, core.Apartment{
			BuildingID:         buildingID,
			Number:             i + 1,
			ParticipationMills: mills,
		})
		if err != nil {
			t.Fatalf("create apartment: %v", err)
		}
		apartmentIDs = append(apartmentIDs, id)
	}
	return buildingID, apartmentIDs
}

func balanceOf(t *testing.T, repo *storage.SQLiteRepository, apartmentID int64) int64 {
	t.Helper()
	apt, err := repo.Queries().GetApartment(context.Background(), apartmentID)
	if err != nil {
		t.Fatalf("get apartment: %v", err)
	}
	return apt.CurrentBalance.Cents
}

func TestPostExpenseIdempotent(t *testing.T) {
	svc, repo := newTestService(t)
	buildingID, apartments := seedRoster(t, repo, nil)
	ctx := context.Background()

	e := core.Expense{
		ID:          uuid.New(),
		BuildingID:  buildingID,
		Description: "facade repair",
		Amount:      core.Money{Cents: 100_00},
		IncurredOn:  core.NewDate(2025, 1, 10),
		Rule:        core.RuleByParticipation,
	}

	entries, err := svc.PostExpense(ctx, e)
	if err != nil {
		t.Fatalf("post expense: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entry count = %d, want 2", len(entries))
	}
	if got := balanceOf(t, repo, apartments[0]); got != 60_00 {
		t.Errorf("apartment 1 balance = %d, want 6000", got)
	}
	if got := balanceOf(t, repo, apartments[1]); got != 40_00 {
		t.Errorf("apartment 2 balance = %d, want 4000", got)
	}

	again, err := svc.PostExpense(ctx, e)
	if err != nil {
		t.Fatalf("repost expense: %v", err)
	}
	if len(again) != 2 {
		t.Errorf("repost entry count = %d, want 2", len(again))
	}
	if got := balanceOf(t, repo, apartments[0]); got != 60_00 {
		t.Errorf("repost changed apartment 1 balance to %d", got)
	}
}

func TestRecordPaymentAndReverse(t *testing.T) {
	svc, repo := newTestService(t)
	buildingID, apartments := seedRoster(t, repo, nil)
	ctx := context.Background()

	e := core.Expense{
		ID:          uuid.New(),
		BuildingID:  buildingID,
		Description: "stairwell cleaning",
		Amount:      core.Money{Cents: 100_00},
		IncurredOn:  core.NewDate(2025, 1, 10),
		Rule:        core.RuleByParticipation,
	}
	if _, err := svc.PostExpense(ctx, e); err != nil {
		t.Fatalf("post expense: %v", err)
	}

	p := core.Payment{
		ID:          uuid.New(),
		BuildingID:  buildingID,
		ApartmentID: apartments[0],
		Amount:      core.Money{Cents: 30_00},
		PaidOn:      core.NewDate(2025, 1, 20),
	}
	if _, err := svc.RecordPayment(ctx, p); err != nil {
		t.Fatalf("record payment: %v", err)
	}
	if got := balanceOf(t, repo, apartments[0]); got != 30_00 {
		t.Errorf("balance after payment = %d, want 3000", got)
	}

	// Retrying the same payment must not double-credit.
	if _, err := svc.RecordPayment(ctx, p); err != nil {
		t.Fatalf("retry payment: %v", err)
	}
	if got := balanceOf(t, repo, apartments[0]); got != 30_00 {
		t.Errorf("balance after retried payment = %d, want 3000", got)
	}

	reversed, err := svc.ReverseExpense(ctx, e.ID)
	if err != nil {
		t.Fatalf("reverse expense: %v", err)
	}
	if reversed != 2 {
		t.Errorf("reversed = %d entries, want 2", reversed)
	}
	// The payment survives the reversal, leaving the apartment in credit.
	if got := balanceOf(t, repo, apartments[0]); got != -30_00 {
		t.Errorf("balance after reversal = %d, want -3000", got)
	}
	if got := balanceOf(t, repo, apartments[1]); got != 0 {
		t.Errorf("apartment 2 balance after reversal = %d, want 0", got)
	}
}

func TestRecordPaymentRetryAfterPartialWrite(t *testing.T) {
	svc, repo := newTestService(t)
	buildingID, apartments := seedRoster(t, repo, nil)
	ctx := context.Background()

	p := core.Payment{
		ID:          uuid.New(),
		BuildingID:  buildingID,
		ApartmentID: apartments[0],
		Amount:      core.Money{Cents: 25_00},
		PaidOn:      core.NewDate(2025, 1, 12),
	}
	// The payment row exists but its ledger entry was never written, as
	// after a crash between the two writes.
	if err := repo.Queries().CreatePayment(ctx, p); err != nil {
		t.Fatalf("seed payment row: %v", err)
	}

	entry, err := svc.RecordPayment(ctx, p)
	if err != nil {
		t.Fatalf("retry after partial write: %v", err)
	}
	if entry.Amount != -25_00 {
		t.Errorf("entry amount = %d, want -2500", entry.Amount)
	}
	if got := balanceOf(t, repo, apartments[0]); got != -25_00 {
		t.Errorf("balance = %d, want -2500", got)
	}
}

func TestPostPeriodResolvesPercentage(t *testing.T) {
	svc, repo := newTestService(t)
	buildingID, apartments := seedRoster(t, repo, nil)
	ctx := context.Background()

	expenses := []core.Expense{
		{
			ID: uuid.New(), BuildingID: buildingID, Description: "maintenance",
			Amount: core.Money{Cents: 800_00}, IncurredOn: core.NewDate(2025, 2, 1),
			Rule: core.RuleByParticipation,
		},
		{
			ID: uuid.New(), BuildingID: buildingID, Description: "utilities",
			Amount: core.Money{Cents: 200_00}, IncurredOn: core.NewDate(2025, 2, 1),
			Rule: core.RuleEqualShare,
		},
		{
			ID: uuid.New(), BuildingID: buildingID, Description: "administrator fee",
			PercentBP: 500, IncurredOn: core.NewDate(2025, 2, 1),
			Rule: core.RulePercentageOfOthers,
		},
	}

	entries, err := svc.PostPeriod(ctx, buildingID, expenses)
	if err != nil {
		t.Fatalf("post period: %v", err)
	}
	if len(entries) != 6 {
		t.Errorf("entry count = %d, want 6", len(entries))
	}

	// 5% of 1000.00 is 50.00, split 600/400.
	want := int64(800_00*6/10 + 200_00/2 + 30_00)
	if got := balanceOf(t, repo, apartments[0]); got != want {
		t.Errorf("apartment 1 balance = %d, want %d", got, want)
	}
	total := balanceOf(t, repo, apartments[0]) + balanceOf(t, repo, apartments[1])
	if total != 1050_00 {
		t.Errorf("total charged = %d, want 105000", total)
	}
}

func TestCollectReserveRespectsPriority(t *testing.T) {
	rf := &core.ReserveFund{
		Goal:           core.Money{Cents: 1_200_00},
		DurationMonths: 12,
		StartDate:      core.NewDate(2025, 1, 1),
		TargetDate:     core.NewDate(2026, 1, 1),
		Basis:          core.BasisParticipation,
		Priority:       core.PriorityAfterObligations,
	}
	svc, repo := newTestService(t)
	buildingID, apartments := seedRoster(t, repo, rf)
	ctx := context.Background()

	b, err := repo.Queries().GetBuilding(ctx, buildingID)
	if err != nil {
		t.Fatalf("get building: %v", err)
	}

	// January charge left unpaid suppresses February's contribution.
	e := core.Expense{
		ID:          uuid.New(),
		BuildingID:  buildingID,
		Description: "boiler service",
		Amount:      core.Money{Cents: 100_00},
		IncurredOn:  core.NewDate(2025, 1, 5),
		Rule:        core.RuleEqualShare,
	}
	if _, err := svc.PostExpense(ctx, e); err != nil {
		t.Fatalf("post expense: %v", err)
	}

	feb := core.YearMonth{Year: 2025, Month: 2}
	contribution, err := svc.CollectReserve(ctx, b, feb)
	if err != nil {
		t.Fatalf("collect reserve: %v", err)
	}
	if !contribution.Suppressed {
		t.Fatalf("february contribution should be suppressed while debt is outstanding")
	}

	// Settle both apartments, then the next month collects.
	for _, aptID := range apartments {
		p := core.Payment{
			ID: uuid.New(), BuildingID: buildingID, ApartmentID: aptID,
			Amount: core.Money{Cents: 50_00}, PaidOn: core.NewDate(2025, 2, 10),
		}
		if _, err := svc.RecordPayment(ctx, p); err != nil {
			t.Fatalf("record payment: %v", err)
		}
	}

	mar := core.YearMonth{Year: 2025, Month: 3}
	contribution, err = svc.CollectReserve(ctx, b, mar)
	if err != nil {
		t.Fatalf("collect reserve: %v", err)
	}
	if contribution.Suppressed || contribution.Total != 100_00 {
		t.Fatalf("march should collect 10000, got suppressed=%v total=%d",
			contribution.Suppressed, contribution.Total)
	}
	if got := balanceOf(t, repo, apartments[0]); got != 60_00 {
		t.Errorf("apartment 1 balance after contribution = %d, want 6000", got)
	}

	// Retrying the month is a no-op thanks to the deterministic reference.
	if _, err := svc.CollectReserve(ctx, b, mar); err != nil {
		t.Fatalf("retry collect reserve: %v", err)
	}
	if got := balanceOf(t, repo, apartments[0]); got != 60_00 {
		t.Errorf("retried contribution changed balance to %d", got)
	}
}

func TestRecurringProcessorGeneratesOncePerPeriod(t *testing.T) {
	svc, repo := newTestService(t)
	buildingID, apartments := seedRoster(t, repo, nil)
	ctx := context.Background()

	_, err := repo.Queries().CreateRecurringExpense(ctx, core.RecurringExpense{
		BuildingID:  buildingID,
		Description: "elevator maintenance",
		Amount:      core.Money{Cents: 60_00},
		Rule:        core.RuleEqualShare,
		Every:       core.Monthly,
		StartDate:   core.NewDate(2025, 1, 1),
	})
	if err != nil {
		t.Fatalf("create recurring expense: %v", err)
	}

	processor := NewRecurringProcessor(repo, svc)
	now := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	processed, err := processor.ProcessDueTemplates(ctx, buildingID, now)
	if err != nil {
		t.Fatalf("process templates: %v", err)
	}
	if processed != 1 {
		t.Fatalf("processed = %d, want 1", processed)
	}
	if got := balanceOf(t, repo, apartments[0]); got != 30_00 {
		t.Errorf("balance after generation = %d, want 3000", got)
	}

	// Same month again: nothing new.
	processed, err = processor.ProcessDueTemplates(ctx, buildingID, now.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("process templates again: %v", err)
	}
	if processed != 0 {
		t.Errorf("second run processed = %d, want 0", processed)
	}

	// Next month fires again with a fresh expense.
	processed, err = processor.ProcessDueTemplates(ctx, buildingID, now.AddDate(0, 1, 0))
	if err != nil {
		t.Fatalf("process next month: %v", err)
	}
	if processed != 1 {
		t.Errorf("next month processed = %d, want 1", processed)
	}
	if got := balanceOf(t, repo, apartments[0]); got != 60_00 {
		t.Errorf("balance after second generation = %d, want 6000", got)
	}
}
