package balance

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"condominio/internal/core"
	"condominio/internal/storage"
)

func newTestRepo(t *testing.T) *storage.SQLiteRepository {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "condo.db"))
	if err != nil {
		t.Fatalf("open test repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func seedBuilding(t *testing.T, repo *storage.SQLiteRepository) (buildingID, apartmentID int64) {
	t.Helper()
	ctx := context.Background()
	q := repo.Queries()

	buildingID, err := q.CreateBuilding(ctx, core.Building{
		Name:           "Corso Milano 5",
		FinancialStart: core.NewDate(2025, 1, 1),
		DefaultBasis:   core.BasisParticipation,
	})
	if err != nil {
		t.Fatalf("create building: %v", err)
	}
	apartmentID, err = q.CreateApartment(ctx, core.Apartment{
		BuildingID:         buildingID,
		Number:             1,
		ParticipationMills: 1000,
	})
	if err != nil {
		t.Fatalf("create apartment: %v", err)
	}
	return buildingID, apartmentID
}

func insertEntry(t *testing.T, repo *storage.SQLiteRepository, e core.LedgerEntry) uuid.UUID {
	t.Helper()
	if e.RefID == uuid.Nil {
		e.RefID = uuid.New()
	}
	if _, err := repo.Queries().InsertLedgerEntry(context.Background(), e); err != nil {
		t.Fatalf("insert ledger entry: %v", err)
	}
	return e.RefID
}

func TestSnapshotCarriesForwardUnpaidBalance(t *testing.T) {
	repo := newTestRepo(t)
	buildingID, apartmentID := seedBuilding(t, repo)
	svc := NewService(repo)
	ctx := context.Background()

	insertEntry(t, repo, core.LedgerEntry{
		BuildingID: buildingID, ApartmentID: apartmentID,
		Amount: 100_00, Type: core.EntryChargeIssued,
		Date: core.NewDate(2025, 1, 10), RefType: core.RefExpense,
	})
	insertEntry(t, repo, core.LedgerEntry{
		BuildingID: buildingID, ApartmentID: apartmentID,
		Amount: -40_00, Type: core.EntryPaymentReceived,
		Date: core.NewDate(2025, 1, 20), RefType: core.RefPayment,
	})

	jan, err := svc.Snapshot(ctx, buildingID, core.YearMonth{Year: 2025, Month: 1})
	if err != nil {
		t.Fatalf("snapshot january: %v", err)
	}
	if !jan.ChainStart {
		t.Errorf("january must be the chain start")
	}
	if jan.TotalCharges != 100_00 || jan.TotalPayments != 40_00 {
		t.Errorf("january totals = %d/%d, want 10000/4000", jan.TotalCharges, jan.TotalPayments)
	}
	if jan.PreviousObligations != 0 || jan.CarryForward != 60_00 {
		t.Errorf("january prev/carry = %d/%d, want 0/6000", jan.PreviousObligations, jan.CarryForward)
	}

	feb, err := svc.Snapshot(ctx, buildingID, core.YearMonth{Year: 2025, Month: 2})
	if err != nil {
		t.Fatalf("snapshot february: %v", err)
	}
	if feb.TotalCharges != 0 || feb.TotalPayments != 0 {
		t.Errorf("february has no activity, got totals %d/%d", feb.TotalCharges, feb.TotalPayments)
	}
	if feb.PreviousObligations != 60_00 || feb.CarryForward != 60_00 {
		t.Errorf("february prev/carry = %d/%d, want 6000/6000", feb.PreviousObligations, feb.CarryForward)
	}
	if feb.ChainStart {
		t.Errorf("february is not the chain start")
	}
}

func TestSnapshotBackfillsMissingAncestors(t *testing.T) {
	repo := newTestRepo(t)
	buildingID, apartmentID := seedBuilding(t, repo)
	svc := NewService(repo)
	ctx := context.Background()

	insertEntry(t, repo, core.LedgerEntry{
		BuildingID: buildingID, ApartmentID: apartmentID,
		Amount: 30_00, Type: core.EntryChargeIssued,
		Date: core.NewDate(2025, 2, 5), RefType: core.RefExpense,
	})

	apr, err := svc.Snapshot(ctx, buildingID, core.YearMonth{Year: 2025, Month: 4})
	if err != nil {
		t.Fatalf("snapshot april: %v", err)
	}
	if apr.PreviousObligations != 30_00 || apr.CarryForward != 30_00 {
		t.Errorf("april prev/carry = %d/%d, want 3000/3000", apr.PreviousObligations, apr.CarryForward)
	}

	// The whole chain back to the financial start must now be persisted.
	for m := 1; m <= 4; m++ {
		_, found, err := repo.Queries().GetMonthlyBalance(ctx, buildingID, core.YearMonth{Year: 2025, Month: m})
		if err != nil {
			t.Fatalf("get month %d: %v", m, err)
		}
		if !found {
			t.Errorf("month %d snapshot missing after backfill", m)
		}
	}
}

func TestSnapshotRecomputesAfterLateEntry(t *testing.T) {
	repo := newTestRepo(t)
	buildingID, apartmentID := seedBuilding(t, repo)
	svc := NewService(repo)
	ctx := context.Background()

	insertEntry(t, repo, core.LedgerEntry{
		BuildingID: buildingID, ApartmentID: apartmentID,
		Amount: 100_00, Type: core.EntryChargeIssued,
		Date: core.NewDate(2025, 1, 10), RefType: core.RefExpense,
	})
	if _, err := svc.Snapshot(ctx, buildingID, core.YearMonth{Year: 2025, Month: 3}); err != nil {
		t.Fatalf("initial snapshot: %v", err)
	}

	// A charge posted into an already-snapshotted month must propagate
	// through every later month on the next read.
	insertEntry(t, repo, core.LedgerEntry{
		BuildingID: buildingID, ApartmentID: apartmentID,
		Amount: 50_00, Type: core.EntryChargeIssued,
		Date: core.NewDate(2025, 1, 15), RefType: core.RefExpense,
	})

	mar, err := svc.Snapshot(ctx, buildingID, core.YearMonth{Year: 2025, Month: 3})
	if err != nil {
		t.Fatalf("snapshot after late entry: %v", err)
	}
	if mar.PreviousObligations != 150_00 {
		t.Errorf("march previous obligations = %d, want 15000", mar.PreviousObligations)
	}
}

func TestSnapshotRecomputesAfterReversal(t *testing.T) {
	repo := newTestRepo(t)
	buildingID, apartmentID := seedBuilding(t, repo)
	svc := NewService(repo)
	ctx := context.Background()

	insertEntry(t, repo, core.LedgerEntry{
		BuildingID: buildingID, ApartmentID: apartmentID,
		Amount: 100_00, Type: core.EntryChargeIssued,
		Date: core.NewDate(2025, 1, 10), RefType: core.RefExpense,
	})
	payRef := insertEntry(t, repo, core.LedgerEntry{
		BuildingID: buildingID, ApartmentID: apartmentID,
		Amount: -100_00, Type: core.EntryPaymentReceived,
		Date: core.NewDate(2025, 1, 20), RefType: core.RefPayment,
	})
	if _, err := svc.Snapshot(ctx, buildingID, core.YearMonth{Year: 2025, Month: 2}); err != nil {
		t.Fatalf("initial snapshot: %v", err)
	}

	if _, err := repo.Queries().MarkEntriesReversed(ctx, core.RefPayment, payRef, time.Now()); err != nil {
		t.Fatalf("reverse payment: %v", err)
	}

	feb, err := svc.Snapshot(ctx, buildingID, core.YearMonth{Year: 2025, Month: 2})
	if err != nil {
		t.Fatalf("snapshot after reversal: %v", err)
	}
	if feb.PreviousObligations != 100_00 {
		t.Errorf("february previous obligations = %d, want 10000", feb.PreviousObligations)
	}
}

func TestSnapshotBeforeFinancialStart(t *testing.T) {
	repo := newTestRepo(t)
	buildingID, _ := seedBuilding(t, repo)
	svc := NewService(repo)
	ctx := context.Background()

	dec := core.YearMonth{Year: 2024, Month: 12}
	mb, err := svc.Snapshot(ctx, buildingID, dec)
	if err != nil {
		t.Fatalf("snapshot before start: %v", err)
	}
	if mb.CarryForward != 0 || mb.PreviousObligations != 0 {
		t.Errorf("pre-start month must be all zeros")
	}
	_, found, err := repo.Queries().GetMonthlyBalance(ctx, buildingID, dec)
	if err != nil {
		t.Fatalf("get pre-start month: %v", err)
	}
	if found {
		t.Errorf("pre-start months must not be persisted")
	}
}
