package worker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"condominio/internal/amqp"
	"condominio/internal/balance"
	"condominio/internal/core"
	"condominio/internal/export/memory"
	"condominio/internal/storage"
)

func newTestWorker(t *testing.T) (*ExportWorker, *storage.SQLiteRepository, *memory.Store) {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "condo.db"))
	if err != nil {
		t.Fatalf("open test repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	store := memory.New()
	return NewExportWorker(repo, balance.NewService(repo), store), repo, store
}

func seedBuilding(t *testing.T, repo *storage.SQLiteRepository, name string) (buildingID, apartmentID int64) {
	t.Helper()
	ctx := context.Background()
	q := repo.Queries()

	buildingID, err := q.CreateBuilding(ctx, core.Building{
		Name:           name,
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

func TestExportAllAppendsOneRowPerBuilding(t *testing.T) {
	w, repo, store := newTestWorker(t)
	ctx := context.Background()

	b1, a1 := seedBuilding(t, repo, "Via Roma 12")
	seedBuilding(t, repo, "Corso Milano 5")

	if _, err := repo.Queries().InsertLedgerEntry(ctx, core.LedgerEntry{
		BuildingID: b1, ApartmentID: a1,
		Amount: 80_00, Type: core.EntryChargeIssued,
		Date: core.NewDate(2025, 3, 4), RefType: core.RefExpense, RefID: uuid.New(),
	}); err != nil {
		t.Fatalf("insert ledger entry: %v", err)
	}

	if err := w.ExportAll(ctx, core.YearMonth{Year: 2025, Month: 3}); err != nil {
		t.Fatalf("export all: %v", err)
	}

	rows := store.Rows()
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	byName := map[string]int64{}
	for _, r := range rows {
		if r.Year != 2025 || r.Month != 3 {
			t.Errorf("row period = %d-%d, want 2025-3", r.Year, r.Month)
		}
		byName[r.BuildingName] = r.CarryForward
	}
	if byName["Via Roma 12"] != 80_00 {
		t.Errorf("active building carry forward = %d, want 8000", byName["Via Roma 12"])
	}
	if byName["Corso Milano 5"] != 0 {
		t.Errorf("idle building carry forward = %d, want 0", byName["Corso Milano 5"])
	}
}

func TestHandleLedgerPostedExportsAffectedMonth(t *testing.T) {
	w, repo, store := newTestWorker(t)
	ctx := context.Background()

	buildingID, apartmentID := seedBuilding(t, repo, "Piazza Dante 8")
	if _, err := repo.Queries().InsertLedgerEntry(ctx, core.LedgerEntry{
		BuildingID: buildingID, ApartmentID: apartmentID,
		Amount: 55_00, Type: core.EntryChargeIssued,
		Date: core.NewDate(2025, 2, 10), RefType: core.RefExpense, RefID: uuid.New(),
	}); err != nil {
		t.Fatalf("insert ledger entry: %v", err)
	}

	msg := &amqp.LedgerPostedMessage{
		RefType:    core.RefExpense,
		RefID:      uuid.New(),
		BuildingID: buildingID,
		EntryCount: 1,
		TotalCents: 55_00,
		Timestamp:  time.Date(2025, 2, 10, 12, 0, 0, 0, time.UTC),
	}
	if err := w.HandleLedgerPosted(ctx, msg); err != nil {
		t.Fatalf("handle ledger posted: %v", err)
	}

	rows := store.Rows()
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if rows[0].Month != 2 || rows[0].TotalCharges != 55_00 {
		t.Errorf("row = %+v, want february charges 5500", rows[0])
	}
}
