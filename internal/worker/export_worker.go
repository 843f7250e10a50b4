// Package worker contains the long-running export loop that mirrors
// monthly statements out to the administrator's spreadsheet.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"condominio/internal/amqp"
	"condominio/internal/balance"
	"condominio/internal/core"
	"condominio/internal/export"
	"condominio/internal/storage"
)

// ExportWorker reacts to ledger postings by re-exporting the affected
// building's statement, and periodically exports every building as a backup
// in case messages are lost.
type ExportWorker struct {
	storage *storage.SQLiteRepository
	balance *balance.Service
	writer  export.StatementWriter
}

func NewExportWorker(storage *storage.SQLiteRepository, balanceSvc *balance.Service, writer export.StatementWriter) *ExportWorker {
	return &ExportWorker{
		storage: storage,
		balance: balanceSvc,
		writer:  writer,
	}
}

// HandleLedgerPosted processes one posting notification: it refreshes the
// snapshot of the month the posting landed in and exports it.
func (w *ExportWorker) HandleLedgerPosted(ctx context.Context, msg *amqp.LedgerPostedMessage) error {
	slog.InfoContext(ctx, "Processing posting notification",
		"reference_type", msg.RefType,
		"reference_id", msg.RefID,
		"building_id", msg.BuildingID)

	ym := core.YearMonth{Year: msg.Timestamp.Year(), Month: int(msg.Timestamp.Month())}
	return w.exportBuilding(ctx, msg.BuildingID, ym)
}

// ExportAll exports the given month's statement for every building. This is
// the periodic backup pass.
func (w *ExportWorker) ExportAll(ctx context.Context, ym core.YearMonth) error {
	buildings, err := w.storage.Queries().ListBuildings(ctx)
	if err != nil {
		return fmt.Errorf("list buildings: %w", err)
	}

	errorCount := 0
	for _, b := range buildings {
		if err := w.exportBuilding(ctx, b.ID, ym); err != nil {
			slog.ErrorContext(ctx, "Failed to export building statement",
				"building_id", b.ID, "error", err)
			errorCount++
		}
	}

	slog.InfoContext(ctx, "Statement export pass complete",
		"total", len(buildings),
		"errors", errorCount,
		"year", ym.Year,
		"month", ym.Month)
	return nil
}

func (w *ExportWorker) exportBuilding(ctx context.Context, buildingID int64, ym core.YearMonth) error {
	b, err := w.storage.Queries().GetBuilding(ctx, buildingID)
	if err != nil {
		return fmt.Errorf("get building: %w", err)
	}

	mb, err := w.balance.Snapshot(ctx, buildingID, ym)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	ref, err := w.writer.AppendStatement(ctx, export.StatementRow{
		BuildingID:          b.ID,
		BuildingName:        b.Name,
		Year:                mb.Year,
		Month:               mb.Month,
		TotalCharges:        mb.TotalCharges,
		TotalPayments:       mb.TotalPayments,
		PreviousObligations: mb.PreviousObligations,
		CarryForward:        mb.CarryForward,
	})
	if err != nil {
		return fmt.Errorf("append statement: %w", err)
	}

	slog.InfoContext(ctx, "Exported building statement",
		"building_id", buildingID,
		"export_ref", ref,
		"carry_forward_cents", mb.CarryForward)
	return nil
}
