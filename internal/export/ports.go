// Package export defines the outbound ports for publishing monthly
// statements to the administrator's spreadsheet.
package export

import (
	"context"
)

// StatementRow is one building-month line of the exported statement.
type StatementRow struct {
	BuildingID          int64
	BuildingName        string
	Year                int
	Month               int
	TotalCharges        int64
	TotalPayments       int64
	PreviousObligations int64
	CarryForward        int64
}

// Ports for outbound adapters.
type (
	StatementWriter interface {
		// AppendStatement writes one statement row and returns a backend
		// specific row reference.
		AppendStatement(ctx context.Context, row StatementRow) (rowRef string, err error)
	}
)
