// Package backend selects the statement export adapter at startup.
package backend

import (
	"context"
	"fmt"
	"log/slog"

	"condominio/internal/export"
	gsheet "condominio/internal/export/google"
	"condominio/internal/export/memory"
)

// Type identifies a statement export backend.
type Type string

const (
	SheetsBackend Type = "sheets"
	MemoryBackend Type = "memory"
)

func (t Type) IsValid() bool {
	return t == SheetsBackend || t == MemoryBackend
}

// NewStatementWriter creates the writer for the configured backend. The
// sheets backend reads its credentials from the environment.
func NewStatementWriter(ctx context.Context, kind Type) (export.StatementWriter, error) {
	switch kind {
	case SheetsBackend:
		cli, err := gsheet.NewFromEnv(ctx)
		if err != nil {
			return nil, fmt.Errorf("initialize Google Sheets backend: %w", err)
		}
		slog.InfoContext(ctx, "Initialized Google Sheets statement backend")
		return cli, nil
	case MemoryBackend:
		slog.InfoContext(ctx, "Initialized in-memory statement backend")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("invalid export backend: %s", kind)
	}
}
