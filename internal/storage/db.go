package storage

import (
	"context"
	"database/sql"
	"time"
)

// DBTX is the subset of database/sql shared by *sql.DB and *sql.Tx, so the
// same query methods serve both direct calls and transaction-scoped work.
type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// Queries bundles all SQL access against one DBTX.
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns Queries bound to the given transaction.
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

const (
	dateLayout = "2006-01-02"
	// Fixed-width fraction keeps timestamps lexicographically ordered, so
	// SQL MAX over the TEXT column matches chronological order.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

func fmtDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

func parseDate(s string) time.Time {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		// Some drivers hand back full timestamps for date columns.
		if t2, err2 := time.Parse(timeLayout, s); err2 == nil {
			return t2.UTC()
		}
		return time.Time{}
	}
	return t
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		if t2, err2 := time.Parse(time.RFC3339, s); err2 == nil {
			return t2.UTC()
		}
		return time.Time{}
	}
	return t.UTC()
}
