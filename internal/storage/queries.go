package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"condominio/internal/core"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

func (q *Queries) CreateBuilding(ctx context.Context, b core.Building) (int64, error) {
	reserve := b.Reserve
	if reserve == nil {
		reserve = &core.ReserveFund{Basis: core.BasisParticipation, Priority: core.PriorityAlways}
	}
	var reserveStart, reserveTarget any
	if !reserve.StartDate.IsZero() {
		reserveStart = fmtDate(reserve.StartDate.Time)
	}
	if !reserve.TargetDate.IsZero() {
		reserveTarget = fmtDate(reserve.TargetDate.Time)
	}
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO buildings (name, financial_start, default_basis,
			reserve_goal_cents, reserve_duration_months, reserve_start,
			reserve_target, reserve_basis, reserve_priority)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.Name, fmtDate(b.FinancialStart.Time), string(b.DefaultBasis),
		reserve.Goal.Cents, reserve.DurationMonths, reserveStart,
		reserveTarget, string(reserve.Basis), string(reserve.Priority))
	if err != nil {
		return 0, fmt.Errorf("insert building: %w", err)
	}
	return res.LastInsertId()
}

func (q *Queries) GetBuilding(ctx context.Context, id int64) (core.Building, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, name, financial_start, default_basis,
			reserve_goal_cents, reserve_duration_months, reserve_start,
			reserve_target, reserve_basis, reserve_priority
		FROM buildings WHERE id = ?`, id)
	return scanBuilding(row)
}

func (q *Queries) ListBuildings(ctx context.Context) ([]core.Building, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, name, financial_start, default_basis,
			reserve_goal_cents, reserve_duration_months, reserve_start,
			reserve_target, reserve_basis, reserve_priority
		FROM buildings ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list buildings: %w", err)
	}
	defer rows.Close()

	var out []core.Building
	for rows.Next() {
		b, err := scanBuilding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBuilding(row rowScanner) (core.Building, error) {
	var (
		b                           core.Building
		financialStart              string
		basis, resBasis, resPrio    string
		goalCents                   int64
		durationMonths              int
		reserveStart, reserveTarget sql.NullString
	)
	err := row.Scan(&b.ID, &b.Name, &financialStart, &basis,
		&goalCents, &durationMonths, &reserveStart, &reserveTarget, &resBasis, &resPrio)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Building{}, ErrNotFound
		}
		return core.Building{}, fmt.Errorf("scan building: %w", err)
	}
	b.FinancialStart = core.Date{Time: parseDate(financialStart)}
	b.DefaultBasis = core.WeightBasis(basis)
	if goalCents > 0 && durationMonths > 0 {
		rf := &core.ReserveFund{
			Goal:           core.Money{Cents: goalCents},
			DurationMonths: durationMonths,
			Basis:          core.WeightBasis(resBasis),
			Priority:       core.PriorityMode(resPrio),
		}
		if reserveStart.Valid {
			rf.StartDate = core.Date{Time: parseDate(reserveStart.String)}
		}
		if reserveTarget.Valid {
			rf.TargetDate = core.Date{Time: parseDate(reserveTarget.String)}
		}
		b.Reserve = rf
	}
	return b, nil
}

func (q *Queries) CreateApartment(ctx context.Context, a core.Apartment) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO apartments (building_id, number, participation_mills, heating_mills, elevator_mills)
		VALUES (?, ?, ?, ?, ?)`,
		a.BuildingID, a.Number, a.ParticipationMills, a.HeatingMills, a.ElevatorMills)
	if err != nil {
		return 0, fmt.Errorf("insert apartment: %w", err)
	}
	return res.LastInsertId()
}

func (q *Queries) GetApartment(ctx context.Context, id int64) (core.Apartment, error) {
	var a core.Apartment
	err := q.db.QueryRowContext(ctx, `
		SELECT id, building_id, number, participation_mills, heating_mills, elevator_mills, current_balance_cents
		FROM apartments WHERE id = ?`, id).
		Scan(&a.ID, &a.BuildingID, &a.Number, &a.ParticipationMills,
			&a.HeatingMills, &a.ElevatorMills, &a.CurrentBalance.Cents)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Apartment{}, ErrNotFound
		}
		return core.Apartment{}, fmt.Errorf("get apartment: %w", err)
	}
	return a, nil
}

// ListApartments returns the building's roster ordered by apartment number.
func (q *Queries) ListApartments(ctx context.Context, buildingID int64) ([]core.Apartment, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, building_id, number, participation_mills, heating_mills, elevator_mills, current_balance_cents
		FROM apartments WHERE building_id = ? ORDER BY number`, buildingID)
	if err != nil {
		return nil, fmt.Errorf("list apartments: %w", err)
	}
	defer rows.Close()

	var out []core.Apartment
	for rows.Next() {
		var a core.Apartment
		if err := rows.Scan(&a.ID, &a.BuildingID, &a.Number, &a.ParticipationMills,
			&a.HeatingMills, &a.ElevatorMills, &a.CurrentBalance.Cents); err != nil {
			return nil, fmt.Errorf("scan apartment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (q *Queries) UpdateApartmentBalance(ctx context.Context, apartmentID, cents int64) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE apartments SET current_balance_cents = ? WHERE id = ?`, cents, apartmentID)
	if err != nil {
		return fmt.Errorf("update apartment balance: %w", err)
	}
	return nil
}

// SumApartmentLedger recomputes the apartment balance from scratch: the
// signed sum of every live ledger entry. Never an incremental delta.
func (q *Queries) SumApartmentLedger(ctx context.Context, apartmentID int64) (int64, error) {
	var sum int64
	err := q.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0) FROM ledger_entries
		WHERE apartment_id = ? AND reversed_at IS NULL`, apartmentID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum apartment ledger: %w", err)
	}
	return sum, nil
}

func (q *Queries) CreateExpense(ctx context.Context, e core.Expense) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO expenses (id, building_id, description, category, amount_cents,
			incurred_on, rule, fixed_amount_cents, percent_bp, responsibility, template_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.BuildingID, e.Description, e.Category, e.Amount.Cents,
		fmtDate(e.IncurredOn.Time), string(e.Rule), e.FixedAmount.Cents,
		e.PercentBP, string(e.Responsibility), e.TemplateID)
	if err != nil {
		return fmt.Errorf("insert expense: %w", err)
	}
	return nil
}

func (q *Queries) GetExpense(ctx context.Context, id uuid.UUID) (core.Expense, error) {
	var (
		e          core.Expense
		rawID      string
		incurredOn string
		rule, resp string
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT id, building_id, description, category, amount_cents,
			incurred_on, rule, fixed_amount_cents, percent_bp, responsibility, template_id
		FROM expenses WHERE id = ?`, id.String()).
		Scan(&rawID, &e.BuildingID, &e.Description, &e.Category, &e.Amount.Cents,
			&incurredOn, &rule, &e.FixedAmount.Cents, &e.PercentBP, &resp, &e.TemplateID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Expense{}, ErrNotFound
		}
		return core.Expense{}, fmt.Errorf("get expense: %w", err)
	}
	e.ID, err = uuid.Parse(rawID)
	if err != nil {
		return core.Expense{}, fmt.Errorf("parse expense id: %w", err)
	}
	e.IncurredOn = core.Date{Time: parseDate(incurredOn)}
	e.Rule = core.DistributionRule(rule)
	e.Responsibility = core.PayerResponsibility(resp)
	return e, nil
}

func (q *Queries) CreatePayment(ctx context.Context, p core.Payment) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO payments (id, building_id, apartment_id, amount_cents, paid_on, method, payer)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(), p.BuildingID, p.ApartmentID, p.Amount.Cents,
		fmtDate(p.PaidOn.Time), p.Method, p.Payer)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (q *Queries) GetPayment(ctx context.Context, id uuid.UUID) (core.Payment, error) {
	var (
		p      core.Payment
		rawID  string
		paidOn string
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT id, building_id, apartment_id, amount_cents, paid_on, method, payer
		FROM payments WHERE id = ?`, id.String()).
		Scan(&rawID, &p.BuildingID, &p.ApartmentID, &p.Amount.Cents, &paidOn, &p.Method, &p.Payer)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Payment{}, ErrNotFound
		}
		return core.Payment{}, fmt.Errorf("get payment: %w", err)
	}
	p.ID, err = uuid.Parse(rawID)
	if err != nil {
		return core.Payment{}, fmt.Errorf("parse payment id: %w", err)
	}
	p.PaidOn = core.Date{Time: parseDate(paidOn)}
	return p, nil
}

func (q *Queries) CreateRecurringExpense(ctx context.Context, re core.RecurringExpense) (int64, error) {
	var endDate any
	if !re.EndDate.IsZero() {
		endDate = fmtDate(re.EndDate.Time)
	}
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO recurring_expenses (building_id, description, category, amount_cents,
			rule, fixed_amount_cents, percent_bp, responsibility, every, start_date, end_date, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		re.BuildingID, re.Description, re.Category, re.Amount.Cents,
		string(re.Rule), re.FixedAmount.Cents, re.PercentBP, string(re.Responsibility),
		string(re.Every), fmtDate(re.StartDate.Time), endDate)
	if err != nil {
		return 0, fmt.Errorf("insert recurring expense: %w", err)
	}
	return res.LastInsertId()
}

func (q *Queries) ListActiveRecurringExpenses(ctx context.Context, buildingID int64) ([]core.RecurringExpense, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, building_id, description, category, amount_cents, rule,
			fixed_amount_cents, percent_bp, responsibility, every, start_date, end_date, last_generated
		FROM recurring_expenses WHERE building_id = ? AND active = 1 ORDER BY id`, buildingID)
	if err != nil {
		return nil, fmt.Errorf("list recurring expenses: %w", err)
	}
	defer rows.Close()

	var out []core.RecurringExpense
	for rows.Next() {
		var (
			re                core.RecurringExpense
			rule, resp, every string
			startDate         string
			endDate, lastGen  sql.NullString
		)
		if err := rows.Scan(&re.ID, &re.BuildingID, &re.Description, &re.Category,
			&re.Amount.Cents, &rule, &re.FixedAmount.Cents, &re.PercentBP,
			&resp, &every, &startDate, &endDate, &lastGen); err != nil {
			return nil, fmt.Errorf("scan recurring expense: %w", err)
		}
		re.Rule = core.DistributionRule(rule)
		re.Responsibility = core.PayerResponsibility(resp)
		re.Every = core.Repetition(every)
		re.StartDate = core.Date{Time: parseDate(startDate)}
		if endDate.Valid {
			re.EndDate = core.Date{Time: parseDate(endDate.String)}
		}
		if lastGen.Valid {
			re.LastGenerated = core.Date{Time: parseDate(lastGen.String)}
		}
		re.Active = true
		out = append(out, re)
	}
	return out, rows.Err()
}

func (q *Queries) UpdateRecurringLastGenerated(ctx context.Context, id int64, on time.Time) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE recurring_expenses SET last_generated = ? WHERE id = ?`, fmtDate(on), id)
	if err != nil {
		return fmt.Errorf("update recurring last generated: %w", err)
	}
	return nil
}

func (q *Queries) InsertLedgerEntry(ctx context.Context, e core.LedgerEntry) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO ledger_entries (building_id, apartment_id, amount_cents,
			entry_type, entry_date, reference_type, reference_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.BuildingID, e.ApartmentID, e.Amount, string(e.Type),
		fmtDate(e.Date.Time), string(e.RefType), e.RefID.String(), fmtTime(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("insert ledger entry: %w", err)
	}
	return res.LastInsertId()
}

// CountLiveEntriesForReference counts non-reversed, non-adjustment entries
// for an idempotency key.
func (q *Queries) CountLiveEntriesForReference(ctx context.Context, refType core.ReferenceType, refID uuid.UUID) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM ledger_entries
		WHERE reference_type = ? AND reference_id = ?
		  AND entry_type != 'balance_adjustment' AND reversed_at IS NULL`,
		string(refType), refID.String()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count entries for reference: %w", err)
	}
	return n, nil
}

func (q *Queries) ListEntriesForReference(ctx context.Context, refType core.ReferenceType, refID uuid.UUID) ([]core.LedgerEntry, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, building_id, apartment_id, amount_cents, entry_type, entry_date,
			reference_type, reference_id, created_at
		FROM ledger_entries
		WHERE reference_type = ? AND reference_id = ? AND reversed_at IS NULL
		ORDER BY id`, string(refType), refID.String())
	if err != nil {
		return nil, fmt.Errorf("list entries for reference: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ListApartmentEntries returns an apartment's live entries, oldest first.
func (q *Queries) ListApartmentEntries(ctx context.Context, apartmentID int64) ([]core.LedgerEntry, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, building_id, apartment_id, amount_cents, entry_type, entry_date,
			reference_type, reference_id, created_at
		FROM ledger_entries
		WHERE apartment_id = ? AND reversed_at IS NULL
		ORDER BY entry_date, id`, apartmentID)
	if err != nil {
		return nil, fmt.Errorf("list apartment entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]core.LedgerEntry, error) {
	var out []core.LedgerEntry
	for rows.Next() {
		var (
			e              core.LedgerEntry
			entryType      string
			entryDate      string
			refType, refID string
			createdAt      string
		)
		if err := rows.Scan(&e.ID, &e.BuildingID, &e.ApartmentID, &e.Amount,
			&entryType, &entryDate, &refType, &refID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		e.Type = core.EntryType(entryType)
		e.Date = core.Date{Time: parseDate(entryDate)}
		e.RefType = core.ReferenceType(refType)
		parsed, err := uuid.Parse(refID)
		if err != nil {
			return nil, fmt.Errorf("parse reference id: %w", err)
		}
		e.RefID = parsed
		e.CreatedAt = parseTime(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkEntriesReversed tombstones a reference's live entries. Amounts are
// never touched; the rows stay in place for audit.
func (q *Queries) MarkEntriesReversed(ctx context.Context, refType core.ReferenceType, refID uuid.UUID, at time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE ledger_entries SET reversed_at = ?
		WHERE reference_type = ? AND reference_id = ? AND reversed_at IS NULL`,
		fmtTime(at), string(refType), refID.String())
	if err != nil {
		return 0, fmt.Errorf("mark entries reversed: %w", err)
	}
	return res.RowsAffected()
}

// MonthTotals aggregates a building's live entries dated within [start, end)
// into charge and payment totals. Positive amounts are charges, negative
// payments; adjustments land on their sign's side.
func (q *Queries) MonthTotals(ctx context.Context, buildingID int64, start, end time.Time) (charges, payments int64, err error) {
	err = q.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN amount_cents > 0 THEN amount_cents ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN amount_cents < 0 THEN -amount_cents ELSE 0 END), 0)
		FROM ledger_entries
		WHERE building_id = ? AND reversed_at IS NULL
		  AND entry_date >= ? AND entry_date < ?`,
		buildingID, fmtDate(start), fmtDate(end)).Scan(&charges, &payments)
	if err != nil {
		return 0, 0, fmt.Errorf("month totals: %w", err)
	}
	return charges, payments, nil
}

// NewestEntryChange returns the latest created_at or reversed_at among a
// building's entries dated within [start, end). A reversal counts as a
// change because it alters the month's totals.
func (q *Queries) NewestEntryChange(ctx context.Context, buildingID int64, start, end time.Time) (time.Time, bool, error) {
	var newest sql.NullString
	err := q.db.QueryRowContext(ctx, `
		SELECT MAX(MAX(created_at, COALESCE(reversed_at, created_at)))
		FROM ledger_entries
		WHERE building_id = ? AND entry_date >= ? AND entry_date < ?`,
		buildingID, fmtDate(start), fmtDate(end)).Scan(&newest)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("newest entry change: %w", err)
	}
	if !newest.Valid {
		return time.Time{}, false, nil
	}
	return parseTime(newest.String), true, nil
}

// CountApartmentsInDebtBefore counts apartments whose live entries dated
// strictly before the cutoff sum to a positive balance. This is the
// carry-forward the reserve policy's after_obligations mode looks at.
func (q *Queries) CountApartmentsInDebtBefore(ctx context.Context, buildingID int64, cutoff time.Time) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM (
			SELECT apartment_id, SUM(amount_cents) AS balance
			FROM ledger_entries
			WHERE building_id = ? AND reversed_at IS NULL AND entry_date < ?
			GROUP BY apartment_id
			HAVING balance > 0
		)`, buildingID, fmtDate(cutoff)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count apartments in debt: %w", err)
	}
	return n, nil
}

func (q *Queries) GetMonthlyBalance(ctx context.Context, buildingID int64, ym core.YearMonth) (core.MonthlyBalance, bool, error) {
	var (
		mb        core.MonthlyBalance
		chainInt  int
		updatedAt string
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT building_id, year, month, total_charges_cents, total_payments_cents,
			previous_obligations_cents, carry_forward_cents, chain_start, updated_at
		FROM monthly_balances WHERE building_id = ? AND year = ? AND month = ?`,
		buildingID, ym.Year, ym.Month).
		Scan(&mb.BuildingID, &mb.Year, &mb.Month, &mb.TotalCharges, &mb.TotalPayments,
			&mb.PreviousObligations, &mb.CarryForward, &chainInt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.MonthlyBalance{}, false, nil
		}
		return core.MonthlyBalance{}, false, fmt.Errorf("get monthly balance: %w", err)
	}
	mb.ChainStart = chainInt != 0
	mb.UpdatedAt = parseTime(updatedAt)
	return mb, true, nil
}

// UpsertMonthlyBalance replaces the snapshot row wholesale. Snapshots are
// recomputed, never partially patched.
func (q *Queries) UpsertMonthlyBalance(ctx context.Context, mb core.MonthlyBalance) error {
	chainInt := 0
	if mb.ChainStart {
		chainInt = 1
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO monthly_balances (building_id, year, month, total_charges_cents,
			total_payments_cents, previous_obligations_cents, carry_forward_cents, chain_start, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (building_id, year, month) DO UPDATE SET
			total_charges_cents = excluded.total_charges_cents,
			total_payments_cents = excluded.total_payments_cents,
			previous_obligations_cents = excluded.previous_obligations_cents,
			carry_forward_cents = excluded.carry_forward_cents,
			chain_start = excluded.chain_start,
			updated_at = excluded.updated_at`,
		mb.BuildingID, mb.Year, mb.Month, mb.TotalCharges, mb.TotalPayments,
		mb.PreviousObligations, mb.CarryForward, chainInt, fmtTime(mb.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert monthly balance: %w", err)
	}
	return nil
}
