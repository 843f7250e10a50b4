package core

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// MillsBase is the nominal total of participation mills in a building.
	MillsBase = 1000
)

type (
	// WeightBasis selects which per-apartment weight column drives a
	// weighted distribution.
	WeightBasis string

	// DistributionRule is the closed set of ways an expense can be split
	// across a building's roster.
	DistributionRule string

	// PayerResponsibility tags who ultimately carries a charge.
	PayerResponsibility string

	// PriorityMode governs whether reserve contributions are charged while
	// apartments still carry unpaid prior obligations.
	PriorityMode string

	// EntryType classifies a ledger entry.
	EntryType string

	// ReferenceType identifies the kind of source record a ledger entry
	// was derived from. Together with the reference ID it forms the
	// idempotency key for posting.
	ReferenceType string

	Date struct {
		time.Time
	}

	// YearMonth identifies one calendar month of one building's books.
	YearMonth struct {
		Year  int
		Month int
	}

	Money struct {
		Cents int64
	}
)

const (
	BasisParticipation WeightBasis = "participation"
	BasisHeating       WeightBasis = "heating"
	BasisElevator      WeightBasis = "elevator"
)

// ConsumptionBased reports whether zero weights are legitimate for this
// basis. Heating and elevator mills measure usage, so an apartment may
// genuinely have none; participation mills measure ownership and a zero
// there is a configuration mistake.
func (b WeightBasis) ConsumptionBased() bool {
	return b == BasisHeating || b == BasisElevator
}

const (
	RuleEqualShare         DistributionRule = "equal_share"
	RuleByParticipation    DistributionRule = "by_participation_mills"
	RuleByHeatingMills     DistributionRule = "by_heating_mills"
	RuleByElevatorMills    DistributionRule = "by_elevator_mills"
	RuleFixedPerApartment  DistributionRule = "fixed_per_apartment"
	RulePercentageOfOthers DistributionRule = "percentage_of_other_expenses"
)

const (
	PayerOwner    PayerResponsibility = "owner"
	PayerResident PayerResponsibility = "resident"
	PayerShared   PayerResponsibility = "shared"
)

const (
	PriorityAlways           PriorityMode = "always"
	PriorityAfterObligations PriorityMode = "after_obligations"
)

const (
	EntryChargeCreated       EntryType = "charge_created"
	EntryChargeIssued        EntryType = "charge_issued"
	EntryPaymentReceived     EntryType = "payment_received"
	EntryReserveContribution EntryType = "reserve_contribution"
	EntryBalanceAdjustment   EntryType = "balance_adjustment"
	EntryInterestPenalty     EntryType = "interest_penalty"
)

const (
	RefExpense    ReferenceType = "expense"
	RefPayment    ReferenceType = "payment"
	RefReserve    ReferenceType = "reserve"
	RefAdjustment ReferenceType = "adjustment"
)

// Apartment is one unit of a building's roster.
type Apartment struct {
	ID         int64
	BuildingID int64
	// Number orders apartments within a building. The lowest-numbered
	// apartment absorbs allocation remainders.
	Number             int
	ParticipationMills int64
	HeatingMills       int64
	ElevatorMills      int64
	// CurrentBalance is a materialized view over the ledger, recomputed
	// wholesale after every post. Positive cents = debt owed to the
	// building, negative = credit.
	CurrentBalance Money
}

// Weight returns the apartment's weight under the given basis.
func (a Apartment) Weight(basis WeightBasis) int64 {
	switch basis {
	case BasisHeating:
		return a.HeatingMills
	case BasisElevator:
		return a.ElevatorMills
	default:
		return a.ParticipationMills
	}
}

// ReserveFund is a building's reserve collection policy.
type ReserveFund struct {
	Goal           Money
	DurationMonths int
	StartDate      Date
	TargetDate     Date
	Basis          WeightBasis
	Priority       PriorityMode
}

func (rf ReserveFund) Validate() error {
	if rf.Goal.Cents <= 0 {
		return ErrInvalidAmount
	}
	if rf.DurationMonths < 1 {
		return errors.New("reserve duration must be at least one month")
	}
	if rf.StartDate.IsZero() || rf.TargetDate.IsZero() {
		return errors.New("reserve start and target dates are required")
	}
	if !rf.TargetDate.After(rf.StartDate.Time) {
		return errors.New("reserve target date must be after start date")
	}
	switch rf.Priority {
	case PriorityAlways, PriorityAfterObligations:
	default:
		return errors.New("invalid reserve priority mode")
	}
	return nil
}

// Building configuration as read by the engine. The engine never writes it.
type Building struct {
	ID   int64
	Name string
	// FinancialStart bounds every snapshot backfill chain. Months before
	// it carry zero previous obligations.
	FinancialStart Date
	DefaultBasis   WeightBasis
	Reserve        *ReserveFund
}

// Expense is an approved, immutable obligation of the building for a period.
// Edits must reverse and repost its ledger entries, never patch them.
type Expense struct {
	ID          uuid.UUID
	BuildingID  int64
	Description string
	Category    string
	Amount      Money
	IncurredOn  Date
	Rule        DistributionRule
	// FixedAmount is the flat per-apartment charge for RuleFixedPerApartment.
	FixedAmount Money
	// PercentBP is the percentage in basis points (250 = 2.50%) for
	// RulePercentageOfOthers; the expense amount is derived from it.
	PercentBP      int64
	Responsibility PayerResponsibility
	// TemplateID links back to a recurring expense template, 0 when the
	// expense was entered directly.
	TemplateID int64
}

func (e Expense) Validate() error {
	if e.ID == uuid.Nil {
		return errors.New("expense id is required")
	}
	if e.BuildingID == 0 {
		return errors.New("expense building is required")
	}
	if len(strings.TrimSpace(e.Description)) == 0 {
		return ErrEmptyDescription
	}
	if err := e.IncurredOn.Validate(); err != nil {
		return err
	}
	switch e.Rule {
	case RuleEqualShare, RuleByParticipation, RuleByHeatingMills, RuleByElevatorMills:
		if e.Amount.Cents <= 0 {
			return ErrInvalidAmount
		}
	case RuleFixedPerApartment:
		if e.FixedAmount.Cents <= 0 {
			return ErrInvalidAmount
		}
	case RulePercentageOfOthers:
		if e.PercentBP <= 0 {
			return ErrInvalidAmount
		}
	default:
		return ErrUnknownRule
	}
	switch e.Responsibility {
	case PayerOwner, PayerResident, PayerShared, "":
	default:
		return errors.New("invalid payer responsibility")
	}
	return nil
}

// Repetition is how often a recurring expense template fires.
type Repetition string

const (
	Monthly   Repetition = "monthly"
	Quarterly Repetition = "quarterly"
	Yearly    Repetition = "yearly"
)

// RecurringExpense is a template the worker turns into concrete expenses
// period after period (management fees, cleaning, lift maintenance).
type RecurringExpense struct {
	ID             int64
	BuildingID     int64
	Description    string
	Category       string
	Amount         Money
	Rule           DistributionRule
	FixedAmount    Money
	PercentBP      int64
	Responsibility PayerResponsibility
	Every          Repetition
	StartDate      Date
	EndDate        Date
	// LastGenerated is the incurred date of the most recent expense
	// produced from this template; zero when none has been yet.
	LastGenerated Date
	Active        bool
}

func (re RecurringExpense) Validate() error {
	if re.BuildingID == 0 {
		return errors.New("recurring expense building is required")
	}
	if len(strings.TrimSpace(re.Description)) == 0 {
		return ErrEmptyDescription
	}
	if err := re.StartDate.Validate(); err != nil {
		return errors.New("invalid start date: " + err.Error())
	}
	if !re.EndDate.IsZero() && re.EndDate.Before(re.StartDate.Time) {
		return errors.New("end date must be after start date")
	}
	switch re.Every {
	case Monthly, Quarterly, Yearly:
	default:
		return errors.New("invalid repetition type")
	}
	switch re.Rule {
	case RuleEqualShare, RuleByParticipation, RuleByHeatingMills, RuleByElevatorMills:
		if re.Amount.Cents <= 0 {
			return ErrInvalidAmount
		}
	case RuleFixedPerApartment:
		if re.FixedAmount.Cents <= 0 {
			return ErrInvalidAmount
		}
	case RulePercentageOfOthers:
		if re.PercentBP <= 0 {
			return ErrInvalidAmount
		}
	default:
		return ErrUnknownRule
	}
	return nil
}

// Payment is a pre-validated monetary receipt from one apartment.
type Payment struct {
	ID          uuid.UUID
	BuildingID  int64
	ApartmentID int64
	Amount      Money
	PaidOn      Date
	Method      string
	Payer       string
}

func (p Payment) Validate() error {
	if p.ID == uuid.Nil {
		return errors.New("payment id is required")
	}
	if p.BuildingID == 0 || p.ApartmentID == 0 {
		return errors.New("payment building and apartment are required")
	}
	if p.Amount.Cents <= 0 {
		return ErrInvalidAmount
	}
	return p.PaidOn.Validate()
}

// LedgerEntry is one immutable monetary movement on an apartment's account.
// Amounts are signed: charges positive, payments negative.
type LedgerEntry struct {
	ID          int64
	BuildingID  int64
	ApartmentID int64
	Amount      int64
	Type        EntryType
	Date        Date
	RefType     ReferenceType
	RefID       uuid.UUID
	CreatedAt   time.Time
}

// MonthlyBalance is a per-building snapshot of one calendar month.
type MonthlyBalance struct {
	BuildingID          int64
	Year                int
	Month               int
	TotalCharges        int64
	TotalPayments       int64
	PreviousObligations int64
	CarryForward        int64
	// ChainStart marks the first month at or after the building's
	// financial start: its previous obligations are zero by definition,
	// not because an ancestor resolved to zero.
	ChainStart bool
	UpdatedAt  time.Time
}

// Check verifies the carry-forward identity the snapshot chain depends on.
func (mb MonthlyBalance) Check() error {
	if mb.CarryForward != mb.PreviousObligations+mb.TotalCharges-mb.TotalPayments {
		return errors.New("carry forward does not reconcile with month totals")
	}
	return nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	return nil
}

// NewDate creates a Date at midnight UTC.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// YM returns the month the date falls in.
func (d Date) YM() YearMonth {
	return YearMonth{Year: d.Time.Year(), Month: int(d.Time.Month())}
}

// Start returns the first instant of the month in UTC.
func (ym YearMonth) Start() time.Time {
	return time.Date(ym.Year, time.Month(ym.Month), 1, 0, 0, 0, 0, time.UTC)
}

// End returns the first instant of the following month; ledger entries of
// the month are dated within [Start, End).
func (ym YearMonth) End() time.Time {
	return ym.Start().AddDate(0, 1, 0)
}

// Prev returns the preceding month.
func (ym YearMonth) Prev() YearMonth {
	t := ym.Start().AddDate(0, -1, 0)
	return YearMonth{Year: t.Year(), Month: int(t.Month())}
}

// Next returns the following month.
func (ym YearMonth) Next() YearMonth {
	t := ym.Start().AddDate(0, 1, 0)
	return YearMonth{Year: t.Year(), Month: int(t.Month())}
}

// Before reports whether ym precedes other.
func (ym YearMonth) Before(other YearMonth) bool {
	if ym.Year != other.Year {
		return ym.Year < other.Year
	}
	return ym.Month < other.Month
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}
