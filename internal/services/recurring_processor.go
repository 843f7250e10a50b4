package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"condominio/internal/core"
	"condominio/internal/storage"
)

// expenseNamespace seeds deterministic IDs for expenses generated from
// recurring templates, so an at-least-once scheduler retrying a period
// regenerates the same expense and the ledger deduplicates it.
var expenseNamespace = uuid.MustParse("c6a7e013-2d84-45bd-9a02-3f58b19f7c42")

// GeneratedExpenseID derives the expense ID for one template firing in one
// period.
func GeneratedExpenseID(templateID int64, period string) uuid.UUID {
	return uuid.NewSHA1(expenseNamespace, []byte(fmt.Sprintf("recurring/%d/%s", templateID, period)))
}

// RecurringProcessor turns recurring templates into concrete posted
// expenses, period after period.
type RecurringProcessor struct {
	storage    *storage.SQLiteRepository
	allocation *AllocationService
}

func NewRecurringProcessor(storage *storage.SQLiteRepository, allocation *AllocationService) *RecurringProcessor {
	return &RecurringProcessor{
		storage:    storage,
		allocation: allocation,
	}
}

// ProcessDueTemplates posts an expense for every active template of the
// building that is due at now. A template that fails is skipped, not
// retried within the run; the next tick picks it up again.
func (p *RecurringProcessor) ProcessDueTemplates(ctx context.Context, buildingID int64, now time.Time) (int, error) {
	if p.storage == nil || p.allocation == nil {
		return 0, fmt.Errorf("processor not properly initialized")
	}

	templates, err := p.storage.Queries().ListActiveRecurringExpenses(ctx, buildingID)
	if err != nil {
		return 0, fmt.Errorf("list active recurring expenses: %w", err)
	}

	slog.InfoContext(ctx, "Processing recurring templates",
		"building_id", buildingID,
		"total_active", len(templates),
		"processing_date", now.Format("2006-01-02"))

	processedCount := 0

	for _, re := range templates {
		due, err := p.isDue(re, now)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to check if template is due",
				"template_id", re.ID,
				"error", err)
			continue
		}
		if !due {
			continue
		}

		expense := core.Expense{
			ID:             GeneratedExpenseID(re.ID, now.Format("2006-01")),
			BuildingID:     re.BuildingID,
			Description:    re.Description,
			Category:       re.Category,
			Amount:         re.Amount,
			IncurredOn:     core.Date{Time: now},
			Rule:           re.Rule,
			FixedAmount:    re.FixedAmount,
			PercentBP:      re.PercentBP,
			Responsibility: re.Responsibility,
			TemplateID:     re.ID,
		}

		if _, err := p.allocation.PostExpense(ctx, expense); err != nil {
			slog.ErrorContext(ctx, "Failed to post expense from recurring template",
				"template_id", re.ID,
				"description", re.Description,
				"error", err)
			continue
		}

		if err := p.storage.Queries().UpdateRecurringLastGenerated(ctx, re.ID, now); err != nil {
			slog.ErrorContext(ctx, "Failed to update last generated date",
				"template_id", re.ID,
				"error", err)
			// Continue anyway - the expense was posted and the
			// deterministic ID keeps the retry idempotent.
		}

		processedCount++
		slog.InfoContext(ctx, "Posted expense from recurring template",
			"template_id", re.ID,
			"description", re.Description,
			"amount_cents", re.Amount.Cents,
			"every", re.Every)
	}

	slog.InfoContext(ctx, "Recurring template processing complete",
		"building_id", buildingID,
		"processed", processedCount,
		"total_checked", len(templates))

	return processedCount, nil
}

// isDue applies the template's window and repetition strategy.
func (p *RecurringProcessor) isDue(re core.RecurringExpense, now time.Time) (bool, error) {
	if now.Before(re.StartDate.Time) {
		return false, nil
	}
	if !re.EndDate.IsZero() && now.After(re.EndDate.Time) {
		return false, nil
	}

	checker, err := GetDuenessChecker(re.Every)
	if err != nil {
		return false, err
	}
	return checker.IsDue(re.LastGenerated.Time, now, re.StartDate), nil
}
