// Package services orchestrates the engine's pieces: allocating and posting
// expenses, collecting reserve contributions, and generating expenses from
// recurring templates.
//
// This file implements the Strategy Pattern for recurring template dueness
// checking. Each repetition type has its own strategy encapsulating the
// logic for determining whether a template should fire.
package services

import (
	"fmt"
	"time"

	"condominio/internal/core"
)

// DuenessChecker is the strategy interface for checking if a recurring
// template is due. Each implementation encapsulates the algorithm for a
// specific repetition type.
type DuenessChecker interface {
	// IsDue returns true if the template should fire, given when it last
	// generated an expense and the current time.
	IsDue(lastGenerated, now time.Time, startDate core.Date) bool
}

// MonthlyChecker implements DuenessChecker for monthly templates.
type MonthlyChecker struct{}

// IsDue returns true if we're in a new month and have reached the target day.
func (MonthlyChecker) IsDue(lastGenerated, now time.Time, startDate core.Date) bool {
	if lastGenerated.IsZero() {
		return true
	}

	// Already generated this month?
	if lastGenerated.Year() == now.Year() && lastGenerated.Month() == now.Month() {
		return false
	}

	return now.Day() >= targetDayIn(now, startDate.Day())
}

// QuarterlyChecker implements DuenessChecker for quarterly templates.
type QuarterlyChecker struct{}

// IsDue returns true once three months have passed and the target day is
// reached.
func (QuarterlyChecker) IsDue(lastGenerated, now time.Time, startDate core.Date) bool {
	if lastGenerated.IsZero() {
		return true
	}

	monthsSince := (now.Year()-lastGenerated.Year())*12 + int(now.Month()) - int(lastGenerated.Month())
	if monthsSince < 3 {
		return false
	}
	if monthsSince > 3 {
		return true
	}

	return now.Day() >= targetDayIn(now, startDate.Day())
}

// YearlyChecker implements DuenessChecker for yearly templates.
type YearlyChecker struct{}

// IsDue returns true if we're in a new year and have reached the target
// month and day.
func (YearlyChecker) IsDue(lastGenerated, now time.Time, startDate core.Date) bool {
	if lastGenerated.IsZero() {
		return true
	}

	// Already generated this year?
	if lastGenerated.Year() == now.Year() {
		return false
	}

	targetMonth := startDate.Month()
	if now.Month() < targetMonth {
		return false
	}
	if now.Month() == targetMonth {
		return now.Day() >= targetDayIn(now, startDate.Day())
	}

	// We're past the target month
	return true
}

// targetDayIn clamps a target day to the current month's length, so a
// template anchored on the 31st still fires in February.
func targetDayIn(now time.Time, targetDay int) int {
	lastDayOfMonth := time.Date(now.Year(), now.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if targetDay > lastDayOfMonth {
		return lastDayOfMonth
	}
	return targetDay
}

// duenessStrategies maps repetition types to their corresponding checkers.
var duenessStrategies = map[core.Repetition]DuenessChecker{
	core.Monthly:   MonthlyChecker{},
	core.Quarterly: QuarterlyChecker{},
	core.Yearly:    YearlyChecker{},
}

// GetDuenessChecker returns the checker for a repetition type.
func GetDuenessChecker(every core.Repetition) (DuenessChecker, error) {
	checker, ok := duenessStrategies[every]
	if !ok {
		return nil, fmt.Errorf("unknown repetition type: %s", every)
	}
	return checker, nil
}
