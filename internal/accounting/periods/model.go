package periods

import "time"

// FiscalYearInput creates a fiscal year in PLANNED state.
type FiscalYearInput struct {
	Year      int
	Code      string
	Name      string
	StartDate time.Time
	EndDate   time.Time
	ActorID   int64
}

// PeriodInput creates a financial period inside a fiscal year.
type PeriodInput struct {
	FiscalYearID int64
	Name         string
	StartDate    time.Time
	EndDate      time.Time
	ActorID      int64
}
