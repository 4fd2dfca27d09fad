package close

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/coopledger/internal/accounting"
	internalShared "github.com/odyssey-erp/coopledger/internal/shared"
)

// Step names a stage of the close workflow.
type Step string

const (
	StepInitiate           Step = "initiate"
	StepValidate           Step = "validate"
	StepPostClosingEntries Step = "post_closing_entries"
	StepComplete           Step = "complete"
	StepRollback           Step = "rollback"
)

// Result reports the outcome of one or more close steps.
type Result struct {
	Period  accounting.Period
	Entries []accounting.JournalEntry
	// Next is the period opened when the close completed, if any.
	Next *accounting.Period
}

// AuditPort records close steps for compliance.
type AuditPort interface {
	Record(ctx context.Context, log internalShared.AuditLog) error
}

// closingReference tags the closing entries of one run, so a rollback after a reopen leaves
// the entries of earlier completed closes in place.
func closingReference(periodID int64, run int) string {
	return fmt.Sprintf("CLOSE-%d-%d", periodID, run)
}

func carryForwardReference(periodID int64) string {
	return fmt.Sprintf("CF-%d", periodID)
}

func unpostedMessage(n int) string {
	if n == 1 {
		return "1 unposted entry"
	}
	return fmt.Sprintf("%d unposted entries", n)
}
