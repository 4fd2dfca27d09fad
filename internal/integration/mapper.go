package integration

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/coopledger/internal/accounting"
)

func debit(accountID int64, amount decimal.Decimal, description string) accounting.JournalLine {
	return accounting.JournalLine{AccountID: accountID, Amount: amount, Side: accounting.SideDebit, Description: description}
}

func credit(accountID int64, amount decimal.Decimal, description string) accounting.JournalLine {
	return accounting.JournalLine{AccountID: accountID, Amount: amount, Side: accounting.SideCredit, Description: description}
}
