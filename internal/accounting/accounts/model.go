package accounts

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/coopledger/internal/accounting"
)

// CreateInput registers a chart of accounts node. NormalSide defaults from Type.
type CreateInput struct {
	Number      string `json:"number" validate:"required,max=20"`
	Name        string `json:"name" validate:"required,max=120"`
	Type        string `json:"type" validate:"required,oneof=ASSET LIABILITY EQUITY REVENUE EXPENSE"`
	NormalSide  string `json:"normal_side" validate:"omitempty,oneof=DEBIT CREDIT"`
	Currency    string `json:"currency" validate:"required,len=3,alpha"`
	AllowManual bool   `json:"allow_manual"`
	ActorID     int64  `json:"-"`
}

// ActivityLine is one posted line with the running balance after it.
type ActivityLine struct {
	accounting.PostedLine
	Running decimal.Decimal
}

// Activity is the movement of an account across an inclusive date range.
type Activity struct {
	Account     accounting.Account
	From        time.Time
	To          time.Time
	Opening     decimal.Decimal
	TotalDebit  decimal.Decimal
	TotalCredit decimal.Decimal
	Closing     decimal.Decimal
	Lines       []ActivityLine
}
