package mappings

import "github.com/odyssey-erp/coopledger/internal/accounting"

// Role names an account the ledger posts to without the caller choosing it.
type Role string

const (
	RoleCash             Role = "CASH"
	RoleLoansReceivable  Role = "LOANS_RECEIVABLE"
	RoleInterestIncome   Role = "INTEREST_INCOME"
	RoleCustomerDeposits Role = "CUSTOMER_DEPOSITS"
	RoleRetainedEarnings Role = "RETAINED_EARNINGS"
)

// Roles lists every role in a stable order.
var Roles = []Role{RoleCash, RoleLoansReceivable, RoleInterestIncome, RoleCustomerDeposits, RoleRetainedEarnings}

// AccountMapping links a role to a ledger account.
type AccountMapping struct {
	Role    Role
	Number  string
	Account accounting.Account
}
