package mappings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/odyssey-erp/coopledger/internal/accounting"
	"github.com/odyssey-erp/coopledger/internal/accounting/shared"
)

// Resolver binds roles to account numbers at startup and resolves them against the store.
type Resolver struct {
	numbers map[Role]string
}

// NewResolver builds a Resolver from configured account numbers.
func NewResolver(wk accounting.WellKnownAccounts) *Resolver {
	return &Resolver{numbers: map[Role]string{
		RoleCash:             strings.TrimSpace(wk.Cash),
		RoleLoansReceivable:  strings.TrimSpace(wk.LoansReceivable),
		RoleInterestIncome:   strings.TrimSpace(wk.InterestIncome),
		RoleCustomerDeposits: strings.TrimSpace(wk.CustomerDeposits),
		RoleRetainedEarnings: strings.TrimSpace(wk.RetainedEarnings),
	}}
}

// Number returns the account number bound to role.
func (r *Resolver) Number(role Role) (string, error) {
	number := r.numbers[role]
	if number == "" {
		return "", shared.Validation("account_mapping", string(role), "no account number configured", shared.ErrMappingNotFound)
	}
	return number, nil
}

// Get resolves role to its account through reader.
func (r *Resolver) Get(ctx context.Context, reader accounting.Reader, role Role) (AccountMapping, error) {
	number, err := r.Number(role)
	if err != nil {
		return AccountMapping{}, err
	}
	acc, err := reader.GetAccountByNumber(ctx, number)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return AccountMapping{}, shared.NotFound("account_mapping", fmt.Sprintf("%s=%s", role, number), shared.ErrMappingNotFound)
		}
		return AccountMapping{}, err
	}
	if !acc.IsActive {
		return AccountMapping{}, shared.Validation("account_mapping", string(role), fmt.Sprintf("account %s is inactive", number), shared.ErrAccountInactive)
	}
	return AccountMapping{Role: role, Number: number, Account: acc}, nil
}

// Verify checks that every configured role resolves to an active account.
func (r *Resolver) Verify(ctx context.Context, store accounting.Store) error {
	return store.View(ctx, func(ctx context.Context, reader accounting.Reader) error {
		var errs []error
		for _, role := range Roles {
			if _, err := r.Get(ctx, reader, role); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}
