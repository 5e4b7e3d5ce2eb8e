// Package credential_validator checks delegated signing credentials against
// their validity window and against the calls they are asked to authorise.
package credential_validator

import (
	"fmt"
	"time"

	"github.com/archon-research/dca/internal/domain/entity"
)

// Validator is stateless.
type Validator struct{}

// New returns a Validator.
func New() *Validator {
	return &Validator{}
}

// Validate returns entity.ErrCredentialExpired when now is outside the
// credential window, or when the credential is not bound to the order's
// funding account. Expiry is never extended.
func (v *Validator) Validate(order *entity.Order, now time.Time) error {
	cred := order.Credential
	if cred.BoundAccount != order.FundingAccount {
		return fmt.Errorf("%w: credential %s bound to %s, not %s",
			entity.ErrCredentialScope, cred.KeyID, cred.BoundAccount.Hex(), order.FundingAccount.Hex())
	}
	return cred.ValidAt(now)
}

// AuthorizeBatch checks every call of batch against the credential scope.
func (v *Validator) AuthorizeBatch(cred entity.Credential, batch *entity.Batch) error {
	if batch.Account != cred.BoundAccount {
		return fmt.Errorf("%w: batch account %s differs from bound account %s",
			entity.ErrCredentialScope, batch.Account.Hex(), cred.BoundAccount.Hex())
	}
	for i, call := range batch.Calls {
		if err := cred.Permits(call); err != nil {
			return fmt.Errorf("call %d (%s): %w", i, call.Kind, err)
		}
	}
	return nil
}
