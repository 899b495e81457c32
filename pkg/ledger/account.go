package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// AccountKey identifies a token account: the balance of one asset held by one owner.
// Treasuries are token accounts whose owner is a custodial authority.
type AccountKey struct {
	Owner common.Address
	Asset common.Address
}

func (k AccountKey) String() string {
	return fmt.Sprintf("%s/%s", k.Owner.Hex(), k.Asset.Hex())
}

// TokenAccount is the persisted state of an AccountKey.
// Balances are in the asset's smallest unit.
type TokenAccount struct {
	Owner   common.Address `json:"owner"`
	Asset   common.Address `json:"asset"`
	Balance uint64         `json:"balance"`
}

func (a *TokenAccount) Key() AccountKey {
	return AccountKey{Owner: a.Owner, Asset: a.Asset}
}

// Validate checks account invariants
func (a *TokenAccount) Validate() error {
	if a.Owner == (common.Address{}) {
		return fmt.Errorf("token account without owner")
	}
	if a.Asset == (common.Address{}) {
		return fmt.Errorf("token account %s without asset", a.Owner.Hex())
	}
	return nil
}
