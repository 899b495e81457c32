package app

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/exchangemarket/pkg/ledger"
)

// MaxFaucetAmount caps a single faucet drip.
const MaxFaucetAmount uint64 = 1_000_000_000_000

var ErrFaucetDisabled = errors.New("faucet disabled")

// Faucet mints test balance for devnets. Disabled unless Config.EnableFaucet.
func (a *App) Faucet(owner, asset common.Address, amount uint64) error {
	if !a.cfg.EnableFaucet {
		return ErrFaucetDisabled
	}
	if amount == 0 || amount > MaxFaucetAmount {
		return fmt.Errorf("%w: faucet amount must be in (0, %d]", ledger.ErrInvalidAmount, MaxFaucetAmount)
	}
	if owner == (common.Address{}) || asset == (common.Address{}) {
		return fmt.Errorf("faucet needs owner and asset")
	}
	if err := a.ledger.Deposit(ledger.AccountKey{Owner: owner, Asset: asset}, amount); err != nil {
		return err
	}
	a.log.Infow("faucet_drip", "owner", owner.Hex(), "asset", asset.Hex(), "amount", amount)
	return nil
}
