package transfer

import (
	"context"
	"fmt"
	"strconv"

	"github.com/Maphikza/tipbot-engine/internal/logger"
)

// Validator turns a requested or configured amount into a checked one and
// projects the cost of a transfer.
type Validator struct {
	settings SettingStore
}

func NewValidator(settings SettingStore) *Validator {
	return &Validator{settings: settings}
}

// Amount returns the amount to send for kind. A nil requested amount falls
// back to the user's saved setting, then to the coin default. An out of range
// amount yields ValidationFailed with the clamped value attached.
func (v *Validator) Amount(ctx context.Context, kind TransferKind, requested *int64, userID string, rules CoinRules) (int64, error) {
	b := kind.bounds(rules)

	var amount int64
	if requested != nil {
		amount = *requested
	} else {
		amount = b.Default
		raw, ok, err := v.settings.GetSetting(ctx, userID, rules.Coin.Ticker, string(kind))
		if err != nil {
			return 0, fmt.Errorf("failed to load %s setting: %w", kind, err)
		}
		if ok {
			saved, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				logger.Warn("ignoring malformed amount setting", "user", userID, "field", kind, "value", raw)
			} else {
				amount = saved
			}
		}
	}

	if clamped := b.Clamp(amount); clamped != amount {
		return clamped, &Error{
			Kind: ValidationFailed,
			Message: fmt.Sprintf("%s amount exceed min (%s) or max (%s)",
				kind, rules.Coin.Format(b.Min), rules.Coin.Format(b.Max)),
			Clamped: clamped,
		}
	}
	return amount, nil
}

// Staged reports whether the user wants kind transfers held for confirmation.
// Unset means staged.
func (v *Validator) Staged(ctx context.Context, kind TransferKind, userID, coin string) (bool, error) {
	raw, ok, err := v.settings.GetSetting(ctx, userID, coin, kind.submitField())
	if err != nil {
		return false, fmt.Errorf("failed to load %s setting: %w", kind.submitField(), err)
	}
	if !ok {
		return true, nil
	}
	return raw != ToggleDisable, nil
}

// Preflight rejects a transfer whose projected cost exceeds what the wallet
// can spend.
func Preflight(wallet *Wallet, estimate int64, rules CoinRules) error {
	available := wallet.Available()
	if estimate > available {
		shortfall := estimate - available
		return &Error{
			Kind:      ValidationFailed,
			Message:   "Insufficient fund estimate require " + rules.Coin.Format(estimate) + ", short by " + rules.Coin.Format(shortfall),
			Shortfall: shortfall,
		}
	}
	return nil
}
