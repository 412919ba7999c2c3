package transfer

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Maphikza/tipbot-engine/lib/ledger"
)

// Bounds is the allowed range and default for an amount setting, in atomic units.
type Bounds struct {
	Min     int64
	Max     int64
	Default int64
}

// Clamp returns v forced into [Min, Max].
func (b Bounds) Clamp(v int64) int64 {
	if v < b.Min {
		return b.Min
	}
	if v > b.Max {
		return b.Max
	}
	return v
}

// CoinRules is the per-coin configuration the engine works with.
type CoinRules struct {
	Coin ledger.Coin
	Tip  Bounds
	Rain Bounds
}

// TransferKind is the flow that moves funds.
type TransferKind string

const (
	KindTip  TransferKind = "tip"
	KindRain TransferKind = "rain"
)

func (k TransferKind) bounds(rules CoinRules) Bounds {
	if k == KindRain {
		return rules.Rain
	}
	return rules.Tip
}

// submitField names the toggle that selects staged confirmation for k.
func (k TransferKind) submitField() string {
	return string(k) + "_submit"
}

const (
	ToggleEnable  = "enable"
	ToggleDisable = "disable"
)

type fieldType int

const (
	amountField fieldType = iota
	toggleField
)

type fieldRule struct {
	typ  fieldType
	kind TransferKind
}

// settingFields is the table of user-settable fields.
var settingFields = map[string]fieldRule{
	"tip":         {typ: amountField, kind: KindTip},
	"tip_submit":  {typ: toggleField, kind: KindTip},
	"rain":        {typ: amountField, kind: KindRain},
	"rain_submit": {typ: toggleField, kind: KindRain},
}

// SettingFields returns the names of user-settable fields.
func SettingFields() []string {
	return []string{"tip", "tip_submit", "rain", "rain_submit"}
}

// NormalizeSetting checks a human-entered value against the field table and
// returns the form stored in the setting store. Amounts are stored in atomic
// units.
func NormalizeSetting(field, value string, rules CoinRules) (string, error) {
	rule, ok := settingFields[field]
	if !ok {
		return "", newError(InvalidRequest, "unknown setting %q, expected one of %s", field, strings.Join(SettingFields(), ", "))
	}

	switch rule.typ {
	case toggleField:
		v := strings.ToLower(strings.TrimSpace(value))
		if v != ToggleEnable && v != ToggleDisable {
			return "", newError(InvalidRequest, "%s must be %s or %s", field, ToggleEnable, ToggleDisable)
		}
		return v, nil
	default:
		amount, err := rules.Coin.Parse(value)
		if err != nil && !errors.Is(err, ledger.ErrAmountOverflow) {
			return "", &Error{Kind: InvalidRequest, Message: err.Error()}
		}
		b := rule.kind.bounds(rules)
		if clamped := b.Clamp(amount); clamped != amount {
			return "", &Error{
				Kind:    ValidationFailed,
				Message: fmt.Sprintf("%s must be between %s and %s", field, rules.Coin.Format(b.Min), rules.Coin.Format(b.Max)),
				Clamped: clamped,
			}
		}
		return strconv.FormatInt(amount, 10), nil
	}
}
