package ledger

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrAmountOverflow is returned by Parse when the amount does not fit in
// int64 atomic units. Parse still returns math.MaxInt64 alongside it.
var ErrAmountOverflow = errors.New("amount exceeds the atomic unit range")

var maxAtomic = decimal.NewFromInt(math.MaxInt64)

// Coin describes how a currency's amounts are written by humans and how the
// pre-flight fee is projected. Amounts are always carried in atomic units.
type Coin struct {
	Ticker   string
	Decimals int32
	FeeRate  decimal.Decimal
}

// Parse converts human text ("1.25") into atomic units.
func (c Coin) Parse(text string) (int64, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(text))
	if err != nil {
		return 0, fmt.Errorf("invalid %s amount %q", c.Ticker, text)
	}
	if !value.IsPositive() {
		return 0, fmt.Errorf("%s amount must be positive", c.Ticker)
	}

	atomic := value.Shift(c.Decimals)
	if !atomic.Equal(atomic.Truncate(0)) {
		return 0, fmt.Errorf("%s amount %q has more than %d decimals", c.Ticker, text, c.Decimals)
	}
	if atomic.GreaterThan(maxAtomic) {
		return math.MaxInt64, fmt.Errorf("%s amount %q: %w", c.Ticker, text, ErrAmountOverflow)
	}
	return atomic.IntPart(), nil
}

// IsAmount reports whether text looks like an amount rather than a handle.
func (c Coin) IsAmount(text string) bool {
	_, err := decimal.NewFromString(strings.TrimSpace(text))
	return err == nil
}

// Format renders atomic units with the coin's fixed precision.
func (c Coin) Format(amount int64) string {
	return decimal.New(amount, -c.Decimals).StringFixed(c.Decimals) + " " + strings.ToUpper(c.Ticker)
}

// EstimateFee projects the total cost of sending amount to each recipient
// using the coin's fee rate.
func (c Coin) EstimateFee(amount int64, recipients int) int64 {
	return EstimateFee(amount, recipients, c.FeeRate)
}

// EstimateFee returns ceil(amount * recipients * (1 + feeRate)). It is a
// pre-flight projection only; the ledger reports the real fee.
func EstimateFee(amount int64, recipients int, feeRate decimal.Decimal) int64 {
	if amount <= 0 || recipients <= 0 {
		return 0
	}
	total := decimal.NewFromInt(amount).
		Mul(decimal.NewFromInt(int64(recipients))).
		Mul(decimal.NewFromInt(1).Add(feeRate))
	return total.Ceil().IntPart()
}
