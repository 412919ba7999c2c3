package ledger

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoResponse is returned when the remote ledger could not be reached or
// answered with nothing. It is transient; the user may retry.
var ErrNoResponse = errors.New("no response from ledger RPC")

// RejectedError carries an explicit refusal reported by the remote ledger.
type RejectedError struct {
	Code    int
	Message string
}

func (e *RejectedError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("ledger rejected request (%d): %s", e.Code, e.Message)
	}
	return "ledger rejected request: " + e.Message
}

// Destination is a single output of a transfer.
type Destination struct {
	Address string `json:"address"`
	Amount  int64  `json:"amount"`
}

// WalletRef identifies a custodial wallet on the ledger side.
type WalletRef struct {
	ID      string
	Address string
}

// Balance is the ledger's view of a wallet.
type Balance struct {
	Balance int64
	Unlock  int64
	Pending uint64
	Height  uint64
}

// Batch is the result of a transfer call. Settled batches carry hashes,
// unrelayed batches carry metadata blobs that can be relayed later.
type Batch struct {
	Amounts  []int64  `json:"amount_list"`
	Fees     []int64  `json:"fee_list"`
	Hashes   []string `json:"tx_hash_list"`
	Metadata []string `json:"tx_metadata_list"`
	Error    string   `json:"error,omitempty"`
}

func (b *Batch) TotalAmount() int64 {
	var total int64
	for _, a := range b.Amounts {
		total += a
	}
	return total
}

func (b *Batch) TotalFee() int64 {
	var total int64
	for _, f := range b.Fees {
		total += f
	}
	return total
}

// Count returns the number of sub-transactions in the batch.
func (b *Batch) Count() int {
	if len(b.Hashes) > len(b.Metadata) {
		return len(b.Hashes)
	}
	return len(b.Metadata)
}

// Ledger moves funds out of custodial wallets.
type Ledger interface {
	Transfer(ctx context.Context, walletID string, dest Destination, relay bool) (*Batch, error)
	TransferMany(ctx context.Context, walletID string, dests []Destination, relay bool) (*Batch, error)
	Relay(ctx context.Context, walletID string, metadata []string) (*Batch, error)
}

// BalanceSource reports ground-truth balances.
type BalanceSource interface {
	Balance(ctx context.Context, wallet WalletRef) (*Balance, error)
}
