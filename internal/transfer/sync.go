package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/Maphikza/tipbot-engine/internal/logger"
	"github.com/Maphikza/tipbot-engine/internal/metrics"
	"github.com/Maphikza/tipbot-engine/lib/ledger"
)

// SyncResult is the outcome of a balance refresh. Wallet is the fresh
// snapshot, or the cached one when Err is set. Absent means the user has no
// wallet for the coin.
type SyncResult struct {
	Wallet *Wallet
	Absent bool
	Err    error
}

// Synchronizer refreshes cached wallet snapshots from the ledger.
type Synchronizer struct {
	wallets WalletStore
	ledgers *ledger.Registry
	now     func() time.Time
}

func NewSynchronizer(wallets WalletStore, ledgers *ledger.Registry, now func() time.Time) *Synchronizer {
	if now == nil {
		now = time.Now
	}
	return &Synchronizer{wallets: wallets, ledgers: ledgers, now: now}
}

// Sync returns an error only when the cached wallet itself cannot be read.
// Ledger failures are reported through SyncResult.Err.
func (s *Synchronizer) Sync(ctx context.Context, userID, coin string) (SyncResult, error) {
	cached, err := s.wallets.FindWallet(ctx, userID, coin)
	if err != nil {
		return SyncResult{}, fmt.Errorf("failed to load wallet: %w", err)
	}
	if cached == nil {
		return SyncResult{Absent: true}, nil
	}

	adapter, ok := s.ledgers.Get(coin)
	if !ok {
		return SyncResult{Wallet: cached, Err: newError(InvalidRequest, "no ledger for coin %s", coin)}, nil
	}

	start := time.Now()
	bal, err := adapter.Balances.Balance(ctx, ledger.WalletRef{ID: cached.WalletID, Address: cached.Address})
	if err != nil {
		metrics.LedgerCall(coin, "balance", string(ledgerError(err).Kind), start)
		logger.Warn("balance sync failed, using cached snapshot", "user", userID, "coin", coin, "error", err)
		return SyncResult{Wallet: cached, Err: ledgerError(err)}, nil
	}
	metrics.LedgerCall(coin, "balance", "ok", start)

	fresh := *cached
	fresh.Balance = bal.Balance
	fresh.Unlock = bal.Unlock
	if fresh.Unlock > fresh.Balance {
		fresh.Unlock = fresh.Balance
	}
	fresh.Pending = bal.Pending
	fresh.Height = bal.Height
	fresh.Updated = s.now()

	if err := s.wallets.SaveWallet(ctx, &fresh); err != nil {
		logger.Error("failed to persist synced wallet", "user", userID, "coin", coin, "error", err)
	}
	return SyncResult{Wallet: &fresh}, nil
}
