package ledger

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/Maphikza/tipbot-engine/internal/logger"
	"github.com/ethereum/go-ethereum/rpc"
)

// RPCConfig holds the connection settings for a wallet daemon that speaks
// JSON-RPC 2.0 over HTTP.
type RPCConfig struct {
	URL      string
	Username string
	Password string
	Timeout  time.Duration
}

// WalletRPC is a Ledger and BalanceSource backed by a custodial wallet daemon.
// Every method takes a single request object as its only positional param.
type WalletRPC struct {
	client  *rpc.Client
	timeout time.Duration
}

var (
	_ Ledger        = (*WalletRPC)(nil)
	_ BalanceSource = (*WalletRPC)(nil)
)

func DialWalletRPC(ctx context.Context, cfg RPCConfig) (*WalletRPC, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("wallet rpc url is empty")
	}

	var opts []rpc.ClientOption
	if cfg.Username != "" {
		creds := base64.StdEncoding.EncodeToString([]byte(cfg.Username + ":" + cfg.Password))
		opts = append(opts, rpc.WithHeader("Authorization", "Basic "+creds))
	}

	client, err := rpc.DialOptions(ctx, cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial wallet rpc %s: %w", cfg.URL, err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WalletRPC{client: client, timeout: timeout}, nil
}

func (w *WalletRPC) Close() {
	w.client.Close()
}

type balanceParams struct {
	WalletID string `json:"wallet_id"`
}

type balanceResult struct {
	Balance        int64  `json:"balance"`
	UnlockedAmount int64  `json:"unlocked_balance"`
	BlocksToUnlock uint64 `json:"blocks_to_unlock"`
	Height         uint64 `json:"height"`
	Error          string `json:"error,omitempty"`
}

func (w *WalletRPC) Balance(ctx context.Context, wallet WalletRef) (*Balance, error) {
	var res *balanceResult
	if err := w.call(ctx, &res, "get_balance", balanceParams{WalletID: wallet.ID}); err != nil {
		return nil, err
	}
	if res == nil {
		return nil, ErrNoResponse
	}
	if res.Error != "" {
		return nil, &RejectedError{Message: res.Error}
	}
	return &Balance{
		Balance: res.Balance,
		Unlock:  res.UnlockedAmount,
		Pending: res.BlocksToUnlock,
		Height:  res.Height,
	}, nil
}

type transferParams struct {
	WalletID      string        `json:"wallet_id"`
	Destinations  []Destination `json:"destinations"`
	DoNotRelay    bool          `json:"do_not_relay"`
	GetTxMetadata bool          `json:"get_tx_metadata"`
}

type singleTransferResult struct {
	Amount     int64  `json:"amount"`
	Fee        int64  `json:"fee"`
	TxHash     string `json:"tx_hash"`
	TxMetadata string `json:"tx_metadata"`
	Error      string `json:"error,omitempty"`
}

func (w *WalletRPC) Transfer(ctx context.Context, walletID string, dest Destination, relay bool) (*Batch, error) {
	params := transferParams{
		WalletID:      walletID,
		Destinations:  []Destination{dest},
		DoNotRelay:    !relay,
		GetTxMetadata: !relay,
	}

	var res *singleTransferResult
	if err := w.call(ctx, &res, "transfer", params); err != nil {
		return nil, err
	}
	if res == nil {
		return nil, ErrNoResponse
	}
	if res.Error != "" {
		return nil, &RejectedError{Message: res.Error}
	}

	batch := &Batch{
		Amounts: []int64{res.Amount},
		Fees:    []int64{res.Fee},
	}
	if res.TxHash != "" {
		batch.Hashes = []string{res.TxHash}
	}
	if res.TxMetadata != "" {
		batch.Metadata = []string{res.TxMetadata}
	}
	return batch, nil
}

func (w *WalletRPC) TransferMany(ctx context.Context, walletID string, dests []Destination, relay bool) (*Batch, error) {
	params := transferParams{
		WalletID:      walletID,
		Destinations:  dests,
		DoNotRelay:    !relay,
		GetTxMetadata: !relay,
	}

	var res *Batch
	if err := w.call(ctx, &res, "transfer_split", params); err != nil {
		return nil, err
	}
	if res == nil {
		return nil, ErrNoResponse
	}
	if res.Error != "" {
		return nil, &RejectedError{Message: res.Error}
	}
	return res, nil
}

type relayParams struct {
	WalletID string `json:"wallet_id"`
	Hex      string `json:"hex"`
}

type relayResult struct {
	TxHash string `json:"tx_hash"`
	Error  string `json:"error,omitempty"`
}

// Relay broadcasts previously created unrelayed transactions in order. It
// stops at the first failure; hashes relayed so far are returned with the error.
func (w *WalletRPC) Relay(ctx context.Context, walletID string, metadata []string) (*Batch, error) {
	batch := &Batch{}
	for _, meta := range metadata {
		var res *relayResult
		if err := w.call(ctx, &res, "relay_tx", relayParams{WalletID: walletID, Hex: meta}); err != nil {
			return batch, err
		}
		if res == nil {
			return batch, ErrNoResponse
		}
		if res.Error != "" {
			return batch, &RejectedError{Message: res.Error}
		}
		batch.Hashes = append(batch.Hashes, res.TxHash)
	}
	return batch, nil
}

func (w *WalletRPC) call(ctx context.Context, result interface{}, method string, params interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	err := w.client.CallContext(ctx, result, method, params)
	if err != nil {
		logger.Warn("wallet rpc call failed", "method", method, "error", err)
	}
	return classifyRPCError(err)
}

// classifyRPCError separates explicit JSON-RPC error objects from transport
// failures, timeouts and empty results.
func classifyRPCError(err error) error {
	if err == nil {
		return nil
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return &RejectedError{Code: rpcErr.ErrorCode(), Message: rpcErr.Error()}
	}
	return fmt.Errorf("%w: %v", ErrNoResponse, err)
}
