package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/Maphikza/tipbot-engine/internal/logger"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/checksum0/go-electrum/electrum"
)

// ElectrumConfig holds the configuration for an Electrum index server.
type ElectrumConfig struct {
	ServerAddr string
	UseSSL     bool
	Network    string
	Timeout    time.Duration
}

// ElectrumBalances reads on-chain balances of deposit addresses from an
// Electrum server. It is used as the balance source for BTC-family coins.
type ElectrumBalances struct {
	client  *electrum.Client
	params  *chaincfg.Params
	timeout time.Duration
}

var _ BalanceSource = (*ElectrumBalances)(nil)

func NewElectrumBalances(ctx context.Context, config ElectrumConfig) (*ElectrumBalances, error) {
	params, err := NetworkParams(config.Network)
	if err != nil {
		return nil, err
	}

	var client *electrum.Client
	if config.UseSSL {
		client, err = electrum.NewClientSSL(ctx, config.ServerAddr, nil)
	} else {
		client, err = electrum.NewClientTCP(ctx, config.ServerAddr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Electrum client: %w", err)
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ElectrumBalances{client: client, params: params, timeout: timeout}, nil
}

func (e *ElectrumBalances) Balance(ctx context.Context, wallet WalletRef) (*Balance, error) {
	scripthash, err := ScriptHash(wallet.Address, e.params)
	if err != nil {
		return nil, &RejectedError{Message: err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	res, err := e.client.GetBalance(ctx, scripthash)
	if err != nil {
		logger.Warn("electrum balance lookup failed", "address", wallet.Address, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrNoResponse, err)
	}

	// Electrum reports satoshis.
	confirmed := btcutil.Amount(int64(res.Confirmed))
	unconfirmed := btcutil.Amount(int64(res.Unconfirmed))

	balance := &Balance{
		Balance: int64(confirmed + unconfirmed),
		Unlock:  int64(confirmed),
	}
	if unconfirmed != 0 {
		balance.Pending = 1
	}
	if balance.Unlock > balance.Balance {
		balance.Unlock = balance.Balance
	}
	return balance, nil
}

func (e *ElectrumBalances) Close() {
	e.client.Shutdown()
}

// ScriptHash converts an address into the reversed sha256 of its output
// script, which is how Electrum indexes addresses.
func ScriptHash(address string, params *chaincfg.Params) (string, error) {
	addr, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return "", fmt.Errorf("invalid address %q: %w", address, err)
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return "", fmt.Errorf("failed to build output script: %w", err)
	}

	// Hash.String prints the digest byte-reversed.
	return chainhash.HashH(script).String(), nil
}

func NetworkParams(network string) (*chaincfg.Params, error) {
	switch network {
	case "", "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %q", network)
	}
}
