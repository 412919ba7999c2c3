package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Maphikza/tipbot-engine/internal/logger"
	"github.com/Maphikza/tipbot-engine/internal/metrics"
	"github.com/Maphikza/tipbot-engine/lib/ledger"
)

// metadataSeparator joins the unrelayed transaction blobs of one batch.
const metadataSeparator = ":"

// StagedTransfer is what the registry keeps for a batch awaiting
// confirmation.
type StagedTransfer struct {
	Kind       TransferKind `json:"kind"`
	Coin       string       `json:"coin"`
	WalletID   string       `json:"wallet_id"`
	TxMetadata string       `json:"tx_metadata"`
	Amounts    []int64      `json:"amounts"`
	Fees       []int64      `json:"fees"`
	Recipients []Recipient  `json:"recipients"`
}

type DispatchRequest struct {
	Kind         TransferKind
	SenderID     string
	Coin         string
	WalletID     string
	Recipients   []Recipient
	Destinations []ledger.Destination
	Immediate    bool
}

// DispatchResult carries the ledger batch. Token is set when the batch was
// staged instead of relayed.
type DispatchResult struct {
	Batch *ledger.Batch
	Token string
}

func (r *DispatchResult) Staged() bool {
	return r.Token != ""
}

// Dispatcher submits destination batches to the ledger. It never touches
// cached balances.
type Dispatcher struct {
	ledgers  *ledger.Registry
	registry *Registry
}

func NewDispatcher(ledgers *ledger.Registry, registry *Registry) *Dispatcher {
	return &Dispatcher{ledgers: ledgers, registry: registry}
}

func (d *Dispatcher) Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResult, error) {
	if len(req.Destinations) == 0 {
		return nil, newError(NoEligibleRecipients, "no destinations to send to")
	}
	adapter, ok := d.ledgers.Get(req.Coin)
	if !ok {
		return nil, newError(InvalidRequest, "no ledger for coin %s", req.Coin)
	}

	batch, err := d.transfer(ctx, adapter.Ledger, req)
	if err != nil {
		return nil, err
	}
	if req.Immediate {
		return &DispatchResult{Batch: batch}, nil
	}

	staged := StagedTransfer{
		Kind:       req.Kind,
		Coin:       req.Coin,
		WalletID:   req.WalletID,
		TxMetadata: strings.Join(batch.Metadata, metadataSeparator),
		Amounts:    batch.Amounts,
		Fees:       batch.Fees,
		Recipients: req.Recipients,
	}
	blob, err := json.Marshal(staged)
	if err != nil {
		return nil, fmt.Errorf("failed to encode staged transfer: %w", err)
	}

	token, err := d.registry.Stage(ctx, req.SenderID, string(blob))
	if err != nil {
		return nil, err
	}
	return &DispatchResult{Batch: batch, Token: token}, nil
}

func (d *Dispatcher) transfer(ctx context.Context, l ledger.Ledger, req DispatchRequest) (*ledger.Batch, error) {
	op := "transfer_many"
	start := time.Now()

	var (
		batch *ledger.Batch
		err   error
	)
	if len(req.Destinations) == 1 {
		op = "transfer"
		batch, err = l.Transfer(ctx, req.WalletID, req.Destinations[0], req.Immediate)
	} else {
		batch, err = l.TransferMany(ctx, req.WalletID, req.Destinations, req.Immediate)
	}

	if err == nil && batch == nil {
		err = ledger.ErrNoResponse
	}
	if err == nil && batch.Error != "" {
		err = &ledger.RejectedError{Message: batch.Error}
	}
	if err != nil {
		e := ledgerError(err)
		metrics.LedgerCall(req.Coin, op, string(e.Kind), start)
		logger.Warn("transfer failed", "coin", req.Coin, "sender", req.SenderID, "recipients", len(req.Destinations), "error", err)
		return nil, e
	}

	metrics.LedgerCall(req.Coin, op, "ok", start)
	return batch, nil
}

// Settle consumes the owner's staged transfer and relays it.
func (d *Dispatcher) Settle(ctx context.Context, ownerID, token string) (*StagedTransfer, *ledger.Batch, error) {
	var (
		staged StagedTransfer
		result *ledger.Batch
	)
	err := d.registry.Consume(ctx, ownerID, token, func(ctx context.Context, metadata string) error {
		if err := json.Unmarshal([]byte(metadata), &staged); err != nil {
			return fmt.Errorf("failed to decode staged transfer: %w", err)
		}
		adapter, ok := d.ledgers.Get(staged.Coin)
		if !ok {
			return newError(InvalidRequest, "no ledger for coin %s", staged.Coin)
		}

		start := time.Now()
		relayed, err := adapter.Ledger.Relay(ctx, staged.WalletID, strings.Split(staged.TxMetadata, metadataSeparator))
		if err == nil && relayed == nil {
			err = ledger.ErrNoResponse
		}
		if err != nil {
			e := ledgerError(err)
			metrics.LedgerCall(staged.Coin, "relay", string(e.Kind), start)
			if relayed != nil && len(relayed.Hashes) > 0 {
				logger.Error("staged transfer partially relayed", "owner", ownerID, "relayed", relayed.Hashes, "error", err)
			}
			return e
		}
		metrics.LedgerCall(staged.Coin, "relay", "ok", start)

		result = &ledger.Batch{
			Amounts: staged.Amounts,
			Fees:    staged.Fees,
			Hashes:  relayed.Hashes,
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &staged, result, nil
}
