package transfer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Maphikza/tipbot-engine/lib/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(l *fakeLedger) (*Dispatcher, *fakePending, *clock) {
	c := newClock()
	store := newFakePending()
	return NewDispatcher(ledgersWith(l), newTestRegistry(store, c)), store, c
}

func dispatchRequest(n int, immediate bool) DispatchRequest {
	req := DispatchRequest{Kind: KindTip, SenderID: "alice", Coin: "xla", WalletID: "w-alice", Immediate: immediate}
	for i := 0; i < n; i++ {
		addr := string(rune('a'+i)) + "-addr"
		req.Recipients = append(req.Recipients, Recipient{UserID: "u" + addr, Handle: "h" + addr, Address: addr})
		req.Destinations = append(req.Destinations, ledger.Destination{Address: addr, Amount: 500})
	}
	return req
}

func TestDispatchEmptyNeverCallsLedger(t *testing.T) {
	l := &fakeLedger{}
	d, _, _ := newTestDispatcher(l)

	_, err := d.Dispatch(context.Background(), dispatchRequest(0, true))
	assert.Equal(t, NoEligibleRecipients, KindOf(err))
	assert.Zero(t, l.TransferCalls())
}

func TestDispatchImmediate(t *testing.T) {
	l := &fakeLedger{}
	d, store, _ := newTestDispatcher(l)

	res, err := d.Dispatch(context.Background(), dispatchRequest(1, true))
	require.NoError(t, err)
	assert.False(t, res.Staged())
	assert.Equal(t, []string{"hash-a-addr"}, res.Batch.Hashes)

	calls := l.Calls("transfer")
	require.Len(t, calls, 1, "a single destination uses the single transfer call")
	assert.True(t, calls[0].Relay)
	assert.Equal(t, "w-alice", calls[0].WalletID)
	assert.Zero(t, store.Len())

	_, err = d.Dispatch(context.Background(), dispatchRequest(3, true))
	require.NoError(t, err)
	assert.Len(t, l.Calls("transfer_many"), 1)
}

func TestDispatchLedgerFailures(t *testing.T) {
	tests := []struct {
		name   string
		ledger *fakeLedger
		kind   Kind
	}{
		{name: "transport", ledger: &fakeLedger{err: ledger.ErrNoResponse}, kind: RpcUnavailable},
		{name: "nil_batch", ledger: &fakeLedger{nilBatch: true}, kind: RpcUnavailable},
		{name: "embedded_error", ledger: &fakeLedger{rejected: "not enough money"}, kind: RpcRejected},
		{name: "rejected", ledger: &fakeLedger{err: &ledger.RejectedError{Code: -4, Message: "locked"}}, kind: RpcRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, store, _ := newTestDispatcher(tt.ledger)
			_, err := d.Dispatch(context.Background(), dispatchRequest(2, false))
			assert.Equal(t, tt.kind, KindOf(err))
			assert.Zero(t, store.Len(), "nothing staged on failure")
		})
	}
}

func TestDispatchStagedThenSettle(t *testing.T) {
	ctx := context.Background()
	l := &fakeLedger{}
	d, store, c := newTestDispatcher(l)

	res, err := d.Dispatch(ctx, dispatchRequest(2, false))
	require.NoError(t, err)
	require.True(t, res.Staged())
	assert.Equal(t, "tok-1", res.Token)
	assert.False(t, l.Calls("transfer_many")[0].Relay)

	entry, err := store.FindByToken(ctx, res.Token)
	require.NoError(t, err)
	require.NotNil(t, entry)
	var envelope StagedTransfer
	require.NoError(t, json.Unmarshal([]byte(entry.Metadata), &envelope))
	assert.Equal(t, "metaa:metab", envelope.TxMetadata)
	assert.Equal(t, "w-alice", envelope.WalletID)
	assert.Len(t, envelope.Recipients, 2)

	c.Set(t0.Add(30 * time.Second))
	staged, batch, err := d.Settle(ctx, "alice", res.Token)
	require.NoError(t, err)
	assert.Equal(t, KindTip, staged.Kind)
	assert.Equal(t, []string{"relayed-metaa", "relayed-metab"}, batch.Hashes)
	assert.Equal(t, int64(1000), batch.TotalAmount())
	assert.Equal(t, []string{"metaa", "metab"}, l.Calls("relay")[0].Metadata)

	_, _, err = d.Settle(ctx, "alice", res.Token)
	assert.Equal(t, PendingTransactionExpiredOrUnknown, KindOf(err))
	assert.Len(t, l.Calls("relay"), 1)
}

func TestSettleRelayFailure(t *testing.T) {
	ctx := context.Background()
	l := &fakeLedger{}
	d, store, _ := newTestDispatcher(l)

	res, err := d.Dispatch(ctx, dispatchRequest(1, false))
	require.NoError(t, err)

	l.relayErr = &ledger.RejectedError{Message: "double spend"}
	_, _, err = d.Settle(ctx, "alice", res.Token)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, RpcRejected, e.Kind)
	assert.Equal(t, "double spend", e.Message)
	assert.Zero(t, store.Len(), "a failed relay still consumes the entry")
}

func TestSettleExpired(t *testing.T) {
	ctx := context.Background()
	l := &fakeLedger{}
	d, _, c := newTestDispatcher(l)

	res, err := d.Dispatch(ctx, dispatchRequest(1, false))
	require.NoError(t, err)

	c.Set(t0.Add(61 * time.Second))
	_, _, err = d.Settle(ctx, "alice", res.Token)
	assert.Equal(t, PendingTransactionExpiredOrUnknown, KindOf(err))
	assert.Empty(t, l.Calls("relay"))
}
