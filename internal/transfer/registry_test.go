package transfer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(store PendingStore, c *clock) *Registry {
	n := 0
	return NewRegistry(store, 60*time.Second,
		WithClock(c.Now),
		WithTokenSource(func() string {
			n++
			return fmt.Sprintf("tok-%d", n)
		}),
	)
}

func TestRegistryConsumeBeforeExpiry(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	store := newFakePending()
	r := newTestRegistry(store, c)

	token, err := r.Stage(ctx, "alice", "payload")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)

	c.Set(t0.Add(59 * time.Second))

	var got string
	err = r.Consume(ctx, "alice", token, func(_ context.Context, metadata string) error {
		got = metadata
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "payload", got)
	assert.Zero(t, store.Len())

	err = r.Consume(ctx, "alice", token, func(context.Context, string) error {
		t.Fatal("finalize must not run twice")
		return nil
	})
	assert.Equal(t, PendingTransactionExpiredOrUnknown, KindOf(err))
}

func TestRegistryExpiry(t *testing.T) {
	for _, offset := range []time.Duration{60 * time.Second, 61 * time.Second} {
		t.Run(offset.String(), func(t *testing.T) {
			ctx := context.Background()
			c := newClock()
			store := newFakePending()
			r := newTestRegistry(store, c)

			token, err := r.Stage(ctx, "alice", "payload")
			require.NoError(t, err)

			c.Set(t0.Add(offset))
			called := false
			err = r.Consume(ctx, "alice", token, func(context.Context, string) error {
				called = true
				return nil
			})
			assert.Equal(t, PendingTransactionExpiredOrUnknown, KindOf(err))
			assert.False(t, called)
			assert.Zero(t, store.Len(), "expired entry is dropped")
		})
	}
}

func TestRegistryConflict(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	store := newFakePending()
	r := newTestRegistry(store, c)

	_, err := r.Stage(ctx, "alice", "first")
	require.NoError(t, err)

	c.Set(t0.Add(30 * time.Second))
	_, err = r.Stage(ctx, "alice", "second")
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, PendingTransactionConflict, e.Kind)
	assert.Equal(t, "Confirmations still pending. Unable to create new request", e.Message)

	// Other owners are independent.
	_, err = r.Stage(ctx, "bob", "other")
	require.NoError(t, err)

	// Once the first entry expires a new one can be staged.
	c.Set(t0.Add(90 * time.Second))
	token, err := r.Stage(ctx, "alice", "third")
	require.NoError(t, err)
	assert.Equal(t, "tok-3", token)

	entry, err := r.Pending(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "third", entry.Metadata)
}

func TestRegistryCreateRaceIsConflict(t *testing.T) {
	store := newFakePending()
	store.createErr = ErrOwnerHasPending
	r := newTestRegistry(store, newClock())

	_, err := r.Stage(context.Background(), "alice", "payload")
	assert.Equal(t, PendingTransactionConflict, KindOf(err))
}

func TestRegistryStoreFailure(t *testing.T) {
	store := newFakePending()
	store.createErr = errors.New("disk full")
	r := newTestRegistry(store, newClock())

	_, err := r.Stage(context.Background(), "alice", "payload")
	require.Error(t, err)
	assert.Empty(t, KindOf(err))
}

func TestRegistryWrongOwner(t *testing.T) {
	ctx := context.Background()
	store := newFakePending()
	r := newTestRegistry(store, newClock())

	token, err := r.Stage(ctx, "alice", "payload")
	require.NoError(t, err)

	err = r.Consume(ctx, "mallory", token, func(context.Context, string) error { return nil })
	assert.Equal(t, PendingTransactionExpiredOrUnknown, KindOf(err))
	assert.Equal(t, 1, store.Len(), "entry survives a foreign consume")
}

func TestRegistryUnknownToken(t *testing.T) {
	r := newTestRegistry(newFakePending(), newClock())
	err := r.Consume(context.Background(), "alice", "nope", func(context.Context, string) error { return nil })
	assert.Equal(t, PendingTransactionExpiredOrUnknown, KindOf(err))
}

func TestRegistryLostRace(t *testing.T) {
	ctx := context.Background()
	store := newFakePending()
	r := newTestRegistry(store, newClock())

	token, err := r.Stage(ctx, "alice", "payload")
	require.NoError(t, err)

	store.stolen = true
	err = r.Consume(ctx, "alice", token, func(context.Context, string) error {
		t.Fatal("finalize must not run for a stolen entry")
		return nil
	})
	assert.Equal(t, PendingTransactionExpiredOrUnknown, KindOf(err))
}

func TestRegistryFinalizeErrorStillConsumes(t *testing.T) {
	ctx := context.Background()
	store := newFakePending()
	r := newTestRegistry(store, newClock())

	token, err := r.Stage(ctx, "alice", "payload")
	require.NoError(t, err)

	boom := errors.New("relay failed")
	err = r.Consume(ctx, "alice", token, func(context.Context, string) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, store.Len())
}
