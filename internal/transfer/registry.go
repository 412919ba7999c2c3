package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Maphikza/tipbot-engine/internal/logger"
	"github.com/Maphikza/tipbot-engine/internal/metrics"
	"github.com/google/uuid"
)

// Registry tracks staged transactions. Each owner has at most one; an entry
// is either consumed once or expires after ttl. Expiry is applied lazily
// when an entry is read.
type Registry struct {
	store    PendingStore
	ttl      time.Duration
	now      func() time.Time
	newToken func() string
}

type RegistryOption func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

func WithTokenSource(next func() string) RegistryOption {
	return func(r *Registry) { r.newToken = next }
}

func NewRegistry(store PendingStore, ttl time.Duration, opts ...RegistryOption) *Registry {
	r := &Registry{
		store:    store,
		ttl:      ttl,
		now:      time.Now,
		newToken: uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) TTL() time.Duration {
	return r.ttl
}

// live reports whether an entry created at created is still confirmable.
func (r *Registry) live(created time.Time) bool {
	return r.now().Before(created.Add(r.ttl))
}

// Stage creates an entry for owner and returns its token. An owner with a
// live entry gets PendingTransactionConflict.
func (r *Registry) Stage(ctx context.Context, ownerID, metadata string) (string, error) {
	current, err := r.Pending(ctx, ownerID)
	if err != nil {
		return "", err
	}
	if current != nil {
		metrics.Pending("conflict")
		return "", errConflict()
	}

	entry := PendingEntry{
		Token:     r.newToken(),
		OwnerID:   ownerID,
		Metadata:  metadata,
		CreatedAt: r.now(),
	}
	if err := r.store.Create(ctx, entry); err != nil {
		if errors.Is(err, ErrOwnerHasPending) {
			metrics.Pending("conflict")
			return "", errConflict()
		}
		return "", fmt.Errorf("failed to stage transaction: %w", err)
	}

	metrics.Pending("staged")
	logger.Debug("staged transaction", "owner", ownerID, "token", entry.Token)
	return entry.Token, nil
}

// Pending returns the owner's live entry, or nil.
func (r *Registry) Pending(ctx context.Context, ownerID string) (*PendingEntry, error) {
	entry, err := r.store.FindByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending transaction: %w", err)
	}
	if entry == nil {
		return nil, nil
	}
	if r.live(entry.CreatedAt) {
		return entry, nil
	}

	r.expire(ctx, entry)
	return nil, nil
}

// Consume takes the entry identified by token and runs finalize with its
// metadata. The entry is removed before finalize runs so it can never be
// finalized twice.
func (r *Registry) Consume(ctx context.Context, ownerID, token string, finalize func(ctx context.Context, metadata string) error) error {
	entry, err := r.store.FindByToken(ctx, token)
	if err != nil {
		return fmt.Errorf("failed to load pending transaction: %w", err)
	}
	if entry == nil || entry.OwnerID != ownerID {
		return newError(PendingTransactionExpiredOrUnknown, "Transaction expired or unknown")
	}
	if !r.live(entry.CreatedAt) {
		r.expire(ctx, entry)
		return newError(PendingTransactionExpiredOrUnknown, "Transaction expired or unknown")
	}

	taken, err := r.store.Take(ctx, token)
	if err != nil {
		return fmt.Errorf("failed to consume pending transaction: %w", err)
	}
	if taken == nil {
		// Lost the race to a concurrent consume.
		return newError(PendingTransactionExpiredOrUnknown, "Transaction expired or unknown")
	}

	metrics.Pending("consumed")
	return finalize(ctx, taken.Metadata)
}

func errConflict() *Error {
	return newError(PendingTransactionConflict, "Confirmations still pending. Unable to create new request")
}

func (r *Registry) expire(ctx context.Context, entry *PendingEntry) {
	if _, err := r.store.Take(ctx, entry.Token); err != nil {
		logger.Warn("failed to drop expired transaction", "owner", entry.OwnerID, "error", err)
		return
	}
	metrics.Pending("expired")
}
