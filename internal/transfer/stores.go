package transfer

import (
	"context"
	"errors"
	"time"
)

// ErrOwnerHasPending is returned by PendingStore.Create when the owner
// already has an entry.
var ErrOwnerHasPending = errors.New("owner already has a pending transaction")

type User struct {
	ID     string
	Handle string
}

// Wallet is the cached snapshot of a user's custodial wallet for one coin.
type Wallet struct {
	UserID   string
	Coin     string
	WalletID string
	Address  string
	Balance  int64
	Unlock   int64
	// Reserved is locked elsewhere (open trades) and cannot be tipped.
	Reserved int64
	Pending  uint64
	Height   uint64
	Updated  time.Time
}

// Available is what can be spent right now.
func (w *Wallet) Available() int64 {
	return w.Unlock - w.Reserved
}

// Member is a recent participant of a group chat.
type Member struct {
	UserID string
	Handle string
}

// PendingEntry is a staged transaction awaiting confirmation.
type PendingEntry struct {
	Token     string
	OwnerID   string
	Metadata  string
	CreatedAt time.Time
}

// Lookups return (nil, nil) when the record does not exist.

type UserStore interface {
	FindUser(ctx context.Context, id string) (*User, error)
	FindUserByHandle(ctx context.Context, handle string) (*User, error)
}

type WalletStore interface {
	FindWallet(ctx context.Context, userID, coin string) (*Wallet, error)
	SaveWallet(ctx context.Context, wallet *Wallet) error
}

type SettingStore interface {
	GetSetting(ctx context.Context, userID, coin, field string) (string, bool, error)
	SetSetting(ctx context.Context, userID, coin, field, value string) error
}

type MemberStore interface {
	// RecentMembers returns up to limit distinct members, most recent first.
	RecentMembers(ctx context.Context, chatID string, limit int) ([]Member, error)
}

// PendingStore persists staged transactions. Create must be atomic per
// owner and Take must hand an entry to exactly one caller.
type PendingStore interface {
	Create(ctx context.Context, entry PendingEntry) error
	FindByOwner(ctx context.Context, ownerID string) (*PendingEntry, error)
	FindByToken(ctx context.Context, token string) (*PendingEntry, error)
	Take(ctx context.Context, token string) (*PendingEntry, error)
}
