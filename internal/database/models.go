package tipstatedb

import (
	"time"

	"gorm.io/gorm"
)

// SQLUser is a chat account known to the bot.
type SQLUser struct {
	ID        string `gorm:"primaryKey;size:64"`
	Handle    string `gorm:"size:64"`
	HandleKey string `gorm:"size:64;index"` // lower-cased handle for lookups
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SQLWallet is the cached snapshot of a user's custodial wallet for one coin.
type SQLWallet struct {
	gorm.Model
	UserID   string `gorm:"size:64;uniqueIndex:idx_wallet_user_coin"`
	Coin     string `gorm:"size:16;uniqueIndex:idx_wallet_user_coin"`
	WalletID string `gorm:"size:128"`
	Address  string `gorm:"size:256"`
	Balance  int64
	Unlock   int64
	Reserved int64
	Pending  uint64
	Height   uint64
	SyncedAt *time.Time
}

// SQLSetting stores one user preference for one coin.
type SQLSetting struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    string `gorm:"size:64;uniqueIndex:idx_setting_user_coin_field"`
	Coin      string `gorm:"size:16;uniqueIndex:idx_setting_user_coin_field"`
	Field     string `gorm:"size:32;uniqueIndex:idx_setting_user_coin_field"`
	Value     string `gorm:"size:64"`
	UpdatedAt time.Time
}

// SQLMember records the last time a user spoke in a group chat.
type SQLMember struct {
	ID       uint      `gorm:"primaryKey"`
	ChatID   string    `gorm:"size:64;uniqueIndex:idx_member_chat_user;index:idx_member_chat_seen,priority:1"`
	UserID   string    `gorm:"size:64;uniqueIndex:idx_member_chat_user"`
	Handle   string    `gorm:"size:64"`
	LastSeen time.Time `gorm:"index:idx_member_chat_seen,priority:2"`
}

// SQLPending is a staged transaction. Rows are deleted when consumed or
// expired, so there is no soft delete.
type SQLPending struct {
	Token     string `gorm:"primaryKey;size:64"`
	OwnerID   string `gorm:"size:64;uniqueIndex"`
	Metadata  string `gorm:"type:text"`
	CreatedAt time.Time
}
