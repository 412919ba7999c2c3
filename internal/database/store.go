package tipstatedb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Maphikza/tipbot-engine/internal/transfer"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store implements the engine's user, wallet, setting and member stores on
// top of gorm.
type Store struct {
	db *gorm.DB
}

var (
	_ transfer.UserStore    = (*Store)(nil)
	_ transfer.WalletStore  = (*Store)(nil)
	_ transfer.SettingStore = (*Store)(nil)
	_ transfer.MemberStore  = (*Store)(nil)
)

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) FindUser(ctx context.Context, id string) (*transfer.User, error) {
	var u SQLUser
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &transfer.User{ID: u.ID, Handle: u.Handle}, nil
}

func (s *Store) FindUserByHandle(ctx context.Context, handle string) (*transfer.User, error) {
	var u SQLUser
	err := s.db.WithContext(ctx).Where("handle_key = ?", strings.ToLower(handle)).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &transfer.User{ID: u.ID, Handle: u.Handle}, nil
}

// SaveUser creates the user or updates their handle.
func (s *Store) SaveUser(ctx context.Context, user transfer.User) error {
	row := SQLUser{ID: user.ID, Handle: user.Handle, HandleKey: strings.ToLower(user.Handle)}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"handle", "handle_key", "updated_at"}),
	}).Create(&row).Error
}

func (s *Store) FindWallet(ctx context.Context, userID, coin string) (*transfer.Wallet, error) {
	var w SQLWallet
	err := s.db.WithContext(ctx).Where("user_id = ? AND coin = ?", userID, coin).First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	wallet := &transfer.Wallet{
		UserID:   w.UserID,
		Coin:     w.Coin,
		WalletID: w.WalletID,
		Address:  w.Address,
		Balance:  w.Balance,
		Unlock:   w.Unlock,
		Reserved: w.Reserved,
		Pending:  w.Pending,
		Height:   w.Height,
	}
	if w.SyncedAt != nil {
		wallet.Updated = *w.SyncedAt
	}
	return wallet, nil
}

// SaveWallet stores a refreshed snapshot. The wallet must already be linked.
func (s *Store) SaveWallet(ctx context.Context, wallet *transfer.Wallet) error {
	updates := map[string]interface{}{
		"balance": wallet.Balance,
		"unlock":  wallet.Unlock,
		"pending": wallet.Pending,
		"height":  wallet.Height,
	}
	if !wallet.Updated.IsZero() {
		updates["synced_at"] = wallet.Updated
	}

	result := s.db.WithContext(ctx).Model(&SQLWallet{}).
		Where("user_id = ? AND coin = ?", wallet.UserID, wallet.Coin).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("wallet not found for user %s coin %s", wallet.UserID, wallet.Coin)
	}
	return nil
}

// LinkWallet attaches a custodial wallet to a user, replacing any previous one
// for the coin.
func (s *Store) LinkWallet(ctx context.Context, wallet transfer.Wallet) error {
	row := SQLWallet{
		UserID:   wallet.UserID,
		Coin:     wallet.Coin,
		WalletID: wallet.WalletID,
		Address:  wallet.Address,
		Reserved: wallet.Reserved,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "coin"}},
		DoUpdates: clause.AssignmentColumns([]string{"wallet_id", "address", "reserved", "updated_at"}),
	}).Create(&row).Error
}

func (s *Store) GetSetting(ctx context.Context, userID, coin, field string) (string, bool, error) {
	var row SQLSetting
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND coin = ? AND field = ?", userID, coin, field).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return row.Value, true, nil
}

func (s *Store) SetSetting(ctx context.Context, userID, coin, field, value string) error {
	row := SQLSetting{UserID: userID, Coin: coin, Field: field, Value: value}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "coin"}, {Name: "field"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
}

// RecordActivity marks userID as having spoken in chatID at the given time.
func (s *Store) RecordActivity(ctx context.Context, chatID string, member transfer.Member, at time.Time) error {
	row := SQLMember{ChatID: chatID, UserID: member.UserID, Handle: member.Handle, LastSeen: at}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chat_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"handle", "last_seen"}),
	}).Create(&row).Error
}

func (s *Store) RecentMembers(ctx context.Context, chatID string, limit int) ([]transfer.Member, error) {
	var rows []SQLMember
	err := s.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("last_seen DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	members := make([]transfer.Member, len(rows))
	for i, r := range rows {
		members[i] = transfer.Member{UserID: r.UserID, Handle: r.Handle}
	}
	return members, nil
}
