package tipstatedb

import (
	"context"
	"errors"

	"github.com/Maphikza/tipbot-engine/internal/transfer"
	"gorm.io/gorm"
)

// PendingStore keeps staged transactions in SQL. The unique index on
// owner_id makes Create atomic per owner.
type PendingStore struct {
	db *gorm.DB
}

var _ transfer.PendingStore = (*PendingStore)(nil)

func NewPendingStore(db *gorm.DB) *PendingStore {
	return &PendingStore{db: db}
}

func (p *PendingStore) Create(ctx context.Context, entry transfer.PendingEntry) error {
	row := SQLPending{
		Token:     entry.Token,
		OwnerID:   entry.OwnerID,
		Metadata:  entry.Metadata,
		CreatedAt: entry.CreatedAt,
	}
	err := p.db.WithContext(ctx).Create(&row).Error
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return transfer.ErrOwnerHasPending
	}
	// Not every driver translates constraint errors.
	if existing, findErr := p.FindByOwner(ctx, entry.OwnerID); findErr == nil && existing != nil {
		return transfer.ErrOwnerHasPending
	}
	return err
}

func (p *PendingStore) FindByOwner(ctx context.Context, ownerID string) (*transfer.PendingEntry, error) {
	return p.find(ctx, "owner_id = ?", ownerID)
}

func (p *PendingStore) FindByToken(ctx context.Context, token string) (*transfer.PendingEntry, error) {
	return p.find(ctx, "token = ?", token)
}

// Take reads and deletes the row in one transaction. When two callers race,
// only the one whose delete affects the row gets the entry.
func (p *PendingStore) Take(ctx context.Context, token string) (*transfer.PendingEntry, error) {
	var taken *transfer.PendingEntry
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row SQLPending
		if err := tx.Where("token = ?", token).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}

		result := tx.Where("token = ?", token).Delete(&SQLPending{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		taken = toEntry(row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return taken, nil
}

func (p *PendingStore) find(ctx context.Context, query string, arg string) (*transfer.PendingEntry, error) {
	var row SQLPending
	err := p.db.WithContext(ctx).Where(query, arg).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toEntry(row), nil
}

func toEntry(row SQLPending) *transfer.PendingEntry {
	return &transfer.PendingEntry{
		Token:     row.Token,
		OwnerID:   row.OwnerID,
		Metadata:  row.Metadata,
		CreatedAt: row.CreatedAt,
	}
}
