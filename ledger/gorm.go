package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ Store = (*GormStore)(nil)

// GormStore persists ledger entries in Postgres. Balance mutation is a
// single guarded UPDATE with RETURNING, never a read-then-write pair,
// so concurrent credits and debits on one address serialize inside the
// database.
type GormStore struct {
	db *gorm.DB
}

// OpenPostgres connects to Postgres and migrates the ledger schema.
func OpenPostgres(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate ledger schema: %w", err)
	}
	return &GormStore{db: db}, nil
}

// NewGormStore wraps an existing gorm handle.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// FindAndIncrement implements Store.
func (g *GormStore) FindAndIncrement(ctx context.Context, address string, delta decimal.Decimal) (decimal.Decimal, error) {
	// Lazily create the row; a concurrent insert is a no-op.
	if err := g.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&Entry{Address: address, Balance: decimal.Zero}).Error; err != nil {
		return decimal.Zero, fmt.Errorf("failed to ensure ledger entry: %w", err)
	}

	entry := Entry{Address: address}
	res := g.db.WithContext(ctx).Model(&entry).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "balance"}}}).
		Where("address = ? AND balance + ? >= 0", address, delta).
		Update("balance", gorm.Expr("balance + ?", delta))
	if res.Error != nil {
		return decimal.Zero, fmt.Errorf("failed to apply ledger increment: %w", res.Error)
	}

	if res.RowsAffected == 0 {
		// The guard rejected the increment: report the untouched balance.
		var current Entry
		if err := g.db.WithContext(ctx).First(&current, "address = ?", address).Error; err != nil {
			return decimal.Zero, fmt.Errorf("failed to read ledger entry: %w", err)
		}
		return current.Balance, ErrInsufficientFunds
	}

	return entry.Balance, nil
}

// GetOrCreate implements Store.
func (g *GormStore) GetOrCreate(ctx context.Context, address string) (*Entry, bool, error) {
	var entry Entry
	err := g.db.WithContext(ctx).First(&entry, "address = ?", address).Error
	if err == nil {
		return &entry, true, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("failed to read ledger entry: %w", err)
	}

	entry = Entry{Address: address, Balance: decimal.Zero}
	if err := g.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&entry).Error; err != nil {
		return nil, false, fmt.Errorf("failed to create ledger entry: %w", err)
	}
	return &entry, false, nil
}
