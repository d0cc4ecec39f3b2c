// Package ledger maintains the per-address balance of usage credits.
// All mutation funnels through Credit and Debit, which delegate to a
// Store whose increments are atomic at the storage layer: concurrent
// credits and debits on one address serialize there, never through
// application locks.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/paygrid/safepay/logger"
	"github.com/paygrid/safepay/metrics"
)

// ErrInsufficientFunds is returned by Debit when the amount exceeds the
// current balance. It is an expected outcome, not a fault; callers map
// it to a payment-required response.
var ErrInsufficientFunds = errors.New("insufficient funds")

// Entry is the durable per-address balance row. Balance is a
// non-negative arbitrary-precision integer.
type Entry struct {
	Address   string          `gorm:"primaryKey;size:64" json:"address"`
	Balance   decimal.Decimal `gorm:"type:numeric(78,0);not null;default:0" json:"balance"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func (Entry) TableName() string {
	return "usage_entries"
}

// Store is the durable ledger contract. FindAndIncrement must apply
// delta as a single atomic operation and fail with ErrInsufficientFunds
// without partial effect when a negative delta would take the balance
// below zero.
type Store interface {
	FindAndIncrement(ctx context.Context, address string, delta decimal.Decimal) (decimal.Decimal, error)
	GetOrCreate(ctx context.Context, address string) (*Entry, bool, error)
}

// Ledger wraps a Store with amount validation and observability.
type Ledger struct {
	store   Store
	log     logger.Logger
	metrics metrics.Recorder
}

func New(store Store, log logger.Logger, rec metrics.Recorder) *Ledger {
	if log == nil {
		log = logger.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Ledger{store: store, log: log, metrics: rec}
}

// normalizeAddress keys entries case-insensitively.
func normalizeAddress(address string) string {
	return strings.ToLower(address)
}

func toDecimal(amount *big.Int) (decimal.Decimal, error) {
	if amount == nil || amount.Sign() < 0 {
		return decimal.Decimal{}, fmt.Errorf("amount must be a non-negative integer")
	}
	return decimal.NewFromBigInt(amount, 0), nil
}

// Credit adds amount to the address balance and returns the new
// balance. The entry is created lazily on first use.
func (l *Ledger) Credit(ctx context.Context, address string, amount *big.Int) (*big.Int, error) {
	delta, err := toDecimal(amount)
	if err != nil {
		return nil, err
	}

	balance, err := l.store.FindAndIncrement(ctx, normalizeAddress(address), delta)
	if err != nil {
		return nil, err
	}

	l.metrics.IncCounter("ledger_credit", nil)
	l.log.Info("credited usage", map[string]any{
		"address": normalizeAddress(address),
		"amount":  amount.String(),
		"balance": balance.String(),
	})
	return balance.BigInt(), nil
}

// Debit subtracts amount from the address balance. On insufficient
// funds the balance is unchanged and ErrInsufficientFunds is returned
// together with the current balance.
func (l *Ledger) Debit(ctx context.Context, address string, amount *big.Int) (*big.Int, error) {
	delta, err := toDecimal(amount)
	if err != nil {
		return nil, err
	}

	balance, err := l.store.FindAndIncrement(ctx, normalizeAddress(address), delta.Neg())
	if errors.Is(err, ErrInsufficientFunds) {
		l.metrics.IncCounter("ledger_debit_insufficient", nil)
		return balance.BigInt(), ErrInsufficientFunds
	}
	if err != nil {
		return nil, err
	}

	l.metrics.IncCounter("ledger_debit", nil)
	return balance.BigInt(), nil
}

// GetOrCreate returns the entry for address, creating a zero-balance
// entry when none exists. The second return reports whether the entry
// existed before the call.
func (l *Ledger) GetOrCreate(ctx context.Context, address string) (*Entry, bool, error) {
	return l.store.GetOrCreate(ctx, normalizeAddress(address))
}
