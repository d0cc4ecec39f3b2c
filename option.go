package safepay

import (
	"time"

	"github.com/paygrid/safepay/cache"
	"github.com/paygrid/safepay/ledger"
	"github.com/paygrid/safepay/logger"
	"github.com/paygrid/safepay/metrics"
)

type Option func(*Facilitator)

func WithLogger(l logger.Logger) Option {
	return func(f *Facilitator) {
		f.log = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(f *Facilitator) {
		f.metrics = r
	}
}

func WithTimeout(t time.Duration) Option {
	return func(f *Facilitator) {
		if t > 0 {
			f.timeout = t
		}
	}
}

// WithCache enables caching of deployed-wallet owner lookups during
// verification.
func WithCache(c cache.Cache) Option {
	return func(f *Facilitator) {
		f.cache = c
	}
}

// WithLedgerStore swaps the in-memory ledger for a durable Store, such
// as ledger.OpenPostgres.
func WithLedgerStore(s ledger.Store) Option {
	return func(f *Facilitator) {
		f.store = s
	}
}
