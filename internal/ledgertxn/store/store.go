// Package store defines the backing-store driver LedgerTxnRoot is bound
// to: the persistent side of the EntryStore contract, plus the atomic
// commit LedgerTxnRoot folds a fully-sealed child delta into. Two
// implementations are provided: a Postgres driver (store/postgres.go,
// via github.com/lib/pq, grounded on goXRPLd's
// internal/storage/relationaldb/postgres package) and an in-memory fake
// (store/memstore.go) used by the property tests in spec.md section 8
// that must run identically with caching enabled and disabled.
package store

import (
	"context"

	"github.com/soonkuk/ledgertxn/internal/ledgertxn/entry"
	"github.com/soonkuk/ledgertxn/internal/ledgertxn/entrystore"
	"github.com/soonkuk/ledgertxn/internal/ledgertxn/key"
)

// OfferStream pulls offers for one asset pair in ascending price order
// (ties broken by ascending offer id), lazily. Grounded on the pull-
// cursor shape of database/sql's *sql.Rows and on the pack's ForEach-
// style streaming (service/offer_query.go's targetLedger.ForEach).
type OfferStream interface {
	// Next advances the stream. ok is false once exhausted.
	Next(ctx context.Context) (e entry.LedgerEntry, ok bool, err error)
	Close() error
}

// Store is the persistence boundary LedgerTxnRoot drives. Every method
// reads (or atomically writes) committed state only — no overlay logic
// lives here, that is entirely LedgerTxn's and LedgerTxnRoot's job.
type Store interface {
	GetHeader(ctx context.Context) (entry.Header, error)
	GetEntry(ctx context.Context, k key.LedgerKey) (e entry.LedgerEntry, ok bool, err error)

	// StreamOffersByAssetPair yields offers for (buying, selling) in
	// ascending price order, ties broken by ascending offer id.
	StreamOffersByAssetPair(ctx context.Context, buying, selling key.Asset) (OfferStream, error)

	GetOffersByAccountAndAsset(ctx context.Context, account key.AccountID, asset key.Asset) ([]entry.LedgerEntry, error)
	GetAllOffers(ctx context.Context) ([]entry.LedgerEntry, error)

	// StreamInflationWinners yields (inflationDest, totalBalance) pairs
	// over every account with an inflation destination set, in
	// descending-total order, ties broken by descending account id,
	// already filtered to minVotes.
	StreamInflationWinners(ctx context.Context, minVotes int64) ([]entrystore.InflationVote, error)

	// ApplyDelta applies delta as one atomic store transaction: all
	// writes happen, or none do.
	ApplyDelta(ctx context.Context, delta entrystore.Delta) error

	Close() error
}
