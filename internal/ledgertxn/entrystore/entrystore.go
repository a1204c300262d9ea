// Package entrystore defines the read-only interface every LedgerTxn
// ultimately bottoms out on: either an ancestor LedgerTxn, or the
// EntryStore proper (root.LedgerTxnRoot) backed by the
// persistent store.
package entrystore

import (
	"context"

	"github.com/soonkuk/ledgertxn/internal/ledgertxn/entry"
	"github.com/soonkuk/ledgertxn/internal/ledgertxn/key"
)

// OfferExclusion lets a caller of GetBestOffer exclude offer keys it has
// already considered (e.g. because self's delta overrides them), so the
// Root-level streamer does not need to know about overlay state.
type OfferExclusion map[key.LedgerKey]struct{}

// EntryStore is the read-only parent interface consumed by every
// LedgerTxn: getHeader, getEntry, and the derived-query primitives the
// Root composes from the backing store.
type EntryStore interface {
	GetHeader(ctx context.Context) (entry.Header, error)

	// GetEntry returns the entry for key k, or ok=false if it is absent.
	GetEntry(ctx context.Context, k key.LedgerKey) (e entry.LedgerEntry, ok bool, err error)

	// GetBestOffer returns the lowest-price offer for the (buying,
	// selling) pair, excluding any key present in excluding.
	GetBestOffer(ctx context.Context, buying, selling key.Asset, excluding OfferExclusion) (e entry.LedgerEntry, ok bool, err error)

	GetOffersByAccountAndAsset(ctx context.Context, account key.AccountID, asset key.Asset) ([]entry.LedgerEntry, error)

	// GetAllOffers returns every committed offer, ordered by seller then
	// offer id. Not part of the minimal interface spec.md sketches in
	// section 6; added so loadAllOffers (section 4.4) has a primitive to
	// compose against — see DESIGN.md.
	GetAllOffers(ctx context.Context) ([]entry.LedgerEntry, error)

	// GetInflationWinners returns up to maxWinners (accountID, votes)
	// pairs with votes >= minVotes, ordered by votes descending then by
	// account id descending.
	GetInflationWinners(ctx context.Context, maxWinners int, minVotes int64) ([]InflationVote, error)

	// CommitChild applies a fully-sealed child delta as a single atomic
	// store transaction.
	CommitChild(ctx context.Context, delta Delta) error
}

// InflationVote is one (accountID, aggregated votes) pair.
type InflationVote struct {
	AccountID key.AccountID
	Votes     int64
}

// Delta is the shape CommitChild receives: the shared representation
// between txn.LedgerTxnDelta and what the store layer applies, kept here
// (rather than imported from package txn) to avoid a store->txn->store
// import cycle; txn.LedgerTxnDelta converts to this via ToEntryStoreDelta.
type Delta struct {
	Entries map[key.LedgerKey]EntryChange
	Header  HeaderChange
}

// EntryChange is the entrystore-facing view of an EntryDelta: Current
// nil means the key was erased, Previous nil means the key did not exist
// before this layer's delta.
type EntryChange struct {
	Current  *entry.LedgerEntry
	Previous *entry.LedgerEntry
}

// HeaderChange is the entrystore-facing view of a header delta.
type HeaderChange struct {
	Current  *entry.Header
	Previous *entry.Header
}
