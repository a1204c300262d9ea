// Package root implements LedgerTxnRoot, the EntryStore bound to a
// persistent store.Store: the bottom of every LedgerTxn's ancestry
// chain, holding the two bounded caches spec.md section 5 describes and
// driving the backing store's atomic commit.
package root

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/soonkuk/ledgertxn/internal/ledgertxn/entry"
	"github.com/soonkuk/ledgertxn/internal/ledgertxn/entrystore"
	"github.com/soonkuk/ledgertxn/internal/ledgertxn/errs"
	"github.com/soonkuk/ledgertxn/internal/ledgertxn/key"
	"github.com/soonkuk/ledgertxn/internal/ledgertxn/store"
)

type assetPair struct {
	Buying  key.Asset
	Selling key.Asset
}

// LedgerTxnRoot is the sole source of committed truth a LedgerTxn tree
// is ultimately opened against. Like LedgerTxn, it tracks at most one
// active child (invariant 1 extends to the root). Safe for concurrent
// use by independent caller goroutines that do not share a child.
type LedgerTxnRoot struct {
	mu sync.RWMutex

	backing store.Store

	entryCache      *lru.Cache[key.LedgerKey, entry.LedgerEntry]
	bestOffersCache *lru.Cache[assetPair, []entry.LedgerEntry]

	childActive bool
}

// Config sizes the root's caches. A size of 0 disables that cache
// entirely (every lookup falls straight through to the backing store).
type Config struct {
	EntryCacheSize      int
	BestOffersCacheSize int
}

// Open binds a root to backing, sizing its caches per cfg.
func Open(backing store.Store, cfg Config) (*LedgerTxnRoot, error) {
	r := &LedgerTxnRoot{backing: backing}

	if cfg.EntryCacheSize > 0 {
		c, err := lru.New[key.LedgerKey, entry.LedgerEntry](cfg.EntryCacheSize)
		if err != nil {
			return nil, errs.StoreFailure("Open", "allocate entry cache", err)
		}
		r.entryCache = c
	}
	if cfg.BestOffersCacheSize > 0 {
		c, err := lru.New[assetPair, []entry.LedgerEntry](cfg.BestOffersCacheSize)
		if err != nil {
			return nil, errs.StoreFailure("Open", "allocate best-offers cache", err)
		}
		r.bestOffersCache = c
	}
	return r, nil
}

// AcquireChild implements txn.Parent.
func (r *LedgerTxnRoot) AcquireChild() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.childActive {
		return errs.Misuse("AcquireChild", errs.ErrSecondActiveChild)
	}
	r.childActive = true
	return nil
}

func (r *LedgerTxnRoot) ReleaseChild() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.childActive = false
}

func (r *LedgerTxnRoot) GetHeader(ctx context.Context) (entry.Header, error) {
	return r.backing.GetHeader(ctx)
}

func (r *LedgerTxnRoot) GetEntry(ctx context.Context, k key.LedgerKey) (entry.LedgerEntry, bool, error) {
	if r.entryCache != nil {
		if e, ok := r.entryCache.Get(k); ok {
			return e, true, nil
		}
	}
	e, ok, err := r.backing.GetEntry(ctx, k)
	if err != nil || !ok {
		return entry.LedgerEntry{}, ok, err
	}
	if r.entryCache != nil {
		r.entryCache.Add(k, e)
	}
	return e, true, nil
}

// GetBestOffer serves from the per-asset-pair ordered-offer-list cache
// when present, otherwise materializes the full ordered list from the
// backing store and caches it before picking the first entry not in
// excluding.
func (r *LedgerTxnRoot) GetBestOffer(ctx context.Context, buying, selling key.Asset, excluding entrystore.OfferExclusion) (entry.LedgerEntry, bool, error) {
	offers, err := r.orderedOffers(ctx, buying, selling)
	if err != nil {
		return entry.LedgerEntry{}, false, err
	}
	for _, o := range offers {
		if o.Offer.Amount == 0 {
			continue
		}
		if _, excl := excluding[o.Key]; excl {
			continue
		}
		return o, true, nil
	}
	return entry.LedgerEntry{}, false, nil
}

func (r *LedgerTxnRoot) orderedOffers(ctx context.Context, buying, selling key.Asset) ([]entry.LedgerEntry, error) {
	pair := assetPair{Buying: buying, Selling: selling}
	if r.bestOffersCache != nil {
		if cached, ok := r.bestOffersCache.Get(pair); ok {
			return cached, nil
		}
	}
	stream, err := r.backing.StreamOffersByAssetPair(ctx, buying, selling)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	offers := make([]entry.LedgerEntry, 0)
	for {
		o, ok, err := stream.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		offers = append(offers, o)
	}
	if r.bestOffersCache != nil {
		r.bestOffersCache.Add(pair, offers)
	}
	return offers, nil
}

func (r *LedgerTxnRoot) GetOffersByAccountAndAsset(ctx context.Context, account key.AccountID, asset key.Asset) ([]entry.LedgerEntry, error) {
	return r.backing.GetOffersByAccountAndAsset(ctx, account, asset)
}

func (r *LedgerTxnRoot) GetAllOffers(ctx context.Context) ([]entry.LedgerEntry, error) {
	return r.backing.GetAllOffers(ctx)
}

func (r *LedgerTxnRoot) GetInflationWinners(ctx context.Context, maxWinners int, minVotes int64) ([]entrystore.InflationVote, error) {
	winners, err := r.backing.StreamInflationWinners(ctx, minVotes)
	if err != nil {
		return nil, err
	}
	if maxWinners >= 0 && len(winners) > maxWinners {
		winners = winners[:maxWinners]
	}
	return winners, nil
}

// CommitChild applies delta to the backing store as one transaction,
// stamping every written entry's LastModifiedLedgerSeq to the ledger
// sequence committing (invariant 6), then invalidates the caches for
// everything the delta touched.
func (r *LedgerTxnRoot) CommitChild(ctx context.Context, delta entrystore.Delta) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seq, err := r.commitSeq(ctx, delta)
	if err != nil {
		return err
	}
	stamped := stampDelta(delta, seq)

	if err := r.backing.ApplyDelta(ctx, stamped); err != nil {
		// The store rejected the commit, but earlier reads may already
		// have populated the caches with the pre-commit values these
		// keys were about to replace. Invalidate before returning so a
		// StoreFailure the caller recovers from never leaves the caches
		// serving values that a would-be commit attempted to overwrite.
		r.invalidate(stamped)
		logrus.WithFields(logrus.Fields{"ledger_seq": seq, "entries": len(stamped.Entries)}).
			WithError(err).Error("commit rejected by backing store")
		return err
	}
	r.invalidate(stamped)
	logrus.WithFields(logrus.Fields{"ledger_seq": seq, "entries": len(stamped.Entries)}).Debug("committed delta")
	return nil
}

func (r *LedgerTxnRoot) commitSeq(ctx context.Context, delta entrystore.Delta) (uint32, error) {
	if delta.Header.Current != nil {
		return delta.Header.Current.LedgerSeq, nil
	}
	h, err := r.backing.GetHeader(ctx)
	if err != nil {
		return 0, err
	}
	return h.LedgerSeq, nil
}

func stampDelta(delta entrystore.Delta, seq uint32) entrystore.Delta {
	stamped := entrystore.Delta{
		Entries: make(map[key.LedgerKey]entrystore.EntryChange, len(delta.Entries)),
		Header:  delta.Header,
	}
	for k, ec := range delta.Entries {
		if ec.Current != nil {
			cur := *ec.Current
			cur.LastModifiedLedgerSeq = seq
			ec.Current = &cur
		}
		stamped.Entries[k] = ec
	}
	return stamped
}

func (r *LedgerTxnRoot) invalidate(delta entrystore.Delta) {
	for k, ec := range delta.Entries {
		if r.entryCache != nil {
			r.entryCache.Remove(k)
		}
		if r.bestOffersCache == nil || k.Type != key.TypeOffer {
			continue
		}
		if ec.Current != nil {
			r.bestOffersCache.Remove(assetPair{Buying: ec.Current.Offer.Buying, Selling: ec.Current.Offer.Selling})
		}
		if ec.Previous != nil {
			r.bestOffersCache.Remove(assetPair{Buying: ec.Previous.Offer.Buying, Selling: ec.Previous.Offer.Selling})
		}
	}
}

// Close releases the backing store's resources.
func (r *LedgerTxnRoot) Close() error {
	return r.backing.Close()
}
