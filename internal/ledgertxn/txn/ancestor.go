package txn

import (
	"context"

	"github.com/soonkuk/ledgertxn/internal/ledgertxn/entry"
	"github.com/soonkuk/ledgertxn/internal/ledgertxn/entrystore"
	"github.com/soonkuk/ledgertxn/internal/ledgertxn/key"
)

// This file implements the remaining entrystore.EntryStore methods for
// LedgerTxn-as-parent: the overlay composition a child's derived-query
// call walks up through. These are never gated by sealed/active-child —
// by invariant 1 only the sole active child ever calls up into them.
// The gated, handle-returning public operations in query.go call these
// and then resolve the winning key(s) into handles in self.

// GetBestOffer composes self's delta with the parent's view, excluding
// any key the caller has already considered.
func (t *LedgerTxn) GetBestOffer(ctx context.Context, buying, selling key.Asset, excluding entrystore.OfferExclusion) (entry.LedgerEntry, bool, error) {
	upExcluding := make(entrystore.OfferExclusion, len(excluding)+len(t.delta))
	for k := range excluding {
		upExcluding[k] = struct{}{}
	}
	for k := range t.delta {
		upExcluding[k] = struct{}{}
	}

	best, haveBest, err := t.parent.GetBestOffer(ctx, buying, selling, upExcluding)
	if err != nil {
		return entry.LedgerEntry{}, false, err
	}

	for k, d := range t.delta {
		if _, excl := excluding[k]; excl {
			continue
		}
		if k.Type != key.TypeOffer || d.Current == nil || d.Current.Offer.Amount == 0 {
			continue
		}
		if !d.Current.MatchesAssetPair(buying, selling) {
			continue
		}
		if !haveBest || offerBetter(*d.Current, best) {
			best, haveBest = *d.Current, true
		}
	}
	return best, haveBest, nil
}

// GetOffersByAccountAndAsset composes self's delta with the parent's
// view, dropping any parent offer a key in self's delta overrides.
func (t *LedgerTxn) GetOffersByAccountAndAsset(ctx context.Context, account key.AccountID, asset key.Asset) ([]entry.LedgerEntry, error) {
	parentOffers, err := t.parent.GetOffersByAccountAndAsset(ctx, account, asset)
	if err != nil {
		return nil, err
	}
	out := make([]entry.LedgerEntry, 0, len(parentOffers))
	for _, o := range parentOffers {
		if _, overridden := t.delta[o.Key]; overridden {
			continue
		}
		out = append(out, o)
	}
	for k, d := range t.delta {
		if k.Type != key.TypeOffer || d.Current == nil {
			continue
		}
		if d.Current.SellerID() != account || !d.Current.InvolvesAsset(asset) {
			continue
		}
		out = append(out, *d.Current)
	}
	return out, nil
}

// GetAllOffers composes self's delta with the parent's full committed
// offer set, dropping keys self's delta overrides (whether deleted,
// modified, or created).
func (t *LedgerTxn) GetAllOffers(ctx context.Context) ([]entry.LedgerEntry, error) {
	parentOffers, err := t.parent.GetAllOffers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]entry.LedgerEntry, 0, len(parentOffers))
	for _, o := range parentOffers {
		if _, overridden := t.delta[o.Key]; overridden {
			continue
		}
		out = append(out, o)
	}
	for _, d := range t.delta {
		if d.Current == nil || d.Current.Key.Type != key.TypeOffer {
			continue
		}
		out = append(out, *d.Current)
	}
	return out, nil
}

// GetInflationWinners composes self's per-account delta on top of the
// parent's fully aggregated votes, then applies the threshold/limit at
// this layer.
func (t *LedgerTxn) GetInflationWinners(ctx context.Context, maxWinners int, minVotes int64) ([]entrystore.InflationVote, error) {
	parentWinners, err := t.parent.GetInflationWinners(ctx, -1, 0)
	if err != nil {
		return nil, err
	}
	votes := make(map[key.AccountID]int64, len(parentWinners))
	for _, v := range parentWinners {
		votes[v.AccountID] += v.Votes
	}
	for k, d := range t.delta {
		if k.Type != key.TypeAccount {
			continue
		}
		if d.Previous != nil && d.Previous.Account.HasInflationDest {
			votes[d.Previous.Account.InflationDest] -= d.Previous.Account.Balance
		}
		if d.Current != nil && d.Current.Account.HasInflationDest {
			votes[d.Current.Account.InflationDest] += d.Current.Account.Balance
		}
	}
	return aggregateVotes(votes, maxWinners, minVotes), nil
}
