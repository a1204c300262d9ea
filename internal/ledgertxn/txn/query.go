package txn

import (
	"context"
	"sort"

	"github.com/soonkuk/ledgertxn/internal/ledgertxn/entry"
	"github.com/soonkuk/ledgertxn/internal/ledgertxn/entrystore"
	"github.com/soonkuk/ledgertxn/internal/ledgertxn/errs"
	"github.com/soonkuk/ledgertxn/internal/ledgertxn/key"
)

// checkQueryable rejects derived queries when the transaction is sealed
// or has an active child (spec.md section 4.4).
func (t *LedgerTxn) checkQueryable(op string) error {
	if t.terminal {
		return errs.Misuse(op, errs.ErrTerminal)
	}
	if t.sealed {
		return errs.Misuse(op, errs.ErrSealed)
	}
	if t.childActive {
		return errs.Misuse(op, errs.ErrChildActive)
	}
	return nil
}

// loadForQuery is Load without the live-handle exclusivity error when
// the key is already live — derived queries may legitimately revisit a
// key already materialized via an earlier pass over the same delta.
func (t *LedgerTxn) loadForQuery(ctx context.Context, k key.LedgerKey) (*EntryHandle, error) {
	if _, live := t.liveKeys[k]; live {
		return &EntryHandle{ltx: t, key: k}, nil
	}
	return t.Load(ctx, k)
}

// LoadAllOffers materializes every offer visible at this layer, grouped
// by seller.
func (t *LedgerTxn) LoadAllOffers(ctx context.Context) (map[key.AccountID][]*EntryHandle, error) {
	if err := t.checkQueryable("LoadAllOffers"); err != nil {
		return nil, err
	}
	offers, err := t.GetAllOffers(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[key.AccountID][]*EntryHandle)
	for _, o := range offers {
		h, err := t.loadForQuery(ctx, o.Key)
		if err != nil {
			return nil, err
		}
		if h == nil {
			continue
		}
		out[h.Current().SellerID()] = append(out[h.Current().SellerID()], h)
	}
	return out, nil
}

// LoadBestOffer returns the visible offer with the minimum price ratio
// for (buying, selling), ties broken by ascending offerID.
func (t *LedgerTxn) LoadBestOffer(ctx context.Context, buying, selling key.Asset) (*EntryHandle, error) {
	if err := t.checkQueryable("LoadBestOffer"); err != nil {
		return nil, err
	}
	best, ok, err := t.GetBestOffer(ctx, buying, selling, nil)
	if err != nil || !ok {
		return nil, err
	}
	return t.loadForQuery(ctx, best.Key)
}

func offerBetter(a, b entry.LedgerEntry) bool {
	if !a.Offer.Price.Equal(b.Offer.Price) {
		return a.Offer.Price.Less(b.Offer.Price)
	}
	return a.OfferID() < b.OfferID()
}

// LoadOffersByAccountAndAsset returns visible offers where sellerID ==
// account and asset equals either the buying or selling side, ordered
// by ascending offer id.
func (t *LedgerTxn) LoadOffersByAccountAndAsset(ctx context.Context, account key.AccountID, asset key.Asset) ([]*EntryHandle, error) {
	if err := t.checkQueryable("LoadOffersByAccountAndAsset"); err != nil {
		return nil, err
	}
	offers, err := t.GetOffersByAccountAndAsset(ctx, account, asset)
	if err != nil {
		return nil, err
	}
	out := make([]*EntryHandle, 0, len(offers))
	for _, o := range offers {
		h, err := t.loadForQuery(ctx, o.Key)
		if err != nil {
			return nil, err
		}
		if h != nil {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key().OfferID < out[j].Key().OfferID
	})
	return out, nil
}

// QueryInflationWinners aggregates votes by each voter's inflation
// destination across visible accounts, returning the top maxWinners
// with aggregated votes >= minBalance, sorted by votes descending then
// by account id descending.
func (t *LedgerTxn) QueryInflationWinners(ctx context.Context, maxWinners int, minBalance int64) ([]entrystore.InflationVote, error) {
	if err := t.checkQueryable("QueryInflationWinners"); err != nil {
		return nil, err
	}
	return t.GetInflationWinners(ctx, maxWinners, minBalance)
}

// aggregateVotes applies the threshold and ordering rule shared by every
// layer's GetInflationWinners, then truncates to maxWinners (a negative
// maxWinners means unlimited).
func aggregateVotes(votes map[key.AccountID]int64, maxWinners int, minVotes int64) []entrystore.InflationVote {
	result := make([]entrystore.InflationVote, 0, len(votes))
	for acc, v := range votes {
		if v >= minVotes {
			result = append(result, entrystore.InflationVote{AccountID: acc, Votes: v})
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Votes != result[j].Votes {
			return result[i].Votes > result[j].Votes
		}
		return accountIDString(result[i].AccountID) > accountIDString(result[j].AccountID)
	})
	if maxWinners >= 0 && len(result) > maxWinners {
		result = result[:maxWinners]
	}
	return result
}

func accountIDString(a key.AccountID) string {
	return string(a[:])
}
