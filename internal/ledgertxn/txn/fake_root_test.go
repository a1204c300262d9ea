package txn

import (
	"context"
	"sort"

	"github.com/soonkuk/ledgertxn/internal/ledgertxn/entry"
	"github.com/soonkuk/ledgertxn/internal/ledgertxn/entrystore"
	"github.com/soonkuk/ledgertxn/internal/ledgertxn/errs"
	"github.com/soonkuk/ledgertxn/internal/ledgertxn/key"
)

// fakeRoot is a minimal ground-truth EntryStore for exercising LedgerTxn
// without a real backing store: a plain map plus the one-active-child
// bookkeeping every Parent must provide.
type fakeRoot struct {
	header      entry.Header
	entries     map[key.LedgerKey]entry.LedgerEntry
	childActive bool
}

func newFakeRoot() *fakeRoot {
	return &fakeRoot{entries: make(map[key.LedgerKey]entry.LedgerEntry)}
}

func (r *fakeRoot) AcquireChild() error {
	if r.childActive {
		return errs.Misuse("AcquireChild", errs.ErrSecondActiveChild)
	}
	r.childActive = true
	return nil
}

func (r *fakeRoot) ReleaseChild() { r.childActive = false }

func (r *fakeRoot) GetHeader(_ context.Context) (entry.Header, error) {
	return r.header, nil
}

func (r *fakeRoot) GetEntry(_ context.Context, k key.LedgerKey) (entry.LedgerEntry, bool, error) {
	e, ok := r.entries[k]
	return e, ok, nil
}

func (r *fakeRoot) GetBestOffer(_ context.Context, buying, selling key.Asset, excluding entrystore.OfferExclusion) (entry.LedgerEntry, bool, error) {
	var best entry.LedgerEntry
	var found bool
	for k, e := range r.entries {
		if k.Type != key.TypeOffer || e.Offer.Amount == 0 {
			continue
		}
		if _, excl := excluding[k]; excl {
			continue
		}
		if !e.MatchesAssetPair(buying, selling) {
			continue
		}
		if !found || offerBetter(e, best) {
			best, found = e, true
		}
	}
	return best, found, nil
}

func (r *fakeRoot) GetOffersByAccountAndAsset(_ context.Context, account key.AccountID, asset key.Asset) ([]entry.LedgerEntry, error) {
	out := make([]entry.LedgerEntry, 0)
	for k, e := range r.entries {
		if k.Type != key.TypeOffer || e.SellerID() != account || !e.InvolvesAsset(asset) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OfferID() < out[j].OfferID() })
	return out, nil
}

func (r *fakeRoot) GetAllOffers(_ context.Context) ([]entry.LedgerEntry, error) {
	out := make([]entry.LedgerEntry, 0)
	for k, e := range r.entries {
		if k.Type == key.TypeOffer {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *fakeRoot) GetInflationWinners(_ context.Context, maxWinners int, minVotes int64) ([]entrystore.InflationVote, error) {
	votes := make(map[key.AccountID]int64)
	for k, e := range r.entries {
		if k.Type != key.TypeAccount || !e.Account.HasInflationDest {
			continue
		}
		votes[e.Account.InflationDest] += e.Account.Balance
	}
	return aggregateVotes(votes, maxWinners, minVotes), nil
}

func (r *fakeRoot) CommitChild(_ context.Context, d entrystore.Delta) error {
	for k, ec := range d.Entries {
		existing, hasExisting := r.entries[k]
		if ec.Previous == nil {
			if hasExisting {
				return errs.Misuse("CommitChild", errs.ErrMergeInvariant)
			}
		} else if !hasExisting || !existing.Equal(*ec.Previous) {
			return errs.Misuse("CommitChild", errs.ErrMergeInvariant)
		}
		if ec.Current == nil {
			delete(r.entries, k)
		} else {
			r.entries[k] = *ec.Current
		}
	}
	if d.Header.Current != nil {
		r.header = *d.Header.Current
	}
	return nil
}
