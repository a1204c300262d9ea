package store

import (
	"context"
	"sort"
	"sync"

	"github.com/soonkuk/ledgertxn/internal/ledgertxn/entry"
	"github.com/soonkuk/ledgertxn/internal/ledgertxn/entrystore"
	"github.com/soonkuk/ledgertxn/internal/ledgertxn/errs"
	"github.com/soonkuk/ledgertxn/internal/ledgertxn/key"
)

// MemStore is a map-backed Store used by the cache-transparency property
// tests: every LedgerTxnRoot operation must return the same answer
// whether its caches are enabled or disabled, and MemStore gives those
// tests a backing store cheap enough to drive thousands of times without
// a real database.
type MemStore struct {
	mu      sync.Mutex
	header  entry.Header
	entries map[key.LedgerKey]entry.LedgerEntry
}

// NewMemStore returns a store seeded with header.
func NewMemStore(header entry.Header) *MemStore {
	return &MemStore{header: header, entries: make(map[key.LedgerKey]entry.LedgerEntry)}
}

func (m *MemStore) GetHeader(_ context.Context) (entry.Header, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.header, nil
}

func (m *MemStore) GetEntry(_ context.Context, k key.LedgerKey) (entry.LedgerEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[k]
	return e, ok, nil
}

type memOfferStream struct {
	offers []entry.LedgerEntry
	pos    int
}

func (s *memOfferStream) Next(_ context.Context) (entry.LedgerEntry, bool, error) {
	if s.pos >= len(s.offers) {
		return entry.LedgerEntry{}, false, nil
	}
	e := s.offers[s.pos]
	s.pos++
	return e, true, nil
}

func (s *memOfferStream) Close() error { return nil }

func (m *MemStore) StreamOffersByAssetPair(_ context.Context, buying, selling key.Asset) (OfferStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	matched := make([]entry.LedgerEntry, 0)
	for _, e := range m.entries {
		if e.Key.Type != key.TypeOffer {
			continue
		}
		if e.MatchesAssetPair(buying, selling) {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].Offer.Price.Equal(matched[j].Offer.Price) {
			return matched[i].Offer.Price.Less(matched[j].Offer.Price)
		}
		return matched[i].OfferID() < matched[j].OfferID()
	})
	return &memOfferStream{offers: matched}, nil
}

func (m *MemStore) GetOffersByAccountAndAsset(_ context.Context, account key.AccountID, asset key.Asset) ([]entry.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]entry.LedgerEntry, 0)
	for _, e := range m.entries {
		if e.Key.Type != key.TypeOffer || e.SellerID() != account {
			continue
		}
		if e.InvolvesAsset(asset) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OfferID() < out[j].OfferID() })
	return out, nil
}

func (m *MemStore) GetAllOffers(_ context.Context) ([]entry.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]entry.LedgerEntry, 0)
	for _, e := range m.entries {
		if e.Key.Type == key.TypeOffer {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SellerID() != out[j].SellerID() {
			si, sj := out[i].SellerID(), out[j].SellerID()
			return string(si[:]) < string(sj[:])
		}
		return out[i].OfferID() < out[j].OfferID()
	})
	return out, nil
}

func (m *MemStore) StreamInflationWinners(_ context.Context, minVotes int64) ([]entrystore.InflationVote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	votes := make(map[key.AccountID]int64)
	for _, e := range m.entries {
		if e.Key.Type != key.TypeAccount || !e.Account.HasInflationDest {
			continue
		}
		votes[e.Account.InflationDest] += e.Account.Balance
	}
	out := make([]entrystore.InflationVote, 0, len(votes))
	for acc, v := range votes {
		if v >= minVotes {
			out = append(out, entrystore.InflationVote{AccountID: acc, Votes: v})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Votes != out[j].Votes {
			return out[i].Votes > out[j].Votes
		}
		return string(out[i].AccountID[:]) > string(out[j].AccountID[:])
	})
	return out, nil
}

// ApplyDelta checks every entry's Previous against the stored value
// before writing anything, so a rejected delta leaves the map untouched;
// the writes then happen together under m.mu.
func (m *MemStore) ApplyDelta(_ context.Context, delta entrystore.Delta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, ec := range delta.Entries {
		existing, hasExisting := m.entries[k]
		if ec.Previous == nil {
			if hasExisting {
				return errs.StoreFailure("ApplyDelta", "stale previous", errs.ErrMergeInvariant)
			}
		} else if !hasExisting || !existing.Equal(*ec.Previous) {
			return errs.StoreFailure("ApplyDelta", "stale previous", errs.ErrMergeInvariant)
		}
	}
	for k, ec := range delta.Entries {
		if ec.Current == nil {
			delete(m.entries, k)
		} else {
			m.entries[k] = *ec.Current
		}
	}
	if delta.Header.Current != nil {
		m.header = *delta.Header.Current
	}
	return nil
}

func (m *MemStore) Close() error { return nil }
