package root

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soonkuk/ledgertxn/internal/ledgertxn/entry"
	"github.com/soonkuk/ledgertxn/internal/ledgertxn/entrystore"
	"github.com/soonkuk/ledgertxn/internal/ledgertxn/key"
	"github.com/soonkuk/ledgertxn/internal/ledgertxn/store"
)

// failingApplyStore wraps a *store.MemStore, counting reads that reach
// the backing store and optionally rejecting every ApplyDelta — used to
// prove the caches stop serving pre-commit values after a commit the
// store itself refused.
type failingApplyStore struct {
	*store.MemStore
	getEntryCalls int
	streamCalls   int
	applyErr      error
}

func (s *failingApplyStore) GetEntry(ctx context.Context, k key.LedgerKey) (entry.LedgerEntry, bool, error) {
	s.getEntryCalls++
	return s.MemStore.GetEntry(ctx, k)
}

func (s *failingApplyStore) StreamOffersByAssetPair(ctx context.Context, buying, selling key.Asset) (store.OfferStream, error) {
	s.streamCalls++
	return s.MemStore.StreamOffersByAssetPair(ctx, buying, selling)
}

func (s *failingApplyStore) ApplyDelta(ctx context.Context, delta entrystore.Delta) error {
	if s.applyErr != nil {
		return s.applyErr
	}
	return s.MemStore.ApplyDelta(ctx, delta)
}

var ctx = context.Background()

func account(id byte) key.AccountID {
	var a key.AccountID
	a[0] = id
	return a
}

func seedStore(t *testing.T) *store.MemStore {
	t.Helper()
	m := store.NewMemStore(entry.Header{LedgerSeq: 1, BaseFee: 10})
	usd := key.Asset{Code: [4]byte{'U', 'S', 'D'}}
	seller := account(1)
	err := m.ApplyDelta(ctx, entrystore.Delta{Entries: map[key.LedgerKey]entrystore.EntryChange{
		key.Account(seller): {Current: ptrEntry(entry.NewAccount(seller, 1, entry.AccountPayload{Balance: 100}))},
		key.Offer(seller, 1): {Current: ptrEntry(entry.NewOffer(seller, 1, 1, entry.OfferPayload{
			Buying: key.NativeAsset(), Selling: usd, Price: entry.Price{N: 1, D: 2}, Amount: 10,
		}))},
	}})
	require.NoError(t, err)
	return m
}

func ptrEntry(e entry.LedgerEntry) *entry.LedgerEntry { return &e }

func TestOpen_ZeroSizeDisablesCache(t *testing.T) {
	m := seedStore(t)
	r, err := Open(m, Config{})
	require.NoError(t, err)
	assert.Nil(t, r.entryCache)
	assert.Nil(t, r.bestOffersCache)
}

func TestGetEntry_SameAnswerCachedOrNot(t *testing.T) {
	for _, size := range []int{0, 16} {
		r, err := Open(seedStore(t), Config{EntryCacheSize: size})
		require.NoError(t, err)

		e, ok, err := r.GetEntry(ctx, key.Account(account(1)))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, int64(100), e.Account.Balance)

		// Second lookup must agree, whether served from cache or store.
		e2, ok, err := r.GetEntry(ctx, key.Account(account(1)))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, e, e2)
	}
}

func TestGetBestOffer_SameAnswerCachedOrNot(t *testing.T) {
	usd := key.Asset{Code: [4]byte{'U', 'S', 'D'}}
	for _, size := range []int{0, 16} {
		r, err := Open(seedStore(t), Config{BestOffersCacheSize: size})
		require.NoError(t, err)

		best, ok, err := r.GetBestOffer(ctx, key.NativeAsset(), usd, nil)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, key.OfferID(1), best.OfferID())

		// Calling again exercises the cache path on the second iteration.
		best2, ok, err := r.GetBestOffer(ctx, key.NativeAsset(), usd, nil)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, best, best2)
	}
}

func TestCommitChild_StampsLedgerSeq(t *testing.T) {
	m := seedStore(t)
	r, err := Open(m, Config{EntryCacheSize: 16})
	require.NoError(t, err)

	newHeader := entry.Header{LedgerSeq: 5, BaseFee: 10}
	acc2 := entry.NewAccount(account(2), 0, entry.AccountPayload{Balance: 7})
	err = r.CommitChild(ctx, entrystore.Delta{
		Entries: map[key.LedgerKey]entrystore.EntryChange{
			acc2.Key: {Current: &acc2, Previous: nil},
		},
		Header: entrystore.HeaderChange{Current: &newHeader},
	})
	require.NoError(t, err)

	got, ok, err := r.GetEntry(ctx, acc2.Key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(5), got.LastModifiedLedgerSeq)
}

func TestCommitChild_InvalidatesEntryCache(t *testing.T) {
	m := seedStore(t)
	r, err := Open(m, Config{EntryCacheSize: 16})
	require.NoError(t, err)

	cached, ok, err := r.GetEntry(ctx, key.Account(account(1)))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(100), cached.Account.Balance)

	modified := entry.NewAccount(account(1), 1, entry.AccountPayload{Balance: 250})
	require.NoError(t, r.CommitChild(ctx, entrystore.Delta{
		Entries: map[key.LedgerKey]entrystore.EntryChange{
			modified.Key: {Current: &modified, Previous: ptrEntry(cached)},
		},
	}))

	got, ok, err := r.GetEntry(ctx, key.Account(account(1)))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(250), got.Account.Balance)
}

func TestCommitChild_InvalidatesBestOffersCache(t *testing.T) {
	usd := key.Asset{Code: [4]byte{'U', 'S', 'D'}}
	m := seedStore(t)
	r, err := Open(m, Config{BestOffersCacheSize: 16})
	require.NoError(t, err)

	best, ok, err := r.GetBestOffer(ctx, key.NativeAsset(), usd, nil)
	require.NoError(t, err)
	require.True(t, ok)

	better := entry.NewOffer(account(2), 1, 0, entry.OfferPayload{
		Buying: key.NativeAsset(), Selling: usd, Price: entry.Price{N: 1, D: 10}, Amount: 3,
	})
	require.NoError(t, r.CommitChild(ctx, entrystore.Delta{
		Entries: map[key.LedgerKey]entrystore.EntryChange{
			better.Key: {Current: &better, Previous: nil},
		},
	}))

	newBest, ok, err := r.GetBestOffer(ctx, key.NativeAsset(), usd, nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEqual(t, best.SellerID(), newBest.SellerID())
	assert.Equal(t, account(2), newBest.SellerID())
}

func TestCommitChild_FailedApplyStillInvalidatesEntryCache(t *testing.T) {
	failErr := errors.New("simulated store failure")
	wrapped := &failingApplyStore{MemStore: seedStore(t), applyErr: failErr}
	r, err := Open(wrapped, Config{EntryCacheSize: 16})
	require.NoError(t, err)

	cached, ok, err := r.GetEntry(ctx, key.Account(account(1)))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(100), cached.Account.Balance)

	cached2, ok, err := r.GetEntry(ctx, key.Account(account(1)))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, cached, cached2)
	assert.Equal(t, 1, wrapped.getEntryCalls, "second read should have been served from cache")

	modified := entry.NewAccount(account(1), 1, entry.AccountPayload{Balance: 250})
	err = r.CommitChild(ctx, entrystore.Delta{
		Entries: map[key.LedgerKey]entrystore.EntryChange{
			modified.Key: {Current: &modified, Previous: ptrEntry(cached)},
		},
	})
	require.ErrorIs(t, err, failErr)

	// The failed commit must have invalidated the cache entry it touched:
	// the next read has to fall through to the store again and must come
	// back with the unchanged pre-commit value, not a stale cached one.
	got, ok, err := r.GetEntry(ctx, key.Account(account(1)))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(100), got.Account.Balance)
	assert.Equal(t, 2, wrapped.getEntryCalls, "post-failure read should have bypassed the invalidated cache")
}

func TestCommitChild_FailedApplyStillInvalidatesBestOffersCache(t *testing.T) {
	usd := key.Asset{Code: [4]byte{'U', 'S', 'D'}}
	failErr := errors.New("simulated store failure")
	wrapped := &failingApplyStore{MemStore: seedStore(t), applyErr: failErr}
	r, err := Open(wrapped, Config{BestOffersCacheSize: 16})
	require.NoError(t, err)

	best, ok, err := r.GetBestOffer(ctx, key.NativeAsset(), usd, nil)
	require.NoError(t, err)
	require.True(t, ok)

	best2, ok, err := r.GetBestOffer(ctx, key.NativeAsset(), usd, nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, best, best2)
	assert.Equal(t, 1, wrapped.streamCalls, "second lookup should have been served from cache")

	better := entry.NewOffer(account(2), 1, 0, entry.OfferPayload{
		Buying: key.NativeAsset(), Selling: usd, Price: entry.Price{N: 1, D: 10}, Amount: 3,
	})
	err = r.CommitChild(ctx, entrystore.Delta{
		Entries: map[key.LedgerKey]entrystore.EntryChange{
			better.Key: {Current: &better, Previous: nil},
		},
	})
	require.ErrorIs(t, err, failErr)

	// The failed commit must have invalidated the best-offers cache entry
	// for this asset pair: the next lookup has to hit the store again and
	// must come back with the same pre-commit best offer, since the
	// attempted write never actually landed.
	newBest, ok, err := r.GetBestOffer(ctx, key.NativeAsset(), usd, nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, best.SellerID(), newBest.SellerID())
	assert.Equal(t, 2, wrapped.streamCalls, "post-failure lookup should have bypassed the invalidated cache")
}

func TestAcquireChild_SecondCallRejected(t *testing.T) {
	r, err := Open(seedStore(t), Config{})
	require.NoError(t, err)

	require.NoError(t, r.AcquireChild())
	err = r.AcquireChild()
	assert.Error(t, err)

	r.ReleaseChild()
	assert.NoError(t, r.AcquireChild())
}
