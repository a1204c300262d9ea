package txn

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soonkuk/ledgertxn/internal/ledgertxn/entry"
	"github.com/soonkuk/ledgertxn/internal/ledgertxn/errs"
	"github.com/soonkuk/ledgertxn/internal/ledgertxn/key"
)

var ctx = context.Background()

func account(id byte) key.AccountID {
	var a key.AccountID
	a[0] = id
	return a
}

func TestOpen_SecondActiveChildRejected(t *testing.T) {
	r := newFakeRoot()
	ltx1, err := Open(r, false)
	require.NoError(t, err)

	_, err = Open(r, false)
	assert.True(t, errors.Is(err, errs.ErrSecondActiveChild))

	require.NoError(t, ltx1.Rollback())
	_, err = Open(r, false)
	assert.NoError(t, err)
}

func TestCreate_ThenCommit_WritesThrough(t *testing.T) {
	r := newFakeRoot()
	ltx, err := Open(r, false)
	require.NoError(t, err)

	acc := entry.NewAccount(account(1), 0, entry.AccountPayload{Balance: 100})
	h, err := ltx.Create(ctx, acc)
	require.NoError(t, err)
	require.NotNil(t, h)

	require.NoError(t, ltx.Commit(ctx))

	e, ok := r.entries[key.Account(account(1))]
	require.True(t, ok)
	assert.Equal(t, int64(100), e.Account.Balance)
}

func TestCreate_ExistingKeyRejected(t *testing.T) {
	r := newFakeRoot()
	r.entries[key.Account(account(1))] = entry.NewAccount(account(1), 0, entry.AccountPayload{})

	ltx, err := Open(r, false)
	require.NoError(t, err)

	_, err = ltx.Create(ctx, entry.NewAccount(account(1), 0, entry.AccountPayload{}))
	assert.True(t, errors.Is(err, errs.ErrKeyExists))
}

func TestErase_RemovesVisibleEntry(t *testing.T) {
	r := newFakeRoot()
	r.entries[key.Account(account(1))] = entry.NewAccount(account(1), 0, entry.AccountPayload{Balance: 5})

	ltx, err := Open(r, false)
	require.NoError(t, err)
	require.NoError(t, ltx.Erase(ctx, key.Account(account(1))))
	require.NoError(t, ltx.Commit(ctx))

	_, ok := r.entries[key.Account(account(1))]
	assert.False(t, ok)
}

func TestErase_CreatedInSelf_NetsToZero(t *testing.T) {
	r := newFakeRoot()
	ltx, err := Open(r, false)
	require.NoError(t, err)

	_, err = ltx.Create(ctx, entry.NewAccount(account(1), 0, entry.AccountPayload{}))
	require.NoError(t, err)
	require.NoError(t, ltx.Erase(ctx, key.Account(account(1))))

	d, err := ltx.GetDelta()
	require.NoError(t, err)
	assert.Empty(t, d.Entries)
}

func TestErase_MissingKeyRejected(t *testing.T) {
	r := newFakeRoot()
	ltx, err := Open(r, false)
	require.NoError(t, err)
	err = ltx.Erase(ctx, key.Account(account(1)))
	assert.True(t, errors.Is(err, errs.ErrKeyMissing))
}

func TestLoad_SecondLoadOfLiveKeyRejected(t *testing.T) {
	r := newFakeRoot()
	r.entries[key.Account(account(1))] = entry.NewAccount(account(1), 0, entry.AccountPayload{})

	ltx, err := Open(r, false)
	require.NoError(t, err)

	h1, err := ltx.Load(ctx, key.Account(account(1)))
	require.NoError(t, err)
	require.NotNil(t, h1)

	_, err = ltx.Load(ctx, key.Account(account(1)))
	assert.True(t, errors.Is(err, errs.ErrHandleLive))

	h1.Release()
	h2, err := ltx.Load(ctx, key.Account(account(1)))
	assert.NoError(t, err)
	assert.NotNil(t, h2)
}

func TestLoad_MissingKeyReturnsNilNil(t *testing.T) {
	r := newFakeRoot()
	ltx, err := Open(r, false)
	require.NoError(t, err)
	h, err := ltx.Load(ctx, key.Account(account(1)))
	assert.NoError(t, err)
	assert.Nil(t, h)
}

func TestLoadWithoutRecord_DoesNotBlockSubsequentLoad(t *testing.T) {
	r := newFakeRoot()
	r.entries[key.Account(account(1))] = entry.NewAccount(account(1), 0, entry.AccountPayload{Balance: 7})

	ltx, err := Open(r, false)
	require.NoError(t, err)

	c, err := ltx.LoadWithoutRecord(ctx, key.Account(account(1)))
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, int64(7), c.Current().Account.Balance)

	h, err := ltx.Load(ctx, key.Account(account(1)))
	assert.NoError(t, err)
	assert.NotNil(t, h)
}

func TestReadThroughCollapse_NoOpDeltaElided(t *testing.T) {
	r := newFakeRoot()
	r.entries[key.Account(account(1))] = entry.NewAccount(account(1), 0, entry.AccountPayload{Balance: 7})

	ltx, err := Open(r, false)
	require.NoError(t, err)

	_, err = ltx.Load(ctx, key.Account(account(1)))
	require.NoError(t, err)

	d, err := ltx.GetDelta()
	require.NoError(t, err)
	// Load without mutation records a read-through entry whose current
	// equals previous; GetDelta exposes it (collapse happens at
	// CommitChild, not at snapshot time).
	assert.Len(t, d.Entries, 1)

	// Merging a pure read-through delta into an unrelated, empty layer
	// must elide to nothing (rule 3) rather than recording a spurious
	// entry; the layer it merges into need not be ltx's own parent.
	ltx2, err := Open(newFakeRoot(), false)
	require.NoError(t, err)
	require.NoError(t, ltx2.CommitChild(ctx, d.ToEntryStoreDelta()))
	assert.Empty(t, ltx2.delta)
}

func TestSealed_RejectsMutation(t *testing.T) {
	r := newFakeRoot()
	ltx, err := Open(r, false)
	require.NoError(t, err)

	_, err = ltx.GetDelta()
	require.NoError(t, err)

	_, err = ltx.Create(ctx, entry.NewAccount(account(1), 0, entry.AccountPayload{}))
	assert.True(t, errors.Is(err, errs.ErrSealed))
}

func TestChildActive_RejectsParentMutationAndCommit(t *testing.T) {
	r := newFakeRoot()
	parent, err := Open(r, false)
	require.NoError(t, err)

	child, err := Open(parent, false)
	require.NoError(t, err)

	_, err = parent.Create(ctx, entry.NewAccount(account(1), 0, entry.AccountPayload{}))
	assert.True(t, errors.Is(err, errs.ErrChildActive))

	err = parent.Commit(ctx)
	assert.True(t, errors.Is(err, errs.ErrChildActive))

	require.NoError(t, child.Rollback())
	require.NoError(t, parent.Rollback())
}

func TestTerminal_RejectsEverything(t *testing.T) {
	r := newFakeRoot()
	ltx, err := Open(r, false)
	require.NoError(t, err)
	require.NoError(t, ltx.Commit(ctx))

	_, err = ltx.Create(ctx, entry.NewAccount(account(1), 0, entry.AccountPayload{}))
	assert.True(t, errors.Is(err, errs.ErrTerminal))

	err = ltx.Commit(ctx)
	assert.True(t, errors.Is(err, errs.ErrTerminal))

	err = ltx.Rollback()
	assert.True(t, errors.Is(err, errs.ErrTerminal))
}

func TestRollback_DiscardsChanges(t *testing.T) {
	r := newFakeRoot()
	ltx, err := Open(r, false)
	require.NoError(t, err)

	_, err = ltx.Create(ctx, entry.NewAccount(account(1), 0, entry.AccountPayload{Balance: 1}))
	require.NoError(t, err)
	require.NoError(t, ltx.Rollback())

	_, ok := r.entries[key.Account(account(1))]
	assert.False(t, ok)
}

func TestNestedCommit_MergesIntoGrandparentOriginal(t *testing.T) {
	r := newFakeRoot()
	r.entries[key.Account(account(1))] = entry.NewAccount(account(1), 0, entry.AccountPayload{Balance: 100})

	mid, err := Open(r, false)
	require.NoError(t, err)

	inner, err := Open(mid, false)
	require.NoError(t, err)

	h, err := inner.Load(ctx, key.Account(account(1)))
	require.NoError(t, err)
	h.Current().Account.Balance = 50
	require.NoError(t, inner.Commit(ctx))

	require.NoError(t, mid.Commit(ctx))

	e, ok := r.entries[key.Account(account(1))]
	require.True(t, ok)
	assert.Equal(t, int64(50), e.Account.Balance)
}

func TestHeaderHandle_ExclusivityAndUnseal(t *testing.T) {
	r := newFakeRoot()
	r.header = entry.Header{LedgerSeq: 1, BaseFee: 10}

	ltx, err := Open(r, false)
	require.NoError(t, err)

	hh, err := ltx.LoadHeader(ctx)
	require.NoError(t, err)
	hh.Current().BaseFee = 20

	_, err = ltx.LoadHeader(ctx)
	assert.True(t, errors.Is(err, errs.ErrHeaderLive))

	hh.Release()

	_, err = ltx.GetDelta()
	require.NoError(t, err)

	require.NoError(t, ltx.UnsealHeader(ctx, func(h *entry.Header) error {
		assert.Equal(t, int64(20), h.BaseFee)
		return nil
	}))
}

func TestLoadBestOffer_ComposesAcrossLayers(t *testing.T) {
	r := newFakeRoot()
	usd := key.Asset{Code: [4]byte{'U', 'S', 'D'}}
	seller1, seller2 := account(1), account(2)
	r.entries[key.Offer(seller1, 1)] = entry.NewOffer(seller1, 1, 0, entry.OfferPayload{
		Buying: key.NativeAsset(), Selling: usd, Price: entry.Price{N: 2, D: 1}, Amount: 10,
	})

	ltx, err := Open(r, false)
	require.NoError(t, err)

	// A cheaper offer created in self should win over the root's offer.
	_, err = ltx.Create(ctx, entry.NewOffer(seller2, 1, 0, entry.OfferPayload{
		Buying: key.NativeAsset(), Selling: usd, Price: entry.Price{N: 1, D: 1}, Amount: 5,
	}))
	require.NoError(t, err)

	best, err := ltx.LoadBestOffer(ctx, key.NativeAsset(), usd)
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, seller2, best.Key().AccountID)
}

func TestLoadOffersByAccountAndAsset_SortedByOfferID(t *testing.T) {
	r := newFakeRoot()
	usd := key.Asset{Code: [4]byte{'U', 'S', 'D'}}
	seller := account(1)
	r.entries[key.Offer(seller, 2)] = entry.NewOffer(seller, 2, 0, entry.OfferPayload{Buying: key.NativeAsset(), Selling: usd, Price: entry.Price{N: 1, D: 1}, Amount: 1})

	ltx, err := Open(r, false)
	require.NoError(t, err)
	_, err = ltx.Create(ctx, entry.NewOffer(seller, 1, 0, entry.OfferPayload{Buying: key.NativeAsset(), Selling: usd, Price: entry.Price{N: 1, D: 1}, Amount: 1}))
	require.NoError(t, err)

	offers, err := ltx.LoadOffersByAccountAndAsset(ctx, seller, usd)
	require.NoError(t, err)
	require.Len(t, offers, 2)
	assert.Equal(t, key.OfferID(1), offers[0].Key().OfferID)
	assert.Equal(t, key.OfferID(2), offers[1].Key().OfferID)
}

func TestQueryInflationWinners_AggregatesAcrossLayers(t *testing.T) {
	r := newFakeRoot()
	dest := account(9)
	r.entries[key.Account(account(1))] = entry.NewAccount(account(1), 0, entry.AccountPayload{
		Balance: 100, HasInflationDest: true, InflationDest: dest,
	})

	ltx, err := Open(r, false)
	require.NoError(t, err)
	_, err = ltx.Create(ctx, entry.NewAccount(account(2), 0, entry.AccountPayload{
		Balance: 50, HasInflationDest: true, InflationDest: dest,
	}))
	require.NoError(t, err)

	winners, err := ltx.QueryInflationWinners(ctx, -1, 0)
	require.NoError(t, err)
	require.Len(t, winners, 1)
	assert.Equal(t, dest, winners[0].AccountID)
	assert.Equal(t, int64(150), winners[0].Votes)
}

func TestGetLiveEntries_ReturnsOwnDeltaOnly(t *testing.T) {
	r := newFakeRoot()
	r.entries[key.Account(account(1))] = entry.NewAccount(account(1), 0, entry.AccountPayload{Balance: 1})

	ltx, err := Open(r, false)
	require.NoError(t, err)

	_, err = ltx.Create(ctx, entry.NewAccount(account(2), 0, entry.AccountPayload{Balance: 2}))
	require.NoError(t, err)

	live, err := ltx.GetLiveEntries()
	require.NoError(t, err)
	assert.Len(t, live, 1)
	assert.Equal(t, account(2), live[0].Key.AccountID)
}
