package txn

import (
	"context"

	"github.com/soonkuk/ledgertxn/internal/ledgertxn/entry"
	"github.com/soonkuk/ledgertxn/internal/ledgertxn/key"
)

// EntryHandle is a borrow token binding (owning transaction, key) to the
// mutable slot in the transaction's delta. Go has no destructors, so
// unlike the move-only handles in the source this module is descended
// from, callers must explicitly call h.Release() on every handle that
// Create, Load or a derived query returns.
type EntryHandle struct {
	ltx      *LedgerTxn
	key      key.LedgerKey
	released bool
}

// Current returns a pointer into the owning transaction's delta; callers
// may mutate the pointed-to entry directly. Returns nil if the handle
// was released, the key was erased through it, or the owning transaction
// has committed or rolled back.
func (h *EntryHandle) Current() *entry.LedgerEntry {
	if h.released {
		return nil
	}
	return h.ltx.delta[h.key].Current
}

// Erase is equivalent to calling Erase(key) on the owning transaction.
func (h *EntryHandle) Erase(ctx context.Context) error {
	return h.ltx.Erase(ctx, h.key)
}

// Key returns the key this handle is bound to.
func (h *EntryHandle) Key() key.LedgerKey { return h.key }

// Release marks the key no-longer-active in the owning transaction.
// Safe to call more than once.
func (h *EntryHandle) Release() {
	if h.released {
		return
	}
	h.released = true
	delete(h.ltx.liveKeys, h.key)
}

// ConstLedgerTxnEntry is the read-only variant returned by
// LoadWithoutRecord: a snapshot value, not a live borrow, so it carries
// no exclusivity and needs no Release.
type ConstLedgerTxnEntry struct {
	value entry.LedgerEntry
}

func (c *ConstLedgerTxnEntry) Current() entry.LedgerEntry { return c.value }

// HeaderHandle is the header's analog to EntryHandle.
type HeaderHandle struct {
	ltx      *LedgerTxn
	released bool
}

func (h *HeaderHandle) Current() *entry.Header {
	if h.released {
		return nil
	}
	return h.ltx.headerDelta.Current
}

// Release deactivates the header handle. Safe to call more than once.
func (h *HeaderHandle) Release() {
	if h.released {
		return
	}
	h.released = true
	h.ltx.headerLive = false
}
