package txn

import (
	"github.com/soonkuk/ledgertxn/internal/ledgertxn/entry"
	"github.com/soonkuk/ledgertxn/internal/ledgertxn/entrystore"
	"github.com/soonkuk/ledgertxn/internal/ledgertxn/key"
)

// EntryDelta is a pair (current, previous) where either side may be nil
// (absent). previous==nil means created; current==nil means deleted;
// both present and different means modified; both present and equal
// means a read-through, retained only to disambiguate "loaded but
// untouched" from "never observed" (spec.md section 3).
type EntryDelta struct {
	Current  *entry.LedgerEntry
	Previous *entry.LedgerEntry
}

func (d EntryDelta) isReadThrough() bool {
	if d.Current == nil || d.Previous == nil {
		return false
	}
	return d.Current.Equal(*d.Previous)
}

// HeaderDelta is the header's (current, previous) pair for one layer.
type HeaderDelta struct {
	Current  *entry.Header
	Previous *entry.Header
}

// LedgerTxnDelta is the observable change of one transaction layer: a
// per-key delta map plus the header delta.
type LedgerTxnDelta struct {
	Entries map[key.LedgerKey]EntryDelta
	Header  HeaderDelta
}

// ToEntryStoreDelta converts to the shape entrystore.EntryStore.CommitChild
// consumes.
func (d LedgerTxnDelta) ToEntryStoreDelta() entrystore.Delta {
	out := entrystore.Delta{
		Entries: make(map[key.LedgerKey]entrystore.EntryChange, len(d.Entries)),
		Header: entrystore.HeaderChange{
			Current:  d.Header.Current,
			Previous: d.Header.Previous,
		},
	}
	for k, v := range d.Entries {
		out.Entries[k] = entrystore.EntryChange{Current: v.Current, Previous: v.Previous}
	}
	return out
}
