package txn

import (
	"context"

	"github.com/soonkuk/ledgertxn/internal/ledgertxn/entry"
	"github.com/soonkuk/ledgertxn/internal/ledgertxn/entrystore"
	"github.com/soonkuk/ledgertxn/internal/ledgertxn/errs"
	"github.com/soonkuk/ledgertxn/internal/ledgertxn/key"
)

// CommitChild implements entrystore.EntryStore for LedgerTxn-as-parent:
// it folds a committing child's delta into self's own delta using the
// three merge rules in spec.md section 4.1. context is unused here (no
// I/O happens merging into an in-memory delta) but kept to satisfy the
// interface and its context.Context convention uniformly with the Root.
func (t *LedgerTxn) CommitChild(_ context.Context, d entrystore.Delta) error {
	for k, ec := range d.Entries {
		if err := t.mergeEntry(k, ec); err != nil {
			return err
		}
	}
	t.mergeHeader(d.Header)
	return nil
}

func (t *LedgerTxn) mergeEntry(k key.LedgerKey, child entrystore.EntryChange) error {
	existing, hasExisting := t.delta[k]

	if !hasExisting {
		// Rule 1: parent has no entry for k, copy child's (current,
		// previous) verbatim.
		merged := EntryDelta{Current: child.Current, Previous: child.Previous}
		t.storeOrElide(k, merged)
		return nil
	}

	// Rule 2: parent already has (cur_p, prev_p). The child's previous
	// must equal cur_p by construction (invariants 3/4); checked here as
	// a self-test.
	if !entriesEqualPtr(child.Previous, existing.Current) {
		return errs.Misuse("CommitChild", errs.ErrMergeInvariant)
	}
	merged := EntryDelta{Current: child.Current, Previous: existing.Previous}
	t.storeOrElide(k, merged)
	return nil
}

// storeOrElide writes merged into self's delta, unless it is a no-op
// (rule 3: current == previous, both present — or both absent).
func (t *LedgerTxn) storeOrElide(k key.LedgerKey, merged EntryDelta) {
	if isNoOp(merged) {
		delete(t.delta, k)
		return
	}
	t.delta[k] = merged
}

func isNoOp(d EntryDelta) bool {
	if d.Current == nil && d.Previous == nil {
		return true
	}
	if d.Current == nil || d.Previous == nil {
		return false
	}
	return d.Current.Equal(*d.Previous)
}

func entriesEqualPtr(a, b *entry.LedgerEntry) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return a.Equal(*b)
}

func (t *LedgerTxn) mergeHeader(child entrystore.HeaderChange) {
	if child.Current == nil {
		return
	}
	if t.headerDelta.Current == nil {
		t.headerDelta = HeaderDelta{Current: child.Current, Previous: child.Previous}
		return
	}
	t.headerDelta = HeaderDelta{Current: child.Current, Previous: t.headerDelta.Previous}
}
