// Package txn implements LedgerTxn, the nested transactional overlay at
// the core of this module: a per-key delta map over a parent (either
// another LedgerTxn or a root bound to the persistent store), with
// activation/sealing lifecycle and commit/rollback folding. See
// spec.md section 4.1 and SPEC_FULL.md section 4.1.
package txn

import (
	"context"

	"github.com/soonkuk/ledgertxn/internal/ledgertxn/entry"
	"github.com/soonkuk/ledgertxn/internal/ledgertxn/entrystore"
	"github.com/soonkuk/ledgertxn/internal/ledgertxn/errs"
	"github.com/soonkuk/ledgertxn/internal/ledgertxn/key"
)

// Parent is what a LedgerTxn can be opened against: another LedgerTxn,
// or a root bound to the backing store. Both LedgerTxn and
// root.LedgerTxnRoot satisfy it structurally.
type Parent interface {
	entrystore.EntryStore
	AcquireChild() error
	ReleaseChild()
}

// LedgerTxn is a single layer of the overlay: open, then sealed, then
// terminal (committed or rolled back). Not safe for concurrent use —
// callers must not share a LedgerTxn or its handles across goroutines
// (spec.md section 5).
type LedgerTxn struct {
	parent      Parent
	enforceMeta bool

	delta       map[key.LedgerKey]EntryDelta
	headerDelta HeaderDelta

	liveKeys   map[key.LedgerKey]struct{}
	headerLive bool

	childActive bool
	sealed      bool
	terminal    bool
}

// Open attaches a new LedgerTxn as parent's sole active child. It fails
// if parent already has an active child or is itself sealed/terminal.
func Open(parent Parent, enforceMeta bool) (*LedgerTxn, error) {
	if err := parent.AcquireChild(); err != nil {
		return nil, err
	}
	return &LedgerTxn{
		parent:      parent,
		enforceMeta: enforceMeta,
		delta:       make(map[key.LedgerKey]EntryDelta),
		liveKeys:    make(map[key.LedgerKey]struct{}),
	}, nil
}

func (t *LedgerTxn) checkMutable(op string) error {
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

// AcquireChild implements Parent for LedgerTxn-as-parent: invariant 1.
func (t *LedgerTxn) AcquireChild() error {
	if t.terminal {
		return errs.Misuse("AcquireChild", errs.ErrTerminal)
	}
	if t.sealed {
		return errs.Misuse("AcquireChild", errs.ErrSealed)
	}
	if t.childActive {
		return errs.Misuse("AcquireChild", errs.ErrSecondActiveChild)
	}
	t.childActive = true
	return nil
}

func (t *LedgerTxn) ReleaseChild() {
	t.childActive = false
}

// resolveVisible returns the entry visible for k at this layer: self's
// delta if present, else the ancestor's view through parent.
func (t *LedgerTxn) resolveVisible(ctx context.Context, k key.LedgerKey) (*entry.LedgerEntry, bool, error) {
	if d, ok := t.delta[k]; ok {
		return d.Current, d.Current != nil, nil
	}
	e, ok, err := t.parent.GetEntry(ctx, k)
	if err != nil || !ok {
		return nil, ok, err
	}
	cp := e
	return &cp, true, nil
}

// GetEntry implements entrystore.EntryStore for LedgerTxn-as-parent: a
// child consults this when walking ancestry. Not gated by sealed/active
// child, since by invariant 1 only the sole active child ever calls it.
func (t *LedgerTxn) GetEntry(ctx context.Context, k key.LedgerKey) (entry.LedgerEntry, bool, error) {
	p, ok, err := t.resolveVisible(ctx, k)
	if err != nil || !ok {
		return entry.LedgerEntry{}, ok, err
	}
	return *p, true, nil
}

func (t *LedgerTxn) GetHeader(ctx context.Context) (entry.Header, error) {
	if t.headerDelta.Current != nil {
		return *t.headerDelta.Current, nil
	}
	return t.parent.GetHeader(ctx)
}

// Create inserts a brand-new entry. Fails if the key is visible-as-
// present in self or any ancestor.
func (t *LedgerTxn) Create(ctx context.Context, e entry.LedgerEntry) (*EntryHandle, error) {
	if err := t.checkMutable("Create"); err != nil {
		return nil, err
	}
	k := e.Key
	_, present, err := t.resolveVisible(ctx, k)
	if err != nil {
		return nil, err
	}
	if present {
		return nil, errs.Misuse("Create", errs.ErrKeyExists)
	}
	cp := e
	t.delta[k] = EntryDelta{Current: &cp, Previous: nil}
	t.liveKeys[k] = struct{}{}
	return &EntryHandle{ltx: t, key: k}, nil
}

// Erase removes a visible entry. If it was created in self, the delta
// entry collapses to nothing (net-zero); otherwise a deletion delta is
// recorded against the ancestor's value.
func (t *LedgerTxn) Erase(ctx context.Context, k key.LedgerKey) error {
	if err := t.checkMutable("Erase"); err != nil {
		return err
	}
	cur, present, err := t.resolveVisible(ctx, k)
	if err != nil {
		return err
	}
	if !present {
		return errs.Misuse("Erase", errs.ErrKeyMissing)
	}
	if d, inSelf := t.delta[k]; inSelf {
		if d.Previous == nil {
			// Created in self: net-zero, drop the delta entry entirely.
			delete(t.delta, k)
		} else {
			t.delta[k] = EntryDelta{Current: nil, Previous: d.Previous}
		}
	} else {
		t.delta[k] = EntryDelta{Current: nil, Previous: cur}
	}
	return nil
}

// Load resolves k by walking ancestry, recording a read-through entry
// in self's delta on success. Fails if k already has a live handle in
// self.
func (t *LedgerTxn) Load(ctx context.Context, k key.LedgerKey) (*EntryHandle, error) {
	if err := t.checkMutable("Load"); err != nil {
		return nil, err
	}
	if _, live := t.liveKeys[k]; live {
		return nil, errs.Misuse("Load", errs.ErrHandleLive)
	}
	if d, ok := t.delta[k]; ok {
		if d.Current == nil {
			return nil, nil
		}
		t.liveKeys[k] = struct{}{}
		return &EntryHandle{ltx: t, key: k}, nil
	}
	e, ok, err := t.parent.GetEntry(ctx, k)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	cur, prev := e, e
	t.delta[k] = EntryDelta{Current: &cur, Previous: &prev}
	t.liveKeys[k] = struct{}{}
	return &EntryHandle{ltx: t, key: k}, nil
}

// LoadWithoutRecord resolves k like Load but never writes a read-through
// delta entry into self; the returned handle is read-only and does not
// participate in the live-handle exclusivity tracked for EntryHandle.
func (t *LedgerTxn) LoadWithoutRecord(ctx context.Context, k key.LedgerKey) (*ConstLedgerTxnEntry, error) {
	if err := t.checkMutable("LoadWithoutRecord"); err != nil {
		return nil, err
	}
	p, ok, err := t.resolveVisible(ctx, k)
	if err != nil || !ok {
		return nil, err
	}
	return &ConstLedgerTxnEntry{value: *p}, nil
}

// LoadHeader returns a mutable handle to the header. Fails if the
// header is already loaded (at most one live header handle per layer).
func (t *LedgerTxn) LoadHeader(ctx context.Context) (*HeaderHandle, error) {
	if err := t.checkMutable("LoadHeader"); err != nil {
		return nil, err
	}
	if t.headerLive {
		return nil, errs.Misuse("LoadHeader", errs.ErrHeaderLive)
	}
	if err := t.ensureHeaderDelta(ctx); err != nil {
		return nil, err
	}
	t.headerLive = true
	return &HeaderHandle{ltx: t}, nil
}

func (t *LedgerTxn) ensureHeaderDelta(ctx context.Context) error {
	if t.headerDelta.Current != nil {
		return nil
	}
	h, err := t.parent.GetHeader(ctx)
	if err != nil {
		return err
	}
	cur, prev := h, h
	t.headerDelta = HeaderDelta{Current: &cur, Previous: &prev}
	return nil
}

// GetDelta seals the transaction and returns its full delta.
func (t *LedgerTxn) GetDelta() (LedgerTxnDelta, error) {
	if t.terminal {
		return LedgerTxnDelta{}, errs.Misuse("GetDelta", errs.ErrTerminal)
	}
	t.sealed = true
	return t.snapshotDelta(), nil
}

func (t *LedgerTxn) snapshotDelta() LedgerTxnDelta {
	out := make(map[key.LedgerKey]EntryDelta, len(t.delta))
	for k, v := range t.delta {
		out[k] = v
	}
	return LedgerTxnDelta{Entries: out, Header: t.headerDelta}
}

// GetLiveEntries seals the transaction and returns the entries this
// layer itself currently holds present (its own delta's current
// entries) — not the full ancestor-merged ledger view, which has no
// bounded size. See DESIGN.md for the reasoning behind this scope.
func (t *LedgerTxn) GetLiveEntries() ([]entry.LedgerEntry, error) {
	if t.terminal {
		return nil, errs.Misuse("GetLiveEntries", errs.ErrTerminal)
	}
	t.sealed = true
	out := make([]entry.LedgerEntry, 0, len(t.delta))
	for _, d := range t.delta {
		if d.Current != nil {
			out = append(out, *d.Current)
		}
	}
	return out, nil
}

// UnsealHeader is permitted only once the transaction is sealed. It
// temporarily activates the header, invokes f, then deactivates it.
func (t *LedgerTxn) UnsealHeader(ctx context.Context, f func(*entry.Header) error) error {
	if !t.sealed {
		return errs.Misuse("UnsealHeader", errs.ErrNotSealed)
	}
	if t.headerLive {
		return errs.Misuse("UnsealHeader", errs.ErrHeaderLive)
	}
	if err := t.ensureHeaderDelta(ctx); err != nil {
		return err
	}
	t.headerLive = true
	defer func() { t.headerLive = false }()
	return f(t.headerDelta.Current)
}

// Commit folds self's delta into the parent using the merge rules in
// spec.md section 4.1, then destroys self, invalidating all of its
// handles.
func (t *LedgerTxn) Commit(ctx context.Context) error {
	if t.terminal {
		return errs.Misuse("Commit", errs.ErrTerminal)
	}
	if t.childActive {
		return errs.Misuse("Commit", errs.ErrChildActive)
	}
	d := t.snapshotDelta()
	if err := t.parent.CommitChild(ctx, d.ToEntryStoreDelta()); err != nil {
		return err
	}
	t.parent.ReleaseChild()
	t.terminal = true
	t.sealed = true
	t.delta, t.liveKeys, t.headerDelta, t.headerLive = nil, nil, HeaderDelta{}, false
	return nil
}

// Rollback discards self's delta and destroys self, invalidating all of
// its handles.
func (t *LedgerTxn) Rollback() error {
	if t.terminal {
		return errs.Misuse("Rollback", errs.ErrTerminal)
	}
	if t.childActive {
		return errs.Misuse("Rollback", errs.ErrChildActive)
	}
	t.parent.ReleaseChild()
	t.terminal = true
	t.sealed = true
	t.delta, t.liveKeys, t.headerDelta, t.headerLive = nil, nil, HeaderDelta{}, false
	return nil
}

// IsSealed reports whether the transaction has been sealed.
func (t *LedgerTxn) IsSealed() bool { return t.sealed }

// IsTerminal reports whether the transaction has committed or rolled back.
func (t *LedgerTxn) IsTerminal() bool { return t.terminal }
