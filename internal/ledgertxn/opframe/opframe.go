// Package opframe is the single worked example of a caller driving
// txn.LedgerTxn: an operation frame that validates against, then
// mutates, one open transaction, grounded on the original source's
// OperationFrame.apply/checkValid split
// (transactions/OperationFrame.cpp). Building the rest of the operation
// set (payments, trust lines, account merge, and so on) is out of
// scope; this package exists to exercise LedgerTxn's API the way a real
// caller would, not to implement transaction processing.
package opframe

import (
	"context"

	"github.com/soonkuk/ledgertxn/internal/ledgertxn/entry"
	"github.com/soonkuk/ledgertxn/internal/ledgertxn/errs"
	"github.com/soonkuk/ledgertxn/internal/ledgertxn/key"
	"github.com/soonkuk/ledgertxn/internal/ledgertxn/txn"
)

// ResultCode mirrors the coarse outer result an operation frame
// produces, independent of any operation-specific inner result.
type ResultCode int

const (
	OpInner ResultCode = iota
	OpBadAuth
	OpNoAccount
	OpNotSupported
)

func (c ResultCode) String() string {
	switch c {
	case OpInner:
		return "opINNER"
	case OpBadAuth:
		return "opBAD_AUTH"
	case OpNoAccount:
		return "opNO_ACCOUNT"
	case OpNotSupported:
		return "opNOT_SUPPORTED"
	default:
		return "opUNKNOWN"
	}
}

// SignatureChecker is the collaborator CheckValid consults to verify
// the source account authorized this operation. Verifying an actual
// transaction envelope's cryptographic signature is out of scope for
// this module (spec.md §1); this interface exists so CheckValid can
// carry the same branching shape OperationFrame::checkValid does
// without this package owning signature verification itself.
type SignatureChecker interface {
	CheckSignature(source key.AccountID) bool
}

// NopSignatureChecker reports every signature as valid. Callers that
// have already authenticated the source account out-of-band (this
// package's own tests) pass this rather than a real checker.
type NopSignatureChecker struct{}

// CheckSignature always succeeds.
func (NopSignatureChecker) CheckSignature(key.AccountID) bool { return true }

// Frame is the contract every operation implements: a read-only
// validation pass, then the mutation pass. Both take the transaction
// they run against rather than owning one, matching apply's signature
// taking an AbstractLedgerTxn& in the source this is grounded on.
type Frame interface {
	// forApply distinguishes the two callers OperationFrame::checkValid
	// has: true when invoked from Apply (a single signature check
	// already covers the whole operation from protocol 10 onward),
	// false for a standalone validation pass (flood-checking) that must
	// always verify the signature itself.
	CheckValid(ctx context.Context, ltx *txn.LedgerTxn, ledgerVersion uint32, sc SignatureChecker, forApply bool) (ResultCode, error)
	Apply(ctx context.Context, ltx *txn.LedgerTxn, ledgerVersion uint32, sc SignatureChecker) (ResultCode, error)
}

// OfferCreateFrame creates, replaces, or (Amount == 0) removes the
// seller's offer at OfferID. It does not cross the new offer against
// the opposite book — that belongs to a payment engine this module
// does not implement.
type OfferCreateFrame struct {
	Seller  key.AccountID
	OfferID key.OfferID
	Buying  key.Asset
	Selling key.Asset
	Price   entry.Price
	Amount  int64
}

// CheckValid runs read-only: it must not mutate ltx, so every lookup
// goes through LoadWithoutRecord rather than Load.
func (f *OfferCreateFrame) CheckValid(ctx context.Context, ltx *txn.LedgerTxn, ledgerVersion uint32, sc SignatureChecker, forApply bool) (ResultCode, error) {
	if f.Amount < 0 {
		return OpNotSupported, errs.DomainRejection("OfferCreateFrame.CheckValid", "negative amount", nil)
	}
	if f.Price.N <= 0 || f.Price.D <= 0 {
		return OpNotSupported, errs.DomainRejection("OfferCreateFrame.CheckValid", "non-positive price", nil)
	}
	if f.Buying.Equal(f.Selling) {
		return OpNotSupported, errs.DomainRejection("OfferCreateFrame.CheckValid", "buying and selling assets identical", nil)
	}

	acc, err := ltx.LoadWithoutRecord(ctx, key.Account(f.Seller))
	if err != nil {
		return OpInner, err
	}
	if acc == nil {
		return OpNoAccount, errs.DomainRejection("OfferCreateFrame.CheckValid", "seller account does not exist", nil)
	}

	// Before protocol 10, or when this pass isn't part of Apply, the
	// signature must be checked here. From 10 onward, Apply has already
	// had the whole operation's signature verified once at the
	// transaction level, so a second check here would be redundant.
	if !forApply || ledgerVersion < 10 {
		if !sc.CheckSignature(f.Seller) {
			return OpBadAuth, errs.DomainRejection("OfferCreateFrame.CheckValid", "signature check failed", nil)
		}
	}

	// Protocol versions before 10 did not require the seller to already
	// hold a trust line for a non-native selling asset; from 10 onward an
	// offer selling an issued asset requires one.
	if ledgerVersion >= 10 && !f.Selling.Native {
		tl, err := ltx.LoadWithoutRecord(ctx, key.TrustLine(f.Seller, f.Selling))
		if err != nil {
			return OpInner, err
		}
		if tl == nil {
			return OpNotSupported, errs.DomainRejection("OfferCreateFrame.CheckValid", "no trust line for selling asset", nil)
		}
	}

	header, err := ltx.GetHeader(ctx)
	if err != nil {
		return OpInner, err
	}
	minReserve := int64(acc.Current().Account.NumSubEntries+2) * header.BaseReserve
	if f.Amount > 0 && acc.Current().Account.Balance < minReserve {
		return OpNotSupported, errs.DomainRejection("OfferCreateFrame.CheckValid", "insufficient reserve for new offer", nil)
	}
	return OpInner, nil
}

// Apply re-runs CheckValid and, only on success, replaces any existing
// offer at (Seller, OfferID) and, when Amount is positive, creates the
// new one, adjusting the seller's NumSubEntries to match. It also
// probes the opposite book via LoadBestOffer purely to demonstrate the
// derived-query path a real crossing engine would build on; the
// returned handle is released immediately without acting on it.
func (f *OfferCreateFrame) Apply(ctx context.Context, ltx *txn.LedgerTxn, ledgerVersion uint32, sc SignatureChecker) (ResultCode, error) {
	if code, err := f.CheckValid(ctx, ltx, ledgerVersion, sc, true); err != nil || code != OpInner {
		return code, err
	}

	offerKey := key.Offer(f.Seller, f.OfferID)

	existing, err := ltx.Load(ctx, offerKey)
	if err != nil {
		return OpInner, err
	}

	accHandle, err := ltx.Load(ctx, key.Account(f.Seller))
	if err != nil {
		return OpInner, err
	}
	if accHandle == nil {
		return OpNoAccount, errs.DomainRejection("OfferCreateFrame.Apply", "seller account does not exist", nil)
	}
	defer accHandle.Release()

	if existing != nil {
		if err := existing.Erase(ctx); err != nil {
			return OpInner, err
		}
		existing.Release()
		accHandle.Current().Account.NumSubEntries--
	}

	if f.Amount > 0 {
		newOffer := entry.NewOffer(f.Seller, f.OfferID, 0, entry.OfferPayload{
			Buying:  f.Buying,
			Selling: f.Selling,
			Price:   f.Price,
			Amount:  f.Amount,
		})
		h, err := ltx.Create(ctx, newOffer)
		if err != nil {
			return OpInner, err
		}
		h.Release()
		accHandle.Current().Account.NumSubEntries++
	}

	counter, err := ltx.LoadBestOffer(ctx, f.Selling, f.Buying)
	if err != nil {
		return OpInner, err
	}
	if counter != nil {
		counter.Release()
	}

	return OpInner, nil
}
