// Package entry defines LedgerEntry, the tagged union parallel to
// key.LedgerKey that carries an entry's payload plus its
// LastModifiedLedgerSeq. Entries are value-equal: two entries compare
// equal iff their key, stamp, and payload all match.
package entry

import (
	"bytes"

	"github.com/soonkuk/ledgertxn/internal/ledgertxn/key"
)

// Price is a rational price ratio, numerator over denominator, matching
// the original ledger format's Price{n, d} representation for offers.
type Price struct {
	N int32
	D int32
}

// Less reports whether p represents a strictly lower price than o.
// Cross-multiplication avoids floating point.
func (p Price) Less(o Price) bool {
	return int64(p.N)*int64(o.D) < int64(o.N)*int64(p.D)
}

func (p Price) Equal(o Price) bool {
	return int64(p.N)*int64(o.D) == int64(o.N)*int64(p.D)
}

// AccountPayload is the data carried by an Account entry.
type AccountPayload struct {
	Balance          int64
	SeqNum           uint32
	NumSubEntries    uint32
	HasInflationDest bool
	InflationDest    key.AccountID
}

func (a AccountPayload) equal(o AccountPayload) bool {
	return a == o
}

// TrustLinePayload is the data carried by a TrustLine entry.
type TrustLinePayload struct {
	Balance int64
	Limit   int64
	Flags   uint32
}

// OfferPayload is the data carried by an Offer entry.
type OfferPayload struct {
	Buying  key.Asset
	Selling key.Asset
	Price   Price
	Amount  int64
}

func (o OfferPayload) equal(other OfferPayload) bool {
	return o.Buying.Equal(other.Buying) &&
		o.Selling.Equal(other.Selling) &&
		o.Price.Equal(other.Price) &&
		o.Amount == other.Amount
}

// DataPayload is the data carried by a Data entry.
type DataPayload struct {
	Value []byte
}

// LedgerEntry is the value stored for a LedgerKey. Only the payload
// field matching Key.Type is meaningful.
type LedgerEntry struct {
	Key                   key.LedgerKey
	LastModifiedLedgerSeq uint32

	Account   AccountPayload
	TrustLine TrustLinePayload
	Offer     OfferPayload
	Data      DataPayload
}

// NewAccount builds an Account entry.
func NewAccount(id key.AccountID, seq uint32, payload AccountPayload) LedgerEntry {
	return LedgerEntry{Key: key.Account(id), LastModifiedLedgerSeq: seq, Account: payload}
}

// NewTrustLine builds a TrustLine entry.
func NewTrustLine(id key.AccountID, asset key.Asset, seq uint32, payload TrustLinePayload) LedgerEntry {
	return LedgerEntry{Key: key.TrustLine(id, asset), LastModifiedLedgerSeq: seq, TrustLine: payload}
}

// NewOffer builds an Offer entry.
func NewOffer(seller key.AccountID, offerID key.OfferID, seq uint32, payload OfferPayload) LedgerEntry {
	return LedgerEntry{Key: key.Offer(seller, offerID), LastModifiedLedgerSeq: seq, Offer: payload}
}

// NewData builds a Data entry.
func NewData(id key.AccountID, name key.DataName, seq uint32, payload DataPayload) LedgerEntry {
	return LedgerEntry{Key: key.Data(id, name), LastModifiedLedgerSeq: seq, Data: payload}
}

// Equal reports whether two entries are value-equal: same key, same
// LastModifiedLedgerSeq, and equal payload for the key's type.
func (e LedgerEntry) Equal(o LedgerEntry) bool {
	if e.Key != o.Key || e.LastModifiedLedgerSeq != o.LastModifiedLedgerSeq {
		return false
	}
	switch e.Key.Type {
	case key.TypeAccount:
		return e.Account.equal(o.Account)
	case key.TypeTrustLine:
		return e.TrustLine == o.TrustLine
	case key.TypeOffer:
		return e.Offer.equal(o.Offer)
	case key.TypeData:
		return bytes.Equal(e.Data.Value, o.Data.Value)
	default:
		return false
	}
}

// SellerID returns the offer's seller account; only meaningful when
// Key.Type == key.TypeOffer.
func (e LedgerEntry) SellerID() key.AccountID {
	return e.Key.AccountID
}

// OfferID returns the offer's id; only meaningful when Key.Type ==
// key.TypeOffer.
func (e LedgerEntry) OfferID() key.OfferID {
	return e.Key.OfferID
}

// MatchesAssetPair reports whether the offer buys `buying` and sells
// `selling`.
func (e LedgerEntry) MatchesAssetPair(buying, selling key.Asset) bool {
	return e.Offer.Buying.Equal(buying) && e.Offer.Selling.Equal(selling)
}

// InvolvesAsset reports whether the offer's buying or selling side
// equals asset.
func (e LedgerEntry) InvolvesAsset(asset key.Asset) bool {
	return e.Offer.Buying.Equal(asset) || e.Offer.Selling.Equal(asset)
}

// Header is the ledger's global metadata. Exactly one logical header
// exists per layer.
type Header struct {
	LedgerVersion uint32
	LedgerSeq     uint32
	BaseFee       int64
	BaseReserve   int64
	MaxTxSetSize  uint32
	InflationSeq  uint32
}

func (h Header) Equal(o Header) bool {
	return h == o
}
