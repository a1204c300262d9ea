// Package key defines LedgerKey, the tagged union identifying a single
// addressable ledger entry: an account, a trust line, an offer, or a
// data entry. Keys are value-equal and hashable so they can be used
// directly as Go map keys, mirroring how keylet.Keylet is used as a map
// key throughout the reference ledger implementations this module is
// descended from.
package key

import "fmt"

// AccountID identifies an account. Stellar-style accounts are 32-byte
// ed25519 public keys; we keep the same width.
type AccountID [32]byte

func (a AccountID) String() string {
	return fmt.Sprintf("%x", a[:8])
}

// Asset identifies a currency: either the network's native asset, or an
// issued asset identified by a 4-byte code and an issuing account.
type Asset struct {
	Native bool
	Code   [4]byte
	Issuer AccountID
}

func NativeAsset() Asset { return Asset{Native: true} }

// Equal reports whether two assets denote the same currency.
func (a Asset) Equal(o Asset) bool {
	if a.Native != o.Native {
		return false
	}
	if a.Native {
		return true
	}
	return a.Code == o.Code && a.Issuer == o.Issuer
}

func (a Asset) String() string {
	if a.Native {
		return "XLM"
	}
	return fmt.Sprintf("%s:%s", a.Code, a.Issuer)
}

// OfferID is the per-account sequence number that, together with the
// seller's AccountID, identifies an Offer entry.
type OfferID uint64

// DataName identifies a Data entry under an account.
type DataName string

// Type discriminates which variant of LedgerKey is populated.
type Type uint8

const (
	TypeAccount Type = iota
	TypeTrustLine
	TypeOffer
	TypeData
)

func (t Type) String() string {
	switch t {
	case TypeAccount:
		return "Account"
	case TypeTrustLine:
		return "TrustLine"
	case TypeOffer:
		return "Offer"
	case TypeData:
		return "Data"
	default:
		return "Unknown"
	}
}

// LedgerKey is a comparable tagged union. Only the fields relevant to
// Type are meaningful; the rest are zero. Being a plain comparable
// struct (no slices, no pointers) lets it serve directly as a map key.
type LedgerKey struct {
	Type Type

	// Account, TrustLine
	AccountID AccountID

	// TrustLine
	Asset Asset

	// Offer
	OfferID OfferID

	// Data
	DataName DataName
}

// Account builds the key for an account root entry.
func Account(id AccountID) LedgerKey {
	return LedgerKey{Type: TypeAccount, AccountID: id}
}

// TrustLine builds the key for a trust line entry.
func TrustLine(id AccountID, asset Asset) LedgerKey {
	return LedgerKey{Type: TypeTrustLine, AccountID: id, Asset: asset}
}

// Offer builds the key for an offer entry.
func Offer(seller AccountID, offerID OfferID) LedgerKey {
	return LedgerKey{Type: TypeOffer, AccountID: seller, OfferID: offerID}
}

// Data builds the key for a data entry.
func Data(id AccountID, name DataName) LedgerKey {
	return LedgerKey{Type: TypeData, AccountID: id, DataName: name}
}

func (k LedgerKey) String() string {
	switch k.Type {
	case TypeAccount:
		return fmt.Sprintf("Account(%s)", k.AccountID)
	case TypeTrustLine:
		return fmt.Sprintf("TrustLine(%s,%s)", k.AccountID, k.Asset)
	case TypeOffer:
		return fmt.Sprintf("Offer(%s,%d)", k.AccountID, k.OfferID)
	case TypeData:
		return fmt.Sprintf("Data(%s,%s)", k.AccountID, k.DataName)
	default:
		return "Unknown"
	}
}
