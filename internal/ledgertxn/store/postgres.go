package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/soonkuk/ledgertxn/internal/ledgertxn/entry"
	"github.com/soonkuk/ledgertxn/internal/ledgertxn/entrystore"
	"github.com/soonkuk/ledgertxn/internal/ledgertxn/errs"
	"github.com/soonkuk/ledgertxn/internal/ledgertxn/key"
)

// PostgresStore is the production Store, grounded on goXRPLd's
// internal/storage/relationaldb/postgres driver: a plain *sql.DB opened
// against a DSN, pooled connections, and hand-written queries rather
// than an ORM.
type PostgresStore struct {
	db *sql.DB
}

// Open connects to dsn through the named database/sql driver, applies
// the schema (idempotent, CREATE TABLE IF NOT EXISTS), and configures
// the connection pool. driver must be "postgres": the only driver this
// package registers, via the blank import of github.com/lib/pq above.
func Open(driver, dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime time.Duration) (*PostgresStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errs.StoreFailure("Open", "connect", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errs.StoreFailure("Open", "apply schema", err)
	}
	logrus.WithField("max_open_conns", maxOpenConns).Info("ledger store opened")
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) GetHeader(ctx context.Context) (entry.Header, error) {
	row := p.db.QueryRowContext(ctx, `SELECT ledger_version, ledger_seq, base_fee, base_reserve, max_tx_set_size, inflation_seq FROM ledger_header WHERE id = 1`)
	var h entry.Header
	if err := row.Scan(&h.LedgerVersion, &h.LedgerSeq, &h.BaseFee, &h.BaseReserve, &h.MaxTxSetSize, &h.InflationSeq); err != nil {
		return entry.Header{}, errs.StoreFailure("GetHeader", "query", err)
	}
	return h, nil
}

func (p *PostgresStore) GetEntry(ctx context.Context, k key.LedgerKey) (entry.LedgerEntry, bool, error) {
	switch k.Type {
	case key.TypeAccount:
		return p.getAccount(ctx, k.AccountID)
	case key.TypeTrustLine:
		return p.getTrustLine(ctx, k.AccountID, k.Asset)
	case key.TypeOffer:
		return p.getOffer(ctx, k.AccountID, k.OfferID)
	case key.TypeData:
		return p.getData(ctx, k.AccountID, k.DataName)
	default:
		return entry.LedgerEntry{}, false, errs.StoreFailure("GetEntry", "unknown key type", nil)
	}
}

func (p *PostgresStore) getAccount(ctx context.Context, id key.AccountID) (entry.LedgerEntry, bool, error) {
	row := p.db.QueryRowContext(ctx, `SELECT balance, seq_num, num_sub_entries, has_inflation_dest, inflation_dest, last_modified_seq FROM accounts WHERE account_id = $1`, id[:])
	var e entry.LedgerEntry
	var inflationDest []byte
	e.Key = key.Account(id)
	if err := row.Scan(&e.Account.Balance, &e.Account.SeqNum, &e.Account.NumSubEntries, &e.Account.HasInflationDest, &inflationDest, &e.LastModifiedLedgerSeq); err != nil {
		if err == sql.ErrNoRows {
			return entry.LedgerEntry{}, false, nil
		}
		return entry.LedgerEntry{}, false, errs.StoreFailure("GetEntry", "query account", err)
	}
	copy(e.Account.InflationDest[:], inflationDest)
	return e, true, nil
}

func (p *PostgresStore) getTrustLine(ctx context.Context, id key.AccountID, asset key.Asset) (entry.LedgerEntry, bool, error) {
	row := p.db.QueryRowContext(ctx, `SELECT balance, limit_amount, flags, last_modified_seq FROM trust_lines WHERE account_id = $1 AND asset_native = $2 AND asset_code = $3 AND asset_issuer = $4`,
		id[:], asset.Native, asset.Code[:], asset.Issuer[:])
	var e entry.LedgerEntry
	e.Key = key.TrustLine(id, asset)
	if err := row.Scan(&e.TrustLine.Balance, &e.TrustLine.Limit, &e.TrustLine.Flags, &e.LastModifiedLedgerSeq); err != nil {
		if err == sql.ErrNoRows {
			return entry.LedgerEntry{}, false, nil
		}
		return entry.LedgerEntry{}, false, errs.StoreFailure("GetEntry", "query trust line", err)
	}
	return e, true, nil
}

func (p *PostgresStore) getOffer(ctx context.Context, seller key.AccountID, offerID key.OfferID) (entry.LedgerEntry, bool, error) {
	row := p.db.QueryRowContext(ctx, `SELECT buying_native, buying_code, buying_issuer, selling_native, selling_code, selling_issuer, price_n, price_d, amount, last_modified_seq FROM offers WHERE seller_id = $1 AND offer_id = $2`,
		seller[:], int64(offerID))
	e, err := scanOffer(row, seller, offerID)
	if err == sql.ErrNoRows {
		return entry.LedgerEntry{}, false, nil
	}
	if err != nil {
		return entry.LedgerEntry{}, false, errs.StoreFailure("GetEntry", "query offer", err)
	}
	return e, true, nil
}

func (p *PostgresStore) getData(ctx context.Context, id key.AccountID, name key.DataName) (entry.LedgerEntry, bool, error) {
	row := p.db.QueryRowContext(ctx, `SELECT value, last_modified_seq FROM data_entries WHERE account_id = $1 AND name = $2`, id[:], string(name))
	var e entry.LedgerEntry
	e.Key = key.Data(id, name)
	if err := row.Scan(&e.Data.Value, &e.LastModifiedLedgerSeq); err != nil {
		if err == sql.ErrNoRows {
			return entry.LedgerEntry{}, false, nil
		}
		return entry.LedgerEntry{}, false, errs.StoreFailure("GetEntry", "query data", err)
	}
	return e, true, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanOffer(row rowScanner, seller key.AccountID, offerID key.OfferID) (entry.LedgerEntry, error) {
	var e entry.LedgerEntry
	var buyingCode, buyingIssuer, sellingCode, sellingIssuer []byte
	e.Key = key.Offer(seller, offerID)
	err := row.Scan(&e.Offer.Buying.Native, &buyingCode, &buyingIssuer,
		&e.Offer.Selling.Native, &sellingCode, &sellingIssuer,
		&e.Offer.Price.N, &e.Offer.Price.D, &e.Offer.Amount, &e.LastModifiedLedgerSeq)
	if err != nil {
		return entry.LedgerEntry{}, err
	}
	copy(e.Offer.Buying.Code[:], buyingCode)
	copy(e.Offer.Buying.Issuer[:], buyingIssuer)
	copy(e.Offer.Selling.Code[:], sellingCode)
	copy(e.Offer.Selling.Issuer[:], sellingIssuer)
	return e, nil
}

func scanOfferRow(rows *sql.Rows) (entry.LedgerEntry, error) {
	var e entry.LedgerEntry
	var sellerID []byte
	var offerID int64
	var buyingCode, buyingIssuer, sellingCode, sellingIssuer []byte
	if err := rows.Scan(&sellerID, &offerID, &e.Offer.Buying.Native, &buyingCode, &buyingIssuer,
		&e.Offer.Selling.Native, &sellingCode, &sellingIssuer,
		&e.Offer.Price.N, &e.Offer.Price.D, &e.Offer.Amount, &e.LastModifiedLedgerSeq); err != nil {
		return entry.LedgerEntry{}, err
	}
	var seller key.AccountID
	copy(seller[:], sellerID)
	e.Key = key.Offer(seller, key.OfferID(offerID))
	copy(e.Offer.Buying.Code[:], buyingCode)
	copy(e.Offer.Buying.Issuer[:], buyingIssuer)
	copy(e.Offer.Selling.Code[:], sellingCode)
	copy(e.Offer.Selling.Issuer[:], sellingIssuer)
	return e, nil
}

type pgOfferStream struct {
	rows *sql.Rows
}

func (s *pgOfferStream) Next(_ context.Context) (entry.LedgerEntry, bool, error) {
	if !s.rows.Next() {
		return entry.LedgerEntry{}, false, s.rows.Err()
	}
	e, err := scanOfferRow(s.rows)
	if err != nil {
		return entry.LedgerEntry{}, false, err
	}
	return e, true, nil
}

func (s *pgOfferStream) Close() error { return s.rows.Close() }

// StreamOffersByAssetPair uses offers_by_asset_pair for the asset-pair
// filter; the ORDER BY on the computed price ratio is not an indexed
// column, so the matching rows are sorted by the database.
func (p *PostgresStore) StreamOffersByAssetPair(ctx context.Context, buying, selling key.Asset) (OfferStream, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT seller_id, offer_id, buying_native, buying_code, buying_issuer,
		       selling_native, selling_code, selling_issuer, price_n, price_d, amount, last_modified_seq
		FROM offers
		WHERE buying_native = $1 AND buying_code = $2 AND buying_issuer = $3
		  AND selling_native = $4 AND selling_code = $5 AND selling_issuer = $6
		ORDER BY price_n::float8 / price_d::float8 ASC, offer_id ASC`,
		buying.Native, buying.Code[:], buying.Issuer[:],
		selling.Native, selling.Code[:], selling.Issuer[:])
	if err != nil {
		return nil, errs.StoreFailure("StreamOffersByAssetPair", "query", err)
	}
	return &pgOfferStream{rows: rows}, nil
}

func (p *PostgresStore) GetOffersByAccountAndAsset(ctx context.Context, account key.AccountID, asset key.Asset) ([]entry.LedgerEntry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT seller_id, offer_id, buying_native, buying_code, buying_issuer,
		       selling_native, selling_code, selling_issuer, price_n, price_d, amount, last_modified_seq
		FROM offers
		WHERE seller_id = $1 AND (
			(buying_native = $2 AND buying_code = $3 AND buying_issuer = $4) OR
			(selling_native = $2 AND selling_code = $3 AND selling_issuer = $4)
		)
		ORDER BY offer_id ASC`,
		account[:], asset.Native, asset.Code[:], asset.Issuer[:])
	if err != nil {
		return nil, errs.StoreFailure("GetOffersByAccountAndAsset", "query", err)
	}
	defer rows.Close()
	return drainOffers(rows)
}

func (p *PostgresStore) GetAllOffers(ctx context.Context) ([]entry.LedgerEntry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT seller_id, offer_id, buying_native, buying_code, buying_issuer,
		       selling_native, selling_code, selling_issuer, price_n, price_d, amount, last_modified_seq
		FROM offers ORDER BY seller_id ASC, offer_id ASC`)
	if err != nil {
		return nil, errs.StoreFailure("GetAllOffers", "query", err)
	}
	defer rows.Close()
	return drainOffers(rows)
}

func drainOffers(rows *sql.Rows) ([]entry.LedgerEntry, error) {
	out := make([]entry.LedgerEntry, 0)
	for rows.Next() {
		e, err := scanOfferRow(rows)
		if err != nil {
			return nil, errs.StoreFailure("drainOffers", "scan", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.StoreFailure("drainOffers", "iterate", err)
	}
	return out, nil
}

func (p *PostgresStore) StreamInflationWinners(ctx context.Context, minVotes int64) ([]entrystore.InflationVote, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT inflation_dest, SUM(balance) AS total
		FROM accounts
		WHERE has_inflation_dest
		GROUP BY inflation_dest
		HAVING SUM(balance) >= $1
		ORDER BY total DESC, inflation_dest DESC`, minVotes)
	if err != nil {
		return nil, errs.StoreFailure("StreamInflationWinners", "query", err)
	}
	defer rows.Close()
	out := make([]entrystore.InflationVote, 0)
	for rows.Next() {
		var dest []byte
		var total int64
		if err := rows.Scan(&dest, &total); err != nil {
			return nil, errs.StoreFailure("StreamInflationWinners", "scan", err)
		}
		var v entrystore.InflationVote
		copy(v.AccountID[:], dest)
		v.Votes = total
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.StoreFailure("StreamInflationWinners", "iterate", err)
	}
	return out, nil
}

// ApplyDelta runs the whole delta inside one database transaction:
// every entry upsert/delete plus the header update commit together or
// not at all, as the Store.ApplyDelta contract requires.
func (p *PostgresStore) ApplyDelta(ctx context.Context, delta entrystore.Delta) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.StoreFailure("ApplyDelta", "begin", err)
	}
	defer tx.Rollback()

	for k, ec := range delta.Entries {
		if err := applyEntryChange(ctx, tx, k, ec); err != nil {
			return err
		}
	}
	if delta.Header.Current != nil {
		h := delta.Header.Current
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ledger_header (id, ledger_version, ledger_seq, base_fee, base_reserve, max_tx_set_size, inflation_seq)
			VALUES (1, $1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				ledger_version = EXCLUDED.ledger_version, ledger_seq = EXCLUDED.ledger_seq,
				base_fee = EXCLUDED.base_fee, base_reserve = EXCLUDED.base_reserve,
				max_tx_set_size = EXCLUDED.max_tx_set_size, inflation_seq = EXCLUDED.inflation_seq`,
			h.LedgerVersion, h.LedgerSeq, h.BaseFee, h.BaseReserve, h.MaxTxSetSize, h.InflationSeq); err != nil {
			return errs.StoreFailure("ApplyDelta", "write header", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errs.StoreFailure("ApplyDelta", "commit", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func applyEntryChange(ctx context.Context, tx execer, k key.LedgerKey, ec entrystore.EntryChange) error {
	if ec.Current == nil {
		return deleteEntry(ctx, tx, k)
	}
	return upsertEntry(ctx, tx, *ec.Current)
}

func deleteEntry(ctx context.Context, tx execer, k key.LedgerKey) error {
	var err error
	switch k.Type {
	case key.TypeAccount:
		_, err = tx.ExecContext(ctx, `DELETE FROM accounts WHERE account_id = $1`, k.AccountID[:])
	case key.TypeTrustLine:
		_, err = tx.ExecContext(ctx, `DELETE FROM trust_lines WHERE account_id = $1 AND asset_native = $2 AND asset_code = $3 AND asset_issuer = $4`,
			k.AccountID[:], k.Asset.Native, k.Asset.Code[:], k.Asset.Issuer[:])
	case key.TypeOffer:
		_, err = tx.ExecContext(ctx, `DELETE FROM offers WHERE seller_id = $1 AND offer_id = $2`, k.AccountID[:], int64(k.OfferID))
	case key.TypeData:
		_, err = tx.ExecContext(ctx, `DELETE FROM data_entries WHERE account_id = $1 AND name = $2`, k.AccountID[:], string(k.DataName))
	default:
		return errs.StoreFailure("deleteEntry", "unknown key type", nil)
	}
	if err != nil {
		return errs.StoreFailure("deleteEntry", fmt.Sprintf("delete %s", k.Type), err)
	}
	return nil
}

func upsertEntry(ctx context.Context, tx execer, e entry.LedgerEntry) error {
	var err error
	switch e.Key.Type {
	case key.TypeAccount:
		id := e.Key.AccountID
		dest := []byte{}
		if e.Account.HasInflationDest {
			dest = e.Account.InflationDest[:]
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO accounts (account_id, balance, seq_num, num_sub_entries, has_inflation_dest, inflation_dest, last_modified_seq)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (account_id) DO UPDATE SET
				balance = EXCLUDED.balance, seq_num = EXCLUDED.seq_num, num_sub_entries = EXCLUDED.num_sub_entries,
				has_inflation_dest = EXCLUDED.has_inflation_dest, inflation_dest = EXCLUDED.inflation_dest,
				last_modified_seq = EXCLUDED.last_modified_seq`,
			id[:], e.Account.Balance, e.Account.SeqNum, e.Account.NumSubEntries, e.Account.HasInflationDest, dest, e.LastModifiedLedgerSeq)
	case key.TypeTrustLine:
		id, asset := e.Key.AccountID, e.Key.Asset
		_, err = tx.ExecContext(ctx, `
			INSERT INTO trust_lines (account_id, asset_native, asset_code, asset_issuer, balance, limit_amount, flags, last_modified_seq)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (account_id, asset_native, asset_code, asset_issuer) DO UPDATE SET
				balance = EXCLUDED.balance, limit_amount = EXCLUDED.limit_amount, flags = EXCLUDED.flags,
				last_modified_seq = EXCLUDED.last_modified_seq`,
			id[:], asset.Native, asset.Code[:], asset.Issuer[:], e.TrustLine.Balance, e.TrustLine.Limit, e.TrustLine.Flags, e.LastModifiedLedgerSeq)
	case key.TypeOffer:
		seller, offerID := e.Key.AccountID, e.Key.OfferID
		_, err = tx.ExecContext(ctx, `
			INSERT INTO offers (seller_id, offer_id, buying_native, buying_code, buying_issuer,
				selling_native, selling_code, selling_issuer, price_n, price_d, amount, last_modified_seq)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (seller_id, offer_id) DO UPDATE SET
				buying_native = EXCLUDED.buying_native, buying_code = EXCLUDED.buying_code, buying_issuer = EXCLUDED.buying_issuer,
				selling_native = EXCLUDED.selling_native, selling_code = EXCLUDED.selling_code, selling_issuer = EXCLUDED.selling_issuer,
				price_n = EXCLUDED.price_n, price_d = EXCLUDED.price_d, amount = EXCLUDED.amount,
				last_modified_seq = EXCLUDED.last_modified_seq`,
			seller[:], int64(offerID), e.Offer.Buying.Native, e.Offer.Buying.Code[:], e.Offer.Buying.Issuer[:],
			e.Offer.Selling.Native, e.Offer.Selling.Code[:], e.Offer.Selling.Issuer[:],
			e.Offer.Price.N, e.Offer.Price.D, e.Offer.Amount, e.LastModifiedLedgerSeq)
	case key.TypeData:
		id, name := e.Key.AccountID, e.Key.DataName
		_, err = tx.ExecContext(ctx, `
			INSERT INTO data_entries (account_id, name, value, last_modified_seq)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (account_id, name) DO UPDATE SET value = EXCLUDED.value, last_modified_seq = EXCLUDED.last_modified_seq`,
			id[:], string(name), e.Data.Value, e.LastModifiedLedgerSeq)
	default:
		return errs.StoreFailure("upsertEntry", "unknown key type", nil)
	}
	if err != nil {
		return errs.StoreFailure("upsertEntry", fmt.Sprintf("upsert %s", e.Key.Type), err)
	}
	return nil
}
