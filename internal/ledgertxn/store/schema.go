package store

// schema is the Postgres DDL Open applies with CREATE TABLE IF NOT
// EXISTS, grounded on goXRPLd's internal/storage/relationaldb
// table-per-entry-type layout. Offers and trust lines are denormalized
// into typed columns rather than an opaque blob so that asset-pair and
// account+asset lookups can be served by ordinary B-tree indexes
// instead of full scans.
const schema = `
CREATE TABLE IF NOT EXISTS ledger_header (
	id SMALLINT PRIMARY KEY DEFAULT 1,
	ledger_version INT NOT NULL,
	ledger_seq INT NOT NULL,
	base_fee BIGINT NOT NULL,
	base_reserve BIGINT NOT NULL,
	max_tx_set_size INT NOT NULL,
	inflation_seq INT NOT NULL,
	CONSTRAINT singleton CHECK (id = 1)
);

CREATE TABLE IF NOT EXISTS accounts (
	account_id BYTEA PRIMARY KEY,
	balance BIGINT NOT NULL,
	seq_num BIGINT NOT NULL,
	num_sub_entries INT NOT NULL,
	has_inflation_dest BOOLEAN NOT NULL DEFAULT FALSE,
	inflation_dest BYTEA,
	last_modified_seq INT NOT NULL
);

CREATE INDEX IF NOT EXISTS accounts_by_inflation_dest
	ON accounts (inflation_dest) WHERE has_inflation_dest;

CREATE TABLE IF NOT EXISTS trust_lines (
	account_id BYTEA NOT NULL,
	asset_native BOOLEAN NOT NULL,
	asset_code BYTEA NOT NULL DEFAULT '',
	asset_issuer BYTEA NOT NULL DEFAULT '',
	balance BIGINT NOT NULL,
	limit_amount BIGINT NOT NULL,
	flags INT NOT NULL,
	last_modified_seq INT NOT NULL,
	PRIMARY KEY (account_id, asset_native, asset_code, asset_issuer)
);

CREATE TABLE IF NOT EXISTS offers (
	seller_id BYTEA NOT NULL,
	offer_id BIGINT NOT NULL,
	buying_native BOOLEAN NOT NULL,
	buying_code BYTEA NOT NULL DEFAULT '',
	buying_issuer BYTEA NOT NULL DEFAULT '',
	selling_native BOOLEAN NOT NULL,
	selling_code BYTEA NOT NULL DEFAULT '',
	selling_issuer BYTEA NOT NULL DEFAULT '',
	price_n INT NOT NULL,
	price_d INT NOT NULL,
	amount BIGINT NOT NULL,
	last_modified_seq INT NOT NULL,
	PRIMARY KEY (seller_id, offer_id)
);

CREATE INDEX IF NOT EXISTS offers_by_asset_pair ON offers (
	buying_native, buying_code, buying_issuer,
	selling_native, selling_code, selling_issuer,
	price_n, price_d, offer_id
);

CREATE TABLE IF NOT EXISTS data_entries (
	account_id BYTEA NOT NULL,
	name TEXT NOT NULL,
	value BYTEA NOT NULL,
	last_modified_seq INT NOT NULL,
	PRIMARY KEY (account_id, name)
);
`
