package ledger

import "vidcall-platform/pkg/utils"

// Migrations creates the ledger tables. Balances are NUMERIC(14,2); the app never stores floats.
var Migrations = []utils.Migration{
	{
		Version: "20250101000001",
		Name:    "create_accounts",
		Up: `
CREATE TABLE IF NOT EXISTS accounts (
    id              TEXT PRIMARY KEY,
    username        TEXT NOT NULL DEFAULT '',
    account_type    TEXT NOT NULL CHECK (account_type IN ('customer', 'provider')),
    balance         NUMERIC(14,2) NOT NULL DEFAULT 0 CHECK (balance >= 0),
    pricing_mode    TEXT NOT NULL DEFAULT 'per_minute',
    rate_per_minute NUMERIC(14,2),
    session_rate    NUMERIC(14,2),
    available       BOOLEAN NOT NULL DEFAULT TRUE,
    payout_email    TEXT NOT NULL DEFAULT '',
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS account_blocks (
    account_id         TEXT NOT NULL REFERENCES accounts (id) ON DELETE CASCADE,
    blocked_account_id TEXT NOT NULL,
    PRIMARY KEY (account_id, blocked_account_id)
);
`,
	},
	{
		Version: "20250101000002",
		Name:    "create_transactions",
		Up: `
CREATE TABLE IF NOT EXISTS transactions (
    id                    TEXT PRIMARY KEY,
    account_id            TEXT NOT NULL REFERENCES accounts (id),
    amount                NUMERIC(14,2) NOT NULL,
    kind                  TEXT NOT NULL,
    status                TEXT NOT NULL,
    created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    counterparty_username TEXT NOT NULL DEFAULT '',
    room_id               TEXT NOT NULL DEFAULT '',
    call_duration_seconds BIGINT NOT NULL DEFAULT 0,
    rate_per_minute       NUMERIC(14,2),
    billing_mode          TEXT NOT NULL DEFAULT '',
    session_rate          NUMERIC(14,2),
    reference             TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_transactions_account_created ON transactions (account_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_transactions_room ON transactions (room_id) WHERE room_id <> '';
`,
	},
}
