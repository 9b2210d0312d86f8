package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"vidcall-platform/internal/money"
	"vidcall-platform/internal/pricing"
	"vidcall-platform/pkg/utils"
)

// PostgresStore implements Store on the accounts/transactions tables.
//
// Concurrency: ApplyTransfer locks every leg account with SELECT ... FOR UPDATE in id order,
// so two settlements touching the same pair of accounts serialize without deadlocking.
type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

var errReplay = errors.New("ledger: transfer replay")

const accountColumns = `id, username, account_type, balance, pricing_mode, rate_per_minute, session_rate, available, payout_email, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (Account, error) {
	var (
		a       Account
		mode    string
		rate    sql.Null[money.Money]
		session sql.Null[money.Money]
	)
	if err := row.Scan(
		&a.ID,
		&a.Username,
		&a.Type,
		&a.Balance,
		&mode,
		&rate,
		&session,
		&a.Available,
		&a.PayoutEmail,
		&a.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}
	a.Pricing = pricing.Config{Mode: pricing.Mode(mode)}
	if rate.Valid {
		a.Pricing.RatePerMinute = rate.V
	}
	if session.Valid {
		v := session.V
		a.Pricing.SessionRate = &v
	}
	a.Pricing = a.Pricing.WithDefaults()
	return a, nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (Account, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if err != nil {
		return Account{}, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT blocked_account_id FROM account_blocks WHERE account_id = $1 ORDER BY blocked_account_id`, id)
	if err != nil {
		return Account{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var b string
		if err := rows.Scan(&b); err != nil {
			return Account{}, err
		}
		a.BlockedAccountIDs = append(a.BlockedAccountIDs, b)
	}
	return a, rows.Err()
}

func (s *PostgresStore) PutAccount(ctx context.Context, a Account) error {
	if a.ID == "" || !a.Type.Valid() || a.Balance.IsNegative() {
		return ErrInvalidArgument
	}
	p := a.Pricing.WithDefaults()
	var rate, session any
	rate = p.RatePerMinute
	if p.SessionRate != nil {
		session = *p.SessionRate
	}
	now := s.clock().UTC()

	return utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const q = `
INSERT INTO accounts (` + accountColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (id) DO UPDATE SET
  username = EXCLUDED.username,
  account_type = EXCLUDED.account_type,
  balance = EXCLUDED.balance,
  pricing_mode = EXCLUDED.pricing_mode,
  rate_per_minute = EXCLUDED.rate_per_minute,
  session_rate = EXCLUDED.session_rate,
  available = EXCLUDED.available,
  payout_email = EXCLUDED.payout_email,
  updated_at = EXCLUDED.updated_at
`
		if _, err := tx.ExecContext(ctx, q,
			a.ID, a.Username, a.Type, a.Balance, p.Mode, rate, session, a.Available, a.PayoutEmail, now,
		); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM account_blocks WHERE account_id = $1`, a.ID); err != nil {
			return err
		}
		for _, b := range a.BlockedAccountIDs {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO account_blocks (account_id, blocked_account_id) VALUES ($1,$2) ON CONFLICT DO NOTHING`,
				a.ID, b,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) SetAvailability(ctx context.Context, accountID string, available bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET available = $2, updated_at = $3 WHERE id = $1`,
		accountID, available, s.clock().UTC(),
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ApplyTransfer(ctx context.Context, t Transfer) (TransferResult, error) {
	if err := t.validate(); err != nil {
		return TransferResult{}, err
	}
	now := s.clock().UTC()
	var out TransferResult

	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		current := make(map[string]money.Money, len(t.Legs))
		for _, id := range t.lockOrder() {
			var bal money.Money
			if err := tx.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE id = $1 FOR UPDATE`, id).Scan(&bal); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return ErrNotFound
				}
				return err
			}
			current[id] = bal
		}
		out.Balances = current

		// Replay check after locking: a concurrent first attempt has either committed or not.
		if len(t.Records) > 0 {
			if _, ok, err := getTransaction(ctx, tx, t.Records[0].ID); err != nil {
				return err
			} else if ok {
				return errReplay
			}
		}

		for _, sc := range t.StatusChanges {
			res, err := tx.ExecContext(ctx,
				`UPDATE transactions SET status = $3 WHERE id = $1 AND status = $2`,
				sc.RecordID, sc.From, sc.To,
			)
			if err != nil {
				return err
			}
			if n, err := res.RowsAffected(); err != nil {
				return err
			} else if n == 0 {
				return ErrStatusConflict
			}
		}

		next, err := applyLegs(current, t.Legs)
		if err != nil {
			return err
		}
		for _, l := range t.Legs {
			if _, err := tx.ExecContext(ctx,
				`UPDATE accounts SET balance = balance + $2, updated_at = $3 WHERE id = $1`,
				l.AccountID, l.Delta, now,
			); err != nil {
				return err
			}
		}
		for _, r := range t.Records {
			if err := insertTransaction(ctx, tx, r); err != nil {
				if utils.IsUniqueViolation(err) {
					return errReplay
				}
				return err
			}
		}
		out = TransferResult{Applied: true, Balances: next}
		return nil
	})
	if errors.Is(err, errReplay) {
		out.Applied = false
		return out, nil
	}
	if err != nil {
		return TransferResult{}, err
	}
	return out, nil
}

const transactionColumns = `id, account_id, amount, kind, status, created_at, counterparty_username, room_id,
       call_duration_seconds, rate_per_minute, billing_mode, session_rate, reference`

func scanTransaction(row rowScanner) (TransactionRecord, error) {
	var (
		r       TransactionRecord
		rate    sql.Null[money.Money]
		session sql.Null[money.Money]
	)
	if err := row.Scan(
		&r.ID,
		&r.AccountID,
		&r.Amount,
		&r.Kind,
		&r.Status,
		&r.Timestamp,
		&r.CounterpartyUsername,
		&r.RoomID,
		&r.CallDurationSeconds,
		&rate,
		&r.BillingMode,
		&session,
		&r.Reference,
	); err != nil {
		return TransactionRecord{}, err
	}
	if rate.Valid {
		v := rate.V
		r.RatePerMinute = &v
	}
	if session.Valid {
		v := session.V
		r.SessionRate = &v
	}
	return r, nil
}

func getTransaction(ctx context.Context, tx *sql.Tx, id string) (TransactionRecord, bool, error) {
	r, err := scanTransaction(tx.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TransactionRecord{}, false, nil
		}
		return TransactionRecord{}, false, err
	}
	return r, true, nil
}

func insertTransaction(ctx context.Context, tx *sql.Tx, r TransactionRecord) error {
	const q = `
INSERT INTO transactions (
  id, account_id, amount, kind, status, created_at, counterparty_username, room_id,
  call_duration_seconds, rate_per_minute, billing_mode, session_rate, reference
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
)
`
	_, err := tx.ExecContext(ctx, q,
		r.ID,
		r.AccountID,
		r.Amount,
		r.Kind,
		r.Status,
		r.Timestamp,
		r.CounterpartyUsername,
		r.RoomID,
		r.CallDurationSeconds,
		nullableMoney(r.RatePerMinute),
		r.BillingMode,
		nullableMoney(r.SessionRate),
		r.Reference,
	)
	return err
}

func nullableMoney(m *money.Money) any {
	if m == nil {
		return nil
	}
	return *m
}

func (s *PostgresStore) GetTransaction(ctx context.Context, id string) (TransactionRecord, bool, error) {
	r, err := scanTransaction(s.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TransactionRecord{}, false, nil
		}
		return TransactionRecord{}, false, err
	}
	return r, true, nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context, accountID string, limit int) ([]TransactionRecord, error) {
	q := `SELECT ` + transactionColumns + ` FROM transactions WHERE account_id = $1 ORDER BY created_at DESC, id`
	args := []any{accountID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TransactionRecord
	for rows.Next() {
		r, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
