package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"voice-campaigns/pkg/utils"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
)

// NOTE: This repository assumes the schema from internal/migrate:
// - profiles (balance projection, one row per user)
// - minutes_transactions (immutable append-only)
// - UNIQUE (user_id, batch_id) WHERE type = 'refund'
// - UNIQUE (user_id, batch_id) WHERE type = 'deduction'

const pgUniqueViolation = "23505"

// PostgresStore implements Store on Postgres.
type PostgresStore struct {
	db utils.DB
}

func NewPostgresStore(db utils.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, tx Transaction) (Balance, error) {
	var out Balance
	err := utils.WithTx(ctx, s.db, func(ctx context.Context, dbtx pgx.Tx) error {
		var (
			b   Balance
			err error
		)
		delta := tx.Type.Delta(tx.Minutes)
		if delta < 0 {
			b, err = decrementBalance(ctx, dbtx, tx.UserID, -delta, tx.CreatedAt)
		} else {
			b, err = applyBalanceDelta(ctx, dbtx, tx.UserID, delta, tx.CreatedAt)
		}
		if err != nil {
			return err
		}
		if err := insertTransaction(ctx, dbtx, tx); err != nil {
			return err
		}
		out = b
		return nil
	})
	return out, err
}

func (s *PostgresStore) AppendRefundOnce(ctx context.Context, tx Transaction) (bool, Balance, error) {
	var (
		applied bool
		out     Balance
	)
	err := utils.WithTx(ctx, s.db, func(ctx context.Context, dbtx pgx.Tx) error {
		ok, err := insertRefundIfAbsent(ctx, dbtx, tx)
		if err != nil {
			return err
		}
		if !ok {
			b, err := getBalance(ctx, dbtx, tx.UserID)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
			out = b
			return nil
		}
		b, err := applyBalanceDelta(ctx, dbtx, tx.UserID, tx.Minutes, tx.CreatedAt)
		if err != nil {
			return err
		}
		applied = true
		out = b
		return nil
	})
	if err != nil {
		return false, Balance{}, err
	}
	return applied, out, nil
}

func (s *PostgresStore) FindFirst(ctx context.Context, userID, batchID string, typ TransactionType) (Transaction, bool, error) {
	const q = `
SELECT id, user_id, campaign_id, batch_id, type, minutes, description, created_at
FROM minutes_transactions
WHERE user_id = $1 AND batch_id = $2 AND type = $3
ORDER BY created_at ASC
LIMIT 1
`
	tx, err := scanTransaction(s.db.QueryRow(ctx, q, userID, batchID, string(typ)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, false, nil
		}
		return Transaction{}, false, eris.Wrapf(err, "ledger: find %s for batch %s", typ, batchID)
	}
	return tx, true, nil
}

func (s *PostgresStore) GetBalance(ctx context.Context, userID string) (Balance, error) {
	return getBalance(ctx, s.db, userID)
}

func (s *PostgresStore) List(ctx context.Context, f Filter) ([]Transaction, error) {
	var (
		where = []string{"user_id = $1"}
		args  = []any{f.UserID}
	)
	if f.CampaignID != "" {
		args = append(args, f.CampaignID)
		where = append(where, fmt.Sprintf("campaign_id = $%d", len(args)))
	}
	if f.BatchID != "" {
		args = append(args, f.BatchID)
		where = append(where, fmt.Sprintf("batch_id = $%d", len(args)))
	}
	if f.Type != "" {
		args = append(args, string(f.Type))
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	args = append(args, f.Limit)

	q := `
SELECT id, user_id, campaign_id, batch_id, type, minutes, description, created_at
FROM minutes_transactions
WHERE ` + strings.Join(where, " AND ") + fmt.Sprintf(`
ORDER BY created_at ASC
LIMIT $%d
`, len(args))

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: list transactions")
	}
	defer rows.Close()

	out := make([]Transaction, 0)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, eris.Wrap(err, "ledger: scan transaction")
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getBalance(ctx context.Context, db querier, userID string) (Balance, error) {
	const q = `
SELECT user_id, available_minutes, updated_at
FROM profiles
WHERE user_id = $1
`
	var b Balance
	if err := db.QueryRow(ctx, q, userID).Scan(&b.UserID, &b.AvailableMinutes, &b.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{}, ErrNotFound
		}
		return Balance{}, eris.Wrap(err, "ledger: get balance")
	}
	return b, nil
}

func insertTransaction(ctx context.Context, tx pgx.Tx, t Transaction) error {
	const q = `
INSERT INTO minutes_transactions (
  id, user_id, campaign_id, batch_id, type, minutes, description, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8
)
`
	_, err := tx.Exec(ctx, q,
		t.ID,
		t.UserID,
		t.CampaignID,
		t.BatchID,
		string(t.Type),
		t.Minutes,
		t.Description,
		t.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicate
		}
		return eris.Wrap(err, "ledger: insert transaction")
	}
	return nil
}

// insertRefundIfAbsent is the exactly-once primitive: the partial unique index on
// (user_id, batch_id) WHERE type = 'refund' turns a racing second insert into a no-op.
func insertRefundIfAbsent(ctx context.Context, tx pgx.Tx, t Transaction) (bool, error) {
	const q = `
INSERT INTO minutes_transactions (
  id, user_id, campaign_id, batch_id, type, minutes, description, created_at
) VALUES (
  $1,$2,$3,$4,'refund',$5,$6,$7
)
ON CONFLICT (user_id, batch_id) WHERE type = 'refund' DO NOTHING
RETURNING id
`
	var id string
	err := tx.QueryRow(ctx, q,
		t.ID,
		t.UserID,
		t.CampaignID,
		t.BatchID,
		t.Minutes,
		t.Description,
		t.CreatedAt,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, eris.Wrap(err, "ledger: insert refund")
	}
	return true, nil
}

func applyBalanceDelta(ctx context.Context, tx pgx.Tx, userID string, delta int, now time.Time) (Balance, error) {
	const q = `
INSERT INTO profiles (user_id, available_minutes, updated_at)
VALUES ($1,$2,$3)
ON CONFLICT (user_id)
DO UPDATE SET available_minutes = profiles.available_minutes + EXCLUDED.available_minutes,
              updated_at = EXCLUDED.updated_at
RETURNING user_id, available_minutes, updated_at
`
	var b Balance
	if err := tx.QueryRow(ctx, q, userID, delta, now).Scan(&b.UserID, &b.AvailableMinutes, &b.UpdatedAt); err != nil {
		return Balance{}, eris.Wrap(err, "ledger: apply balance delta")
	}
	return b, nil
}

// decrementBalance subtracts minutes only if the balance covers them.
// No row back means the profile is missing or short.
func decrementBalance(ctx context.Context, tx pgx.Tx, userID string, minutes int, now time.Time) (Balance, error) {
	const q = `
UPDATE profiles
SET available_minutes = available_minutes - $2,
    updated_at = $3
WHERE user_id = $1 AND available_minutes >= $2
RETURNING user_id, available_minutes, updated_at
`
	var b Balance
	if err := tx.QueryRow(ctx, q, userID, minutes, now).Scan(&b.UserID, &b.AvailableMinutes, &b.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{}, ErrInsufficientMinutes
		}
		return Balance{}, eris.Wrap(err, "ledger: decrement balance")
	}
	return b, nil
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var (
		t   Transaction
		typ string
	)
	if err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.CampaignID,
		&t.BatchID,
		&typ,
		&t.Minutes,
		&t.Description,
		&t.CreatedAt,
	); err != nil {
		return Transaction{}, err
	}
	t.Type = TransactionType(typ)
	return t, nil
}
