package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/lotto-limit-engine/internal/limit-service/numbers"
)

// PostgresLedger grava os totais com upsert atômico e SELECT ... FOR UPDATE.
// As chaves são processadas em ordem para evitar deadlock entre lançamentos.
type PostgresLedger struct {
	db         *sql.DB
	log        *zap.Logger
	maxRetries int
}

func NewPostgresLedger(ctx context.Context, db *sql.DB, log *zap.Logger, maxRetries int) (*PostgresLedger, error) {
	if maxRetries < 0 {
		maxRetries = 0
	}
	l := &PostgresLedger{db: db, log: log, maxRetries: maxRetries}
	if err := l.initSchema(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *PostgresLedger) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS number_totals (
			id                  BIGSERIAL PRIMARY KEY,
			batch_id            TEXT NOT NULL,
			category            TEXT NOT NULL,
			number_norm         TEXT NOT NULL,
			total_amount        NUMERIC(18,2) NOT NULL DEFAULT 0,
			stake_count         BIGINT NOT NULL DEFAULT 0,
			weighted_factor_sum NUMERIC(20,4) NOT NULL DEFAULT 0,
			reduced_amount      NUMERIC(18,2) NOT NULL DEFAULT 0,
			last_updated        TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (batch_id, category, number_norm)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_number_totals_batch_category ON number_totals (batch_id, category)`,
		`CREATE TABLE IF NOT EXISTS number_user_totals (
			batch_id    TEXT NOT NULL,
			category    TEXT NOT NULL,
			number_norm TEXT NOT NULL,
			user_id     TEXT NOT NULL,
			amount      NUMERIC(18,2) NOT NULL,
			PRIMARY KEY (batch_id, category, number_norm, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS ledger_postings (
			batch_id    TEXT NOT NULL,
			ref         TEXT NOT NULL,
			user_id     TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			reversed_at TIMESTAMPTZ,
			PRIMARY KEY (batch_id, ref)
		)`,
		`CREATE TABLE IF NOT EXISTS ledger_posting_entries (
			batch_id    TEXT NOT NULL,
			ref         TEXT NOT NULL,
			category    TEXT NOT NULL,
			number_norm TEXT NOT NULL,
			amount      NUMERIC(18,2) NOT NULL,
			factor      NUMERIC(8,6) NOT NULL,
			stake_count BIGINT NOT NULL,
			PRIMARY KEY (batch_id, ref, category, number_norm)
		)`,
		`ALTER TABLE ledger_posting_entries ADD COLUMN IF NOT EXISTS reversed_amount NUMERIC(18,2) NOT NULL DEFAULT 0`,
		`ALTER TABLE ledger_posting_entries ADD COLUMN IF NOT EXISTS reversed_stakes BIGINT NOT NULL DEFAULT 0`,
	}
	for _, q := range stmts {
		if _, err := l.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("init ledger schema: %w", err)
		}
	}
	return nil
}

// retryable: falha de serialização ou deadlock detectado pelo Postgres
func retryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "40001" || pqErr.Code == "40P01"
}

func (l *PostgresLedger) withRetry(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	return l.retry(ctx, op, func() error { return l.runTx(ctx, fn) })
}

// retry repete attempt enquanto o Postgres acusar conflito, até maxRetries novas tentativas
func (l *PostgresLedger) retry(ctx context.Context, op string, attempt func() error) error {
	for n := 0; ; n++ {
		err := attempt()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		if n >= l.maxRetries {
			l.log.Error("ledger retries exhausted", zap.String("op", op), zap.Int("attempts", n+1), zap.Error(err))
			return fmt.Errorf("%w: %s after %d attempts", ErrLedgerWriteConflict, op, n+1)
		}
		l.log.Warn("ledger write conflict, retrying", zap.String("op", op), zap.Int("attempt", n+1), zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(n+1) * 25 * time.Millisecond):
		}
	}
}

func (l *PostgresLedger) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (l *PostgresLedger) CurrentUsage(ctx context.Context, batchID string, k numbers.Key) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := l.db.QueryRowContext(ctx,
		`SELECT total_amount FROM number_totals WHERE batch_id=$1 AND category=$2 AND number_norm=$3`,
		batchID, k.Category, k.Number).Scan(&total)
	if err == sql.ErrNoRows {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("current usage %s: %w", k, err)
	}
	return total, nil
}

func (l *PostgresLedger) Increment(ctx context.Context, p Posting) error {
	if err := checkHeader(p); err != nil {
		return err
	}
	entries, err := consolidate(p.Entries)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("%w: no entries", ErrInvalidPosting)
	}

	return l.withRetry(ctx, "increment", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO ledger_postings (batch_id, ref, user_id, status)
			VALUES ($1, $2, $3, 'COMMITTED')
			ON CONFLICT (batch_id, ref) DO NOTHING`,
			p.BatchID, p.Ref, p.UserID)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return fmt.Errorf("%w: %s", ErrDuplicatePosting, p.Ref)
		}

		final, err := decide(p, entries, func(k numbers.Key) (decimal.Decimal, error) {
			return lockTotal(ctx, tx, p.BatchID, k)
		})
		if err != nil {
			return err
		}

		for _, e := range final {
			reduced := decimal.Zero
			if isReduced(e.Factor) {
				reduced = e.Amount
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO number_totals (batch_id, category, number_norm, total_amount, stake_count, weighted_factor_sum, reduced_amount, last_updated)
				VALUES ($1, $2, $3, $4, $5, $6, $7, now())
				ON CONFLICT (batch_id, category, number_norm) DO UPDATE SET
					total_amount        = number_totals.total_amount + EXCLUDED.total_amount,
					stake_count         = number_totals.stake_count + EXCLUDED.stake_count,
					weighted_factor_sum = number_totals.weighted_factor_sum + EXCLUDED.weighted_factor_sum,
					reduced_amount      = number_totals.reduced_amount + EXCLUDED.reduced_amount,
					last_updated        = now()`,
				p.BatchID, e.Key.Category, e.Key.Number, e.Amount, e.StakeCount, e.Amount.Mul(e.Factor), reduced); err != nil {
				return fmt.Errorf("upsert total %s: %w", e.Key, err)
			}

			if p.UserID != "" {
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO number_user_totals (batch_id, category, number_norm, user_id, amount)
					VALUES ($1, $2, $3, $4, $5)
					ON CONFLICT (batch_id, category, number_norm, user_id)
					DO UPDATE SET amount = number_user_totals.amount + EXCLUDED.amount`,
					p.BatchID, e.Key.Category, e.Key.Number, p.UserID, e.Amount); err != nil {
					return fmt.Errorf("upsert user total %s: %w", e.Key, err)
				}
			}

			if _, err := tx.ExecContext(ctx, `
				INSERT INTO ledger_posting_entries (batch_id, ref, category, number_norm, amount, factor, stake_count)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				p.BatchID, p.Ref, e.Key.Category, e.Key.Number, e.Amount, e.Factor, e.StakeCount); err != nil {
				return fmt.Errorf("record posting entry %s: %w", e.Key, err)
			}
		}
		return nil
	})
}

// lockTotal garante a linha da chave e a trava até o fim da transação.
// O INSERT vazio faz lançamentos concorrentes numa chave nova esperarem um pelo outro.
func lockTotal(ctx context.Context, tx *sql.Tx, batchID string, k numbers.Key) (decimal.Decimal, error) {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO number_totals (batch_id, category, number_norm)
		VALUES ($1, $2, $3)
		ON CONFLICT (batch_id, category, number_norm) DO NOTHING`,
		batchID, k.Category, k.Number); err != nil {
		return decimal.Zero, fmt.Errorf("ensure total %s: %w", k, err)
	}
	var total decimal.Decimal
	if err := tx.QueryRowContext(ctx, `
		SELECT total_amount FROM number_totals
		WHERE batch_id=$1 AND category=$2 AND number_norm=$3 FOR UPDATE`,
		batchID, k.Category, k.Number).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("lock total %s: %w", k, err)
	}
	return total, nil
}

func (l *PostgresLedger) Decrement(ctx context.Context, p Posting) error {
	if err := checkHeader(p); err != nil {
		return err
	}

	return l.withRetry(ctx, "decrement", func(tx *sql.Tx) error {
		var status, userID string
		err := tx.QueryRowContext(ctx,
			`SELECT status, user_id FROM ledger_postings WHERE batch_id=$1 AND ref=$2 FOR UPDATE`,
			p.BatchID, p.Ref).Scan(&status, &userID)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: posting %s not found", ErrConsistencyViolation, p.Ref)
		}
		if err != nil {
			return err
		}
		if status == "REVERSED" {
			return fmt.Errorf("%w: %s", ErrAlreadyReversed, p.Ref)
		}

		recorded, err := loadEntries(ctx, tx, p.BatchID, p.Ref)
		if err != nil {
			return err
		}
		plan, err := planReversal(recorded, p.Entries)
		if err != nil {
			return err
		}

		for _, e := range plan {
			if err := reverseEntry(ctx, tx, p.BatchID, userID, e); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE ledger_posting_entries SET
					reversed_amount = reversed_amount + $5,
					reversed_stakes = reversed_stakes + $6
				WHERE batch_id=$1 AND ref=$2 AND category=$3 AND number_norm=$4`,
				p.BatchID, p.Ref, e.Key.Category, e.Key.Number, e.Amount, e.StakeCount); err != nil {
				return fmt.Errorf("record reversal %s: %w", e.Key, err)
			}
		}

		status = "PARTIALLY_REVERSED"
		if markReversed(recorded, plan) {
			status = "REVERSED"
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE ledger_postings SET status=$3, reversed_at=now() WHERE batch_id=$1 AND ref=$2`,
			p.BatchID, p.Ref, status)
		return err
	})
}

func loadEntries(ctx context.Context, tx *sql.Tx, batchID, ref string) ([]posted, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT category, number_norm, amount, factor, stake_count, reversed_amount, reversed_stakes
		FROM ledger_posting_entries WHERE batch_id=$1 AND ref=$2
		ORDER BY category, number_norm`,
		batchID, ref)
	if err != nil {
		return nil, fmt.Errorf("load posting entries: %w", err)
	}
	defer rows.Close()

	var out []posted
	for rows.Next() {
		var e posted
		if err := rows.Scan(&e.Key.Category, &e.Key.Number, &e.Amount, &e.Factor, &e.StakeCount,
			&e.ReversedAmount, &e.ReversedStakes); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// reverseEntry trava a linha, recusa saldo negativo e apaga quando zera
func reverseEntry(ctx context.Context, tx *sql.Tx, batchID, userID string, e Entry) error {
	var total decimal.Decimal
	err := tx.QueryRowContext(ctx, `
		SELECT total_amount FROM number_totals
		WHERE batch_id=$1 AND category=$2 AND number_norm=$3 FOR UPDATE`,
		batchID, e.Key.Category, e.Key.Number).Scan(&total)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: no total for %s", ErrConsistencyViolation, e.Key)
	}
	if err != nil {
		return err
	}

	left := total.Sub(e.Amount)
	switch {
	case left.IsNegative():
		return fmt.Errorf("%w: %s would go negative", ErrConsistencyViolation, e.Key)
	case left.IsZero():
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM number_totals WHERE batch_id=$1 AND category=$2 AND number_norm=$3`,
			batchID, e.Key.Category, e.Key.Number); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`DELETE FROM number_user_totals WHERE batch_id=$1 AND category=$2 AND number_norm=$3`,
			batchID, e.Key.Category, e.Key.Number)
		return err
	}

	reduced := decimal.Zero
	if isReduced(e.Factor) {
		reduced = e.Amount
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE number_totals SET
			total_amount        = total_amount - $4,
			stake_count         = GREATEST(stake_count - $5, 0),
			weighted_factor_sum = weighted_factor_sum - $6,
			reduced_amount      = GREATEST(reduced_amount - $7, 0),
			last_updated        = now()
		WHERE batch_id=$1 AND category=$2 AND number_norm=$3`,
		batchID, e.Key.Category, e.Key.Number, e.Amount, e.StakeCount, e.Amount.Mul(e.Factor), reduced); err != nil {
		return err
	}

	if userID == "" {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE number_user_totals SET amount = amount - $5
		WHERE batch_id=$1 AND category=$2 AND number_norm=$3 AND user_id=$4`,
		batchID, e.Key.Category, e.Key.Number, userID, e.Amount); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		DELETE FROM number_user_totals
		WHERE batch_id=$1 AND category=$2 AND number_norm=$3 AND user_id=$4 AND amount <= 0`,
		batchID, e.Key.Category, e.Key.Number, userID)
	return err
}

func (l *PostgresLedger) Rows(ctx context.Context, batchID string) ([]Row, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT t.category, t.number_norm, t.total_amount, t.stake_count, t.weighted_factor_sum,
		       t.reduced_amount, t.last_updated,
		       COALESCE(MAX(u.amount), 0), COUNT(u.user_id)
		FROM number_totals t
		LEFT JOIN number_user_totals u
		  ON u.batch_id = t.batch_id AND u.category = t.category AND u.number_norm = t.number_norm
		WHERE t.batch_id = $1
		GROUP BY t.id
		ORDER BY t.category, t.number_norm`,
		batchID)
	if err != nil {
		return nil, fmt.Errorf("query totals: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		r := Row{BatchID: batchID}
		if err := rows.Scan(&r.Key.Category, &r.Key.Number, &r.TotalAmount, &r.StakeCount, &r.WeightedFactorSum,
			&r.ReducedAmount, &r.LastUpdated, &r.MaxUserAmount, &r.UniqueUsers); err != nil {
			return nil, fmt.Errorf("scan total: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortRows(out)
	return out, nil
}

func (l *PostgresLedger) Contributions(ctx context.Context, batchID string, k numbers.Key) ([]Contribution, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT user_id, amount FROM number_user_totals
		WHERE batch_id=$1 AND category=$2 AND number_norm=$3`,
		batchID, k.Category, k.Number)
	if err != nil {
		return nil, fmt.Errorf("query contributions: %w", err)
	}
	defer rows.Close()

	var out []Contribution
	for rows.Next() {
		var c Contribution
		if err := rows.Scan(&c.UserID, &c.Amount); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortContributions(out)
	return out, nil
}
