package rules

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/radieske/lotto-limit-engine/internal/limit-service/numbers"
)

// PostgresRepository guarda regras e bloqueios no Postgres.
// Regras de categoria usam number_norm vazio para a constraint única valer.
type PostgresRepository struct{ db *sql.DB }

func NewPostgresRepository(ctx context.Context, db *sql.DB) (*PostgresRepository, error) {
	p := &PostgresRepository{db: db}
	if err := p.initSchema(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *PostgresRepository) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS rules (
			id          BIGSERIAL PRIMARY KEY,
			rule_type   TEXT NOT NULL,
			category    TEXT NOT NULL,
			number_norm TEXT NOT NULL DEFAULT '',
			value       NUMERIC(18,2) NOT NULL,
			is_active   BOOLEAN NOT NULL DEFAULT TRUE,
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (rule_type, category, number_norm)
		)`,
		`CREATE TABLE IF NOT EXISTS blocked_numbers (
			id          BIGSERIAL PRIMARY KEY,
			category    TEXT NOT NULL,
			number_norm TEXT NOT NULL,
			reason      TEXT NOT NULL DEFAULT '',
			is_active   BOOLEAN NOT NULL DEFAULT TRUE,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (category, number_norm)
		)`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("init rules schema: %w", err)
		}
	}
	return nil
}

// LoadSnapshot lê regras e bloqueios na mesma transação para uma visão consistente
func (p *PostgresRepository) LoadSnapshot(ctx context.Context) (*Snapshot, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT rule_type, category, number_norm, value, updated_at FROM rules WHERE is_active`)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	var rs []Rule
	for rows.Next() {
		r := Rule{Active: true}
		if err := rows.Scan(&r.Type, &r.Category, &r.Number, &r.Value, &r.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rs = append(rs, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = tx.QueryContext(ctx,
		`SELECT category, number_norm, reason, created_at FROM blocked_numbers WHERE is_active`)
	if err != nil {
		return nil, fmt.Errorf("query blocked numbers: %w", err)
	}
	defer rows.Close()
	var bs []BlockedEntry
	for rows.Next() {
		b := BlockedEntry{Active: true}
		if err := rows.Scan(&b.Key.Category, &b.Key.Number, &b.Reason, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan blocked number: %w", err)
		}
		bs = append(bs, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return NewSnapshot(rs, bs, time.Now()), nil
}

func (p *PostgresRepository) UpsertRule(ctx context.Context, r Rule) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO rules (rule_type, category, number_norm, value, is_active, updated_at)
		VALUES ($1, $2, $3, $4, TRUE, now())
		ON CONFLICT (rule_type, category, number_norm)
		DO UPDATE SET value = EXCLUDED.value, is_active = TRUE, updated_at = now()`,
		r.Type, r.Category, r.Number, r.Value)
	return err
}

func (p *PostgresRepository) DeactivateRule(ctx context.Context, t RuleType, c numbers.Category, number string) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE rules SET is_active = FALSE, updated_at = now()
		WHERE rule_type = $1 AND category = $2 AND number_norm = $3 AND is_active`,
		t, c, number)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpsertBlocked grava o lote inteiro ou nada
func (p *PostgresRepository) UpsertBlocked(ctx context.Context, entries []BlockedEntry) (int, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO blocked_numbers (category, number_norm, reason, is_active)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (category, number_norm)
		DO UPDATE SET reason = EXCLUDED.reason, is_active = TRUE`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.Key.Category, e.Key.Number, e.Reason); err != nil {
			return 0, fmt.Errorf("upsert %s: %w", e.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(entries), nil
}

func (p *PostgresRepository) DeactivateBlocked(ctx context.Context, keys []numbers.Key) (int, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	total := 0
	for _, k := range keys {
		res, err := tx.ExecContext(ctx,
			`UPDATE blocked_numbers SET is_active = FALSE WHERE category = $1 AND number_norm = $2 AND is_active`,
			k.Category, k.Number)
		if err != nil {
			return 0, fmt.Errorf("deactivate %s: %w", k, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		total += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return total, nil
}
