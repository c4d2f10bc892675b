package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/papertrade-io/paperbroker/internal/models"
)

// SQLiteStorage persists accounts in a SQLite database. Each save runs
// in one transaction, so per-account atomicity comes from the database
// rather than file renames.
type SQLiteStorage struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS accounts (
	id                 TEXT PRIMARY KEY,
	owner              TEXT NOT NULL,
	starting_balance   REAL NOT NULL,
	cash_balance       REAL NOT NULL,
	realized_pnl       REAL NOT NULL DEFAULT 0,
	daily_pnl          TEXT NOT NULL DEFAULT '{}',
	maintenance_margin REAL NOT NULL DEFAULT 0,
	created_at         TEXT NOT NULL,
	updated_at         TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS positions (
	account_id   TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	symbol       TEXT NOT NULL,
	quantity     INTEGER NOT NULL,
	avg_price    REAL NOT NULL,
	realized_pnl REAL NOT NULL DEFAULT 0,
	opened_at    TEXT NOT NULL,
	PRIMARY KEY (account_id, symbol)
);
`

// NewSQLiteStorage opens or creates the database at path and ensures
// the schema exists. Pass ":memory:" for an ephemeral store.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

// Load implements Interface.
func (s *SQLiteStorage) Load(ctx context.Context, id string) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner, starting_balance, cash_balance, realized_pnl,
		       daily_pnl, maintenance_margin, created_at, updated_at
		FROM accounts WHERE id = ?`, id)

	var acct models.Account
	var dailyRaw, createdAt, updatedAt string
	err := row.Scan(&acct.ID, &acct.Owner, &acct.StartingBalance, &acct.CashBalance,
		&acct.RealizedPnL, &dailyRaw, &acct.MaintenanceMargin, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading account %s: %w", id, err)
	}
	if acct.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("account %s created_at: %w", id, err)
	}
	if acct.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("account %s updated_at: %w", id, err)
	}
	if err := json.Unmarshal([]byte(dailyRaw), &acct.DailyPnL); err != nil {
		return nil, fmt.Errorf("account %s daily pnl: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, quantity, avg_price, realized_pnl, opened_at
		FROM positions WHERE account_id = ? ORDER BY opened_at, symbol`, id)
	if err != nil {
		return nil, fmt.Errorf("loading positions for %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var p models.Position
		var openedAt string
		if err := rows.Scan(&p.Symbol, &p.Quantity, &p.AvgPrice, &p.RealizedPnL, &openedAt); err != nil {
			return nil, fmt.Errorf("scanning position for %s: %w", id, err)
		}
		if p.OpenedAt, err = time.Parse(time.RFC3339Nano, openedAt); err != nil {
			return nil, fmt.Errorf("position %s opened_at: %w", p.Symbol, err)
		}
		acct.Positions = append(acct.Positions, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading positions for %s: %w", id, err)
	}
	return &acct, nil
}

// Save implements Interface: one transaction replaces the account row
// and its positions.
func (s *SQLiteStorage) Save(ctx context.Context, acct *models.Account) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning save tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing float64
	err = tx.QueryRowContext(ctx, `SELECT starting_balance FROM accounts WHERE id = ?`, acct.ID).Scan(&existing)
	switch {
	case err == sql.ErrNoRows:
		// First save creates the account.
	case err != nil:
		return fmt.Errorf("checking account %s: %w", acct.ID, err)
	case existing != acct.StartingBalance:
		return fmt.Errorf("account %s: %w", acct.ID, ErrStartingBalance)
	}

	dailyRaw, err := json.Marshal(acct.DailyPnL)
	if err != nil {
		return fmt.Errorf("encoding daily pnl: %w", err)
	}
	if acct.DailyPnL == nil {
		dailyRaw = []byte("{}")
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO accounts (id, owner, starting_balance, cash_balance, realized_pnl,
		                      daily_pnl, maintenance_margin, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner = excluded.owner,
			cash_balance = excluded.cash_balance,
			realized_pnl = excluded.realized_pnl,
			daily_pnl = excluded.daily_pnl,
			maintenance_margin = excluded.maintenance_margin,
			updated_at = excluded.updated_at`,
		acct.ID, acct.Owner, acct.StartingBalance, acct.CashBalance, acct.RealizedPnL,
		string(dailyRaw), acct.MaintenanceMargin,
		acct.CreatedAt.UTC().Format(time.RFC3339Nano), acct.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("saving account %s: %w", acct.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM positions WHERE account_id = ?`, acct.ID); err != nil {
		return fmt.Errorf("clearing positions for %s: %w", acct.ID, err)
	}
	for _, p := range acct.Positions {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO positions (account_id, symbol, quantity, avg_price, realized_pnl, opened_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			acct.ID, p.Symbol, p.Quantity, p.AvgPrice, p.RealizedPnL,
			p.OpenedAt.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("saving position %s for %s: %w", p.Symbol, acct.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing save for %s: %w", acct.ID, err)
	}
	return nil
}

// ListIDs implements Interface.
func (s *SQLiteStorage) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning account id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close implements Interface.
func (s *SQLiteStorage) Close() error { return s.db.Close() }
