package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/plexsphere/appguard/internal/rules"
)

// ErrNotFound is returned when a rule id does not exist.
var ErrNotFound = errors.New("store: rule not found")

// Rule is one stored rule row.
type Rule struct {
	ID        int64     `json:"id"`
	RuleText  string    `json:"ruletext"`
	Enacted   bool      `json:"enacted"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the SQLite-backed rule table.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens or creates the rule database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	return OpenWithDB(db, logger)
}

// OpenWithDB wraps an existing database connection.
func OpenWithDB(db *sql.DB, logger *slog.Logger) (*Store, error) {
	s := &Store{db: db, logger: logger.With("component", "store")}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init schema: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS rules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ruletext TEXT NOT NULL,
			enacted BOOLEAN NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_rules_enacted ON rules(enacted);
	`)
	return err
}

// EnactedRules returns a cursor over the ruletext of every enacted rule in
// insertion order. It implements rules.Source.
func (s *Store) EnactedRules(ctx context.Context) (rules.Rows, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT ruletext FROM rules WHERE enacted = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: query enacted rules: %w", err)
	}
	return &ruleRows{rows: rows}, nil
}

// ruleRows adapts *sql.Rows to rules.Rows.
type ruleRows struct {
	rows *sql.Rows
}

func (r *ruleRows) Next() bool   { return r.rows.Next() }
func (r *ruleRows) Err() error   { return r.rows.Err() }
func (r *ruleRows) Close() error { return r.rows.Close() }

func (r *ruleRows) RuleText() (string, error) {
	var text string
	if err := r.rows.Scan(&text); err != nil {
		return "", fmt.Errorf("store: scan ruletext: %w", err)
	}
	return text, nil
}

// AddRule inserts a rule and returns its id.
func (s *Store) AddRule(ctx context.Context, text string, enacted bool) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO rules (ruletext, enacted, created_at) VALUES (?, ?, ?)`,
		text, enacted, time.Now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("store: add rule: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: add rule: %w", err)
	}
	s.logger.Debug("rule added", "id", id, "enacted", enacted)
	return id, nil
}

// SetEnacted marks a rule active or inactive.
func (s *Store) SetEnacted(ctx context.Context, id int64, enacted bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE rules SET enacted = ? WHERE id = ?`, enacted, id)
	if err != nil {
		return fmt.Errorf("store: set enacted %d: %w", id, err)
	}
	return checkAffected(res, id)
}

// DeleteRule removes a rule.
func (s *Store) DeleteRule(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete %d: %w", id, err)
	}
	return checkAffected(res, id)
}

// ListRules returns every stored rule, enacted or not, in insertion order.
func (s *Store) ListRules(ctx context.Context) ([]Rule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, ruletext, enacted, created_at FROM rules ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list rules: %w", err)
	}
	defer rows.Close()

	var out []Rule
	for rows.Next() {
		var r Rule
		var created int64
		if err := rows.Scan(&r.ID, &r.RuleText, &r.Enacted, &created); err != nil {
			return nil, fmt.Errorf("store: list rules: scan: %w", err)
		}
		r.CreatedAt = time.Unix(created, 0)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list rules: %w", err)
	}
	return out, nil
}

// ReplaceEnacted disables every rule and inserts texts as the new enacted
// set, in one transaction.
func (s *Store) ReplaceEnacted(ctx context.Context, texts []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: replace: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE rules SET enacted = 0 WHERE enacted = 1`); err != nil {
		return fmt.Errorf("store: replace: disable: %w", err)
	}
	now := time.Now().Unix()
	for _, text := range texts {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO rules (ruletext, enacted, created_at) VALUES (?, 1, ?)`, text, now,
		); err != nil {
			return fmt.Errorf("store: replace: insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: replace: commit: %w", err)
	}
	s.logger.Info("enacted rule set replaced", "rules", len(texts))
	return nil
}

func checkAffected(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rule %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}
