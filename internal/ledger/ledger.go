package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"tradeflow/internal/interfaces"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrStale is returned by a conditional write whose expected prior
	// state no longer holds. The write was not applied.
	ErrStale = errors.New("stale write: row is no longer in the expected state")
	// ErrDuplicate is returned when an insert hits a unique key.
	ErrDuplicate = errors.New("duplicate row")
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type records struct {
	q querier
}

var _ interfaces.Records = (*records)(nil)

// Ledger is the SQLite-backed store shared by the executor, monitor and
// valuator.
type Ledger struct {
	*records
	db *sql.DB
}

var _ interfaces.Ledger = (*Ledger)(nil)

// Open creates the parent directory if needed, opens the database in WAL
// mode and applies Schema.
func Open(path string) (*Ledger, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	dsn := "file:" + path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Ledger{records: &records{q: db}, db: db}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

// InTx runs fn inside a transaction. fn must only use the Records it is
// given.
func (l *Ledger) InTx(ctx context.Context, fn func(interfaces.Records) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&records{q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// guarded interprets the result of a conditional UPDATE/DELETE. Zero rows
// affected means either the row is gone or it moved past the expected state.
func (r *records) guarded(ctx context.Context, res sql.Result, table, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var one int
	err = r.q.QueryRowContext(ctx, "SELECT 1 FROM "+table+" WHERE id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", strings.TrimSuffix(table, "s"), id, ErrNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%s %s: %w", strings.TrimSuffix(table, "s"), id, ErrStale)
}

func insertErr(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func timeOf(nt sql.NullTime) time.Time {
	if !nt.Valid {
		return time.Time{}
	}
	return nt.Time.UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
