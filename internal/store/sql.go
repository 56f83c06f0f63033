// ABOUTME: database/sql implementation of the dispatch ledger
// ABOUTME: Uses modernc.org/sqlite by default and lib/pq for postgres DSNs

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const defaultListLimit = 100

// timeLayout is fixed-width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLLedger implements Ledger on top of database/sql.
type SQLLedger struct {
	db     *sql.DB
	driver string
	logger *slog.Logger
}

// Open connects to the ledger database and creates the schema if needed.
// For sqlite, dsn is a file path (parent directories are created) or ":memory:".
func Open(driver, dsn string, logger *slog.Logger) (*SQLLedger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	switch driver {
	case "", DriverSQLite:
		driver = DriverSQLite
		if dsn != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if driver == DriverSQLite {
		// A single connection keeps ":memory:" databases shared and
		// serialises writers.
		db.SetMaxOpenConns(1)
		if dsn != ":memory:" {
			if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
				db.Close()
				return nil, fmt.Errorf("enabling WAL mode: %w", err)
			}
		}
	}

	l := &SQLLedger{db: db, driver: driver, logger: logger}
	if err := l.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("dispatch ledger initialized", "driver", driver)
	return l, nil
}

func (l *SQLLedger) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS dispatch_attempts (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			text TEXT NOT NULL,
			transport TEXT NOT NULL,
			status TEXT NOT NULL,
			message_id TEXT NOT NULL DEFAULT '',
			error_code INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`
	if _, err := l.db.Exec(schema); err != nil {
		return err
	}
	_, err := l.db.Exec(`CREATE INDEX IF NOT EXISTS idx_dispatch_attempts_conversation
		ON dispatch_attempts(conversation_id, created_at)`)
	return err
}

// SaveAttempt stores an attempt, assigning an id and timestamp when missing.
func (l *SQLLedger) SaveAttempt(ctx context.Context, a *Attempt) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	query := l.rebind(`INSERT INTO dispatch_attempts
		(id, conversation_id, text, transport, status, message_id, error_code, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := l.db.ExecContext(ctx, query,
		a.ID, a.ConversationID, a.Text, a.Transport, a.Status,
		a.MessageID, a.ErrorCode, a.Error, a.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("saving attempt: %w", err)
	}
	return nil
}

// ListAttempts returns attempts newest first.
func (l *SQLLedger) ListAttempts(ctx context.Context, filter AttemptFilter) ([]*Attempt, error) {
	var (
		where []string
		args  []any
	)
	if filter.ConversationID != "" {
		where = append(where, "conversation_id = ?")
		args = append(args, filter.ConversationID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `SELECT id, conversation_id, text, transport, status, message_id, error_code, error, created_at
		FROM dispatch_attempts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, l.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("listing attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*Attempt
	for rows.Next() {
		a := &Attempt{}
		var createdAt string
		if err := rows.Scan(&a.ID, &a.ConversationID, &a.Text, &a.Transport, &a.Status,
			&a.MessageID, &a.ErrorCode, &a.Error, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning attempt: %w", err)
		}
		a.CreatedAt, err = time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating attempts: %w", err)
	}
	return attempts, nil
}

// Close closes the database.
func (l *SQLLedger) Close() error {
	return l.db.Close()
}

// rebind rewrites ? placeholders as $1, $2, ... for postgres.
func (l *SQLLedger) rebind(query string) string {
	if l.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
