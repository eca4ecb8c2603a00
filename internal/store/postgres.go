package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tollgate/internal/hitl"
)

type rowScanner interface {
	Scan(dest ...any) error
}

type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) rowScanner
}

type sqlDBWrapper struct {
	DB *sql.DB
}

func (w sqlDBWrapper) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return w.DB.ExecContext(ctx, query, args...)
}

func (w sqlDBWrapper) QueryRowContext(ctx context.Context, query string, args ...any) rowScanner {
	return w.DB.QueryRowContext(ctx, query, args...)
}

// PostgresStore keeps the full snapshot in a single row keyed by console
// id, and appends terminal decisions to a separate audit table.
type PostgresStore struct {
	ConsoleID string

	conn dbConn
	raw  *sql.DB
}

var openDB = sql.Open

func NewPostgresStore(dsn, consoleID string) (*PostgresStore, error) {
	conn, err := openDB("postgres", dsn)
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)
	if consoleID == "" {
		consoleID = "console"
	}
	return &PostgresStore{ConsoleID: consoleID, conn: sqlDBWrapper{DB: conn}, raw: conn}, nil
}

func (s *PostgresStore) Close() error {
	if s == nil || s.raw == nil {
		return nil
	}
	return s.raw.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if s == nil || s.raw == nil {
		return errors.New("store not initialized")
	}
	return s.raw.PingContext(ctx)
}

func (s *PostgresStore) Load(ctx context.Context) (hitl.Snapshot, error) {
	if s == nil || s.conn == nil {
		return hitl.Snapshot{}, errors.New("store not initialized")
	}
	row := s.conn.QueryRowContext(ctx,
		`SELECT payload FROM hitl_snapshots WHERE console_id=$1`, s.ConsoleID)
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return hitl.Snapshot{}, hitl.ErrNoSnapshot
		}
		return hitl.Snapshot{}, err
	}
	var snap hitl.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return hitl.Snapshot{}, err
	}
	return snap, nil
}

func (s *PostgresStore) Save(ctx context.Context, snap hitl.Snapshot) error {
	if s == nil || s.conn == nil {
		return errors.New("store not initialized")
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = s.conn.ExecContext(ctx,
		`INSERT INTO hitl_snapshots (console_id, version, payload, saved_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (console_id)
		 DO UPDATE SET version=EXCLUDED.version, payload=EXCLUDED.payload, saved_at=now()`,
		s.ConsoleID, snap.Version, payload)
	return err
}

// InsertDecisionEvent appends one terminal-outcome record to the audit
// table and returns its id.
func (s *PostgresStore) InsertDecisionEvent(ctx context.Context, payload []byte) (string, error) {
	if s == nil || s.conn == nil {
		return "", errors.New("store not initialized")
	}
	id := newID("audit")
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO hitl_decision_audit (audit_id, console_id, payload) VALUES ($1, $2, $3)`,
		id, s.ConsoleID, payload)
	if err != nil {
		return "", err
	}
	return id, nil
}

func newID(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
}
