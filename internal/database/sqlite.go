package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"hubsync/internal/database/migrations"
	"hubsync/internal/hub"
	"hubsync/internal/model"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// timeFormat is fixed-width so that text ordering matches time ordering.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements hub.Store on SQLite. It plays the part of the
// remote store: every write is checked against row-level policy for the
// actor the store was opened for, and committed changes are published on an
// in-process change feed.
type SQLiteStore struct {
	db      *sql.DB
	path    string
	actorID string
	clock   hub.Clock
	idgen   hub.IDGenerator
	feed    *changeFeed
	owner   bool
}

var _ hub.Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens the database at path for actorID.
// path can be a file path or ":memory:". clock and idgen default to real ones.
func NewSQLiteStore(path, actorID string, clock hub.Clock, idgen hub.IDGenerator) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return NewSQLiteStoreFromDB(db, actorID, clock, idgen), nil
}

// NewSQLiteStoreFromDB wraps an existing connection. The store takes
// ownership of db and closes it on Close.
func NewSQLiteStoreFromDB(db *sql.DB, actorID string, clock hub.Clock, idgen hub.IDGenerator) *SQLiteStore {
	if clock == nil {
		clock = hub.RealClock{}
	}
	if idgen == nil {
		idgen = hub.UUIDGenerator{}
	}
	return &SQLiteStore{
		db:      db,
		actorID: actorID,
		clock:   clock,
		idgen:   idgen,
		feed:    newChangeFeed(),
		owner:   true,
	}
}

// OpenConnection opens and configures a SQLite database connection.
// In-memory databases are limited to one connection, since each new
// connection to ":memory:" would see a different, empty database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" || strings.Contains(path, "mode=memory") {
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return db, nil
}

// WithActor returns a view of the same database acting as another user.
// The view shares the connection and change feed; closing it is a no-op.
func (s *SQLiteStore) WithActor(actorID string) *SQLiteStore {
	c := *s
	c.actorID = actorID
	c.owner = false
	return &c
}

// Migrate brings the schema to the latest version.
func (s *SQLiteStore) Migrate() error {
	return migrations.MigrateUp(s.db)
}

// CheckMigrations verifies that the schema is up to date.
func (s *SQLiteStore) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// Bootstrap creates the first profile without policy checks. It refuses to
// run once any profile exists.
func (s *SQLiteStore) Bootstrap(ctx context.Context, profile *model.Profile) error {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM profiles").Scan(&count); err != nil {
		return fmt.Errorf("counting profiles: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("%w: store already has profiles", hub.ErrPermission)
	}
	if err := s.writeProfile(ctx, profile); err != nil {
		return err
	}
	s.publish(hub.TableProfiles, "INSERT", profile.ID, "")
	return nil
}

// Subscribe implements hub.ChangeFeed.
func (s *SQLiteStore) Subscribe(ctx context.Context, filter hub.ChangeFilter) (hub.Subscription, error) {
	return s.feed.subscribe(ctx, filter), nil
}

// Close closes the database connection and ends every subscription.
func (s *SQLiteStore) Close() error {
	if !s.owner {
		return nil
	}
	s.feed.close()
	return s.db.Close()
}

func (s *SQLiteStore) publish(table, op, id, sectionID string) {
	s.feed.publish(hub.ChangeEvent{
		Table:     table,
		Op:        op,
		ID:        id,
		SectionID: sectionID,
		At:        s.clock.Now().UTC(),
	})
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{timeFormat, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func (s *SQLiteStore) now() string {
	return formatTime(s.clock.Now())
}

// orNow formats t, substituting the current time for a zero value.
func (s *SQLiteStore) orNow(t time.Time) string {
	if t.IsZero() {
		return s.now()
	}
	return formatTime(t)
}

func encodeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func nullableJSON(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func rawJSON(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func limitOffset(p hub.Page) (int, int) {
	limit := p.Limit
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	return limit, max(p.Offset, 0)
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func decodeJSONText(text string, v any) error {
	if text == "" {
		return nil
	}
	return json.Unmarshal([]byte(text), v)
}
