// Package review collects retained citations that need a human look and
// ships them to a review queue.
package review

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultTable is the review queue table.
const DefaultTable = "citation_review"

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

var columns = []string{"run_id", "record_id", "original", "normalized", "label", "reason"}

// Item is one citation queued for review.
type Item struct {
	RunID      string `json:"run_id"`
	RecordID   string `json:"record_id"`
	Original   string `json:"original"`
	Normalized string `json:"normalized"`
	Label      string `json:"label"`
	Reason     string `json:"reason"`
}

// Sink receives review items, one record's batch at a time.
type Sink interface {
	Write(ctx context.Context, items []Item) error
	Close() error
}

// MemorySink keeps items in memory.
type MemorySink struct {
	mu     sync.Mutex
	items  []Item
	closed bool
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Write appends items.
func (m *MemorySink) Write(_ context.Context, items []Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("review sink is closed")
	}
	m.items = append(m.items, items...)
	return nil
}

// Items returns a copy of everything written so far.
func (m *MemorySink) Items() []Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]Item, len(m.items))
	copy(items, m.items)
	return items
}

// Close marks the sink closed.
func (m *MemorySink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Execer runs a statement. *pgxpool.Pool satisfies it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresSink inserts review items into a Postgres table.
type PostgresSink struct {
	db      Execer
	pool    *pgxpool.Pool
	table   string
	builder sq.StatementBuilderType
}

// NewPostgresSink connects to dsn and checks the connection.
func NewPostgresSink(ctx context.Context, dsn, table string) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to review database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging review database: %w", err)
	}

	sink, err := NewPostgresSinkWithDB(pool, table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	sink.pool = pool
	return sink, nil
}

// NewPostgresSinkWithDB creates a sink over an existing connection.
func NewPostgresSinkWithDB(db Execer, table string) (*PostgresSink, error) {
	if table == "" {
		table = DefaultTable
	}
	if !identifierPattern.MatchString(table) {
		return nil, fmt.Errorf("invalid review table name %q", table)
	}
	return &PostgresSink{
		db:      db,
		table:   table,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}, nil
}

// Table returns the table the sink writes to.
func (s *PostgresSink) Table() string {
	return s.table
}

// EnsureSchema creates the review table when it does not exist.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			run_id UUID NOT NULL,
			record_id TEXT NOT NULL,
			original TEXT NOT NULL,
			normalized TEXT NOT NULL,
			label TEXT NOT NULL,
			reason TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.table)
	if _, err := s.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("creating review table %s: %w", s.table, err)
	}
	return nil
}

// InsertQuery builds the multi-row insert for items.
func (s *PostgresSink) InsertQuery(items []Item) (string, []any, error) {
	insert := s.builder.Insert(s.table).Columns(columns...)
	for _, item := range items {
		insert = insert.Values(item.RunID, item.RecordID, item.Original, item.Normalized, item.Label, item.Reason)
	}
	return insert.ToSql()
}

// Write inserts items in one statement.
func (s *PostgresSink) Write(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	query, args, err := s.InsertQuery(items)
	if err != nil {
		return fmt.Errorf("building review insert: %w", err)
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting %d review items: %w", len(items), err)
	}
	return nil
}

// Close releases the connection pool when the sink owns one.
func (s *PostgresSink) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
