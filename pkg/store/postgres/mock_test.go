package postgres

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type call struct {
	query string
	args  []interface{}
}

// mockDB implements DBTX for testing. Each hook defaults to a successful
// no-op; QueryRow defaults to pgx.ErrNoRows.
type mockDB struct {
	mu    sync.Mutex
	calls []call

	onExec     func(query string, args []interface{}) (pgconn.CommandTag, error)
	onQueryRow func(query string, args []interface{}) pgx.Row
	onQuery    func(query string, args []interface{}) (pgx.Rows, error)

	tx       *mockTx
	beginErr error
}

func newMockDB() *mockDB {
	db := &mockDB{}
	db.tx = &mockTx{db: db}
	return db
}

func (m *mockDB) record(query string, args []interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call{query: query, args: args})
}

func (m *mockDB) recorded() []call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]call(nil), m.calls...)
}

func (m *mockDB) Exec(ctx context.Context, query string, args ...interface{}) (pgconn.CommandTag, error) {
	m.record(query, args)
	if m.onExec != nil {
		return m.onExec(query, args)
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (m *mockDB) Query(ctx context.Context, query string, args ...interface{}) (pgx.Rows, error) {
	m.record(query, args)
	if m.onQuery != nil {
		return m.onQuery(query, args)
	}
	return &mockRows{}, nil
}

func (m *mockDB) QueryRow(ctx context.Context, query string, args ...interface{}) pgx.Row {
	m.record(query, args)
	if m.onQueryRow != nil {
		return m.onQueryRow(query, args)
	}
	return &mockRow{err: pgx.ErrNoRows}
}

func (m *mockDB) Begin(ctx context.Context) (pgx.Tx, error) {
	if m.beginErr != nil {
		return nil, m.beginErr
	}
	return m.tx, nil
}

// mockTx forwards statements to its mockDB and records how it ended.
type mockTx struct {
	pgx.Tx
	db         *mockDB
	committed  bool
	rolledBack bool
}

func (t *mockTx) Exec(ctx context.Context, query string, args ...interface{}) (pgconn.CommandTag, error) {
	return t.db.Exec(ctx, query, args...)
}

func (t *mockTx) Commit(ctx context.Context) error {
	t.committed = true
	return nil
}

func (t *mockTx) Rollback(ctx context.Context) error {
	if t.committed {
		return pgx.ErrTxClosed
	}
	t.rolledBack = true
	return nil
}

// mockRow scans values into destinations of the same type.
type mockRow struct {
	values []interface{}
	err    error
}

func (r *mockRow) Scan(dest ...interface{}) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(r.values))
	}
	for i, d := range dest {
		target := reflect.ValueOf(d).Elem()
		if r.values[i] == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		target.Set(reflect.ValueOf(r.values[i]))
	}
	return nil
}

// mockRows yields single-column rows.
type mockRows struct {
	pgx.Rows
	values []interface{}
	pos    int
	closed bool
}

func (r *mockRows) Next() bool {
	if r.pos >= len(r.values) {
		return false
	}
	r.pos++
	return true
}

func (r *mockRows) Scan(dest ...interface{}) error {
	return (&mockRow{values: r.values[r.pos-1 : r.pos]}).Scan(dest...)
}

func (r *mockRows) Err() error { return nil }

func (r *mockRows) Close() { r.closed = true }
