package leadstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrWong99/concierge/pkg/types"
)

// ── Mock DB ──────────────────────────────────────────────────────────────────

type mockRow struct {
	values []any
	err    error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assign(r.values, dest)
}

type mockRows struct {
	data   [][]any
	idx    int
	err    error
	closed bool
}

func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.err }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }

func (r *mockRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *mockRows) Scan(dest ...any) error { return assign(r.data[r.idx-1], dest) }

// assign copies row values into scan destinations.
func assign(row []any, dest []any) error {
	if len(dest) != len(row) {
		return fmt.Errorf("scan: expected %d columns, got %d destinations", len(row), len(dest))
	}
	for i, v := range row {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *int:
			*d = v.(int)
		case *[]byte:
			*d = v.([]byte)
		case *time.Time:
			*d = v.(time.Time)
		default:
			return fmt.Errorf("scan: unsupported type at index %d: %T", i, dest[i])
		}
	}
	return nil
}

type mockDB struct {
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
	queryFunc    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	execFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	pingErr      error
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if m.queryRowFunc != nil {
		return m.queryRowFunc(ctx, sql, args...)
	}
	return &mockRow{err: pgx.ErrNoRows}
}

func (m *mockDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, sql, args...)
	}
	return &mockRows{}, nil
}

func (m *mockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if m.execFunc != nil {
		return m.execFunc(ctx, sql, args...)
	}
	return pgconn.CommandTag{}, nil
}

func (m *mockDB) Ping(context.Context) error { return m.pingErr }

// ── Fixtures ─────────────────────────────────────────────────────────────────

var receivedAt = time.Date(2026, 5, 2, 14, 30, 0, 0, time.UTC)

func sampleLead() *types.Lead {
	return &types.Lead{
		ID:         "lead-1",
		ReceivedAt: receivedAt,
		Inquiry: types.Inquiry{
			Name:             "Ana Silva",
			Email:            "ana@example.com",
			Phone:            "+351 912 345 678",
			EventType:        types.EventWedding,
			Date:             "2026-09-12",
			Location:         "Lagos",
			GuestCount:       120,
			StylePreferences: "Boho chic ao pôr do sol",
			ServicesNeeded:   []string{"Design Floral", "Coordenação do Dia"},
			Details:          "Cerimónia na praia.",
		},
	}
}

func leadRow(id string, at time.Time) []any {
	return []any{
		id, at, "Ana Silva", "ana@example.com", "", "Casamento", "2026-09-12",
		"Lagos", 120, "", "Boho", []byte(`["Design Floral"]`), "",
	}
}

// ── Tests ────────────────────────────────────────────────────────────────────

func TestPostgresStore_Migrate(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		var got string
		db := &mockDB{execFunc: func(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
			got = sql
			return pgconn.CommandTag{}, nil
		}}
		if err := NewPostgresStore(db).Migrate(context.Background()); err != nil {
			t.Fatalf("Migrate: %v", err)
		}
		if !strings.Contains(got, "CREATE TABLE IF NOT EXISTS leads") {
			t.Errorf("Migrate SQL = %q", got)
		}
	})

	t.Run("error", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{execFunc: func(context.Context, string, ...any) (pgconn.CommandTag, error) {
			return pgconn.CommandTag{}, errors.New("connection refused")
		}}
		err := NewPostgresStore(db).Migrate(context.Background())
		if err == nil || !strings.HasPrefix(err.Error(), "leadstore: migrate:") {
			t.Errorf("err = %v, want leadstore: migrate: prefix", err)
		}
	})
}

func TestPostgresStore_Save(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		var gotSQL string
		var gotArgs []any
		db := &mockDB{execFunc: func(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			gotSQL, gotArgs = sql, args
			return pgconn.NewCommandTag("INSERT 0 1"), nil
		}}

		if err := NewPostgresStore(db).Save(context.Background(), sampleLead()); err != nil {
			t.Fatalf("Save: %v", err)
		}
		if !strings.Contains(gotSQL, "INSERT INTO leads") {
			t.Errorf("SQL = %q", gotSQL)
		}
		if len(gotArgs) != 13 {
			t.Fatalf("args = %d, want 13", len(gotArgs))
		}
		if gotArgs[0] != "lead-1" || gotArgs[5] != "Casamento" || gotArgs[8] != 120 {
			t.Errorf("args = %v", gotArgs)
		}
		if got := string(gotArgs[11].([]byte)); got != `["Design Floral","Coordenação do Dia"]` {
			t.Errorf("services JSON = %s", got)
		}
	})

	t.Run("nil services become empty array", func(t *testing.T) {
		t.Parallel()
		var services []byte
		db := &mockDB{execFunc: func(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
			services = args[11].([]byte)
			return pgconn.CommandTag{}, nil
		}}
		lead := sampleLead()
		lead.ServicesNeeded = nil
		if err := NewPostgresStore(db).Save(context.Background(), lead); err != nil {
			t.Fatalf("Save: %v", err)
		}
		if string(services) != "[]" {
			t.Errorf("services = %s, want []", services)
		}
	})

	t.Run("duplicate", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{execFunc: func(context.Context, string, ...any) (pgconn.CommandTag, error) {
			return pgconn.CommandTag{}, &pgconn.PgError{Code: "23505"}
		}}
		err := NewPostgresStore(db).Save(context.Background(), sampleLead())
		if !errors.Is(err, ErrDuplicate) {
			t.Errorf("err = %v, want ErrDuplicate", err)
		}
	})

	t.Run("empty id", func(t *testing.T) {
		t.Parallel()
		lead := sampleLead()
		lead.ID = ""
		if err := NewPostgresStore(&mockDB{}).Save(context.Background(), lead); err == nil {
			t.Error("Save with empty id: want error")
		}
	})
}

func TestPostgresStore_Get(t *testing.T) {
	t.Parallel()

	t.Run("found", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{queryRowFunc: func(_ context.Context, _ string, args ...any) pgx.Row {
			if args[0] != "lead-1" {
				t.Errorf("id arg = %v", args[0])
			}
			return &mockRow{values: leadRow("lead-1", receivedAt)}
		}}
		lead, err := NewPostgresStore(db).Get(context.Background(), "lead-1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if lead.ID != "lead-1" || lead.EventType != types.EventWedding || lead.GuestCount != 120 {
			t.Errorf("lead = %+v", lead)
		}
		if !lead.ReceivedAt.Equal(receivedAt) {
			t.Errorf("ReceivedAt = %v", lead.ReceivedAt)
		}
		if len(lead.ServicesNeeded) != 1 || lead.ServicesNeeded[0] != "Design Floral" {
			t.Errorf("ServicesNeeded = %v", lead.ServicesNeeded)
		}
	})

	t.Run("not found", func(t *testing.T) {
		t.Parallel()
		_, err := NewPostgresStore(&mockDB{}).Get(context.Background(), "missing")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("bad services json", func(t *testing.T) {
		t.Parallel()
		row := leadRow("lead-1", receivedAt)
		row[11] = []byte(`{`)
		db := &mockDB{queryRowFunc: func(context.Context, string, ...any) pgx.Row {
			return &mockRow{values: row}
		}}
		if _, err := NewPostgresStore(db).Get(context.Background(), "lead-1"); err == nil {
			t.Error("Get with corrupt services: want error")
		}
	})
}

func TestPostgresStore_List(t *testing.T) {
	t.Parallel()

	t.Run("with limit", func(t *testing.T) {
		t.Parallel()
		rows := &mockRows{data: [][]any{
			leadRow("b", receivedAt.Add(time.Hour)),
			leadRow("a", receivedAt),
		}}
		db := &mockDB{queryFunc: func(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
			if !strings.Contains(sql, "LIMIT $1") || len(args) != 1 || args[0] != 2 {
				t.Errorf("sql = %q args = %v", sql, args)
			}
			return rows, nil
		}}
		leads, err := NewPostgresStore(db).List(context.Background(), 2)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(leads) != 2 || leads[0].ID != "b" || leads[1].ID != "a" {
			t.Errorf("leads = %+v", leads)
		}
		if !rows.closed {
			t.Error("rows not closed")
		}
	})

	t.Run("unlimited", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{queryFunc: func(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
			if strings.Contains(sql, "LIMIT") || len(args) != 0 {
				t.Errorf("sql = %q args = %v", sql, args)
			}
			return &mockRows{}, nil
		}}
		leads, err := NewPostgresStore(db).List(context.Background(), 0)
		if err != nil || len(leads) != 0 {
			t.Errorf("List = %v, %v", leads, err)
		}
	})

	t.Run("rows error", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{queryFunc: func(context.Context, string, ...any) (pgx.Rows, error) {
			return &mockRows{err: errors.New("conn reset")}, nil
		}}
		if _, err := NewPostgresStore(db).List(context.Background(), 0); err == nil {
			t.Error("List: want error")
		}
	})
}

func TestPostgresStore_Ping(t *testing.T) {
	t.Parallel()
	if err := NewPostgresStore(&mockDB{}).Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
	down := &mockDB{pingErr: errors.New("refused")}
	if err := NewPostgresStore(down).Ping(context.Background()); err == nil {
		t.Error("Ping on down db: want error")
	}
}
