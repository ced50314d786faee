package leadstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrWong99/concierge/pkg/types"
)

// Schema is the SQL DDL for the leads table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS leads (
    id                TEXT PRIMARY KEY,
    received_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    name              TEXT NOT NULL,
    email             TEXT NOT NULL,
    phone             TEXT NOT NULL DEFAULT '',
    event_type        TEXT NOT NULL,
    event_date        TEXT NOT NULL,
    location          TEXT NOT NULL,
    guest_count       INTEGER NOT NULL,
    budget            TEXT NOT NULL DEFAULT '',
    style_preferences TEXT NOT NULL DEFAULT '',
    services          JSONB NOT NULL DEFAULT '[]',
    details           TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_leads_received_at ON leads(received_at DESC);
CREATE INDEX IF NOT EXISTS idx_leads_email ON leads(email);
`

const selectColumns = `
	SELECT id, received_at, name, email, phone, event_type, event_date,
	       location, guest_count, budget, style_preferences, services, details
	FROM leads`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
}

// PostgresStore is a [Store] backed by a PostgreSQL database. Requested
// services are stored as a JSONB array.
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new [PostgresStore] that uses the given database
// connection or pool. The caller is responsible for calling
// [PostgresStore.Migrate] to ensure the schema exists before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("leadstore: migrate: %w", err)
	}
	return nil
}

// Ping checks database connectivity. It lets the store serve as a readiness
// check.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("leadstore: ping: %w", err)
	}
	return nil
}

// Save implements [Store].
func (s *PostgresStore) Save(ctx context.Context, lead *types.Lead) error {
	if lead.ID == "" {
		return errors.New("leadstore: save: empty id")
	}
	servicesJSON, err := json.Marshal(emptySlice(lead.ServicesNeeded))
	if err != nil {
		return fmt.Errorf("leadstore: marshal services: %w", err)
	}

	const query = `
		INSERT INTO leads (
			id, received_at, name, email, phone, event_type, event_date,
			location, guest_count, budget, style_preferences, services, details
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`

	_, err = s.db.Exec(ctx, query,
		lead.ID, lead.ReceivedAt, lead.Name, lead.Email, lead.Phone,
		string(lead.EventType), lead.Date, lead.Location, lead.GuestCount,
		lead.Budget, lead.StylePreferences, servicesJSON, lead.Details,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("leadstore: save %q: %w", lead.ID, ErrDuplicate)
		}
		return fmt.Errorf("leadstore: save: %w", err)
	}
	return nil
}

// Get implements [Store].
func (s *PostgresStore) Get(ctx context.Context, id string) (*types.Lead, error) {
	lead, err := scanLead(s.db.QueryRow(ctx, selectColumns+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("leadstore: get %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("leadstore: get %q: %w", id, err)
	}
	return lead, nil
}

// List implements [Store].
func (s *PostgresStore) List(ctx context.Context, limit int) ([]types.Lead, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.db.Query(ctx, selectColumns+` ORDER BY received_at DESC, id LIMIT $1`, limit)
	} else {
		rows, err = s.db.Query(ctx, selectColumns+` ORDER BY received_at DESC, id`)
	}
	if err != nil {
		return nil, fmt.Errorf("leadstore: list: %w", err)
	}
	defer rows.Close()

	var leads []types.Lead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("leadstore: list scan: %w", err)
		}
		leads = append(leads, *lead)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("leadstore: list: %w", err)
	}
	return leads, nil
}

// scanLead reads one row in [selectColumns] order.
func scanLead(row pgx.Row) (*types.Lead, error) {
	var (
		lead         types.Lead
		eventType    string
		servicesJSON []byte
	)
	err := row.Scan(
		&lead.ID, &lead.ReceivedAt, &lead.Name, &lead.Email, &lead.Phone,
		&eventType, &lead.Date, &lead.Location, &lead.GuestCount,
		&lead.Budget, &lead.StylePreferences, &servicesJSON, &lead.Details,
	)
	if err != nil {
		return nil, err
	}
	lead.EventType = types.EventType(eventType)
	if err := json.Unmarshal(servicesJSON, &lead.ServicesNeeded); err != nil {
		return nil, fmt.Errorf("unmarshal services: %w", err)
	}
	return &lead, nil
}

// emptySlice returns s if non-nil, otherwise an empty non-nil slice so the
// JSONB column holds "[]" instead of "null".
func emptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// isDuplicateKeyError checks whether a PostgreSQL error is a unique-violation
// (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
