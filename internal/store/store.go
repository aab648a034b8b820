// Package store persists contacts, per-conversation call statuses and
// extracted results in PostgreSQL.
//
// The contacts table is fixed; the result and status tables are created on
// demand per conversation title, with one TEXT column per information field
// of the conversation config.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/callyard/callyard/internal/conversation"
)

// Contact call outcomes tracked in the per-conversation status table.
const (
	StatusNotReached = "NOT_REACHED"
	StatusAborted    = "ABORTED"
	StatusCompleted  = "COMPLETED"
)

// Contact is one row of the contacts table.
type Contact struct {
	ID          int64
	Name        string
	PhoneNumber string
	Address     string
}

// ContactStatus is the campaign progress of one contact for one conversation.
type ContactStatus struct {
	NumAttempts int
	Status      string
}

// Store is the PostgreSQL-backed persistence layer. All operations are safe
// for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the database at dsn and ensures the contacts table exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases all connections held by the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies database connectivity, for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS contacts (
			contact_id   BIGSERIAL PRIMARY KEY,
			name         TEXT NOT NULL,
			phone_number TEXT NOT NULL,
			address      TEXT NOT NULL DEFAULT '',
			CONSTRAINT contacts_unq UNIQUE (name, phone_number)
		)`)
	if err != nil {
		return fmt.Errorf("store: create contacts table: %w", err)
	}
	return nil
}

// EnsureConversationTables creates the result and status tables for cfg if
// they do not exist. The result table gets one TEXT column per information
// field found anywhere in the config.
func (s *Store) EnsureConversationTables(ctx context.Context, cfg *conversation.Config) error {
	table := pgx.Identifier{cfg.TableName}.Sanitize()

	var fields strings.Builder
	for _, col := range cfg.InformationTitles() {
		fields.WriteString(",\n\t\t\t")
		fields.WriteString(pgx.Identifier{col}.Sanitize())
		fields.WriteString(" TEXT")
	}

	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			result_id  BIGSERIAL PRIMARY KEY,
			contact_id BIGINT UNIQUE%s
		)`, table, fields.String()))
	if err != nil {
		return fmt.Errorf("store: create result table %s: %w", cfg.TableName, err)
	}

	statusTable := pgx.Identifier{cfg.TableName + "_status"}.Sanitize()
	_, err = s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			status_id    BIGSERIAL PRIMARY KEY,
			contact_id   BIGINT UNIQUE,
			num_attempts INTEGER,
			status       TEXT
		)`, statusTable))
	if err != nil {
		return fmt.Errorf("store: create status table %s_status: %w", cfg.TableName, err)
	}
	return nil
}

// AddContact inserts a contact, leaving any existing (name, phone_number)
// row untouched.
func (s *Store) AddContact(ctx context.Context, name, phoneNumber, address string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO contacts (name, phone_number, address)
		VALUES ($1, $2, $3)
		ON CONFLICT ON CONSTRAINT contacts_unq DO NOTHING`,
		name, phoneNumber, address)
	if err != nil {
		return fmt.Errorf("store: add contact: %w", err)
	}
	return nil
}

// GetContact resolves a contact by id. Returns pgx.ErrNoRows when absent.
func (s *Store) GetContact(ctx context.Context, contactID int64) (*Contact, error) {
	var c Contact
	err := s.pool.QueryRow(ctx, `
		SELECT contact_id, name, phone_number, address
		FROM contacts WHERE contact_id = $1`, contactID).
		Scan(&c.ID, &c.Name, &c.PhoneNumber, &c.Address)
	if err != nil {
		return nil, fmt.Errorf("store: get contact %d: %w", contactID, err)
	}
	return &c, nil
}

// ListContactIDs returns all contact ids in ascending order.
func (s *Store) ListContactIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT contact_id FROM contacts ORDER BY contact_id`)
	if err != nil {
		return nil, fmt.Errorf("store: list contacts: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan contact id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list contacts: %w", err)
	}
	return ids, nil
}

// EnsureStatus inserts a (NOT_REACHED, 0) status row for the contact if none
// exists yet.
func (s *Store) EnsureStatus(ctx context.Context, table string, contactID int64) error {
	statusTable := pgx.Identifier{table + "_status"}.Sanitize()
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (contact_id, num_attempts, status)
		VALUES ($1, 0, $2)
		ON CONFLICT (contact_id) DO NOTHING`, statusTable),
		contactID, StatusNotReached)
	if err != nil {
		return fmt.Errorf("store: ensure status: %w", err)
	}
	return nil
}

// IncrementAttempts bumps the attempt counter for the contact.
func (s *Store) IncrementAttempts(ctx context.Context, table string, contactID int64) error {
	statusTable := pgx.Identifier{table + "_status"}.Sanitize()
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET num_attempts = num_attempts + 1
		WHERE contact_id = $1`, statusTable), contactID)
	if err != nil {
		return fmt.Errorf("store: increment attempts: %w", err)
	}
	return nil
}

// SetStatus updates the outcome of the contact's campaign row.
func (s *Store) SetStatus(ctx context.Context, table string, contactID int64, status string) error {
	statusTable := pgx.Identifier{table + "_status"}.Sanitize()
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET status = $2
		WHERE contact_id = $1`, statusTable), contactID, status)
	if err != nil {
		return fmt.Errorf("store: set status: %w", err)
	}
	return nil
}

// GetContactStatus returns the contact's status row, or nil when the contact
// has never been called for this conversation.
func (s *Store) GetContactStatus(ctx context.Context, table string, contactID int64) (*ContactStatus, error) {
	statusTable := pgx.Identifier{table + "_status"}.Sanitize()
	var st ContactStatus
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT num_attempts, status FROM %s
		WHERE contact_id = $1`, statusTable), contactID).
		Scan(&st.NumAttempts, &st.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get status: %w", err)
	}
	return &st, nil
}

// UpsertResult writes the extracted fields for the contact, refreshing the
// row on repeated attempts. Field keys are sanitised to their column names;
// nil values store NULL.
func (s *Store) UpsertResult(ctx context.Context, table string, contactID int64, info map[string]*string) error {
	resultTable := pgx.Identifier{table}.Sanitize()

	cols := []string{"contact_id"}
	args := []any{contactID}
	var placeholders, updates []string
	placeholders = append(placeholders, "$1")

	i := 2
	for title, value := range info {
		col := pgx.Identifier{conversation.SanitizeIdentifier(title)}.Sanitize()
		cols = append(cols, col)
		args = append(args, value)
		placeholders = append(placeholders, fmt.Sprintf("$%d", i))
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
		i++
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (%s) VALUES (%s)
		ON CONFLICT (contact_id) DO UPDATE SET %s`,
		resultTable,
		strings.Join(cols, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(updates, ", "))
	if len(updates) == 0 {
		query = fmt.Sprintf(`
			INSERT INTO %s (contact_id) VALUES ($1)
			ON CONFLICT (contact_id) DO NOTHING`, resultTable)
	}

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("store: upsert result: %w", err)
	}
	return nil
}
