package auth

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store is a read-only view over persisted token records. TokenRecords are
// created by an out-of-band admin tool; the gateway only ever reads them.
type Store interface {
	// ByPrefix returns every record (active or not) whose TokenPrefix
	// equals prefix. Implementations should index this column.
	ByPrefix(ctx context.Context, prefix []byte) ([]TokenRecord, error)
	// All returns every record, used as a fallback when a store cannot
	// look up by prefix (e.g. legacy schema without the column).
	All(ctx context.Context) ([]TokenRecord, error)
}

// MemoryStore is a fixed, in-memory Store used by tests and by deployments
// that provision tokens via config rather than a database.
type MemoryStore struct {
	records []TokenRecord
}

// NewMemoryStore builds a MemoryStore from a fixed slice of records.
func NewMemoryStore(records []TokenRecord) *MemoryStore {
	return &MemoryStore{records: records}
}

func (m *MemoryStore) ByPrefix(_ context.Context, prefix []byte) ([]TokenRecord, error) {
	out := make([]TokenRecord, 0, 1)
	for _, r := range m.records {
		if len(r.TokenPrefix) > 0 && equalBytes(r.TokenPrefix, prefix) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemoryStore) All(_ context.Context) ([]TokenRecord, error) {
	return m.records, nil
}

func equalBytes(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// sqlTokenRow mirrors the token_store table column-for-column via sqlx's
// struct-tag scanning.
type sqlTokenRow struct {
	ID                  int64          `db:"id"`
	Username            string         `db:"username"`
	TokenHash           []byte         `db:"token_hash"`
	TokenSalt           []byte         `db:"token_salt"`
	TokenPrefix         []byte         `db:"token_prefix"`
	CreatedAt           time.Time      `db:"created_at"`
	ExpiresAt           sql.NullTime   `db:"expires_at"`
	RevokedAt           sql.NullTime   `db:"revoked_at"`
	AllowedScopes       string         `db:"allowed_scopes"`
	AllowedEnvironments string         `db:"allowed_environments"`
	Description         sql.NullString `db:"description"`
}

func (row sqlTokenRow) toRecord() TokenRecord {
	rec := TokenRecord{
		ID:                  row.ID,
		Username:            row.Username,
		TokenHash:           row.TokenHash,
		TokenSalt:           row.TokenSalt,
		TokenPrefix:         row.TokenPrefix,
		CreatedAt:           row.CreatedAt,
		AllowedScopes:       row.AllowedScopes,
		AllowedEnvironments: row.AllowedEnvironments,
	}
	if row.ExpiresAt.Valid {
		t := row.ExpiresAt.Time
		rec.ExpiresAt = &t
	}
	if row.RevokedAt.Valid {
		t := row.RevokedAt.Time
		rec.RevokedAt = &t
	}
	if row.Description.Valid {
		rec.Description = row.Description.String
	}
	return rec
}

// SQLStore is the production Store backed by the gateway's own token_store
// table, queried with sqlx over the same pooled database/sql connection
// used by the SQL executor's non-tenant ("gateway") database.
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore wraps an already-open *sqlx.DB.
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

const selectTokenColumns = `id, username, token_hash, token_salt, token_prefix, created_at, expires_at, revoked_at, allowed_scopes, allowed_environments, description`

func (s *SQLStore) ByPrefix(ctx context.Context, prefix []byte) ([]TokenRecord, error) {
	var rows []sqlTokenRow
	query := `SELECT ` + selectTokenColumns + ` FROM [dbo].[TokenStore] WHERE token_prefix = @p1`
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), prefix); err != nil {
		return nil, err
	}
	return toRecords(rows), nil
}

func (s *SQLStore) All(ctx context.Context) ([]TokenRecord, error) {
	var rows []sqlTokenRow
	query := `SELECT ` + selectTokenColumns + ` FROM [dbo].[TokenStore]`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}
	return toRecords(rows), nil
}

func toRecords(rows []sqlTokenRow) []TokenRecord {
	out := make([]TokenRecord, len(rows))
	for i, row := range rows {
		out[i] = row.toRecord()
	}
	return out
}
