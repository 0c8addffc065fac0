package db

import (
	"context"
	"crypto/rand"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/deckhand/internal/errors"
)

// Session is a stored credential row.
type Session struct {
	// ID is a ULID assigned on first write and kept across token rotations
	ID string

	// Name identifies the credential slot (e.g. "token")
	Name string

	// Token is the opaque bearer credential
	Token string

	// CreatedAt is the Unix timestamp of the first write
	CreatedAt int64

	// UpdatedAt is the Unix timestamp of the last write
	UpdatedAt int64

	// ExpiresAt is the Unix timestamp after which the row reads as absent
	ExpiresAt int64
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return now.Unix() >= s.ExpiresAt
}

// newID generates a ULID for a new row.
func newID(now time.Time) string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(now), entropy).String()
}

// PutSession inserts or replaces the session stored under name.
// The row keeps its ID and created_at across rewrites.
func PutSession(ctx context.Context, db *sql.DB, name, token string, now time.Time, maxAge time.Duration) (*Session, error) {
	ts := now.Unix()
	expires := now.Add(maxAge).Unix()

	query := `
		INSERT INTO sessions (id, name, token, created_at, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			token = excluded.token,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at
	`
	if _, err := db.ExecContext(ctx, query, newID(now), name, token, ts, ts, expires); err != nil {
		return nil, errors.NewInternal(err)
	}

	return GetSession(ctx, db, name)
}

// GetSession retrieves the session stored under name, expired or not.
// Returns a NOT_FOUND error when no row exists.
func GetSession(ctx context.Context, db *sql.DB, name string) (*Session, error) {
	query := `
		SELECT id, name, token, created_at, updated_at, expires_at
		FROM sessions
		WHERE name = ?
	`

	var s Session
	err := db.QueryRowContext(ctx, query, name).Scan(
		&s.ID, &s.Name, &s.Token, &s.CreatedAt, &s.UpdatedAt, &s.ExpiresAt,
	)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewSessionNotFound(name)
		}
		return nil, errors.NewInternal(err)
	}

	return &s, nil
}

// DeleteSession removes the session stored under name.
// Returns true if a row was deleted.
func DeleteSession(ctx context.Context, db *sql.DB, name string) (bool, error) {
	result, err := db.ExecContext(ctx, `DELETE FROM sessions WHERE name = ?`, name)
	if err != nil {
		return false, errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return n > 0, nil
}

// PurgeExpiredSessions removes every session whose expiry is at or before now.
// Returns the number of rows removed.
func PurgeExpiredSessions(ctx context.Context, db *sql.DB, now time.Time) (int, error) {
	result, err := db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, now.Unix())
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return int(n), nil
}
