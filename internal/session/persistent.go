package session

import (
	"context"
	"database/sql"

	"github.com/hpungsan/deckhand/internal/db"
	"github.com/hpungsan/deckhand/internal/errors"
)

// Persistent is a Holder backed by the sessions table, so a login survives
// across CLI invocations and is shared with the web UI and MCP server.
type Persistent struct {
	db   *sql.DB
	name string
	opts options
}

// NewPersistent creates a holder storing its token in database under TokenName.
func NewPersistent(database *sql.DB, opts ...Option) *Persistent {
	return &Persistent{
		db:   database,
		name: TokenName,
		opts: buildOptions(opts),
	}
}

// Token implements Holder. Expired rows are deleted on read.
func (p *Persistent) Token(ctx context.Context) (string, bool, error) {
	s, err := db.GetSession(ctx, p.db, p.name)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	if s.Expired(p.opts.now()) {
		if _, err := db.DeleteSession(ctx, p.db, p.name); err != nil {
			return "", false, err
		}
		return "", false, nil
	}
	return s.Token, true, nil
}

// Set implements Holder.
func (p *Persistent) Set(ctx context.Context, token string) error {
	if token == "" {
		return p.Clear(ctx)
	}
	_, err := db.PutSession(ctx, p.db, p.name, token, p.opts.now(), p.opts.maxAge)
	return err
}

// Clear implements Holder.
func (p *Persistent) Clear(ctx context.Context) error {
	_, err := db.DeleteSession(ctx, p.db, p.name)
	return err
}
