package conn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"kvcache/internal/errs"
)

// Conn is a GORM session pinned to a single *sql.Conn. It is the concrete
// ports.Conn handed out by the connection pool.
type Conn struct {
	id      int
	session *gorm.DB
	raw     *sql.Conn
}

// Open checks one physical connection out of db's database/sql pool and keeps
// it until Close.
func Open(ctx context.Context, db *gorm.DB, id int) (*Conn, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if db == nil {
		return nil, errors.New("db is required")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errs.Wrap(err, "get sql db")
	}

	raw, err := sqlDB.Conn(ctx)
	if err != nil {
		return nil, errs.Wrapf(err, "checkout sql conn %d", id)
	}

	// Context forces a statement clone so the base db keeps its own ConnPool.
	session := db.Session(&gorm.Session{NewDB: true, Context: context.Background()})
	session.Statement.ConnPool = raw

	return &Conn{id: id, session: session, raw: raw}, nil
}

func (c *Conn) ID() int { return c.id }

// Session returns a fresh statement bound to this connection and ctx.
func (c *Conn) Session(ctx context.Context) *gorm.DB {
	return c.session.WithContext(ctx)
}

func (c *Conn) Ping(ctx context.Context) error {
	return c.raw.PingContext(ctx)
}

func (c *Conn) Close() error {
	if err := c.raw.Close(); err != nil {
		return errs.Wrapf(err, "close sql conn %d", c.id)
	}
	return nil
}

func (c *Conn) String() string {
	return fmt.Sprintf("sqlite-conn-%d", c.id)
}
