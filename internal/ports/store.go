package ports

import "context"

// Conn is an opaque handle to one backing-store connection.
// Infrastructure controls the concrete type (for example, a pinned *gorm.DB session).
type Conn interface{}

// ConnPool hands out a fixed set of connections. A Conn returned by Acquire is
// owned by the caller until it is passed to Release.
type ConnPool interface {
	Acquire(ctx context.Context) (Conn, error)
	Release(conn Conn) error
}

// Store is the backing key/value store. Get distinguishes three outcomes:
// found (value, true, nil), absent ("", false, nil) and failure (err != nil).
type Store interface {
	Insert(ctx context.Context, conn Conn, key string, value string) error
	Get(ctx context.Context, conn Conn, key string) (value string, found bool, err error)
	Remove(ctx context.Context, conn Conn, key string) error
}
