package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"kvcache/internal/errs"
	sqliteconn "kvcache/internal/infrastructure/persistence/sqlite/conn"
	"kvcache/internal/infrastructure/persistence/sqlite/model"
	"kvcache/internal/ports"
)

// KVStore is the SQLite backing store. Every call runs on the connection it is
// given; it never opens connections of its own.
type KVStore struct {
	now func() time.Time
}

var _ ports.Store = (*KVStore)(nil)

func NewKVStore() *KVStore {
	return &KVStore{now: time.Now}
}

// Migrate creates or updates the kv_store table.
func Migrate(ctx context.Context, db *gorm.DB) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if err := db.WithContext(ctx).AutoMigrate(&model.KVRecord{}); err != nil {
		return errs.Wrap(err, "auto migrate kv_store")
	}
	return nil
}

func (s *KVStore) dbFromConn(ctx context.Context, conn ports.Conn) (*gorm.DB, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(err, "check context")
	}

	switch c := conn.(type) {
	case *sqliteconn.Conn:
		if c != nil {
			return c.Session(ctx), nil
		}
	case *gorm.DB:
		if c != nil {
			return c.WithContext(ctx), nil
		}
	}
	return nil, fmt.Errorf("invalid conn: %T", conn)
}

// Insert upserts key (REPLACE semantics).
func (s *KVStore) Insert(ctx context.Context, conn ports.Conn, key string, value string) error {
	db, err := s.dbFromConn(ctx, conn)
	if err != nil {
		return err
	}

	row := model.KVRecord{
		Key:       key,
		Value:     value,
		UpdatedAt: s.now().UTC().Format(time.RFC3339Nano),
	}

	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "k"}},
		DoUpdates: clause.AssignmentColumns([]string{"v", "updated_at"}),
	}).Create(&row).Error; err != nil {
		return errs.Wrap(err, "upsert kv record")
	}

	return nil
}

func (s *KVStore) Get(ctx context.Context, conn ports.Conn, key string) (string, bool, error) {
	db, err := s.dbFromConn(ctx, conn)
	if err != nil {
		return "", false, err
	}

	var row model.KVRecord
	if err := db.Where("k = ?", key).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, errs.Wrap(err, "query kv record")
	}

	return row.Value, true, nil
}

// Remove deletes key. Deleting an absent key is not an error.
func (s *KVStore) Remove(ctx context.Context, conn ports.Conn, key string) error {
	db, err := s.dbFromConn(ctx, conn)
	if err != nil {
		return err
	}

	if err := db.Where("k = ?", key).Delete(&model.KVRecord{}).Error; err != nil {
		return errs.Wrap(err, "delete kv record")
	}
	return nil
}
