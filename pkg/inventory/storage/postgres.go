// Package storage implements the inventory and batch repositories on PostgreSQL.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiGoBatch/pkg/batch"
)

// uniqueViolation is the PostgreSQL error code of a unique constraint violation
const uniqueViolation = "23505"

// PoolConfig sizes the connection pool
// 接続プール設定
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultPoolConfig returns the pool settings used when none are configured.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{MaxOpenConns: 25, MaxIdleConns: 10, ConnMaxLifetime: 5 * time.Minute}
}

// PostgreSQLStorage owns the connection pool shared by every repository
// PostgreSQLを使用したストレージの実装
type PostgreSQLStorage struct {
	db       *sql.DB
	logger   *zap.Logger
	location *time.Location
	now      func() time.Time
}

// NewPostgreSQLStorage opens and pings a PostgreSQL connection pool
// 新しいPostgreSQLストレージインスタンスを作成
func NewPostgreSQLStorage(ctx context.Context, dsn string, pool PoolConfig, loc *time.Location, logger *zap.Logger) (*PostgreSQLStorage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗しました: %w", err)
	}

	// 接続テスト
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("データベースpingに失敗しました: %w", err)
	}

	// 接続プール設定
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)

	return NewWithDB(db, loc, logger), nil
}

// NewWithDB wraps an open *sql.DB.
func NewWithDB(db *sql.DB, loc *time.Location, logger *zap.Logger) *PostgreSQLStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = batch.JST
	}
	return &PostgreSQLStorage{db: db, logger: logger, location: loc, now: time.Now}
}

// WithNow overrides the clock used for updated_at columns.
func (s *PostgreSQLStorage) WithNow(now func() time.Time) *PostgreSQLStorage {
	if now != nil {
		s.now = now
	}
	return s
}

// DB returns the underlying pool
func (s *PostgreSQLStorage) DB() *sql.DB {
	return s.db
}

// Inventory returns the inventory master repository.
func (s *PostgreSQLStorage) Inventory() *InventoryRepository {
	return &InventoryRepository{s: s}
}

// DataSets returns the data set management repository.
func (s *PostgreSQLStorage) DataSets() *DataSetRepository {
	return &DataSetRepository{s: s}
}

// History returns the process history repository.
func (s *PostgreSQLStorage) History() *HistoryRepository {
	return &HistoryRepository{s: s}
}

// Ping checks the database connection
// データベース接続確認
func (s *PostgreSQLStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
// データベース接続を閉じる
func (s *PostgreSQLStorage) Close() error {
	return s.db.Close()
}

// dateParam renders a job date for a DATE column in the business location.
func (s *PostgreSQLStorage) dateParam(t time.Time) string {
	return t.In(s.location).Format("2006-01-02")
}

// fromDate maps a scanned DATE back to midnight in the business location.
func (s *PostgreSQLStorage) fromDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, s.location)
}

func (s *PostgreSQLStorage) timestamp() time.Time {
	return s.now().UTC()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
