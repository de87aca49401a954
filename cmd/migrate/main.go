package main

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiGoBatch/internal/config"
	"github.com/nemonet1337/zaiGoBatch/internal/logger"
)

// errChecksumMismatch marks an applied migration whose file was edited afterwards
var errChecksumMismatch = errors.New("実行済みマイグレーションの内容が変更されています")

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "設定ファイルのパス")
	migrationDir := flag.String("dir", "migrations", "マイグレーションディレクトリ")
	flag.Parse()

	// 設定読み込み
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "設定読み込みに失敗しました:", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ログ初期化に失敗しました:", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("zaiGoBatch マイグレーション実行ツール",
		zap.String("host", cfg.Database.Host),
		zap.Int("port", cfg.Database.Port),
		zap.String("dbname", cfg.Database.DBName),
	)

	// データベース接続
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		log.Fatal("データベース接続に失敗しました", zap.Error(err))
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		log.Fatal("データベースpingに失敗しました", zap.Error(err))
	}

	// マイグレーションディレクトリの確認
	if _, err := os.Stat(*migrationDir); os.IsNotExist(err) {
		log.Fatal("マイグレーションディレクトリが見つかりません", zap.String("dir", *migrationDir))
	}

	m := &migrator{db: db, logger: log}
	applied, err := m.run(ctx, *migrationDir)
	if err != nil {
		log.Fatal("マイグレーション実行に失敗しました", zap.Error(err))
	}

	log.Info("すべてのマイグレーションが完了しました", zap.Int("applied", applied))
}

type migrator struct {
	db     *sql.DB
	logger *zap.Logger
}

// run applies every pending *.sql file of dir in file name order
func (m *migrator) run(ctx context.Context, dir string) (int, error) {
	if err := m.createMigrationTable(ctx); err != nil {
		return 0, err
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return 0, fmt.Errorf("マイグレーションファイル検索エラー: %w", err)
	}
	if len(files) == 0 {
		m.logger.Warn("マイグレーションファイルが見つかりません", zap.String("dir", dir))
		return 0, nil
	}
	sort.Strings(files)

	executed, err := m.executedMigrations(ctx)
	if err != nil {
		return 0, fmt.Errorf("実行済みマイグレーション取得エラー: %w", err)
	}

	applied := 0
	for _, file := range files {
		filename := filepath.Base(file)

		content, err := os.ReadFile(file)
		if err != nil {
			return applied, fmt.Errorf("ファイル読み込みエラー %s: %w", filename, err)
		}
		checksum := calculateChecksum(content)

		if prev, ok := executed[filename]; ok {
			if prev != checksum {
				return applied, fmt.Errorf("%w: %s", errChecksumMismatch, filename)
			}
			m.logger.Debug("スキップ (実行済み)", zap.String("file", filename))
			continue
		}

		m.logger.Info("実行中", zap.String("file", filename))
		if err := m.apply(ctx, filename, string(content), checksum); err != nil {
			return applied, err
		}
		applied++
		m.logger.Info("完了", zap.String("file", filename))
	}
	return applied, nil
}

// createMigrationTable マイグレーション履歴テーブルを作成
func (m *migrator) createMigrationTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id SERIAL PRIMARY KEY,
			filename VARCHAR(255) NOT NULL UNIQUE,
			executed_at TIMESTAMP NOT NULL DEFAULT NOW(),
			checksum VARCHAR(64) NOT NULL
		)`

	if _, err := m.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("マイグレーション履歴テーブル作成エラー: %w", err)
	}
	return nil
}

func (m *migrator) apply(ctx context.Context, filename, content, checksum string) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始エラー %s: %w", filename, err)
	}

	if _, err := tx.ExecContext(ctx, content); err != nil {
		tx.Rollback()
		return fmt.Errorf("マイグレーション実行エラー %s: %w", filename, err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (filename, checksum) VALUES ($1, $2)",
		filename, checksum,
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("マイグレーション履歴記録エラー %s: %w", filename, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションコミットエラー %s: %w", filename, err)
	}
	return nil
}

// executedMigrations returns filename → checksum of applied migrations
func (m *migrator) executedMigrations(ctx context.Context) (map[string]string, error) {
	executed := make(map[string]string)

	rows, err := m.db.QueryContext(ctx, "SELECT filename, checksum FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var filename, checksum string
		if err := rows.Scan(&filename, &checksum); err != nil {
			return nil, err
		}
		executed[filename] = checksum
	}

	return executed, rows.Err()
}

// calculateChecksum ファイル内容のSHA-256チェックサム
func calculateChecksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
