package notification

import (
	"context"
	"embed"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/nao1215/coursenotify/pkg/migration"
)

// migrationsFS はnotificationsテーブルのマイグレーションファイル。
//
//go:embed migrations/*.up.sql
var migrationsFS embed.FS

// memoryDSN はインメモリデータベースを表すDSN。
const memoryDSN = ":memory:"

// OpenDB はSQLiteデータベースを開き、未適用のマイグレーションを適用する。
// pathに":memory:"を指定するとインメモリデータベースになる。
func OpenDB(ctx context.Context, path string, logger *zap.Logger) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", buildDSN(path))
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	// インメモリDBは接続ごとに別のDBになるため、単一接続に固定する。
	// ファイルDBでも書き込みはSQLite側で直列化されるので接続数を絞る。
	if path == memoryDSN {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(4)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("データベースへの疎通確認に失敗: %w", err)
	}

	if _, err := migration.Run(ctx, db, migrationsFS, "migrations", logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}
	return db, nil
}

// buildDSN はファイルパスからmodernc.org/sqlite用のDSNを組み立てる。
// 既にクエリパラメータを含むDSNはそのまま使用する。
func buildDSN(path string) string {
	if path == memoryDSN || strings.Contains(path, "?") {
		return path
	}
	return "file:" + path +
		"?_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(1)" +
		"&_txlock=immediate"
}
