package migration

import (
	"testing"
	"testing/fstest"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// newTestDB はインメモリSQLiteを開くヘルパー関数。
func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := sqlx.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("インメモリDBの作成に失敗: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCollect(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"migrations/000002_add_column.up.sql":     {Data: []byte("ALTER TABLE t ADD COLUMN b TEXT;")},
		"migrations/000001_create_table.up.sql":   {Data: []byte("CREATE TABLE t (a TEXT);")},
		"migrations/000001_create_table.down.sql": {Data: []byte("DROP TABLE t;")},
		"migrations/README.md":                    {Data: []byte("説明")},
		"migrations/abc_invalid.up.sql":           {Data: []byte("SELECT 1;")},
	}

	files, err := Collect(fsys, "migrations")
	if err != nil {
		t.Fatalf("Collect()でエラーが発生: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("収集件数 = %d, want 2: %+v", len(files), files)
	}
	if files[0].Version != 1 || files[0].Name != "create_table" {
		t.Errorf("1件目 = %+v", files[0])
	}
	if files[1].Version != 2 || files[1].Name != "add_column" {
		t.Errorf("2件目 = %+v", files[1])
	}
}

func TestRun(t *testing.T) {
	t.Parallel()

	t.Run("未適用のマイグレーションだけを適用すること", func(t *testing.T) {
		t.Parallel()
		db := newTestDB(t)

		fsys := fstest.MapFS{
			"m/000001_create_table.up.sql": {Data: []byte("CREATE TABLE t (a TEXT);")},
		}
		applied, err := Run(t.Context(), db, fsys, "m", zap.NewNop())
		if err != nil {
			t.Fatalf("Run()でエラーが発生: %v", err)
		}
		if applied != 1 {
			t.Errorf("適用件数 = %d, want 1", applied)
		}

		fsys["m/000002_add_column.up.sql"] = &fstest.MapFile{Data: []byte("ALTER TABLE t ADD COLUMN b TEXT;")}
		applied, err = Run(t.Context(), db, fsys, "m", nil)
		if err != nil {
			t.Fatalf("2回目のRun()でエラーが発生: %v", err)
		}
		if applied != 1 {
			t.Errorf("2回目の適用件数 = %d, want 1", applied)
		}

		if _, err := db.ExecContext(t.Context(), "INSERT INTO t (a, b) VALUES ('x', 'y')"); err != nil {
			t.Errorf("マイグレーション後のテーブルに挿入できない: %v", err)
		}
	})

	t.Run("失敗したマイグレーションは記録されずロールバックされること", func(t *testing.T) {
		t.Parallel()
		db := newTestDB(t)

		fsys := fstest.MapFS{
			"m/000001_create_table.up.sql": {Data: []byte("CREATE TABLE t (a TEXT);")},
			"m/000002_broken.up.sql":       {Data: []byte("CREATE TABLE u (a TEXT); THIS IS NOT SQL;")},
		}
		applied, err := Run(t.Context(), db, fsys, "m", nil)
		if err == nil {
			t.Fatal("エラーが返されなかった")
		}
		if applied != 1 {
			t.Errorf("適用件数 = %d, want 1", applied)
		}

		var versions []int
		if err := db.SelectContext(t.Context(), &versions, "SELECT version FROM schema_migrations"); err != nil {
			t.Fatalf("適用済みバージョンの取得に失敗: %v", err)
		}
		if len(versions) != 1 || versions[0] != 1 {
			t.Errorf("適用済みバージョン = %v, want [1]", versions)
		}

		var count int
		if err := db.GetContext(t.Context(), &count,
			"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'u'"); err != nil {
			t.Fatalf("テーブル一覧の取得に失敗: %v", err)
		}
		if count != 0 {
			t.Error("失敗したマイグレーションのテーブルが残っている")
		}
	})

	t.Run("ディレクトリが無い場合はエラーを返すこと", func(t *testing.T) {
		t.Parallel()
		db := newTestDB(t)

		if _, err := Run(t.Context(), db, fstest.MapFS{}, "missing", nil); err == nil {
			t.Error("エラーが返されなかった")
		}
	})
}
