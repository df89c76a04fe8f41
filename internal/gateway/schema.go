package gateway

import (
	"database/sql"
	"fmt"
)

// スキーマ定義。資格情報ディレクトリとテナントディレクトリを保持する。
const schema = `
CREATE TABLE IF NOT EXISTS users (
    -- ユーザーの一意識別子
    id TEXT PRIMARY KEY,
    -- ユーザー名（ログインID）
    username TEXT NOT NULL UNIQUE,
    -- bcryptでハッシュ化された資格情報
    password_hash TEXT NOT NULL,
    -- 所属テナントのID
    tenant TEXT NOT NULL,
    -- ロール（user / admin / superadmin）
    role TEXT NOT NULL,
    -- 表示名
    display_name TEXT NOT NULL,
    -- 作成日時
    created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS tenants (
    -- テナントの一意識別子
    id TEXT PRIMARY KEY,
    -- テナントの表示名
    name TEXT NOT NULL,
    -- 親テナントのID。階層の参照のみで、アクセス権の継承には使用しない。
    parent TEXT,
    -- 有効フラグ。現状は保持のみで、無効テナントのブロックは行わない。
    active INTEGER NOT NULL DEFAULT 1
);

-- テナントでのユーザー検索を高速化するインデックス。
CREATE INDEX IF NOT EXISTS idx_users_tenant
    ON users(tenant);
`

// initSchema はSQLiteデータベースにスキーマを適用する。
func initSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("スキーマの適用に失敗: %w", err)
	}
	return nil
}
