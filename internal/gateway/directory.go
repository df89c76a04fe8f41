package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/nao1215/authgate/pkg/middleware"
)

// ErrUserNotFound は指定されたユーザーが存在しないことを表す。
var ErrUserNotFound = errors.New("user not found")

// ErrTenantNotFound は指定されたテナントが存在しないことを表す。
var ErrTenantNotFound = errors.New("tenant not found")

// User は資格情報ディレクトリに登録されたユーザーレコードを表す。
// プロビジョニング時に作成され、ゲートウェイの稼働中は不変として扱う。
type User struct {
	// ID はユーザーの一意識別子。
	ID string
	// Username はユーザー名（ログインID）。
	Username string
	// PasswordHash はbcryptでハッシュ化された資格情報。
	PasswordHash string
	// Tenant は所属テナントのID。
	Tenant string
	// Role はユーザーのロール。
	Role middleware.Role
	// DisplayName は表示名。
	DisplayName string
}

// Tenant はテナントレコードを表す。
type Tenant struct {
	// ID はテナントの一意識別子。
	ID string
	// Name はテナントの表示名。
	Name string
	// Parent は親テナントのID。階層の参照のみで、アクセス権の継承には使用しない。
	Parent *string
	// Active は有効フラグ。現状は保持のみで、無効テナントのブロックは行わない。
	Active bool
}

// Directory はSQLiteに載った資格情報ディレクトリとテナントディレクトリ。
// 認証ミドルウェアのPrincipalResolverを実装する。
type Directory struct {
	// db はSQLiteデータベース接続。
	db *sql.DB
}

// NewDirectory は新しいディレクトリを生成する。
func NewDirectory(db *sql.DB) *Directory {
	return &Directory{db: db}
}

// UserByUsername はユーザー名でユーザーレコードを検索する。
// 存在しない場合はErrUserNotFoundを返す。
func (d *Directory) UserByUsername(ctx context.Context, username string) (User, error) {
	row := d.db.QueryRowContext(ctx,
		"SELECT id, username, password_hash, tenant, role, display_name FROM users WHERE username = ?",
		username,
	)

	var u User
	var role string
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Tenant, &role, &u.DisplayName)
	if err == sql.ErrNoRows {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("ユーザーの検索に失敗: %w", err)
	}
	u.Role = middleware.Role(role)
	return u, nil
}

// ResolvePrincipal はトークンのusernameクレームから呼び出し元コンテキストを解決する。
// トークンが有効でもディレクトリにユーザーが存在しなければ
// middleware.ErrPrincipalNotFoundを返し、認証は失敗する。
func (d *Directory) ResolvePrincipal(ctx context.Context, username string) (middleware.Caller, error) {
	u, err := d.UserByUsername(ctx, username)
	if errors.Is(err, ErrUserNotFound) {
		return middleware.Caller{}, middleware.ErrPrincipalNotFound
	}
	if err != nil {
		return middleware.Caller{}, err
	}

	return middleware.Caller{
		UserID:   u.ID,
		Username: u.Username,
		Tenant:   u.Tenant,
		Role:     u.Role,
	}, nil
}

// TenantByID はIDでテナントレコードを検索する。
// 存在しない場合はErrTenantNotFoundを返す。
func (d *Directory) TenantByID(ctx context.Context, id string) (Tenant, error) {
	row := d.db.QueryRowContext(ctx,
		"SELECT id, name, parent, active FROM tenants WHERE id = ?",
		id,
	)

	var t Tenant
	var parent sql.NullString
	err := row.Scan(&t.ID, &t.Name, &parent, &t.Active)
	if err == sql.ErrNoRows {
		return Tenant{}, ErrTenantNotFound
	}
	if err != nil {
		return Tenant{}, fmt.Errorf("テナントの検索に失敗: %w", err)
	}
	if parent.Valid {
		t.Parent = &parent.String
	}
	return t, nil
}

// ListTenants はすべてのテナントをID順で返す。
func (d *Directory) ListTenants(ctx context.Context) ([]Tenant, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT id, name, parent, active FROM tenants ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("テナント一覧の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tenants []Tenant
	for rows.Next() {
		var t Tenant
		var parent sql.NullString
		if err := rows.Scan(&t.ID, &t.Name, &parent, &t.Active); err != nil {
			return nil, fmt.Errorf("テナント行の読み取りに失敗: %w", err)
		}
		if parent.Valid {
			t.Parent = &parent.String
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// seedUser はデモ用のユーザー定義。
type seedUser struct {
	username    string
	password    string
	tenant      string
	role        middleware.Role
	displayName string
}

// Seed はデモ用のテナントとユーザーをディレクトリに投入する。
// INSERT OR IGNOREを使うため、再起動しても既存レコードは上書きされない。
func (d *Directory) Seed(ctx context.Context) error {
	tenants := []struct {
		id   string
		name string
	}{
		{"acme", "Acme Corporation"},
		{"globex", "Globex Inc"},
		{"system", "System"},
	}
	for _, t := range tenants {
		if _, err := d.db.ExecContext(ctx,
			"INSERT OR IGNORE INTO tenants (id, name, parent, active) VALUES (?, ?, NULL, 1)",
			t.id, t.name,
		); err != nil {
			return fmt.Errorf("テナント %s の投入に失敗: %w", t.id, err)
		}
	}

	users := []seedUser{
		{"alice", "alice123", "acme", middleware.RoleAdmin, "Alice Admin"},
		{"bob", "bob123", "acme", middleware.RoleUser, "Bob User"},
		{"charlie", "charlie123", "globex", middleware.RoleAdmin, "Charlie Admin"},
		{"diana", "diana123", "globex", middleware.RoleUser, "Diana User"},
		{"root", "root123", "system", middleware.RoleSuperadmin, "Root Superadmin"},
	}
	for _, u := range users {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("ユーザー %s の資格情報のハッシュ化に失敗: %w", u.username, err)
		}
		if _, err := d.db.ExecContext(ctx,
			"INSERT OR IGNORE INTO users (id, username, password_hash, tenant, role, display_name) VALUES (?, ?, ?, ?, ?, ?)",
			uuid.New().String(), u.username, string(hash), u.tenant, string(u.role), u.displayName,
		); err != nil {
			return fmt.Errorf("ユーザー %s の投入に失敗: %w", u.username, err)
		}
	}

	log.Printf("デモ用のテナント%d件・ユーザー%d件を投入しました", len(tenants), len(users))
	return nil
}
