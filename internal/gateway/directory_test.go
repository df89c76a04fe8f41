package gateway

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"github.com/nao1215/authgate/pkg/middleware"
)

// setupTestDirectory はインメモリSQLiteでシード済みのディレクトリを構築する。
func setupTestDirectory(t *testing.T) *Directory {
	t.Helper()

	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("インメモリDBの作成に失敗: %v", err)
	}
	// :memory: はコネクションごとに別のDBになるため1本に固定する
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := initSchema(sqlDB); err != nil {
		t.Fatalf("スキーマ初期化に失敗: %v", err)
	}

	d := NewDirectory(sqlDB)
	if err := d.Seed(context.Background()); err != nil {
		t.Fatalf("初期データ投入に失敗: %v", err)
	}
	return d
}

// TestDirectoryUserByUsername はUserByUsernameメソッドを検証する。
func TestDirectoryUserByUsername(t *testing.T) {
	t.Parallel()

	t.Run("シード済みユーザーを取得できること", func(t *testing.T) {
		t.Parallel()

		d := setupTestDirectory(t)
		u, err := d.UserByUsername(context.Background(), "bob")
		if err != nil {
			t.Fatalf("UserByUsername()でエラーが発生: %v", err)
		}

		if u.Username != "bob" {
			t.Errorf("Username = %q, want %q", u.Username, "bob")
		}
		if u.Tenant != "acme" {
			t.Errorf("Tenant = %q, want %q", u.Tenant, "acme")
		}
		if u.Role != middleware.RoleUser {
			t.Errorf("Role = %q, want %q", u.Role, middleware.RoleUser)
		}
		if u.DisplayName != "Bob User" {
			t.Errorf("DisplayName = %q, want %q", u.DisplayName, "Bob User")
		}
		if u.ID == "" {
			t.Error("IDが設定されていない")
		}
	})

	t.Run("資格情報ハッシュがbcryptで検証できること", func(t *testing.T) {
		t.Parallel()

		d := setupTestDirectory(t)
		u, err := d.UserByUsername(context.Background(), "alice")
		if err != nil {
			t.Fatalf("UserByUsername()でエラーが発生: %v", err)
		}

		if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("alice123")); err != nil {
			t.Errorf("正しいパスワードの検証に失敗: %v", err)
		}
		if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("wrong")); err == nil {
			t.Error("誤ったパスワードの検証が成功した")
		}
	})

	t.Run("存在しないユーザーはErrUserNotFoundになること", func(t *testing.T) {
		t.Parallel()

		d := setupTestDirectory(t)
		if _, err := d.UserByUsername(context.Background(), "ghost"); !errors.Is(err, ErrUserNotFound) {
			t.Errorf("err = %v, want ErrUserNotFound", err)
		}
	})
}

// TestDirectoryResolvePrincipal はResolvePrincipalメソッドを検証する。
func TestDirectoryResolvePrincipal(t *testing.T) {
	t.Parallel()

	t.Run("ユーザー名から呼び出し元コンテキストを解決できること", func(t *testing.T) {
		t.Parallel()

		d := setupTestDirectory(t)
		caller, err := d.ResolvePrincipal(context.Background(), "root")
		if err != nil {
			t.Fatalf("ResolvePrincipal()でエラーが発生: %v", err)
		}

		if caller.Username != "root" {
			t.Errorf("Username = %q, want %q", caller.Username, "root")
		}
		if caller.Tenant != "system" {
			t.Errorf("Tenant = %q, want %q", caller.Tenant, "system")
		}
		if caller.Role != middleware.RoleSuperadmin {
			t.Errorf("Role = %q, want %q", caller.Role, middleware.RoleSuperadmin)
		}
	})

	t.Run("存在しないユーザーはErrPrincipalNotFoundになること", func(t *testing.T) {
		t.Parallel()

		d := setupTestDirectory(t)
		_, err := d.ResolvePrincipal(context.Background(), "ghost")
		if !errors.Is(err, middleware.ErrPrincipalNotFound) {
			t.Errorf("err = %v, want middleware.ErrPrincipalNotFound", err)
		}
	})
}

// TestDirectoryTenantByID はTenantByIDメソッドを検証する。
func TestDirectoryTenantByID(t *testing.T) {
	t.Parallel()

	t.Run("シード済みテナントを取得できること", func(t *testing.T) {
		t.Parallel()

		d := setupTestDirectory(t)
		tenant, err := d.TenantByID(context.Background(), "acme")
		if err != nil {
			t.Fatalf("TenantByID()でエラーが発生: %v", err)
		}

		if tenant.Name != "Acme Corporation" {
			t.Errorf("Name = %q, want %q", tenant.Name, "Acme Corporation")
		}
		if tenant.Parent != nil {
			t.Errorf("Parent = %v, want nil", *tenant.Parent)
		}
		if !tenant.Active {
			t.Error("Active = false, want true")
		}
	})

	t.Run("存在しないテナントはErrTenantNotFoundになること", func(t *testing.T) {
		t.Parallel()

		d := setupTestDirectory(t)
		if _, err := d.TenantByID(context.Background(), "umbrella"); !errors.Is(err, ErrTenantNotFound) {
			t.Errorf("err = %v, want ErrTenantNotFound", err)
		}
	})
}

// TestDirectoryListTenants はListTenantsメソッドを検証する。
func TestDirectoryListTenants(t *testing.T) {
	t.Parallel()

	t.Run("シード済みの3テナントがID順で返ること", func(t *testing.T) {
		t.Parallel()

		d := setupTestDirectory(t)
		tenants, err := d.ListTenants(context.Background())
		if err != nil {
			t.Fatalf("ListTenants()でエラーが発生: %v", err)
		}

		if len(tenants) != 3 {
			t.Fatalf("テナント数 = %d, want 3", len(tenants))
		}
		want := []string{"acme", "globex", "system"}
		for i, w := range want {
			if tenants[i].ID != w {
				t.Errorf("tenants[%d].ID = %q, want %q", i, tenants[i].ID, w)
			}
		}
	})
}

// TestDirectorySeed はSeedメソッドを検証する。
func TestDirectorySeed(t *testing.T) {
	t.Parallel()

	t.Run("再実行しても既存レコードが重複しないこと", func(t *testing.T) {
		t.Parallel()

		d := setupTestDirectory(t)
		if err := d.Seed(context.Background()); err != nil {
			t.Fatalf("2回目のSeed()でエラーが発生: %v", err)
		}

		var count int
		if err := d.db.QueryRow("SELECT COUNT(*) FROM users").Scan(&count); err != nil {
			t.Fatalf("ユーザー数の取得に失敗: %v", err)
		}
		if count != 5 {
			t.Errorf("ユーザー数 = %d, want 5", count)
		}
	})

	t.Run("再実行しても既存ユーザーのIDが変わらないこと", func(t *testing.T) {
		t.Parallel()

		d := setupTestDirectory(t)
		before, err := d.UserByUsername(context.Background(), "bob")
		if err != nil {
			t.Fatalf("UserByUsername()でエラーが発生: %v", err)
		}

		if err := d.Seed(context.Background()); err != nil {
			t.Fatalf("2回目のSeed()でエラーが発生: %v", err)
		}

		after, err := d.UserByUsername(context.Background(), "bob")
		if err != nil {
			t.Fatalf("UserByUsername()でエラーが発生: %v", err)
		}
		if before.ID != after.ID {
			t.Errorf("IDが変化した: %q != %q", before.ID, after.ID)
		}
	})
}
