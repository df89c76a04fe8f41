package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"github.com/nao1215/authgate/internal/policy"
	"github.com/nao1215/authgate/pkg/audit"
	"github.com/nao1215/authgate/pkg/middleware"
)

// Server は認可ゲートウェイのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// db はSQLiteデータベース接続。
	db *sql.DB
	// directory は資格情報ディレクトリとテナントディレクトリ。
	directory *Directory
	// store はテナントスコープ付きのリソースストア。
	store *ResourceStore
	// policy はPDPへの判定クライアント。
	policy *policy.Client
	// jwtSecret はJWT署名用の秘密鍵。
	jwtSecret string
}

// NewServer は新しいゲートウェイサーバーを生成する。
// SQLiteディレクトリの初期化とデモデータの投入を行う。
func NewServer(port string) (*Server, error) {
	sqlDB, err := sql.Open("sqlite", getEnvOr("GATEWAY_DB", "/data/authgate.db?_journal_mode=WAL&_busy_timeout=5000"))
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	if err := initSchema(sqlDB); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	directory := NewDirectory(sqlDB)
	if err := directory.Seed(context.Background()); err != nil {
		return nil, fmt.Errorf("ディレクトリの初期データ投入に失敗: %w", err)
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "dev-secret-key"
	}

	pdpURL := getEnvOr("PDP_URL", "http://localhost:8181/v1/data/multitenant/authz/allow")
	frontendURL := getEnvOr("FRONTEND_URL", "http://localhost:3000")

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS([]string{frontendURL}))

	s := &Server{
		router:    router,
		port:      port,
		db:        sqlDB,
		directory: directory,
		store:     NewResourceStore(),
		policy:    policy.New(pdpURL),
		jwtSecret: jwtSecret,
	}
	s.seedResources()
	s.setupRoutes()

	return s, nil
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// seedResources はデモ用のリソースをストアに投入する。
func (s *Server) seedResources() {
	s.store.Create("acme", "Acme Q1 Report", "document")
	s.store.Create("acme", "Acme Strategy", "document")
	s.store.Create("globex", "Globex Financials", "spreadsheet")
	s.store.Create("globex", "Globex Roadmap", "document")
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	// 認証エンドポイント（認証不要）
	s.router.POST("/auth/login", s.handleLogin())

	// 認証必須のエンドポイント
	api := s.router.Group("")
	api.Use(middleware.BearerAuth(s.jwtSecret, s.directory))
	{
		resources := api.Group("/resources")
		{
			// リソース一覧取得（テナントフィルタのみ、PDP判定なし）
			resources.GET("", s.handleListResources())
			// リソース作成（PDP判定あり）
			resources.POST("", s.handleCreateResource())
			// リソース詳細取得（PDP判定あり）
			resources.GET("/:id", s.handleGetResource())
			// リソース更新（PDP判定あり）
			resources.PUT("/:id", s.handleUpdateResource())
			// リソース削除（PDP判定あり）
			resources.DELETE("/:id", s.handleDeleteResource())
		}

		tenants := api.Group("/tenants")
		{
			// テナント一覧取得（superadminのみ）
			tenants.GET("", s.handleListTenants())
			// テナント詳細取得（同一テナントまたはsuperadmin）
			tenants.GET("/:id", s.handleGetTenant())
		}
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "authgate"})
	})
}

// loginRequest はログインリクエストのJSON構造。
type loginRequest struct {
	// Username はユーザー名。
	Username string `json:"username" binding:"required"`
	// Password は平文のパスワード。
	Password string `json:"password" binding:"required"`
}

// createResourceRequest はリソース作成リクエストのJSON構造。
type createResourceRequest struct {
	// Name はリソース名。
	Name string `json:"name" binding:"required"`
	// Type はリソースの種別タグ。省略時は"document"。
	Type string `json:"type"`
	// Tenant は受理するが使用しない。リソースの所有テナントは常に
	// 認証済みの呼び出し元のテナントから刻印される。
	Tenant string `json:"tenant"`
}

// updateResourceRequest はリソース更新リクエストのJSON構造。
// 指定されたフィールドのみ更新する。テナントは変更できない。
type updateResourceRequest struct {
	// Name はリソース名。
	Name *string `json:"name"`
	// Type はリソースの種別タグ。
	Type *string `json:"type"`
}

// userProfileResponse はログインレスポンスに含める公開プロフィール。
type userProfileResponse struct {
	// Username はユーザー名。
	Username string `json:"username"`
	// Name は表示名。
	Name string `json:"name"`
	// Tenant は所属テナントのID。
	Tenant string `json:"tenant"`
	// Role はユーザーのロール。
	Role string `json:"role"`
}

// tenantResponse はテナントのJSONレスポンス構造。
type tenantResponse struct {
	// ID はテナントの一意識別子。
	ID string `json:"id"`
	// Name はテナントの表示名。
	Name string `json:"name"`
	// Parent は親テナントのID。無ければnull。
	Parent *string `json:"parent"`
	// Active は有効フラグ。
	Active bool `json:"active"`
}

// toTenantResponse はディレクトリのレコードをJSONレスポンスに変換する。
func toTenantResponse(t Tenant) tenantResponse {
	return tenantResponse{
		ID:     t.ID,
		Name:   t.Name,
		Parent: t.Parent,
		Active: t.Active,
	}
}

// toResourceContext はストアのスナップショットをPDP判定用のリソース文脈に変換する。
func toResourceContext(r Resource) *policy.ResourceContext {
	return &policy.ResourceContext{
		Tenant: r.Tenant,
		ID:     r.ID,
		Type:   r.Type,
	}
}

// mustCaller はコンテキストから呼び出し元を取得する。
// BearerAuthの後段でのみ呼ばれる想定で、取得できない場合は401で中断する。
func mustCaller(c *gin.Context) (middleware.Caller, bool) {
	caller, ok := middleware.GetCaller(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "認証に失敗しました"})
		return middleware.Caller{}, false
	}
	return caller, true
}

// handleLogin はログインを処理するハンドラを返す。
// 資格情報を検証し、署名付きトークンと公開プロフィールを返す。
// ユーザー不在とパスワード不一致はレスポンス上区別しない。
func (s *Server) handleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		user, err := s.directory.UserByUsername(c.Request.Context(), req.Username)
		if errors.Is(err, ErrUserNotFound) {
			audit.Emit(audit.TypeLoginFailed, audit.LoginData{Username: req.Username, Reason: "unknown_user"})
			c.JSON(http.StatusUnauthorized, gin.H{"error": "資格情報が不正です"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザーの取得に失敗しました"})
			log.Printf("ユーザー取得エラー: %v", err)
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
			audit.Emit(audit.TypeLoginFailed, audit.LoginData{Username: req.Username, Tenant: user.Tenant, Reason: "bad_password"})
			c.JSON(http.StatusUnauthorized, gin.H{"error": "資格情報が不正です"})
			return
		}

		token, err := middleware.GenerateJWT(s.jwtSecret, user.Username, user.Tenant, user.Role)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークン生成に失敗しました"})
			log.Printf("JWT生成エラー: %v", err)
			return
		}

		audit.Emit(audit.TypeLoginSucceeded, audit.LoginData{Username: user.Username, Tenant: user.Tenant})
		c.JSON(http.StatusOK, gin.H{
			"token": token,
			"user": userProfileResponse{
				Username: user.Username,
				Name:     user.DisplayName,
				Tenant:   user.Tenant,
				Role:     string(user.Role),
			},
		})
	}
}

// handleListResources はリソース一覧取得を処理するハンドラを返す。
// 可視性はテナント構造だけで決まるため、PDP判定は行わない。
func (s *Server) handleListResources() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := mustCaller(c)
		if !ok {
			return
		}

		c.JSON(http.StatusOK, gin.H{"resources": s.store.List(caller)})
	}
}

// handleCreateResource はリソース作成を処理するハンドラを返す。
// PDPの許可を得たうえで、所有テナントを呼び出し元のテナントから刻印する。
// リクエストボディにテナント値が含まれていても無視する。
func (s *Server) handleCreateResource() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := mustCaller(c)
		if !ok {
			return
		}

		var req createResourceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		// 対象リソースがまだ存在しないため、呼び出し元のテナントを
		// スコープとする文脈で判定する
		if !s.policy.Decide(c.Request.Context(), "create", nil, caller) {
			c.JSON(http.StatusForbidden, gin.H{"error": "この操作は許可されていません"})
			return
		}

		typ := req.Type
		if typ == "" {
			typ = "document"
		}

		created := s.store.Create(caller.Tenant, req.Name, typ)
		c.JSON(http.StatusCreated, gin.H{"resource": created})
	}
}

// handleGetResource はリソース詳細取得を処理するハンドラを返す。
// テナントの視界で検索したスナップショットに対してPDP判定を行う。
func (s *Server) handleGetResource() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := mustCaller(c)
		if !ok {
			return
		}

		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "リソースが見つかりません"})
			return
		}

		r, err := s.store.Get(id, caller)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "リソースが見つかりません"})
			return
		}

		if !s.policy.Decide(c.Request.Context(), "read", toResourceContext(r), caller) {
			c.JSON(http.StatusForbidden, gin.H{"error": "この操作は許可されていません"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"resource": r})
	}
}

// handleUpdateResource はリソース更新を処理するハンドラを返す。
// PDP判定はロック外でスナップショットに対して行い、適用時に存在を
// 再確認する。名前と種別のみ変更でき、所有テナントは不変。
func (s *Server) handleUpdateResource() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := mustCaller(c)
		if !ok {
			return
		}

		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "リソースが見つかりません"})
			return
		}

		r, err := s.store.Get(id, caller)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "リソースが見つかりません"})
			return
		}

		var req updateResourceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		if !s.policy.Decide(c.Request.Context(), "update", toResourceContext(r), caller) {
			c.JSON(http.StatusForbidden, gin.H{"error": "この操作は許可されていません"})
			return
		}

		updated, err := s.store.Update(id, caller, req.Name, req.Type)
		if err != nil {
			// 判定中に並行リクエストが削除した場合
			c.JSON(http.StatusNotFound, gin.H{"error": "リソースが見つかりません"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"resource": updated})
	}
}

// handleDeleteResource はリソース削除を処理するハンドラを返す。
func (s *Server) handleDeleteResource() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := mustCaller(c)
		if !ok {
			return
		}

		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "リソースが見つかりません"})
			return
		}

		r, err := s.store.Get(id, caller)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "リソースが見つかりません"})
			return
		}

		if !s.policy.Decide(c.Request.Context(), "delete", toResourceContext(r), caller) {
			c.JSON(http.StatusForbidden, gin.H{"error": "この操作は許可されていません"})
			return
		}

		if err := s.store.Delete(id, caller); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "リソースが見つかりません"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "リソースを削除しました"})
	}
}

// handleListTenants はテナント一覧取得を処理するハンドラを返す。
// 対象リソースが無い純粋なRBACチェックのため、PDPには委譲しない。
func (s *Server) handleListTenants() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := mustCaller(c)
		if !ok {
			return
		}

		if !caller.IsSuperadmin() {
			c.JSON(http.StatusForbidden, gin.H{"error": "この操作は許可されていません"})
			return
		}

		tenants, err := s.directory.ListTenants(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "テナント一覧の取得に失敗しました"})
			log.Printf("テナント一覧取得エラー: %v", err)
			return
		}

		responses := make([]tenantResponse, 0, len(tenants))
		for _, t := range tenants {
			responses = append(responses, toTenantResponse(t))
		}

		c.JSON(http.StatusOK, gin.H{"tenants": responses})
	}
}

// handleGetTenant はテナント詳細取得を処理するハンドラを返す。
// 自テナントかsuperadminのみ参照できる。
func (s *Server) handleGetTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := mustCaller(c)
		if !ok {
			return
		}

		tenantID := c.Param("id")
		t, err := s.directory.TenantByID(c.Request.Context(), tenantID)
		if errors.Is(err, ErrTenantNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "テナントが見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "テナントの取得に失敗しました"})
			log.Printf("テナント取得エラー: %v", err)
			return
		}

		if !caller.IsSuperadmin() && caller.Tenant != tenantID {
			c.JSON(http.StatusForbidden, gin.H{"error": "この操作は許可されていません"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"tenant": toTenantResponse(t)})
	}
}

// getEnvOr は環境変数を取得し、設定されていない場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
