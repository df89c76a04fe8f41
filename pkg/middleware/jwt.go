package middleware

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Role はユーザーのロールを表す。
type Role string

const (
	// RoleUser は一般ユーザー。自テナントのリソースのみ参照できる。
	RoleUser Role = "user"
	// RoleAdmin はテナント管理者。自テナント内の管理操作を行える。
	RoleAdmin Role = "admin"
	// RoleSuperadmin はシステム全体の管理者。テナントスコープを超えて操作できる。
	RoleSuperadmin Role = "superadmin"
)

// Caller は認証済みリクエストの呼び出し元コンテキストを表す。
// 1リクエストの間だけ有効で、永続化されない。
type Caller struct {
	// UserID はユーザーの一意識別子。
	UserID string
	// Username はユーザー名。
	Username string
	// Tenant は所属テナントのID。
	Tenant string
	// Role はユーザーのロール。
	Role Role
}

// IsSuperadmin は呼び出し元がsuperadminロールかどうかを返す。
func (c Caller) IsSuperadmin() bool {
	return c.Role == RoleSuperadmin
}

// JWTClaims はJWTトークンのクレーム（ペイロード）を表す。
// 認証済みユーザーの識別情報をリクエスト間で伝播するために使用する。
type JWTClaims struct {
	jwt.RegisteredClaims
	// Username は認証済みユーザーのユーザー名。
	Username string `json:"username"`
	// Tenant はユーザーが所属するテナントのID。
	Tenant string `json:"tenant"`
	// Role はユーザーのロール。
	Role string `json:"role"`
}

// tokenIssuer はトークンのissクレームに設定する発行者名。
const tokenIssuer = "authgate"

// ErrPrincipalNotFound はトークンは有効だが対応するユーザーが
// 資格情報ディレクトリに存在しないことを表す。
// ユーザー削除によって発行済みトークンを失効させるために、
// トークン検証とユーザー存在確認は独立してチェックする。
var ErrPrincipalNotFound = errors.New("principal not found")

// PrincipalResolver はトークンのusernameクレームから現在のユーザーを
// 解決するインターフェース。資格情報ディレクトリが実装する。
type PrincipalResolver interface {
	// ResolvePrincipal はユーザー名から呼び出し元コンテキストを解決する。
	// ユーザーが存在しない場合はErrPrincipalNotFoundを返す。
	ResolvePrincipal(ctx context.Context, username string) (Caller, error)
}

// GenerateJWT はユーザー情報から署名付きJWTトークンを生成する。
// ログイン成功時にgatewayサービスが呼び出す。有効期限は24時間。
func GenerateJWT(secret, username, tenant string, role Role) (string, error) {
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    tokenIssuer,
		},
		Username: username,
		Tenant:   tenant,
		Role:     string(role),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// BearerAuth はBearerトークンを検証するGinミドルウェアを返す。
// 署名検証後、resolverで現在のユーザーを再解決し、コンテキストに
// Callerを設定する。失敗はすべて401に集約し、失敗区分はログにのみ残す
// （どのチェックで落ちたかをレスポンスから漏らさない）。
func BearerAuth(secret string, resolver PrincipalResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			rejectAuth(c, "missing")
			return
		}

		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found {
			rejectAuth(c, "missing")
			return
		}

		claims := &JWTClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			if errors.Is(err, jwt.ErrTokenExpired) {
				rejectAuth(c, "expired")
				return
			}
			rejectAuth(c, "invalid")
			return
		}

		caller, err := resolver.ResolvePrincipal(c.Request.Context(), claims.Username)
		if err != nil {
			if errors.Is(err, ErrPrincipalNotFound) {
				rejectAuth(c, "principal_not_found")
				return
			}
			log.Printf("[auth] ユーザー解決に失敗: username=%s, error=%v", claims.Username, err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "内部サーバーエラーが発生しました",
			})
			return
		}

		c.Set("caller", caller)
		c.Next()
	}
}

// rejectAuth は認証失敗を401で中断する。
// レスポンスは区分によらず同一の一般的なメッセージを返す。
func rejectAuth(c *gin.Context, kind string) {
	log.Printf("[auth] 認証拒否: kind=%s, path=%s", kind, c.Request.URL.Path)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": "認証に失敗しました",
	})
}

// GetCaller はGinコンテキストから呼び出し元コンテキストを取得する。
// BearerAuthミドルウェアが事前に適用されている必要がある。
func GetCaller(c *gin.Context) (Caller, bool) {
	v, ok := c.Get("caller")
	if !ok {
		return Caller{}, false
	}
	caller, ok := v.(Caller)
	return caller, ok
}
