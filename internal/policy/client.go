package policy

import (
	"context"
	"log"
	"time"

	"github.com/nao1215/authgate/pkg/audit"
	"github.com/nao1215/authgate/pkg/httpclient"
	"github.com/nao1215/authgate/pkg/middleware"
)

// decisionTimeout はPDPへの判定リクエストの制限時間。
// この時間を超えた判定は拒否として扱う。
const decisionTimeout = 3 * time.Second

// Client はPolicy Decision Point（PDP）への判定クライアント。
// 1回のゲート対象操作につき1回だけ判定クエリを送信し、結果は
// キャッシュしない。リトライも行わない。
type Client struct {
	// http はPDPへのHTTPクライアント。
	http *httpclient.Client
}

// ResourceContext は判定クエリに含めるリソースの文脈。
// 対象リソースが存在しない操作（createなど）では、呼び出し元の
// テナントだけを持つ文脈を合成して送信する。
type ResourceContext struct {
	// Tenant はリソースの所属テナント。
	Tenant string `json:"tenant"`
	// ID はリソースの一意識別子。
	ID int64 `json:"id,omitempty"`
	// Type はリソースの種別タグ。
	Type string `json:"type,omitempty"`
}

// userContext は判定クエリに含める呼び出し元の情報。
type userContext struct {
	// ID はユーザーの一意識別子。
	ID string `json:"id"`
	// Username はユーザー名。
	Username string `json:"username"`
	// Tenant は所属テナントのID。
	Tenant string `json:"tenant"`
	// Role はユーザーのロール。
	Role string `json:"role"`
}

// decisionInput はPDPに送信する判定クエリの中身。
type decisionInput struct {
	// User は呼び出し元の情報。
	User userContext `json:"user"`
	// Action は要求された操作名。
	Action string `json:"action"`
	// Resource は対象リソースの文脈。
	Resource ResourceContext `json:"resource"`
}

// decisionQuery はPDPプロトコルのリクエストボディ。
type decisionQuery struct {
	// Input は判定クエリの中身。
	Input decisionInput `json:"input"`
}

// decisionResult はPDPプロトコルのレスポンスボディ。
type decisionResult struct {
	// Result は許可ならtrue。
	Result bool `json:"result"`
}

// New は新しいPDP判定クライアントを生成する。
// pdpURLには判定エンドポイントの完全なURL
// （例: "http://localhost:8181/v1/data/multitenant/authz/allow"）を指定する。
func New(pdpURL string) *Client {
	return &Client{
		http: httpclient.NewWithTimeout(pdpURL, decisionTimeout),
	}
}

// Decide は判定クエリをPDPに送信し、許可ならtrueを返す。
// resourceがnilの場合は呼び出し元のテナントだけを持つリソース文脈を合成する。
//
// フェイルクローズ: 2xx以外のステータス、不正なレスポンスボディ、接続エラー、
// タイムアウト、コンテキストのキャンセルはすべてfalse（拒否）になる。
// PDPに到達できないことを暗黙の信頼として解釈してはならない。
func (c *Client) Decide(ctx context.Context, action string, resource *ResourceContext, caller middleware.Caller) bool {
	rc := ResourceContext{Tenant: caller.Tenant}
	if resource != nil {
		rc = *resource
	}

	query := decisionQuery{
		Input: decisionInput{
			User: userContext{
				ID:       caller.UserID,
				Username: caller.Username,
				Tenant:   caller.Tenant,
				Role:     string(caller.Role),
			},
			Action:   action,
			Resource: rc,
		},
	}

	data := audit.DecisionData{
		Username:       caller.Username,
		Tenant:         caller.Tenant,
		Role:           string(caller.Role),
		Action:         action,
		ResourceID:     rc.ID,
		ResourceTenant: rc.Tenant,
	}

	var result decisionResult
	ctx = httpclient.WithCallerID(ctx, caller.UserID)
	if err := c.http.PostJSON(ctx, "", query, &result); err != nil {
		log.Printf("[policy] PDPへの判定リクエストに失敗（拒否として扱う）: action=%s, error=%v", action, err)
		data.Reason = err.Error()
		audit.Emit(audit.TypePolicyUnavailable, data)
		return false
	}

	if result.Result {
		audit.Emit(audit.TypeDecisionAllowed, data)
	} else {
		audit.Emit(audit.TypeDecisionDenied, data)
	}
	return result.Result
}
