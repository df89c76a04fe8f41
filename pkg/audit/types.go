package audit

import (
	"encoding/json"
	"time"
)

// Type は監査イベントの種類を表す。
type Type string

const (
	// TypeLoginSucceeded はログインが成功したことを表す。
	TypeLoginSucceeded Type = "LoginSucceeded"
	// TypeLoginFailed はログインが失敗したことを表す。
	TypeLoginFailed Type = "LoginFailed"
	// TypeDecisionAllowed はPDPが操作を許可したことを表す。
	TypeDecisionAllowed Type = "DecisionAllowed"
	// TypeDecisionDenied はPDPが操作を拒否したことを表す。
	TypeDecisionDenied Type = "DecisionDenied"
	// TypePolicyUnavailable はPDPへの到達や応答の解釈に失敗したことを表す。
	// 呼び出し元には拒否（403）として返るが、監査上はポリシーによる
	// 拒否と区別して記録する。
	TypePolicyUnavailable Type = "PolicyUnavailable"
)

// Event は監査ログに記録する不変のイベントレコードを表す。
// 認証と認可判定の結果はすべてこの構造体として記録される。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// EventType はイベントの種類。
	EventType Type `json:"event_type"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// CreatedAt はイベントが作成された日時（UTC）。
	CreatedAt time.Time `json:"created_at"`
}

// LoginData はLoginSucceeded/LoginFailedイベントのデータ。
type LoginData struct {
	// Username はログインを試行したユーザー名。
	Username string `json:"username"`
	// Tenant はユーザーの所属テナント。失敗時は空のことがある。
	Tenant string `json:"tenant,omitempty"`
	// Reason は失敗理由。成功時は空。
	Reason string `json:"reason,omitempty"`
}

// DecisionData はPDP判定イベントのデータ。
type DecisionData struct {
	// Username は判定対象の呼び出し元ユーザー名。
	Username string `json:"username"`
	// Tenant は呼び出し元の所属テナント。
	Tenant string `json:"tenant"`
	// Role は呼び出し元のロール。
	Role string `json:"role"`
	// Action は要求された操作名。
	Action string `json:"action"`
	// ResourceID は対象リソースのID。テナント全体への操作では0。
	ResourceID int64 `json:"resource_id,omitempty"`
	// ResourceTenant は対象リソースの所属テナント。
	ResourceTenant string `json:"resource_tenant,omitempty"`
	// Reason はPolicyUnavailable時の内部的な失敗理由。
	Reason string `json:"reason,omitempty"`
}
