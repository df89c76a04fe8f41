// Package audit は認証と認可判定の監査イベントを提供する。
//
// PDPの判定結果（許可/拒否）とPDP到達不能は外部には同じ403として
// 返るが、監査ログ上では別イベントとして記録し、ポリシーによる拒否と
// 障害による拒否を運用時に区別できるようにする。
package audit
