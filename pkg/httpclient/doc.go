// Package httpclient は外部サービスとのHTTP通信を行うクライアントを提供する。
//
// 認可ゲートウェイがPolicy Decision Point（PDP）へ判定クエリを送信する際に
// 使用する。タイムアウトを明示的に指定でき、2xx以外のステータスと
// 不正なレスポンスボディはエラーとして呼び出し元に返す。
package httpclient
