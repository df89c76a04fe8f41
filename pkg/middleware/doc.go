// Package middleware はGinベースの認可ゲートウェイで使用する共通ミドルウェアを提供する。
//
// Bearerトークンの検証と呼び出し元コンテキストの解決、リクエストID付与、
// パニックリカバリ、CORS設定を含む。トークンはHS256で署名されたJWTで、
// 検証後に資格情報ディレクトリでユーザーの存在を再確認する。
package middleware
