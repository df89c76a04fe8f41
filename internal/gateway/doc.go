// Package gateway はマルチテナント認可ゲートウェイの内部実装を提供する。
//
// リクエストごとのパイプラインは、Bearerトークンの検証と呼び出し元
// コンテキストの解決、テナントフィルタまたはPDPへの判定委譲、そして
// テナントスコープ付きリソースストアへの操作、という順に流れる。
// 変更系の操作（create/update/delete）はテナントの可視性だけでは許可されず、
// 必ずPDPの明示的な許可を要求する。PDPの判定が得られないあらゆる障害は
// 拒否として扱う。
package gateway
