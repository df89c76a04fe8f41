// Package policy は外部のPolicy Decision Point（PDP）への判定委譲を提供する。
//
// 呼び出し元コンテキスト・操作名・リソース文脈から判定クエリを組み立て、
// PDPのHTTPエンドポイントに送信して許可/拒否のブール値を受け取る。
// PDP自体はブラックボックスであり、ポリシールールの評価はこのパッケージの
// 責務ではない。判定の取得にいかなる不確実性があっても拒否として扱う
// （フェイルクローズ）。
package policy
