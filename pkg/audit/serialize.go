package audit

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// New は新しい監査イベントを生成する。
// dataにはイベント固有のデータ構造体を渡す。JSON形式にシリアライズされる。
func New(eventType Type, data any) (*Event, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("監査イベントデータのシリアライズに失敗: %w", err)
	}

	return &Event{
		ID:        uuid.New().String(),
		EventType: eventType,
		Data:      jsonData,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Emit は監査イベントを生成して標準ロガーに1行のJSONとして出力する。
// 監査記録の失敗でリクエスト処理を止めないため、エラーはログに残すのみ。
func Emit(eventType Type, data any) {
	e, err := New(eventType, data)
	if err != nil {
		log.Printf("[audit] イベント生成に失敗: type=%s, error=%v", eventType, err)
		return
	}

	line, err := json.Marshal(e)
	if err != nil {
		log.Printf("[audit] イベントのシリアライズに失敗: type=%s, error=%v", eventType, err)
		return
	}
	log.Printf("[audit] %s", line)
}

// DecodeData はイベントのDataフィールドを指定された型にデシリアライズする。
func DecodeData[T any](e *Event) (*T, error) {
	var data T
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("監査イベントデータのデシリアライズに失敗: %w", err)
	}
	return &data, nil
}
