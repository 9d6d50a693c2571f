package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// aggregateOf はイベントの種類ごとに対象となる集約の種類を定める。
// 1件の通知に関するイベントはNotification、一括操作はMailboxに紐づく。
var aggregateOf = map[Type]AggregateType{
	TypeNotificationCreated:     AggregateTypeNotification,
	TypeNotificationRead:        AggregateTypeNotification,
	TypeNotificationsMarkedRead: AggregateTypeMailbox,
	TypeNotificationsUpdated:    AggregateTypeMailbox,
	TypeNotificationsCleanedUp:  AggregateTypeMailbox,
}

// New は通知サービスが発行するイベントを生成する。
//
// aggregateIDには通知IDまたはメールボックスID、dataにはeventTypeに対応する
// *Data構造体を渡す。未知のイベント種類や集約の種類の取り違えはエラーになる。
func New(aggregateID string, aggregateType AggregateType, eventType Type, data any) (*Event, error) {
	if aggregateID == "" {
		return nil, errors.New("集約IDが空です")
	}
	want, ok := aggregateOf[eventType]
	if !ok {
		return nil, fmt.Errorf("未知のイベント種類です: %s", eventType)
	}
	if want != aggregateType {
		return nil, fmt.Errorf("%sイベントの集約は%sである必要があります: %s", eventType, want, aggregateType)
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("イベントデータのシリアライズに失敗: %w", err)
	}

	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Source:        Source,
		Data:          jsonData,
		OccurredAt:    time.Now().UTC(),
	}, nil
}

// DecodeData はEvent Storeから読み戻したイベントのデータを、
// NotificationReadDataなどのイベント固有の型に復元する。
func DecodeData[T any](e *Event) (*T, error) {
	var data T
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("%sイベントのデータの復元に失敗: %w", e.EventType, err)
	}
	return &data, nil
}
