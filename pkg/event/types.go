// Package event は通知サービスが外部のEvent Storeへ送るドメインイベントを定義する。
package event

import (
	"encoding/json"
	"time"
)

// AggregateType はイベントの対象となるエンティティの種類を表す。
type AggregateType string

const (
	// AggregateTypeNotification は1件の通知を表す。
	AggregateTypeNotification AggregateType = "Notification"
	// AggregateTypeMailbox はユーザーごとの通知メールボックス全体を表す。
	AggregateTypeMailbox AggregateType = "Mailbox"
)

// Type はイベントの種類を表す。
type Type string

const (
	// TypeNotificationCreated は通知が作成されたことを表す。
	TypeNotificationCreated Type = "NotificationCreated"
	// TypeNotificationRead は1件の通知が既読になったことを表す。
	TypeNotificationRead Type = "NotificationRead"
	// TypeNotificationsMarkedRead は複数の通知がまとめて既読になったことを表す。
	TypeNotificationsMarkedRead Type = "NotificationsMarkedRead"
	// TypeNotificationsUpdated は複数の通知のフィールドが一括更新されたことを表す。
	TypeNotificationsUpdated Type = "NotificationsUpdated"
	// TypeNotificationsCleanedUp は保持期間を過ぎた既読通知が削除されたことを表す。
	TypeNotificationsCleanedUp Type = "NotificationsCleanedUp"
)

// Source はこのサービスが発行したイベントであることを示す識別子。
const Source = "notification"

// Event はEvent Storeに追記されるイベントレコードを表す。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// AggregateID は対象エンティティの識別子。
	AggregateID string `json:"aggregate_id"`
	// AggregateType は対象エンティティの種類。
	AggregateType AggregateType `json:"aggregate_type"`
	// EventType はイベントの種類。
	EventType Type `json:"event_type"`
	// Source はイベントの発行元サービス。
	Source string `json:"source"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// OccurredAt はイベントが発生した日時。
	OccurredAt time.Time `json:"occurred_at"`
}

// NotificationCreatedData はNotificationCreatedイベントのデータ。
type NotificationCreatedData struct {
	OwnerID     string `json:"owner_id"`
	Category    string `json:"category"`
	ReferenceID string `json:"reference_id,omitempty"`
	CourseID    string `json:"course_id,omitempty"`
}

// NotificationReadData はNotificationReadイベントのデータ。
type NotificationReadData struct {
	OwnerID string    `json:"owner_id"`
	ReadAt  time.Time `json:"read_at"`
}

// BulkChangeData は一括操作系イベントのデータ。
type BulkChangeData struct {
	// OwnerID は操作したユーザーのID。
	OwnerID string `json:"owner_id"`
	// IDs は操作対象として指定された通知ID。全件操作の場合は空。
	IDs []string `json:"ids,omitempty"`
	// Affected は実際に変更された件数。
	Affected int64 `json:"affected"`
}

// NotificationsCleanedUpData はNotificationsCleanedUpイベントのデータ。
type NotificationsCleanedUpData struct {
	OwnerID   string    `json:"owner_id"`
	Deleted   int64     `json:"deleted"`
	Threshold time.Time `json:"threshold"`
}
