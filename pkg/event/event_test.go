package event

import (
	"testing"
	"time"
)

// TestNew はNew関数でイベントが正しく生成されることを検証する。
func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("NotificationReadDataでイベントを正常に生成できること", func(t *testing.T) {
		t.Parallel()

		readAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		before := time.Now().UTC()
		ev, err := New("notif-1", AggregateTypeNotification, TypeNotificationRead, NotificationReadData{
			OwnerID: "user-1",
			ReadAt:  readAt,
		})
		after := time.Now().UTC()
		if err != nil {
			t.Fatalf("New()でエラーが発生: %v", err)
		}

		if ev.ID == "" {
			t.Error("IDが空文字列")
		}
		if ev.AggregateID != "notif-1" {
			t.Errorf("AggregateID = %q, want %q", ev.AggregateID, "notif-1")
		}
		if ev.AggregateType != AggregateTypeNotification {
			t.Errorf("AggregateType = %q, want %q", ev.AggregateType, AggregateTypeNotification)
		}
		if ev.EventType != TypeNotificationRead {
			t.Errorf("EventType = %q, want %q", ev.EventType, TypeNotificationRead)
		}
		if ev.Source != Source {
			t.Errorf("Source = %q, want %q", ev.Source, Source)
		}
		if ev.OccurredAt.Before(before) || ev.OccurredAt.After(after) {
			t.Errorf("OccurredAt = %v, 期待する範囲: [%v, %v]", ev.OccurredAt, before, after)
		}

		decoded, err := DecodeData[NotificationReadData](ev)
		if err != nil {
			t.Fatalf("DecodeData()でエラーが発生: %v", err)
		}
		if decoded.OwnerID != "user-1" {
			t.Errorf("OwnerID = %q, want %q", decoded.OwnerID, "user-1")
		}
		if !decoded.ReadAt.Equal(readAt) {
			t.Errorf("ReadAt = %v, want %v", decoded.ReadAt, readAt)
		}
	})

	t.Run("呼び出しごとに異なるIDが採番されること", func(t *testing.T) {
		t.Parallel()

		data := BulkChangeData{OwnerID: "user-1", Affected: 3}
		ev1, err := New("user-1", AggregateTypeMailbox, TypeNotificationsMarkedRead, data)
		if err != nil {
			t.Fatalf("New()でエラーが発生: %v", err)
		}
		ev2, err := New("user-1", AggregateTypeMailbox, TypeNotificationsMarkedRead, data)
		if err != nil {
			t.Fatalf("New()でエラーが発生: %v", err)
		}
		if ev1.ID == ev2.ID {
			t.Errorf("IDが重複している: %q", ev1.ID)
		}
	})

	t.Run("シリアライズできないデータはエラーになること", func(t *testing.T) {
		t.Parallel()

		_, err := New("notif-1", AggregateTypeNotification, TypeNotificationCreated, make(chan int))
		if err == nil {
			t.Fatal("エラーが返されなかった")
		}
	})

	t.Run("集約IDやイベント種類が不正な場合はエラーになること", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			name          string
			aggregateID   string
			aggregateType AggregateType
			eventType     Type
		}{
			{name: "集約IDが空", aggregateID: "", aggregateType: AggregateTypeNotification, eventType: TypeNotificationRead},
			{name: "未知のイベント種類", aggregateID: "notif-1", aggregateType: AggregateTypeNotification, eventType: "NotificationArchived"},
			{name: "一括操作を通知に紐づけた", aggregateID: "notif-1", aggregateType: AggregateTypeNotification, eventType: TypeNotificationsCleanedUp},
			{name: "既読をメールボックスに紐づけた", aggregateID: "mailbox-user-1", aggregateType: AggregateTypeMailbox, eventType: TypeNotificationRead},
		}
		for _, tt := range tests {
			if _, err := New(tt.aggregateID, tt.aggregateType, tt.eventType, struct{}{}); err == nil {
				t.Errorf("%s: エラーが返されなかった", tt.name)
			}
		}
	})
}

// TestDecodeData はDecodeData関数を検証する。
func TestDecodeData(t *testing.T) {
	t.Parallel()

	t.Run("不正なJSONはエラーになること", func(t *testing.T) {
		t.Parallel()

		ev := &Event{Data: []byte("{invalid")}
		if _, err := DecodeData[BulkChangeData](ev); err == nil {
			t.Fatal("エラーが返されなかった")
		}
	})

	t.Run("一括操作のデータを復元できること", func(t *testing.T) {
		t.Parallel()

		ev, err := New("user-1", AggregateTypeMailbox, TypeNotificationsUpdated, BulkChangeData{
			OwnerID:  "user-1",
			IDs:      []string{"a", "b"},
			Affected: 2,
		})
		if err != nil {
			t.Fatalf("New()でエラーが発生: %v", err)
		}

		decoded, err := DecodeData[BulkChangeData](ev)
		if err != nil {
			t.Fatalf("DecodeData()でエラーが発生: %v", err)
		}
		if len(decoded.IDs) != 2 || decoded.Affected != 2 {
			t.Errorf("decoded = %+v, want IDs=[a b] Affected=2", decoded)
		}
	})
}
