package notification

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nao1215/coursenotify/pkg/event"
	"github.com/nao1215/coursenotify/pkg/httpclient"
)

func TestEventStorePublisher_Publish(t *testing.T) {
	t.Parallel()

	t.Run("イベントをEvent Storeに追記すること", func(t *testing.T) {
		t.Parallel()

		received := make(chan event.Event, 1)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || r.URL.Path != "/api/v1/events" {
				t.Errorf("リクエスト = %s %s", r.Method, r.URL.Path)
			}
			var e event.Event
			if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
				t.Errorf("リクエストボディのデコードに失敗: %v", err)
			}
			received <- e
			w.WriteHeader(http.StatusCreated)
		}))
		t.Cleanup(srv.Close)

		e, err := event.New("notification-1", event.AggregateTypeNotification, event.TypeNotificationCreated,
			event.NotificationCreatedData{OwnerID: "user-1", Category: "course_update"})
		if err != nil {
			t.Fatalf("event.New()でエラーが発生: %v", err)
		}

		p := NewEventStorePublisher(httpclient.New(srv.URL))
		if err := p.Publish(t.Context(), e); err != nil {
			t.Fatalf("Publish()でエラーが発生: %v", err)
		}

		got := <-received
		if got.ID != e.ID || got.EventType != event.TypeNotificationCreated || got.Source != event.Source {
			t.Errorf("受信したイベント = %+v", got)
		}
	})

	t.Run("Event Storeがエラーを返した場合はエラーを返すこと", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		t.Cleanup(srv.Close)

		e, _ := event.New("mailbox-user-1", event.AggregateTypeMailbox, event.TypeNotificationsMarkedRead,
			event.BulkChangeData{OwnerID: "user-1", Affected: 2})
		if err := NewEventStorePublisher(httpclient.New(srv.URL)).Publish(t.Context(), e); err == nil {
			t.Error("エラーが返されなかった")
		}
	})

	t.Run("NopPublisherは常に成功すること", func(t *testing.T) {
		t.Parallel()

		if err := (NopPublisher{}).Publish(t.Context(), nil); err != nil {
			t.Errorf("Publish()でエラーが発生: %v", err)
		}
	})
}
