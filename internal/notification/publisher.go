package notification

import (
	"context"

	"github.com/nao1215/coursenotify/pkg/event"
	"github.com/nao1215/coursenotify/pkg/httpclient"
)

// eventsPath はEvent Storeのイベント追記エンドポイント。
const eventsPath = "/api/v1/events"

// Publisher はドメインイベントを外部に送信する。
type Publisher interface {
	Publish(ctx context.Context, e *event.Event) error
}

// EventStorePublisher はEvent StoreサービスにHTTPでイベントを追記する。
type EventStorePublisher struct {
	client *httpclient.Client
}

// NewEventStorePublisher は新しいEventStorePublisherを生成する。
func NewEventStorePublisher(client *httpclient.Client) *EventStorePublisher {
	return &EventStorePublisher{client: client}
}

// Publish はイベントをEvent Storeに追記する。レスポンスボディは読み捨てる。
func (p *EventStorePublisher) Publish(ctx context.Context, e *event.Event) error {
	return p.client.PostJSON(ctx, eventsPath, e, nil)
}

// NopPublisher はイベントを送信しないPublisher。Event Storeが未設定の場合に使う。
type NopPublisher struct{}

// Publish は何もしない。
func (NopPublisher) Publish(context.Context, *event.Event) error {
	return nil
}
