// 通知サービスのエントリポイント。
// コース学習プラットフォームのイベントプロデューサーから通知を受け取り、
// ユーザーごとのメールボックスとして保存・配信する。
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nao1215/coursenotify/internal/config"
	"github.com/nao1215/coursenotify/internal/notification"
	"github.com/nao1215/coursenotify/pkg/httpclient"
	"github.com/nao1215/coursenotify/pkg/logger"
)

// shutdownTimeout はシャットダウン時に処理中のリクエストを待つ時間。
const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "通知サービスの起動に失敗: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("ロガーの初期化に失敗: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := notification.OpenDB(ctx, cfg.DatabasePath, log)
	if err != nil {
		return err
	}
	defer db.Close()

	store := notification.NewStore(db,
		notification.WithLockTTL(cfg.LockTTL),
		notification.WithLocation(cfg.Location()),
		notification.WithMaxPageSize(cfg.MaxPageSize),
		notification.WithLogger(log),
	)

	var publisher notification.Publisher = notification.NopPublisher{}
	if cfg.EventStoreURL != "" {
		publisher = notification.NewEventStorePublisher(httpclient.New(cfg.EventStoreURL))
	} else {
		log.Info("EVENTSTORE_URLが未設定のため、ドメインイベントは送信しません")
	}

	server := notification.NewServer(store, notification.NewGate(store), notification.ServerOptions{
		Port:               cfg.Port,
		JWTSecret:          cfg.JWTSecret,
		DefaultPageSize:    cfg.DefaultPageSize,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		RateLimitBurst:     cfg.RateLimitBurst,
		Publisher:          publisher,
		Logger:             log,
	})

	srv := &http.Server{
		Addr:              server.Addr(),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("通知サービスを起動します", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTPサーバーが停止しました: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("通知サービスを停止します")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("シャットダウンに失敗: %w", err)
	}
	log.Info("通知サービスを停止しました")
	return nil
}
