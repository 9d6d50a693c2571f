package notification

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/coursenotify/pkg/event"
	"github.com/nao1215/coursenotify/pkg/middleware"
)

// defaultPageSize はpage_size未指定時のページサイズ。
const defaultPageSize = 20

// ServerOptions はServerの設定。
type ServerOptions struct {
	// Port はサーバーのリッスンポート。
	Port string
	// JWTSecret はJWTトークンの署名検証に使うシークレット。
	JWTSecret string
	// DefaultPageSize はpage_size未指定時のページサイズ。0以下の場合は20。
	DefaultPageSize int
	// RateLimitPerMinute はユーザーごとの1分あたりのリクエスト上限。0で無制限。
	RateLimitPerMinute int
	// RateLimitBurst は瞬間的に許可するリクエスト数。
	RateLimitBurst int
	// Publisher はドメインイベントの送信先。nilの場合は送信しない。
	Publisher Publisher
	// Logger はリクエストログとエラーログの出力先。
	Logger *zap.Logger
}

// Server は通知サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// store は通知の永続化を担う。
	store *Store
	// gate はプロデューサーからの通知候補の重複を判定する。
	gate *Gate
	// publisher はドメインイベントの送信先。
	publisher Publisher
	// logger はエラーログの出力先。
	logger *zap.Logger
	// defaultPageSize はpage_size未指定時のページサイズ。
	defaultPageSize int
}

// NewServer は新しい通知サーバーを生成する。
func NewServer(store *Store, gate *Gate, opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	publisher := opts.Publisher
	if publisher == nil {
		publisher = NopPublisher{}
	}
	pageSize := opts.DefaultPageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	burst := opts.RateLimitBurst
	if burst <= 0 {
		burst = 1
	}

	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestLogger(logger))

	s := &Server{
		router:          router,
		port:            opts.Port,
		store:           store,
		gate:            gate,
		publisher:       publisher,
		logger:          logger,
		defaultPageSize: pageSize,
	}

	api := router.Group("/api/v1")
	api.Use(middleware.JWTAuth(opts.JWTSecret))
	api.Use(middleware.NewRateLimiter(opts.RateLimitPerMinute, burst, logger).Handler())
	s.registerRoutes(api)

	// ヘルスチェック
	router.GET("/health", s.handleHealth())

	return s
}

// Addr はhttp.Serverに渡すリッスンアドレスを返す。
func (s *Server) Addr() string {
	return ":" + s.port
}

// Handler はHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// registerRoutes は認証済みのルーターグループにAPIルーティングを設定する。
func (s *Server) registerRoutes(api *gin.RouterGroup) {
	notifications := api.Group("/notifications")
	{
		// 通知一覧取得
		notifications.GET("", s.handleList())
		// 未読件数取得
		notifications.GET("/unread-count", s.handleUnreadCount())
		// 通知取得
		notifications.GET("/:id", s.handleGet())
		// 通知を既読にする
		notifications.PUT("/:id/read", s.handleMarkRead())
		// 指定した通知をまとめて既読にする
		notifications.PUT("/read", s.handleMarkSelectedRead())
		// 全通知を既読にする
		notifications.PUT("/read-all", s.handleMarkAllRead())
		// 指定した通知のフィールドを一括更新する
		notifications.PATCH("", s.handleBulkUpdate())
		// 保持期間を過ぎた既読通知を削除する
		notifications.DELETE("/cleanup", s.handleCleanup())
		// 通知を削除する
		notifications.DELETE("/:id", s.handleDelete())
	}

	// 通知作成（内部API - イベントプロデューサーから呼び出される）
	internal := api.Group("/internal")
	internal.Use(middleware.RequireRole(middleware.RoleService))
	{
		internal.POST("/notifications", s.handleCreate())
		internal.POST("/offers", s.handleOffer())
	}
}

// errorResponse はエラー時のJSONレスポンス構造。
type errorResponse struct {
	// Error は人が読むためのエラーメッセージ。
	Error string `json:"error"`
	// Code はクライアントが分岐に使うエラーコード。
	Code string `json:"code"`
}

// writeError はドメインエラーをHTTPステータスに変換してレスポンスを書き込む。
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidArgument):
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "invalid_argument"})
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse{Error: ErrNotFound.Error(), Code: "not_found"})
	case errors.Is(err, ErrForbidden):
		c.JSON(http.StatusForbidden, errorResponse{Error: ErrForbidden.Error(), Code: "forbidden"})
	case errors.Is(err, ErrConflict):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusConflict, errorResponse{Error: ErrConflict.Error(), Code: "conflict"})
	case errors.Is(err, ErrAlreadyDone):
		c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: ErrAlreadyDone.Error(), Code: "already_read"})
	default:
		s.logger.Error("リクエストの処理に失敗",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "内部サーバーエラーが発生しました", Code: "internal"})
	}
}

// requireUser はリクエストのユーザーIDを返す。取得できなければ401を書き込み、okはfalse。
func requireUser(c *gin.Context) (string, bool) {
	userID := middleware.GetUserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, errorResponse{Error: "ユーザーIDが取得できません", Code: "unauthorized"})
		return "", false
	}
	return userID, true
}

// publish はドメインイベントを送信する。
// 送信に失敗しても操作自体は成功として扱い、警告ログだけを残す。
func (s *Server) publish(ctx context.Context, aggregateID string, aggregateType event.AggregateType, eventType event.Type, data any) {
	e, err := event.New(aggregateID, aggregateType, eventType, data)
	if err == nil {
		err = s.publisher.Publish(ctx, e)
	}
	if err != nil {
		s.logger.Warn("イベントの送信に失敗",
			zap.String("event_type", string(eventType)),
			zap.String("aggregate_id", aggregateID),
			zap.Error(err),
		)
	}
}

// mailboxID はユーザーのメールボックスを表す集約IDを返す。
func mailboxID(ownerID string) string {
	return "mailbox-" + ownerID
}

// handleHealth はヘルスチェックのハンドラ。
func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "notification"})
	}
}

// handleList は認証済みユーザーの通知一覧を返すハンドラ。
// クエリパラメータ: page, page_size, course_id, category, only_unread, since, order
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}

		page, err := intQuery(c, "page", 1)
		if err != nil {
			s.writeError(c, err)
			return
		}
		pageSize, err := intQuery(c, "page_size", s.defaultPageSize)
		if err != nil {
			s.writeError(c, err)
			return
		}

		filter := Filter{
			CourseID: c.Query("course_id"),
			Category: Category(c.Query("category")),
		}
		if v := c.Query("only_unread"); v != "" {
			onlyUnread, err := strconv.ParseBool(v)
			if err != nil {
				s.writeError(c, fmt.Errorf("%w: only_unreadが不正です: %q", ErrInvalidArgument, v))
				return
			}
			filter.OnlyUnread = onlyUnread
		}
		if filter.Since, err = ParseSince(c.Query("since")); err != nil {
			s.writeError(c, err)
			return
		}
		if filter.Order, err = ParseOrdering(c.Query("order")); err != nil {
			s.writeError(c, err)
			return
		}

		result, err := s.store.List(c.Request.Context(), userID, filter, page, pageSize)
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// intQuery はクエリパラメータを整数として取得する。未指定の場合はdefを返す。
func intQuery(c *gin.Context, key string, def int) (int, error) {
	v, ok := c.GetQuery(key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %sは整数を指定してください: %q", ErrInvalidArgument, key, v)
	}
	return n, nil
}

// handleUnreadCount は認証済みユーザーの未読件数を返すハンドラ。
func (s *Server) handleUnreadCount() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}

		count, err := s.store.UnreadCount(c.Request.Context(), userID)
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"unread_count": count})
	}
}

// handleGet は指定された通知を返すハンドラ。
func (s *Server) handleGet() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}

		n, err := s.store.GetOwned(c.Request.Context(), c.Param("id"), userID)
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, n)
	}
}

// handleMarkRead は指定された通知を既読にするハンドラ。
// 同じ通知の既読処理が実行中の場合は409、既に既読の場合は422を返す。
func (s *Server) handleMarkRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}

		n, err := s.store.MarkRead(c.Request.Context(), c.Param("id"), userID)
		if err != nil {
			s.writeError(c, err)
			return
		}

		s.publish(c.Request.Context(), n.ID, event.AggregateTypeNotification, event.TypeNotificationRead,
			event.NotificationReadData{OwnerID: n.OwnerID, ReadAt: *n.ReadAt})
		c.JSON(http.StatusOK, n)
	}
}

// idsRequest は通知IDを指定する一括操作リクエストのJSON構造。
type idsRequest struct {
	// IDs は操作対象の通知ID。
	IDs []string `json:"ids"`
}

// handleMarkSelectedRead はリクエストで指定した通知をまとめて既読にするハンドラ。
func (s *Server) handleMarkSelectedRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}

		var req idsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			s.writeError(c, fmt.Errorf("%w: リクエストが不正です: %v", ErrInvalidArgument, err))
			return
		}

		updated, err := s.store.MarkSelectedRead(c.Request.Context(), userID, req.IDs)
		if err != nil {
			s.writeError(c, err)
			return
		}

		s.publish(c.Request.Context(), mailboxID(userID), event.AggregateTypeMailbox, event.TypeNotificationsMarkedRead,
			event.BulkChangeData{OwnerID: userID, IDs: req.IDs, Affected: updated})
		c.JSON(http.StatusOK, gin.H{"updated_count": updated})
	}
}

// handleMarkAllRead は認証済みユーザーの全通知を既読にするハンドラ。
func (s *Server) handleMarkAllRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}

		updated, err := s.store.MarkAllRead(c.Request.Context(), userID)
		if err != nil {
			s.writeError(c, err)
			return
		}

		s.publish(c.Request.Context(), mailboxID(userID), event.AggregateTypeMailbox, event.TypeNotificationsMarkedRead,
			event.BulkChangeData{OwnerID: userID, Affected: updated})
		c.JSON(http.StatusOK, gin.H{"updated_count": updated})
	}
}

// bulkUpdateRequest は一括更新リクエストのJSON構造。
type bulkUpdateRequest struct {
	// IDs は更新対象の通知ID。
	IDs []string `json:"ids"`
	// State は変更後の既読状態。READのみ指定できる。
	State *string `json:"state"`
	// Category は変更後のカテゴリ。
	Category *string `json:"category"`
}

// handleBulkUpdate は指定した通知のフィールドを一括更新するハンドラ。
func (s *Server) handleBulkUpdate() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}

		var req bulkUpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			s.writeError(c, fmt.Errorf("%w: リクエストが不正です: %v", ErrInvalidArgument, err))
			return
		}

		var fields Fields
		if req.State != nil {
			state := State(*req.State)
			fields.State = &state
		}
		if req.Category != nil {
			category := Category(*req.Category)
			fields.Category = &category
		}

		updated, err := s.store.BulkUpdate(c.Request.Context(), userID, req.IDs, fields)
		if err != nil {
			s.writeError(c, err)
			return
		}

		s.publish(c.Request.Context(), mailboxID(userID), event.AggregateTypeMailbox, event.TypeNotificationsUpdated,
			event.BulkChangeData{OwnerID: userID, IDs: req.IDs, Affected: updated})
		c.JSON(http.StatusOK, gin.H{"updated_count": updated})
	}
}

// handleCleanup は保持期間を過ぎた既読通知を削除するハンドラ。
// クエリパラメータdaysで保持日数を指定する。
func (s *Server) handleCleanup() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}

		if _, ok := c.GetQuery("days"); !ok {
			s.writeError(c, fmt.Errorf("%w: daysが必要です", ErrInvalidArgument))
			return
		}
		days, err := intQuery(c, "days", 0)
		if err != nil {
			s.writeError(c, err)
			return
		}

		result, err := s.store.Cleanup(c.Request.Context(), userID, days)
		if err != nil {
			s.writeError(c, err)
			return
		}

		s.publish(c.Request.Context(), mailboxID(userID), event.AggregateTypeMailbox, event.TypeNotificationsCleanedUp,
			event.NotificationsCleanedUpData{OwnerID: userID, Deleted: result.Deleted, Threshold: result.Threshold})
		c.JSON(http.StatusOK, result)
	}
}

// handleDelete は指定された通知を削除するハンドラ。
func (s *Server) handleDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}

		if err := s.store.Delete(c.Request.Context(), userID, c.Param("id")); err != nil {
			s.writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// createRequest は通知作成リクエストのJSON構造。
type createRequest struct {
	// OwnerID は通知先のユーザーID。
	OwnerID string `json:"owner_id"`
	// CourseID は関連するコースのID。
	CourseID string `json:"course_id"`
	// Category は通知のカテゴリ。
	Category string `json:"category"`
	// ReferenceID は通知の元になったエンティティの識別子。
	ReferenceID string `json:"reference_id"`
	// Title は通知のタイトル。
	Title string `json:"title"`
	// Body は通知本文。保存前にサニタイズされる。
	Body string `json:"body"`
}

// handleCreate は通知を作成しNotificationCreatedイベントを発行するハンドラ。
// 内部API（イベントプロデューサーから呼び出される）。
func (s *Server) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			s.writeError(c, fmt.Errorf("%w: リクエストが不正です: %v", ErrInvalidArgument, err))
			return
		}

		n, err := s.store.Create(c.Request.Context(), CreateParams{
			OwnerID:     req.OwnerID,
			CourseID:    req.CourseID,
			Category:    Category(req.Category),
			ReferenceID: req.ReferenceID,
			Title:       req.Title,
			Body:        req.Body,
		})
		if err != nil {
			s.writeError(c, err)
			return
		}

		s.publishCreated(c.Request.Context(), n)
		c.JSON(http.StatusCreated, n)
	}
}

// offerResponse は重複判定付き作成のJSONレスポンス構造。
type offerResponse struct {
	// Outcome はcreatedまたはskipped。
	Outcome Outcome `json:"outcome"`
	// Notification は作成された通知。スキップされた場合は省略する。
	Notification *Notification `json:"notification,omitempty"`
}

// handleOffer は同じイベントの通知が無い場合だけ通知を作成するハンドラ。
// 作成した場合は201、スキップした場合は200を返す。
func (s *Server) handleOffer() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			s.writeError(c, fmt.Errorf("%w: リクエストが不正です: %v", ErrInvalidArgument, err))
			return
		}

		result, err := s.gate.Offer(c.Request.Context(), Offer{
			OwnerID:     req.OwnerID,
			Category:    Category(req.Category),
			ReferenceID: req.ReferenceID,
			CourseID:    req.CourseID,
			Title:       req.Title,
			Body:        req.Body,
		})
		if err != nil {
			s.writeError(c, err)
			return
		}

		if result.Outcome == OutcomeSkipped {
			c.JSON(http.StatusOK, offerResponse{Outcome: result.Outcome})
			return
		}
		s.publishCreated(c.Request.Context(), *result.Notification)
		c.JSON(http.StatusCreated, offerResponse{Outcome: result.Outcome, Notification: result.Notification})
	}
}

// publishCreated はNotificationCreatedイベントを送信する。
func (s *Server) publishCreated(ctx context.Context, n Notification) {
	s.publish(ctx, n.ID, event.AggregateTypeNotification, event.TypeNotificationCreated,
		event.NotificationCreatedData{
			OwnerID:     n.OwnerID,
			Category:    string(n.Category),
			ReferenceID: n.ReferenceID,
			CourseID:    n.CourseID,
		})
}
