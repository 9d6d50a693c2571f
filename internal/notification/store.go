package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Sanitizer は通知本文から実行可能なマークアップを取り除く外部コンポーネント。
type Sanitizer interface {
	Sanitize(body string) string
}

// SanitizerFunc は関数をSanitizerとして扱うためのアダプタ。
type SanitizerFunc func(body string) string

// Sanitize はfを呼び出す。
func (f SanitizerFunc) Sanitize(body string) string {
	return f(body)
}

// EscapeSanitizer はHTMLの特殊文字をエスケープする既定のSanitizer。
var EscapeSanitizer Sanitizer = SanitizerFunc(html.EscapeString)

// defaultLockTTL は既読遷移ロックの既定の有効期間。
// これより古いロックは保持者が異常終了したものとみなして奪取できる。
const defaultLockTTL = 30 * time.Second

// Store は通知の永続化と既読状態遷移を担う。
// 変更系の操作はすべて所有者IDで絞り込んでから実行する。
type Store struct {
	db          *sqlx.DB
	now         func() time.Time
	sanitizer   Sanitizer
	lockTTL     time.Duration
	location    *time.Location
	maxPageSize int
	logger      *zap.Logger
	// afterLock は既読遷移ロック取得直後に呼ばれる。テストで競合状態を再現するために使う。
	afterLock func(id string)
}

// Option はStoreの設定を変更する。
type Option func(*Store)

// WithClock は現在時刻の取得方法を差し替える。
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithSanitizer は本文のサニタイザを差し替える。
func WithSanitizer(sanitizer Sanitizer) Option {
	return func(s *Store) { s.sanitizer = sanitizer }
}

// WithLockTTL は既読遷移ロックの有効期間を設定する。
func WithLockTTL(ttl time.Duration) Option {
	return func(s *Store) { s.lockTTL = ttl }
}

// WithLocation は期間フィルタの日境界を計算するタイムゾーンを設定する。
func WithLocation(loc *time.Location) Option {
	return func(s *Store) { s.location = loc }
}

// WithMaxPageSize は一覧取得で許可する最大ページサイズを設定する。0以下は無制限。
func WithMaxPageSize(size int) Option {
	return func(s *Store) { s.maxPageSize = size }
}

// WithLogger はロガーを設定する。
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// NewStore は新しいStoreを生成する。dbにはOpenDBでマイグレーション済みの接続を渡す。
func NewStore(db *sqlx.DB, opts ...Option) *Store {
	s := &Store{
		db:          db,
		now:         time.Now,
		sanitizer:   EscapeSanitizer,
		lockTTL:     defaultLockTTL,
		location:    time.UTC,
		maxPageSize: 100,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create は未読状態の通知を新規作成する。
func (s *Store) Create(ctx context.Context, p CreateParams) (Notification, error) {
	if err := validateCreate(p); err != nil {
		return Notification{}, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Notification{}, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	n, err := s.insert(ctx, tx, p, "")
	if err != nil {
		return Notification{}, err
	}
	if err := tx.Commit(); err != nil {
		return Notification{}, fmt.Errorf("通知の作成のコミットに失敗: %w", err)
	}
	return n, nil
}

// validateCreate は通知作成の入力を検証する。
func validateCreate(p CreateParams) error {
	switch {
	case strings.TrimSpace(p.OwnerID) == "":
		return fmt.Errorf("%w: owner_idが必要です", ErrInvalidArgument)
	case strings.TrimSpace(string(p.Category)) == "":
		return fmt.Errorf("%w: categoryが必要です", ErrInvalidArgument)
	case strings.TrimSpace(p.Title) == "":
		return fmt.Errorf("%w: titleが必要です", ErrInvalidArgument)
	}
	return nil
}

// insert はトランザクション内で通知を1件挿入する。
// created_atは同じ所有者の既存通知より古くならないように補正する。
func (s *Store) insert(ctx context.Context, tx *sqlx.Tx, p CreateParams, dedupKey string) (Notification, error) {
	var latest sql.NullInt64
	if err := tx.GetContext(ctx, &latest,
		"SELECT MAX(created_at) FROM notifications WHERE owner_id = ?", p.OwnerID,
	); err != nil {
		return Notification{}, fmt.Errorf("最新の作成日時の取得に失敗: %w", err)
	}

	createdAt := s.now().UTC().UnixNano()
	if latest.Valid && latest.Int64 > createdAt {
		createdAt = latest.Int64
	}

	r := row{
		ID:          uuid.New().String(),
		OwnerID:     p.OwnerID,
		CourseID:    nullString(p.CourseID),
		Category:    string(p.Category),
		ReferenceID: nullString(p.ReferenceID),
		Title:       p.Title,
		Body:        s.sanitizer.Sanitize(p.Body),
		State:       string(StateUnread),
		CreatedAt:   createdAt,
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO notifications (
			id, owner_id, course_id, category, reference_id,
			title, body, state, created_at, dedup_key
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.OwnerID, r.CourseID, r.Category, r.ReferenceID,
		r.Title, r.Body, r.State, r.CreatedAt, nullString(dedupKey),
	); err != nil {
		return Notification{}, fmt.Errorf("通知の挿入に失敗: %w", err)
	}

	return r.toNotification(), nil
}

// Get はIDで通知を取得する。
func (s *Store) Get(ctx context.Context, id string) (Notification, error) {
	var r row
	err := s.db.GetContext(ctx, &r,
		"SELECT "+selectColumns+" FROM notifications WHERE id = ?", id,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Notification{}, fmt.Errorf("%w: id=%s", ErrNotFound, id)
	}
	if err != nil {
		return Notification{}, fmt.Errorf("通知の取得に失敗: %w", err)
	}
	return r.toNotification(), nil
}

// GetOwned はIDで通知を取得し、所有者がrequesterIDであることを確認する。
func (s *Store) GetOwned(ctx context.Context, id, requesterID string) (Notification, error) {
	n, err := s.Get(ctx, id)
	if err != nil {
		return Notification{}, err
	}
	if n.OwnerID != requesterID {
		return Notification{}, fmt.Errorf("%w: id=%s", ErrForbidden, id)
	}
	return n, nil
}

// MarkRead は通知を既読にする。
//
// 既読遷移ロックはブロックせずに取得を試み、他の呼び出しが保持中であれば
// 即座にErrConflictを返す。ロック取得時点で既読であればErrAlreadyDoneを返す。
func (s *Store) MarkRead(ctx context.Context, id, requesterID string) (Notification, error) {
	if _, err := s.GetOwned(ctx, id, requesterID); err != nil {
		return Notification{}, err
	}

	token, err := s.acquireLock(ctx, id, requesterID)
	if err != nil {
		return Notification{}, err
	}
	defer s.releaseLock(context.WithoutCancel(ctx), id, token)

	if s.afterLock != nil {
		s.afterLock(id)
	}

	var state string
	err = s.db.GetContext(ctx, &state, "SELECT state FROM notifications WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return Notification{}, fmt.Errorf("%w: id=%s", ErrNotFound, id)
	}
	if err != nil {
		return Notification{}, fmt.Errorf("既読状態の取得に失敗: %w", err)
	}
	if State(state) == StateRead {
		return Notification{}, fmt.Errorf("%w: id=%s", ErrAlreadyDone, id)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Notification{}, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	// ロックトークンと未読状態の両方を条件にすることで、
	// 奪取されたロックや一括既読との競合で二重に遷移させない。
	res, err := tx.ExecContext(ctx, `
		UPDATE notifications
		SET state = 'READ', read_at = ?, lock_token = NULL, locked_at = NULL
		WHERE id = ? AND owner_id = ? AND state = 'UNREAD' AND lock_token = ?`,
		s.now().UTC().UnixNano(), id, requesterID, token,
	)
	if err != nil {
		return Notification{}, fmt.Errorf("通知の既読処理に失敗: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Notification{}, fmt.Errorf("更新件数の取得に失敗: %w", err)
	}
	if affected == 0 {
		return Notification{}, s.lostTransition(ctx, tx, id)
	}

	var r row
	if err := tx.GetContext(ctx, &r,
		"SELECT "+selectColumns+" FROM notifications WHERE id = ?", id,
	); err != nil {
		return Notification{}, fmt.Errorf("更新後の通知の取得に失敗: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Notification{}, fmt.Errorf("既読処理のコミットに失敗: %w", err)
	}
	return r.toNotification(), nil
}

// lostTransition はロック保持中に遷移できなかった理由を判定する。
func (s *Store) lostTransition(ctx context.Context, tx *sqlx.Tx, id string) error {
	var state string
	err := tx.GetContext(ctx, &state, "SELECT state FROM notifications WHERE id = ?", id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%w: id=%s", ErrNotFound, id)
	case err != nil:
		return fmt.Errorf("既読状態の取得に失敗: %w", err)
	case State(state) == StateRead:
		return fmt.Errorf("%w: id=%s", ErrAlreadyDone, id)
	default:
		return fmt.Errorf("%w: ロックが失効しました id=%s", ErrConflict, id)
	}
}

// acquireLock は既読遷移ロックをcompare-and-swapで取得し、ロックトークンを返す。
// 有効期間内のロックが存在する場合は待たずにErrConflictを返す。
func (s *Store) acquireLock(ctx context.Context, id, ownerID string) (string, error) {
	token := uuid.New().String()
	now := s.now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		SET lock_token = ?, locked_at = ?
		WHERE id = ? AND owner_id = ? AND (lock_token IS NULL OR locked_at < ?)`,
		token, now.UnixNano(), id, ownerID, now.Add(-s.lockTTL).UnixNano(),
	)
	if err != nil {
		return "", fmt.Errorf("既読遷移ロックの取得に失敗: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("更新件数の取得に失敗: %w", err)
	}
	if affected == 0 {
		return "", fmt.Errorf("%w: id=%s", ErrConflict, id)
	}
	return token, nil
}

// releaseLock は自分が保持している既読遷移ロックを解放する。
// 既に解放済み、または奪取されている場合は何もしない。
func (s *Store) releaseLock(ctx context.Context, id, token string) {
	if _, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET lock_token = NULL, locked_at = NULL WHERE id = ? AND lock_token = ?",
		id, token,
	); err != nil {
		s.logger.Warn("既読遷移ロックの解放に失敗",
			zap.String("notification_id", id),
			zap.Error(err),
		)
	}
}

// Delete は通知を物理削除する。所有者以外は削除できない。
func (s *Store) Delete(ctx context.Context, ownerID, id string) error {
	if _, err := s.GetOwned(ctx, id, ownerID); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM notifications WHERE id = ? AND owner_id = ?", id, ownerID,
	); err != nil {
		return fmt.Errorf("通知の削除に失敗: %w", err)
	}
	return nil
}

// UnreadCount は所有者の未読通知の件数を返す。
func (s *Store) UnreadCount(ctx context.Context, ownerID string) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM notifications WHERE owner_id = ? AND state = 'UNREAD'", ownerID,
	); err != nil {
		return 0, fmt.Errorf("未読件数の取得に失敗: %w", err)
	}
	return count, nil
}
