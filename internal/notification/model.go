package notification

import (
	"database/sql"
	"time"
)

// State は通知の既読状態を表す。
type State string

const (
	// StateUnread は未読状態。作成直後の通知は必ずこの状態になる。
	StateUnread State = "UNREAD"
	// StateRead は既読状態。終端状態であり未読には戻らない。
	StateRead State = "READ"
)

// Category は通知の発生元を表す自由形式のタグ。
// プロデューサーが新しいカテゴリを追加できるよう、閉じた列挙型にはしない。
type Category string

const (
	// CategoryAssignmentDue は課題の締切が近いことを知らせる通知。
	CategoryAssignmentDue Category = "assignment_due"
	// CategoryCourseUpdate はコース内容が更新されたことを知らせる通知。
	CategoryCourseUpdate Category = "course_update"
	// CategoryGradingComplete は採点が完了したことを知らせる通知。
	CategoryGradingComplete Category = "grading_complete"
)

// Notification はユーザーのメールボックスに格納される1件の通知を表す。
type Notification struct {
	// ID は通知の一意識別子（UUID）。
	ID string `json:"id"`
	// OwnerID は通知を閲覧・操作できる唯一のユーザーのID。
	OwnerID string `json:"owner_id"`
	// CourseID は関連するコースのID。コースに紐づかない通知では空文字。
	CourseID string `json:"course_id,omitempty"`
	// Category は通知の発生元を表すタグ。
	Category Category `json:"category"`
	// ReferenceID は通知の元になったエンティティ（課題IDなど）の識別子。
	ReferenceID string `json:"reference_id,omitempty"`
	// Title は通知のタイトル。
	Title string `json:"title"`
	// Body はサニタイズ済みの通知本文。
	Body string `json:"body"`
	// State は既読状態。
	State State `json:"state"`
	// CreatedAt は通知の作成日時。
	CreatedAt time.Time `json:"created_at"`
	// ReadAt は既読になった日時。未読の間はnil。
	ReadAt *time.Time `json:"read_at"`
}

// IsRead は通知が既読かどうかを返す。
func (n Notification) IsRead() bool {
	return n.State == StateRead
}

// CreateParams は通知作成時の入力。
type CreateParams struct {
	OwnerID     string
	CourseID    string
	Category    Category
	ReferenceID string
	Title       string
	Body        string
}

// row はnotificationsテーブルの1行に対応する。
// 日時はUNIXナノ秒で保存し、比較と並び替えを厳密にする。
type row struct {
	ID          string         `db:"id"`
	OwnerID     string         `db:"owner_id"`
	CourseID    sql.NullString `db:"course_id"`
	Category    string         `db:"category"`
	ReferenceID sql.NullString `db:"reference_id"`
	Title       string         `db:"title"`
	Body        string         `db:"body"`
	State       string         `db:"state"`
	CreatedAt   int64          `db:"created_at"`
	ReadAt      sql.NullInt64  `db:"read_at"`
}

// toNotification はDB行をドメインモデルに変換する。
func (r row) toNotification() Notification {
	n := Notification{
		ID:          r.ID,
		OwnerID:     r.OwnerID,
		CourseID:    r.CourseID.String,
		Category:    Category(r.Category),
		ReferenceID: r.ReferenceID.String,
		Title:       r.Title,
		Body:        r.Body,
		State:       State(r.State),
		CreatedAt:   time.Unix(0, r.CreatedAt).UTC(),
	}
	if r.ReadAt.Valid {
		readAt := time.Unix(0, r.ReadAt.Int64).UTC()
		n.ReadAt = &readAt
	}
	return n
}

// toNotifications はDB行のスライスをドメインモデルのスライスに変換する。
func toNotifications(rows []row) []Notification {
	notifications := make([]Notification, 0, len(rows))
	for _, r := range rows {
		notifications = append(notifications, r.toNotification())
	}
	return notifications
}

// nullString は空文字をNULLとして扱う。
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// selectColumns はSELECT時に取得するカラムの一覧。
const selectColumns = `id, owner_id, course_id, category, reference_id,
	title, body, state, created_at, read_at`
