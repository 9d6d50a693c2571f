package notification

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Since は一覧取得で使う相対期間。
// 期間の起点は「現在から期間分さかのぼった日の0時」であり、厳密な経過時間ではない。
type Since string

const (
	// SinceAll は期間で絞り込まない。
	SinceAll Since = ""
	// SinceLast24Hours は前日の0時以降。
	SinceLast24Hours Since = "24h"
	// SinceLast7Days は7日前の0時以降。
	SinceLast7Days Since = "7d"
	// SinceLast30Days は30日前の0時以降。
	SinceLast30Days Since = "30d"
)

// sinceDays は期間トークンとさかのぼる日数の対応。
var sinceDays = map[Since]int{
	SinceLast24Hours: 1,
	SinceLast7Days:   7,
	SinceLast30Days:  30,
}

// ParseSince は文字列を期間トークンに変換する。未知のトークンはErrInvalidArgument。
func ParseSince(s string) (Since, error) {
	since := Since(s)
	if since == SinceAll {
		return SinceAll, nil
	}
	if _, ok := sinceDays[since]; !ok {
		return SinceAll, fmt.Errorf("%w: sinceは24h, 7d, 30dのいずれかを指定してください: %q", ErrInvalidArgument, s)
	}
	return since, nil
}

// Threshold はnowを基準とした期間の起点を返す。SinceAllの場合はokがfalse。
func (s Since) Threshold(now time.Time, loc *time.Location) (time.Time, bool) {
	days, ok := sinceDays[s]
	if !ok {
		return time.Time{}, false
	}
	t := now.In(loc).AddDate(0, 0, -days)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc), true
}

// Ordering は一覧の並び順。
type Ordering string

const (
	// OrderNewest は作成日時の新しい順。既定の並び順。
	OrderNewest Ordering = "newest"
	// OrderUnreadFirst は未読を先頭にし、その中で作成日時の新しい順。
	OrderUnreadFirst Ordering = "unread_first"
)

// ParseOrdering は文字列を並び順に変換する。空文字は既定の並び順。
func ParseOrdering(s string) (Ordering, error) {
	switch Ordering(s) {
	case "", OrderNewest:
		return OrderNewest, nil
	case OrderUnreadFirst:
		return OrderUnreadFirst, nil
	}
	return OrderNewest, fmt.Errorf("%w: 未対応の並び順です: %q", ErrInvalidArgument, s)
}

// orderClause は並び順に対応するORDER BY句を返す。
// 同時刻の通知はIDの昇順で並べ、結果を決定的にする。
func (o Ordering) orderClause() string {
	if o == OrderUnreadFirst {
		return " ORDER BY CASE state WHEN 'UNREAD' THEN 0 ELSE 1 END, created_at DESC, id ASC"
	}
	return " ORDER BY created_at DESC, id ASC"
}

// Filter は一覧取得の絞り込み条件。指定した条件はすべてAND結合される。
type Filter struct {
	CourseID   string
	Category   Category
	OnlyUnread bool
	Since      Since
	Order      Ordering
}

// Page は一覧取得の結果とページング情報。
type Page struct {
	Items      []Notification `json:"items"`
	Count      int            `json:"count"`
	TotalCount int            `json:"total_count"`
	Page       int            `json:"page"`
	PageSize   int            `json:"page_size"`
	TotalPages int            `json:"total_pages"`
}

// List は所有者の通知を絞り込み条件とページ指定に従って取得する。
// ページ番号とページサイズは1以上でなければならず、範囲外の値は補正せずにエラーとする。
func (s *Store) List(ctx context.Context, ownerID string, f Filter, page, pageSize int) (Page, error) {
	if err := s.validatePaging(page, pageSize); err != nil {
		return Page{}, err
	}
	if ownerID == "" {
		return Page{}, fmt.Errorf("%w: owner_idが必要です", ErrInvalidArgument)
	}
	if _, err := ParseSince(string(f.Since)); err != nil {
		return Page{}, err
	}
	if _, err := ParseOrdering(string(f.Order)); err != nil {
		return Page{}, err
	}

	conditions := []string{"owner_id = ?"}
	args := []any{ownerID}
	if f.CourseID != "" {
		conditions = append(conditions, "course_id = ?")
		args = append(args, f.CourseID)
	}
	if f.Category != "" {
		conditions = append(conditions, "category = ?")
		args = append(args, string(f.Category))
	}
	if f.OnlyUnread {
		conditions = append(conditions, "state = 'UNREAD'")
	}
	if threshold, ok := f.Since.Threshold(s.now(), s.location); ok {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, threshold.UnixNano())
	}
	where := " WHERE " + strings.Join(conditions, " AND ")

	var total int
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM notifications"+where, args...); err != nil {
		return Page{}, fmt.Errorf("通知件数の取得に失敗: %w", err)
	}

	query := "SELECT " + selectColumns + " FROM notifications" + where +
		f.Order.orderClause() + " LIMIT ? OFFSET ?"
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, query,
		append(args, pageSize, (page-1)*pageSize)...,
	); err != nil {
		return Page{}, fmt.Errorf("通知一覧の取得に失敗: %w", err)
	}

	items := toNotifications(rows)
	return Page{
		Items:      items,
		Count:      len(items),
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: (total + pageSize - 1) / pageSize,
	}, nil
}

// validatePaging はページ番号とページサイズを検証する。
func (s *Store) validatePaging(page, pageSize int) error {
	if page < 1 {
		return fmt.Errorf("%w: pageは1以上を指定してください: %d", ErrInvalidArgument, page)
	}
	if pageSize < 1 {
		return fmt.Errorf("%w: page_sizeは1以上を指定してください: %d", ErrInvalidArgument, pageSize)
	}
	if s.maxPageSize > 0 && pageSize > s.maxPageSize {
		return fmt.Errorf("%w: page_sizeは%d以下を指定してください: %d", ErrInvalidArgument, s.maxPageSize, pageSize)
	}
	return nil
}
