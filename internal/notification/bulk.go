package notification

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// Fields は一括更新で変更するフィールド。nilのフィールドは変更しない。
type Fields struct {
	State    *State
	Category *Category
}

// CleanupResult は保持期間による削除の結果。
type CleanupResult struct {
	// Deleted は削除した通知の件数。
	Deleted int64 `json:"deleted_count"`
	// Threshold はこの日時より前に作成された既読通知を削除対象とした基準日時。
	Threshold time.Time `json:"threshold_date"`
}

// MarkSelectedRead は指定IDのうち、所有者の未読通知だけを既読にする。
// 他人の通知や既読の通知はエラーにせず件数から除外する。
func (s *Store) MarkSelectedRead(ctx context.Context, ownerID string, ids []string) (int64, error) {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return 0, fmt.Errorf("%w: idsが空です", ErrInvalidArgument)
	}

	query, args, err := sqlx.In(`
		UPDATE notifications SET state = 'READ', read_at = ?
		WHERE owner_id = ? AND state = 'UNREAD' AND id IN (?)`,
		s.now().UTC().UnixNano(), ownerID, ids,
	)
	if err != nil {
		return 0, fmt.Errorf("クエリの組み立てに失敗: %w", err)
	}
	return s.execInTx(ctx, query, args...)
}

// MarkAllRead は所有者の未読通知をすべて既読にする。
func (s *Store) MarkAllRead(ctx context.Context, ownerID string) (int64, error) {
	return s.execInTx(ctx, `
		UPDATE notifications SET state = 'READ', read_at = ?
		WHERE owner_id = ? AND state = 'UNREAD'`,
		s.now().UTC().UnixNano(), ownerID,
	)
}

// BulkUpdate は所有者の通知のうち指定IDのものに対してフィールドを一括更新する。
//
// stateにREADを指定した場合、未読だった通知にだけread_atを設定する。
// 既読は終端状態のため、UNREADへの変更はErrInvalidArgumentとなる。
// categoryは空でないことだけを検証する。
func (s *Store) BulkUpdate(ctx context.Context, ownerID string, ids []string, fields Fields) (int64, error) {
	if fields.State == nil && fields.Category == nil {
		return 0, fmt.Errorf("%w: 更新するフィールドを1つ以上指定してください", ErrInvalidArgument)
	}
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return 0, fmt.Errorf("%w: idsが空です", ErrInvalidArgument)
	}

	var (
		sets []string
		args []any
	)
	if fields.State != nil {
		if *fields.State != StateRead {
			return 0, fmt.Errorf("%w: stateにはREADのみ指定できます: %q", ErrInvalidArgument, *fields.State)
		}
		sets = append(sets, "state = 'READ'", "read_at = COALESCE(read_at, ?)")
		args = append(args, s.now().UTC().UnixNano())
	}
	if fields.Category != nil {
		if strings.TrimSpace(string(*fields.Category)) == "" {
			return 0, fmt.Errorf("%w: categoryが空です", ErrInvalidArgument)
		}
		sets = append(sets, "category = ?")
		args = append(args, string(*fields.Category))
	}

	where := " WHERE owner_id = ? AND id IN (?)"
	args = append(args, ownerID, ids)
	if fields.Category == nil {
		// 既読化だけの場合、既に既読の通知は更新件数に含めない。
		where += " AND state = 'UNREAD'"
	}

	query, args, err := sqlx.In("UPDATE notifications SET "+strings.Join(sets, ", ")+where, args...)
	if err != nil {
		return 0, fmt.Errorf("クエリの組み立てに失敗: %w", err)
	}
	return s.execInTx(ctx, query, args...)
}

// Cleanup は所有者の既読通知のうち、作成からdays日以上経過したものを削除する。
// 何度実行しても同じ結果になる。
func (s *Store) Cleanup(ctx context.Context, ownerID string, days int) (CleanupResult, error) {
	if days <= 0 {
		return CleanupResult{}, fmt.Errorf("%w: 日数は1以上を指定してください: %d", ErrInvalidArgument, days)
	}

	threshold := retentionThreshold(s.now().UTC(), days)
	deleted, err := s.execInTx(ctx, `
		DELETE FROM notifications
		WHERE owner_id = ? AND state = 'READ' AND created_at < ?`,
		ownerID, threshold.UnixNano(),
	)
	if err != nil {
		return CleanupResult{}, err
	}
	return CleanupResult{Deleted: deleted, Threshold: threshold}, nil
}

// maxRetentionDays はさかのぼる日数の上限。これより古い日時はUNIXナノ秒で表現できない。
const maxRetentionDays = 1000 * 366

// minStoredTime はcreated_atとして保存できる最も古い日時。
var minStoredTime = time.Unix(0, math.MinInt64).UTC()

// retentionThreshold はnowからdays日さかのぼった日時を返す。
// 保存できる範囲より古くなる場合はminStoredTimeに丸め、閾値が未来に回り込まないようにする。
func retentionThreshold(now time.Time, days int) time.Time {
	threshold := now.AddDate(0, 0, -min(days, maxRetentionDays))
	if threshold.Before(minStoredTime) {
		return minStoredTime
	}
	return threshold
}

// execInTx は1つの更新文をトランザクション内で実行し、影響を受けた行数を返す。
// 失敗時はロールバックされ、途中までの更新は残らない。
func (s *Store) execInTx(ctx context.Context, query string, args ...any) (int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, tx.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("一括更新に失敗: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("更新件数の取得に失敗: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("一括更新のコミットに失敗: %w", err)
	}
	return affected, nil
}

// uniqueIDs は空文字と重複を取り除く。
func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
