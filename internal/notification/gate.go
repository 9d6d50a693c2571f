package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Outcome はプロデューサーゲートの判定結果。
type Outcome string

const (
	// OutcomeCreated は通知を新規作成したことを表す。
	OutcomeCreated Outcome = "created"
	// OutcomeSkipped は同じイベントの通知が既に存在するため作成しなかったことを表す。
	OutcomeSkipped Outcome = "skipped"
)

// Offer はプロデューサーが提出する通知の候補。
type Offer struct {
	OwnerID     string
	Category    Category
	ReferenceID string
	CourseID    string
	Title       string
	Body        string
}

// OfferResult はOfferの処理結果。Outcomeがcreatedの場合のみNotificationが設定される。
type OfferResult struct {
	Outcome      Outcome
	Notification *Notification
}

// Gate はイベントプロデューサーからの通知候補を受け付け、
// (所有者, カテゴリ, 参照ID)が同じ通知の重複作成を防ぐ。
type Gate struct {
	store *Store
}

// NewGate は新しいGateを生成する。
func NewGate(store *Store) *Gate {
	return &Gate{store: store}
}

// Offer は重複判定キーに一致する通知がなければ作成し、あればスキップする。
//
// 検索と挿入は1つのトランザクションで行い、さらに重複判定キーの一意インデックスで
// 複数インスタンスからの同時呼び出しでも作成されるのが1件だけになるようにする。
// 一意制約違反は競合に負けたことを意味するため、スキップとして扱う。
func (g *Gate) Offer(ctx context.Context, o Offer) (OfferResult, error) {
	if strings.TrimSpace(o.ReferenceID) == "" {
		return OfferResult{}, fmt.Errorf("%w: reference_idが必要です", ErrInvalidArgument)
	}
	params := CreateParams{
		OwnerID:     o.OwnerID,
		CourseID:    o.CourseID,
		Category:    o.Category,
		ReferenceID: o.ReferenceID,
		Title:       o.Title,
		Body:        o.Body,
	}
	if err := validateCreate(params); err != nil {
		return OfferResult{}, err
	}

	tx, err := g.store.db.BeginTxx(ctx, nil)
	if err != nil {
		return OfferResult{}, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var existing int
	if err := tx.GetContext(ctx, &existing, `
		SELECT COUNT(*) FROM notifications
		WHERE owner_id = ? AND category = ? AND reference_id = ?`,
		o.OwnerID, string(o.Category), o.ReferenceID,
	); err != nil {
		return OfferResult{}, fmt.Errorf("既存通知の検索に失敗: %w", err)
	}
	if existing > 0 {
		return OfferResult{Outcome: OutcomeSkipped}, nil
	}

	n, err := g.store.insert(ctx, tx, params, dedupKey(o.OwnerID, o.Category, o.ReferenceID))
	if isUniqueViolation(err) {
		return OfferResult{Outcome: OutcomeSkipped}, nil
	}
	if err != nil {
		return OfferResult{}, err
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return OfferResult{Outcome: OutcomeSkipped}, nil
		}
		return OfferResult{}, fmt.Errorf("通知の作成のコミットに失敗: %w", err)
	}
	return OfferResult{Outcome: OutcomeCreated, Notification: &n}, nil
}

// dedupKey は重複判定キーを1つの文字列にまとめる。
// 各要素に区切り文字が含まれても衝突しないよう、長さを前置する。
func dedupKey(ownerID string, category Category, referenceID string) string {
	return fmt.Sprintf("%d:%s/%d:%s/%s", len(ownerID), ownerID, len(category), category, referenceID)
}

// isUniqueViolation はエラーがSQLiteの一意制約違反かどうかを判定する。
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			(code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(sqliteErr.Error(), "UNIQUE"))
	}
	return false
}
