package notification

import "errors"

// 呼び出し側が回復可能なエラー。境界層（HTTPハンドラ）がステータスコードに変換する。
// 詳細はfmt.Errorfの%wでラップして付与するため、判定にはerrors.Isを使用すること。
var (
	// ErrNotFound は指定されたIDの通知が存在しないことを表す。
	ErrNotFound = errors.New("通知が見つかりません")
	// ErrForbidden は通知の所有者と要求者が一致しないことを表す。
	ErrForbidden = errors.New("この通知を操作する権限がありません")
	// ErrConflict は同じ通知の既読処理が並行して実行中であることを表す。再試行してよい。
	ErrConflict = errors.New("通知の既読処理が競合しました")
	// ErrAlreadyDone は通知が既に既読であることを表す。再試行しても結果は変わらない。
	ErrAlreadyDone = errors.New("通知は既に既読です")
	// ErrInvalidArgument は呼び出し側の入力が不正であることを表す。
	ErrInvalidArgument = errors.New("入力が不正です")
)
