// Package notification はコース学習プラットフォームの通知ストアを提供する。
//
// ユーザーごとのメールボックスとして通知を保存し、未読から既読への状態遷移、
// 絞り込みとページングによる一覧取得、一括既読・一括更新、保持期間による削除、
// イベントプロデューサーからの重複作成の抑止を行う。
//
// 既読遷移のロックは通知の行そのものに保持するため、複数のサービスインスタンスが
// 同じデータベースを共有しても同じ通知の既読遷移が二重に行われることはない。
// HTTPハンドラはServerが提供する。
package notification
