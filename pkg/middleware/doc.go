// Package middleware は通知サービスのHTTP APIで使用するGinミドルウェアを提供する。
//
// JWT認証トークンの検証とロール判定、zapによるリクエストログ、
// パニックリカバリ、ユーザー単位のレート制限を含む。
package middleware
