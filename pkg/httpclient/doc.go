// Package httpclient はサービス間のHTTP通信を行うクライアントを提供する。
//
// 通知サービスがEvent Storeへドメインイベントを送信する際に使用する。
// 2xx以外の応答はStatusErrorとして返し、呼び出し側がステータスコードで判定できるようにする。
package httpclient
