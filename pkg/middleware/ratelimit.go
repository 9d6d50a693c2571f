package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// defaultIdleTTL はこの期間リクエストの無い利用者のリミッターを破棄するまでの時間。
const defaultIdleTTL = 10 * time.Minute

// visitor は利用者ごとのリミッターと最終アクセス日時。
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter は利用者ごとにトークンバケットでリクエスト数を制限する。
// 認証済みの場合はユーザーID、未認証の場合はクライアントIPを利用者とみなす。
// 一定期間アクセスの無い利用者のリミッターはアクセス時の掃除で破棄する。
type RateLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	limit     rate.Limit
	burst     int
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
	logger    *zap.Logger
}

// NewRateLimiter は1分あたりperMinute件、瞬間的にburst件まで許可するRateLimiterを生成する。
// perMinuteが0以下の場合は制限しない。
func NewRateLimiter(perMinute, burst int, logger *zap.Logger) *RateLimiter {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	return &RateLimiter{
		visitors:  make(map[string]*visitor),
		limit:     limit,
		burst:     burst,
		idleTTL:   defaultIdleTTL,
		lastSweep: time.Now(),
		now:       time.Now,
		logger:    logger,
	}
}

// allow は利用者のリクエストを1件許可できるかを判定する。
func (l *RateLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= l.idleTTL {
		l.sweep(now)
	}

	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// sweep はidleTTL以上アクセスの無い利用者を破棄する。l.muを保持して呼ぶこと。
func (l *RateLimiter) sweep(now time.Time) {
	for key, v := range l.visitors {
		if now.Sub(v.lastSeen) >= l.idleTTL {
			delete(l.visitors, key)
		}
	}
	l.lastSweep = now
}

// size は保持している利用者数を返す。
func (l *RateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

// Handler はレート制限を超えたリクエストを429で拒否するGinミドルウェアを返す。
func (l *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := GetUserID(c)
		if key == "" {
			key = c.ClientIP()
		}
		if !l.allow(key) {
			l.logger.Warn("レート制限を超えました", zap.String("key", key))
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "リクエストが多すぎます。しばらくしてから再試行してください",
			})
			return
		}
		c.Next()
	}
}
