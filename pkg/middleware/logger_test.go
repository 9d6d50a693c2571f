package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestRequestLogger はRequestLoggerミドルウェアを検証する。
func TestRequestLogger(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		wantLevel zapcore.Level
	}{
		{name: "2xxはInfoで記録されること", status: http.StatusOK, wantLevel: zapcore.InfoLevel},
		{name: "4xxはWarnで記録されること", status: http.StatusConflict, wantLevel: zapcore.WarnLevel},
		{name: "5xxはErrorで記録されること", status: http.StatusInternalServerError, wantLevel: zapcore.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			core, logs := observer.New(zap.DebugLevel)
			router := gin.New()
			router.Use(func(c *gin.Context) {
				SetIdentity(c, "user-1", RoleUser)
				c.Next()
			})
			router.Use(RequestLogger(zap.New(core)))
			router.GET("/items/:id", func(c *gin.Context) {
				c.Status(tt.status)
			})

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/items/42", nil))

			if logs.Len() != 1 {
				t.Fatalf("ログ件数 = %d, want 1", logs.Len())
			}
			entry := logs.All()[0]
			if entry.Level != tt.wantLevel {
				t.Errorf("Level = %v, want %v", entry.Level, tt.wantLevel)
			}
			fields := entry.ContextMap()
			if fields["path"] != "/items/:id" {
				t.Errorf("path = %v, want /items/:id", fields["path"])
			}
			if fields["user_id"] != "user-1" {
				t.Errorf("user_id = %v, want user-1", fields["user_id"])
			}
			if fields["status"] != int64(tt.status) {
				t.Errorf("status = %v, want %d", fields["status"], tt.status)
			}
		})
	}
}
