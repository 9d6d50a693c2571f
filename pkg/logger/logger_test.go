package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

// TestNew はNew関数を検証する。
func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		env     string
		level   string
		want    zapcore.Level
		wantErr bool
	}{
		{name: "本番環境でinfoレベルのロガーを生成できること", env: "production", level: "info", want: zapcore.InfoLevel},
		{name: "開発環境でdebugレベルのロガーを生成できること", env: "development", level: "debug", want: zapcore.DebugLevel},
		{name: "不正なログレベルはエラーになること", env: "development", level: "verbose", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			logger, err := New(tt.env, tt.level)
			if tt.wantErr {
				if err == nil {
					t.Fatal("エラーが返されなかった")
				}
				return
			}
			if err != nil {
				t.Fatalf("New()でエラーが発生: %v", err)
			}
			if !logger.Core().Enabled(tt.want) {
				t.Errorf("レベル%vが有効になっていない", tt.want)
			}
			if tt.want > zapcore.DebugLevel && logger.Core().Enabled(tt.want-1) {
				t.Errorf("レベル%vより下が有効になっている", tt.want)
			}
		})
	}
}
