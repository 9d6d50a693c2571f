// Package config は通知サービスの設定を読み込む。
//
// カレントディレクトリまたは./configのconfig.yamlを読み、環境変数で上書きする。
// 設定ファイルが無い場合は環境変数と既定値だけで動作する。
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config は通知サービスの全設定を保持する。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string `mapstructure:"PORT"`
	// Env は実行環境（development, production）。
	Env string `mapstructure:"ENV"`
	// LogLevel はログレベル（debug, info, warn, error）。
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// DatabasePath はSQLiteデータベースファイルのパス。":memory:"でインメモリ。
	DatabasePath string `mapstructure:"DATABASE_PATH"`
	// JWTSecret はJWTトークンの署名検証に使うシークレット。
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// EventStoreURL はドメインイベントの送信先。空の場合は送信しない。
	EventStoreURL string `mapstructure:"EVENTSTORE_URL"`
	// LockTTL は既読遷移ロックの有効期間。
	LockTTL time.Duration `mapstructure:"LOCK_TTL"`
	// TimeZone は期間フィルタの日境界を計算するタイムゾーン。
	TimeZone string `mapstructure:"TIME_ZONE"`
	// DefaultPageSize はpage_size未指定時のページサイズ。
	DefaultPageSize int `mapstructure:"DEFAULT_PAGE_SIZE"`
	// MaxPageSize は許可する最大ページサイズ。
	MaxPageSize int `mapstructure:"MAX_PAGE_SIZE"`
	// RateLimitPerMinute はユーザーごとの1分あたりのリクエスト上限。0で無制限。
	RateLimitPerMinute int `mapstructure:"RATE_LIMIT_PER_MINUTE"`
	// RateLimitBurst は瞬間的に許可するリクエスト数。
	RateLimitBurst int `mapstructure:"RATE_LIMIT_BURST"`
}

// defaults は各設定キーの既定値。
// AutomaticEnvで環境変数を拾うには、キーがviperに登録されている必要がある。
var defaults = map[string]any{
	"PORT":                  "8086",
	"ENV":                   "development",
	"LOG_LEVEL":             "info",
	"DATABASE_PATH":         "/data/notification.db",
	"JWT_SECRET":            "dev-secret-key",
	"EVENTSTORE_URL":        "",
	"LOCK_TTL":              "30s",
	"TIME_ZONE":             "UTC",
	"DEFAULT_PAGE_SIZE":     20,
	"MAX_PAGE_SIZE":         100,
	"RATE_LIMIT_PER_MINUTE": 600,
	"RATE_LIMIT_BURST":      50,
}

// Load は設定ファイルと環境変数から設定を読み込み、検証する。
// パスを指定した場合はそのディレクトリからconfig.yamlを探す。
func Load(paths ...string) (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("設定の展開に失敗: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate は設定値の整合性を検証する。
func (c Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("PORTが空です"))
	}
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("DATABASE_PATHが空です"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRETが空です"))
	}
	if c.Env == "production" && c.JWTSecret == defaults["JWT_SECRET"] {
		errs = append(errs, errors.New("本番環境で開発用のJWT_SECRETは使用できません"))
	}
	if c.LockTTL <= 0 {
		errs = append(errs, fmt.Errorf("LOCK_TTLは正の値を指定してください: %v", c.LockTTL))
	}
	if _, err := time.LoadLocation(c.TimeZone); err != nil {
		errs = append(errs, fmt.Errorf("TIME_ZONEが不正です: %w", err))
	}
	if c.MaxPageSize < 1 {
		errs = append(errs, fmt.Errorf("MAX_PAGE_SIZEは1以上を指定してください: %d", c.MaxPageSize))
	}
	if c.DefaultPageSize < 1 || c.DefaultPageSize > c.MaxPageSize {
		errs = append(errs, fmt.Errorf("DEFAULT_PAGE_SIZEは1以上MAX_PAGE_SIZE以下を指定してください: %d", c.DefaultPageSize))
	}
	if c.RateLimitPerMinute < 0 || c.RateLimitBurst < 1 {
		errs = append(errs, errors.New("RATE_LIMIT_PER_MINUTEは0以上、RATE_LIMIT_BURSTは1以上を指定してください"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("設定が不正です: %w", errors.Join(errs...))
	}
	return nil
}

// Location はTimeZoneに対応する*time.Locationを返す。Validate済みであること。
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}
