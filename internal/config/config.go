package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"github.com/nemonet1337/zaiGoBatch/pkg/batch"
	"github.com/nemonet1337/zaiGoBatch/pkg/inventory"
)

// Config holds application configuration
// アプリケーション設定を保持
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	API      APIConfig      `yaml:"api"`
	Batch    BatchConfig    `yaml:"batch"`
	Email    EmailConfig    `yaml:"email"`
	Lock     LockConfig     `yaml:"lock"`
	Logging  LoggingConfig  `yaml:"logging"`
	Debug    DebugConfig    `yaml:"debug"`
}

// DatabaseConfig holds database configuration
// データベース設定を保持
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	DBName          string        `yaml:"dbname"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// APIConfig holds API server configuration
// APIサーバー設定を保持
type APIConfig struct {
	Port          int           `yaml:"port"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	EnableCORS    bool          `yaml:"enable_cors"`
	EnableMetrics bool          `yaml:"enable_metrics"`
}

// BatchConfig holds the job date rules and run defaults
// バッチ処理設定を保持
type BatchConfig struct {
	DevelopmentMode   bool                 `yaml:"development_mode"`
	MaxDaysInPast     int                  `yaml:"max_days_in_past"`
	Timezone          string               `yaml:"timezone"`
	Department        string               `yaml:"department"`
	ExecutedBy        string               `yaml:"executed_by"`
	SpecialDateRanges []SpecialRangeConfig `yaml:"special_date_ranges"`
	DailyClose        DailyCloseConfig     `yaml:"daily_close"`
}

// SpecialRangeConfig is a recurring window in MM-DD form
type SpecialRangeConfig struct {
	Name string `yaml:"name"`
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// DailyCloseConfig holds the daily close timing rules
// 日次終了処理の時刻条件
type DailyCloseConfig struct {
	EarliestTime          string `yaml:"earliest_time"` // HH:MM
	MinMinutesAfterReport int    `yaml:"min_minutes_after_report"`
	MinMinutesAfterImport int    `yaml:"min_minutes_after_import"`
}

// EmailConfig holds the completion mail settings
// メール通知設定を保持
type EmailConfig struct {
	Enabled  bool     `yaml:"enabled"`
	SMTPHost string   `yaml:"smtp_host"`
	SMTPPort int      `yaml:"smtp_port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
	Subject  string   `yaml:"subject"`
}

// LockConfig holds the redis run lock settings
// 実行ロック設定を保持
type LockConfig struct {
	Enabled       bool          `yaml:"enabled"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	TTL           time.Duration `yaml:"ttl"`
}

// LoggingConfig holds logging configuration
// ログ設定を保持
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, console
	Output string `yaml:"output"` // stdout, stderr, ファイルパス
}

// DebugConfig holds key tracing settings
// デバッグ設定を保持
type DebugConfig struct {
	TrackKey string `yaml:"track_key"` // P-G-C-SMC-SMN
	TraceDir string `yaml:"trace_dir"`
}

// Default returns the built-in configuration
// デフォルト設定
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "inventory",
			Password:        "password",
			DBName:          "inventory_db",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    10,
			ConnMaxLifetime: 5 * time.Minute,
		},
		API: APIConfig{
			Port:          8080,
			ReadTimeout:   30 * time.Second,
			WriteTimeout:  30 * time.Second,
			IdleTimeout:   60 * time.Second,
			EnableCORS:    true,
			EnableMetrics: true,
		},
		Batch: BatchConfig{
			MaxDaysInPast: 7,
			Timezone:      "Asia/Tokyo",
			Department:    "DeptA",
			ExecutedBy:    "System",
			DailyClose: DailyCloseConfig{
				EarliestTime:          "15:00",
				MinMinutesAfterReport: 30,
				MinMinutesAfterImport: 5,
			},
		},
		Email: EmailConfig{
			SMTPPort: 25,
			Subject:  batch.DefaultCompletionSubject,
		},
		Lock: LockConfig{
			RedisAddr: "localhost:6379",
			TTL:       30 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load reads defaults, then the YAML file at path (if any), then environment overrides
// 設定ファイルと環境変数から設定を読み込み
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗しました: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("設定ファイルの解析に失敗しました: %w", err)
		}
	}

	cfg.applyEnv()

	// バリデーション
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定バリデーションに失敗しました: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = getEnvAsInt("DB_PORT", c.Database.Port)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.DBName = getEnv("DB_NAME", c.Database.DBName)
	c.Database.SSLMode = getEnv("DB_SSLMODE", c.Database.SSLMode)

	c.API.Port = getEnvAsInt("API_PORT", c.API.Port)
	c.API.ReadTimeout = getEnvAsDuration("API_READ_TIMEOUT", c.API.ReadTimeout)
	c.API.WriteTimeout = getEnvAsDuration("API_WRITE_TIMEOUT", c.API.WriteTimeout)
	c.API.IdleTimeout = getEnvAsDuration("API_IDLE_TIMEOUT", c.API.IdleTimeout)
	c.API.EnableCORS = getEnvAsBool("API_ENABLE_CORS", c.API.EnableCORS)
	c.API.EnableMetrics = getEnvAsBool("API_ENABLE_METRICS", c.API.EnableMetrics)

	c.Batch.DevelopmentMode = getEnvAsBool("BATCH_DEVELOPMENT_MODE", c.Batch.DevelopmentMode)
	c.Batch.MaxDaysInPast = getEnvAsInt("BATCH_MAX_DAYS_IN_PAST", c.Batch.MaxDaysInPast)
	c.Batch.Timezone = getEnv("BATCH_TIMEZONE", c.Batch.Timezone)
	c.Batch.Department = getEnv("BATCH_DEPARTMENT", c.Batch.Department)
	c.Batch.ExecutedBy = getEnv("BATCH_EXECUTED_BY", c.Batch.ExecutedBy)
	c.Batch.DailyClose.EarliestTime = getEnv("BATCH_DAILY_CLOSE_EARLIEST_TIME", c.Batch.DailyClose.EarliestTime)

	c.Email.Enabled = getEnvAsBool("EMAIL_ENABLED", c.Email.Enabled)
	c.Email.SMTPHost = getEnv("EMAIL_SMTP_HOST", c.Email.SMTPHost)
	c.Email.SMTPPort = getEnvAsInt("EMAIL_SMTP_PORT", c.Email.SMTPPort)
	c.Email.Username = getEnv("EMAIL_USERNAME", c.Email.Username)
	c.Email.Password = getEnv("EMAIL_PASSWORD", c.Email.Password)
	c.Email.From = getEnv("EMAIL_FROM", c.Email.From)
	c.Email.To = getEnvAsSlice("EMAIL_TO", c.Email.To)

	c.Lock.Enabled = getEnvAsBool("LOCK_ENABLED", c.Lock.Enabled)
	c.Lock.RedisAddr = getEnv("LOCK_REDIS_ADDR", c.Lock.RedisAddr)
	c.Lock.RedisPassword = getEnv("LOCK_REDIS_PASSWORD", c.Lock.RedisPassword)
	c.Lock.RedisDB = getEnvAsInt("LOCK_REDIS_DB", c.Lock.RedisDB)
	c.Lock.TTL = getEnvAsDuration("LOCK_TTL", c.Lock.TTL)

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)
	c.Logging.Output = getEnv("LOG_OUTPUT", c.Logging.Output)

	c.Debug.TrackKey = getEnv("DEBUG_TRACK_KEY", c.Debug.TrackKey)
	c.Debug.TraceDir = getEnv("DEBUG_TRACE_DIR", c.Debug.TraceDir)
}

// Validate validates the configuration
// 設定をバリデーション
func (c *Config) Validate() error {
	// データベース設定チェック
	if c.Database.Host == "" {
		return fmt.Errorf("データベースホストが指定されていません")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("無効なデータベースポート: %d", c.Database.Port)
	}
	if c.Database.User == "" {
		return fmt.Errorf("データベースユーザーが指定されていません")
	}
	if c.Database.DBName == "" {
		return fmt.Errorf("データベース名が指定されていません")
	}

	// API設定チェック
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("無効なAPIポート: %d", c.API.Port)
	}

	// バッチ設定チェック
	if c.Batch.MaxDaysInPast < 0 {
		return fmt.Errorf("過去日付の許容日数は0以上である必要があります: %d", c.Batch.MaxDaysInPast)
	}
	if _, err := time.LoadLocation(c.Batch.Timezone); err != nil {
		return fmt.Errorf("無効なタイムゾーン: %s", c.Batch.Timezone)
	}
	if _, err := c.SpecialRanges(); err != nil {
		return err
	}
	if _, err := parseClock(c.Batch.DailyClose.EarliestTime); err != nil {
		return err
	}
	if c.Batch.DailyClose.MinMinutesAfterReport < 0 || c.Batch.DailyClose.MinMinutesAfterImport < 0 {
		return fmt.Errorf("日次終了処理の待機時間は0以上である必要があります")
	}

	// メール設定チェック
	if c.Email.Enabled {
		if c.Email.SMTPHost == "" {
			return fmt.Errorf("SMTPホストが指定されていません")
		}
		if len(c.Email.To) == 0 {
			return fmt.Errorf("メール送信先が指定されていません")
		}
	}

	// ロック設定チェック
	if c.Lock.Enabled && c.Lock.RedisAddr == "" {
		return fmt.Errorf("Redisアドレスが指定されていません")
	}

	// ログ設定チェック
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("無効なログレベル: %s", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true, "console": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("無効なログフォーマット: %s", c.Logging.Format)
	}

	// デバッグ設定チェック
	if c.Debug.TrackKey != "" {
		if _, err := inventory.ParseInventoryKey(c.Debug.TrackKey); err != nil {
			return fmt.Errorf("無効な追跡キー: %w", err)
		}
	}

	return nil
}

// DSN generates PostgreSQL Data Source Name
// PostgreSQLデータソース名を生成
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

// Location returns the business time zone; an unknown zone falls back to JST.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Batch.Timezone)
	if err != nil {
		return batch.JST
	}
	return loc
}

// SpecialRanges parses the configured special date ranges
// 特殊日付範囲を変換
func (c *Config) SpecialRanges() ([]batch.SpecialRange, error) {
	out := make([]batch.SpecialRange, 0, len(c.Batch.SpecialDateRanges))
	for _, r := range c.Batch.SpecialDateRanges {
		sr, err := batch.ParseSpecialRange(r.Name, r.From, r.To)
		if err != nil {
			return nil, fmt.Errorf("特殊日付範囲 %q が不正です: %w", r.Name, err)
		}
		out = append(out, sr)
	}
	return out, nil
}

// DateValidation builds the date validator settings
// 日付検証の設定を生成
func (c *Config) DateValidation() batch.DateValidationConfig {
	ranges, _ := c.SpecialRanges()
	return batch.DateValidationConfig{
		DevelopmentMode: c.Batch.DevelopmentMode,
		MaxDaysInPast:   c.Batch.MaxDaysInPast,
		Location:        c.Location(),
		SpecialRanges:   ranges,
	}
}

// DailyCloseRules builds the daily close guard rules
// 日次終了処理の時刻条件を生成
func (c *Config) DailyCloseRules() batch.DailyCloseRules {
	earliest, err := parseClock(c.Batch.DailyClose.EarliestTime)
	if err != nil {
		earliest = batch.DefaultDailyCloseRules().EarliestTime
	}
	return batch.DailyCloseRules{
		EarliestTime:   earliest,
		MinAfterReport: time.Duration(c.Batch.DailyClose.MinMinutesAfterReport) * time.Minute,
		MinAfterImport: time.Duration(c.Batch.DailyClose.MinMinutesAfterImport) * time.Minute,
		SkipTiming:     c.Batch.DevelopmentMode,
	}
}

// EmailSettings builds the completion mail settings
func (c *Config) EmailSettings() batch.EmailSettings {
	return batch.EmailSettings{
		Enabled: c.Email.Enabled,
		To:      c.Email.To,
		Subject: c.Email.Subject,
	}
}

// TrackKey returns the configured key to trace, or nil
func (c *Config) TrackKey() *inventory.InventoryKey {
	if c.Debug.TrackKey == "" {
		return nil
	}
	key, err := inventory.ParseInventoryKey(c.Debug.TrackKey)
	if err != nil {
		return nil
	}
	return &key
}

var errClockFormat = errors.New("HH:MM形式で指定してください")

// parseClock converts HH:MM to an offset from midnight
func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("無効な日次終了可能時刻 %q: %w", s, errClockFormat)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// ヘルパー関数

// getEnv gets environment variable with default value
// デフォルト値付きで環境変数を取得
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets environment variable as integer with default value
// デフォルト値付きで環境変数を整数として取得
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsBool gets environment variable as boolean with default value
// デフォルト値付きで環境変数をbooleanとして取得
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsDuration gets environment variable as duration with default value
// デフォルト値付きで環境変数をdurationとして取得
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvAsSlice splits a comma separated variable
// カンマ区切りの環境変数をスライスとして取得
func getEnvAsSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
