package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	// テスト実行
	cfg, err := Load("")

	// アサーション
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Batch.MaxDaysInPast)
	assert.Equal(t, "DeptA", cfg.Batch.Department)
	assert.Equal(t, "System", cfg.Batch.ExecutedBy)
	assert.False(t, cfg.Lock.Enabled)
	assert.Equal(t, "在庫管理システム - 日次終了処理完了通知", cfg.Email.Subject)

	rules := cfg.DailyCloseRules()
	assert.Equal(t, 15*time.Hour, rules.EarliestTime)
	assert.Equal(t, 30*time.Minute, rules.MinAfterReport)
	assert.Equal(t, 5*time.Minute, rules.MinAfterImport)
	assert.False(t, rules.SkipTiming)
	assert.Nil(t, cfg.TrackKey())
}

func TestLoad_YAMLAndEnvironment(t *testing.T) {
	path := writeConfig(t, `
batch:
  development_mode: true
  max_days_in_past: 14
  special_date_ranges:
    - name: 棚卸
      from: "03-30"
      to: "04-02"
  daily_close:
    earliest_time: "16:30"
email:
  enabled: true
  smtp_host: mail.local
  to: [ops@example.com]
debug:
  track_key: "104-0-0-0-"
`)
	t.Setenv("BATCH_MAX_DAYS_IN_PAST", "3")
	t.Setenv("EMAIL_TO", "a@example.com, b@example.com")

	// テスト実行
	cfg, err := Load(path)

	// アサーション
	require.NoError(t, err)
	assert.True(t, cfg.Batch.DevelopmentMode)
	assert.Equal(t, 3, cfg.Batch.MaxDaysInPast)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, cfg.Email.To)

	dv := cfg.DateValidation()
	require.Len(t, dv.SpecialRanges, 1)
	assert.Equal(t, "棚卸", dv.SpecialRanges[0].Name)
	assert.Equal(t, time.March, dv.SpecialRanges[0].FromMonth)
	assert.Equal(t, 2, dv.SpecialRanges[0].ToDay)

	rules := cfg.DailyCloseRules()
	assert.Equal(t, 16*time.Hour+30*time.Minute, rules.EarliestTime)
	assert.True(t, rules.SkipTiming)

	key := cfg.TrackKey()
	require.NotNil(t, key)
	assert.Equal(t, "00104", key.ProductCode)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "設定ファイルの読み込みに失敗しました")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"正常", func(*Config) {}, ""},
		{"DBホストなし", func(c *Config) { c.Database.Host = "" }, "データベースホストが指定されていません"},
		{"APIポート不正", func(c *Config) { c.API.Port = 70000 }, "無効なAPIポート"},
		{"過去日数が負", func(c *Config) { c.Batch.MaxDaysInPast = -1 }, "過去日付の許容日数"},
		{"タイムゾーン不正", func(c *Config) { c.Batch.Timezone = "Mars/Base" }, "無効なタイムゾーン"},
		{"特殊日付範囲不正", func(c *Config) {
			c.Batch.SpecialDateRanges = []SpecialRangeConfig{{Name: "x", From: "13-01", To: "01-02"}}
		}, "特殊日付範囲"},
		{"終了可能時刻不正", func(c *Config) { c.Batch.DailyClose.EarliestTime = "3pm" }, "無効な日次終了可能時刻"},
		{"メール送信先なし", func(c *Config) { c.Email.Enabled = true; c.Email.SMTPHost = "h" }, "メール送信先が指定されていません"},
		{"Redisアドレスなし", func(c *Config) { c.Lock.Enabled = true; c.Lock.RedisAddr = "" }, "Redisアドレス"},
		{"ログレベル不正", func(c *Config) { c.Logging.Level = "trace" }, "無効なログレベル"},
		{"追跡キー不正", func(c *Config) { c.Debug.TrackKey = "104" }, "無効な追跡キー"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			// テスト実行
			err := cfg.Validate()

			// アサーション
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConfig_DSN(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "host=localhost port=5432 user=inventory password=password dbname=inventory_db sslmode=disable", cfg.DSN())
}
