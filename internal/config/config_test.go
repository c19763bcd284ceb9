package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/matchlog/internal/ingest"
	"github.com/roach88/matchlog/internal/record"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "matchlog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Int("workers", 4, "")
	fs.Duration("rate-window", time.Second, "")
	fs.String("store", "", "")
	fs.Bool("patch-fence", false, "")
	fs.Int("unrelated", 0, "")
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.resolveRetry())
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 1, cfg.Rate.Limit)
	assert.Equal(t, time.Second, cfg.Rate.Window)
	assert.Equal(t, "standard", cfg.Retry.Profile)
	assert.Equal(t, 6, cfg.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Retry.Base)
	assert.Equal(t, 30*time.Second, cfg.Retry.Cap)
	assert.Equal(t, "dir:data/games/raw", cfg.Store)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
start_id: 31000000
end_id: 31000500
workers: 8
rate:
  limit: 20
  window: 10s
retry:
  profile: aggressive
  base: 2s
failure_policy: halt
patch_fence: true
api:
  key: secret
store: sqlite:data/raw.db
ledger: data/progress.db
log:
  level: debug
  format: json
`)
	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.EqualValues(t, 31000000, cfg.StartID)
	assert.EqualValues(t, 31000500, cfg.EndID)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, RateConfig{Limit: 20, Window: 10 * time.Second}, cfg.Rate)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Retry.Base)
	assert.Equal(t, 5*time.Second, cfg.Retry.Cap)
	assert.Equal(t, "halt", cfg.FailurePolicy)
	assert.True(t, cfg.PatchFence)
	assert.Equal(t, "secret", cfg.API.Key)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	assert.ErrorContains(t, err, "read config")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "workers: 8\nrate:\n  window: 10s\n")
	t.Setenv("MATCHLOG_WORKERS", "12")
	t.Setenv("MATCHLOG_RATE_WINDOW", "3s")
	t.Setenv("MATCHLOG_API_KEY", "from-env")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Workers)
	assert.Equal(t, 3*time.Second, cfg.Rate.Window)
	assert.Equal(t, "from-env", cfg.API.Key)
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("MATCHLOG_WORKERS", "12")
	flags := testFlags(t, "--workers=2", "--rate-window=5s", "--patch-fence")

	cfg, err := Load("", flags)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, 5*time.Second, cfg.Rate.Window)
	assert.True(t, cfg.PatchFence)
}

func TestLoad_UnsetFlagsKeepLowerLayers(t *testing.T) {
	path := writeConfig(t, "workers: 8\nstore: mem:\n")
	flags := testFlags(t)

	cfg, err := Load(path, flags)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, "mem:", cfg.Store)
	assert.Equal(t, time.Second, cfg.Rate.Window)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"zero limit", "rate:\n  limit: 0\n", "rate.limit"},
		{"zero window", "rate:\n  window: 0s\n", "rate.window"},
		{"no workers", "workers: 0\n", "workers"},
		{"start past end", "start_id: 10\nend_id: 5\n", "start_id"},
		{"bad policy", "failure_policy: retry\n", "failure_policy"},
		{"bad store", "store: ftp://example.com\n", "store"},
		{"bad url", "api:\n  base_url: open-api.bser.io\n", "api.base_url"},
		{"bad log level", "log:\n  level: loud\n", "log.level"},
		{"s3 without endpoint", "store: s3://bucket/raw\n", "s3.endpoint"},
		{"cap below base", "retry:\n  base: 10s\n  cap: 1s\n", "retry.cap"},
		{"empty ledger", "ledger: \"\"\n", "ledger"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml), nil)
			require.Error(t, err)
			assert.True(t, IsValidationError(err), "got %v", err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestLoad_UnknownRetryProfile(t *testing.T) {
	_, err := Load(writeConfig(t, "retry:\n  profile: reckless\n"), nil)
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
	assert.Contains(t, err.Error(), "retry.profile")
}

func TestValidate_ReportsEveryViolation(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.resolveRetry())
	cfg.Workers = 0
	cfg.Rate.Limit = -1

	err := cfg.Validate()
	require.Error(t, err)
	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	fields := make([]string, len(verrs))
	for i, v := range verrs {
		fields[i] = v.Field
	}
	assert.Contains(t, fields, "workers")
	assert.Contains(t, fields, "rate.limit")
}

func TestConverters(t *testing.T) {
	cfg := Default()
	cfg.StartID, cfg.EndID = 100, 200
	cfg.FailurePolicy = "halt"
	cfg.S3.Endpoint = "localhost:9000"
	cfg.StoreCacheSize = 512
	require.NoError(t, cfg.resolveRetry())

	gov := cfg.GovernorConfig()
	assert.Equal(t, 1, gov.Limit)
	assert.Equal(t, time.Second, gov.Window)

	opts := cfg.IngestOptions()
	assert.Equal(t, record.ID(100), opts.StartID)
	assert.Equal(t, record.ID(200), opts.UpperBound)
	assert.Equal(t, ingest.FailHalt, opts.FailurePolicy)
	assert.Equal(t, 6, opts.Retry.MaxAttempts)
	assert.NoError(t, opts.Validate())

	rc := cfg.RemoteConfig()
	assert.Equal(t, "https://open-api.bser.io", rc.BaseURL)

	so := cfg.StoreOptions()
	assert.Equal(t, 512, so.CacheSize)
	assert.Equal(t, "localhost:9000", so.S3.Endpoint)
}

func TestRedacted(t *testing.T) {
	cfg := Default()
	cfg.API.Key = "k"
	cfg.S3.SecretKey = "s"

	r := cfg.Redacted()
	assert.Equal(t, "REDACTED", r.API.Key)
	assert.Equal(t, "REDACTED", r.S3.SecretKey)
	assert.Equal(t, "k", cfg.API.Key)
}
