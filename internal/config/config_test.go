package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "kpiboard.yml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "UTC", cfg.Location().String())
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kpiboard.yml")
	body := `timezone: Africa/Nairobi
upload_timeout: 45s
http:
  addr: ":9000"
  allowed_origins: ["https://board.example.com"]
evidence:
  backend: gcs
  bucket: from-file
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	t.Setenv("KPIBOARD_EVIDENCE_BUCKET", "from-env")
	t.Setenv("KPIBOARD_UPLOAD_TIMEOUT_SECONDS", "5")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Africa/Nairobi", cfg.TimeZone)
	assert.Equal(t, 5*time.Second, cfg.UploadTimeout)
	assert.Equal(t, ":9000", cfg.HTTP.Addr)
	assert.Equal(t, []string{"https://board.example.com"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, BackendGCS, cfg.Evidence.Backend)
	assert.Equal(t, "from-env", cfg.Evidence.Bucket)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad timezone", func(c *Config) { c.TimeZone = "Mars/Olympus" }},
		{"zero timeout", func(c *Config) { c.UploadTimeout = 0 }},
		{"gcs without bucket", func(c *Config) { c.Evidence.Backend = BackendGCS }},
		{"unknown backend", func(c *Config) { c.Evidence.Backend = "ftp" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestMarshalRoundTrip(t *testing.T) {
	data, err := Default().Marshal()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "kpiboard.yml")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
