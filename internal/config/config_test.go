package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"ENV", "HOST", "ALLOWED_ORIGINS", "FRONTEND_URL", "STORE_BACKEND", "REDIS_URI", "FIREBASE_PROJECT_ID", "SESSION_TTL", "UPLOAD_BACKEND", "PUBLIC_BASE_URL"} {
		t.Setenv(k, "")
	}

	cfg := Load()
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, StoreMemory, cfg.StoreBackend)
	assert.Equal(t, UploadNone, cfg.UploadBackend)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.AllowedOrigins)
	assert.Equal(t, "http://localhost:3000", cfg.PublicBaseURL)
	assert.Equal(t, 7*24*time.Hour, cfg.SessionTTL)
	assert.Empty(t, cfg.AllowedHost)
	assert.False(t, cfg.FirebaseAuthEnabled)
	assert.True(t, cfg.LocalAuthEnabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoadProductionHostAndOrigins(t *testing.T) {
	t.Setenv("ENV", "Production")
	t.Setenv("HOST", "https://api.appshelf.dev:443/v1")
	t.Setenv("ALLOWED_ORIGINS", "https://app.example.com, https://appshelf.dev")

	cfg := Load()
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "api.appshelf.dev", cfg.AllowedHost)
	assert.Equal(t, []string{"https://app.example.com", "https://appshelf.dev", "https://www.appshelf.dev"}, cfg.AllowedOrigins)
}

func TestLoadDurationsAndBools(t *testing.T) {
	t.Setenv("SESSION_TTL", "2h")
	t.Setenv("SNAPSHOT_CACHE_TTL", "nonsense")
	t.Setenv("PRETTY_LOG", "false")
	t.Setenv("MINIO_USE_SSL", "true")

	cfg := Load()
	assert.Equal(t, 2*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 5*time.Minute, cfg.SnapshotCacheTTL)
	assert.False(t, cfg.PrettyLog)
	assert.True(t, cfg.MinioUseSSL)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Environment:      "development",
			StoreBackend:     StoreMemory,
			UploadBackend:    UploadNone,
			LocalAuthEnabled: true,
		}
	}
	require.NoError(t, base().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"firestore without project", func(c *Config) { c.StoreBackend = StoreFirestore }, "FIREBASE_PROJECT_ID"},
		{"unknown store", func(c *Config) { c.StoreBackend = "dynamo" }, "unknown STORE_BACKEND"},
		{"cloudinary without keys", func(c *Config) { c.UploadBackend = UploadCloudinary }, "CLOUDINARY_CLOUD_NAME"},
		{"minio without endpoint", func(c *Config) { c.UploadBackend = UploadMinio }, "MINIO_ENDPOINT"},
		{"no sign-in", func(c *Config) { c.LocalAuthEnabled = false }, "no sign-in method"},
		{"memory in production", func(c *Config) { c.Environment = "production"; c.RedisURI = "redis://r" }, "not allowed in production"},
		{"production without redis", func(c *Config) { c.Environment = "production"; c.StoreBackend = StoreMongo; c.MongoURI = "mongodb://m" }, "REDIS_URI"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			assert.ErrorContains(t, c.Validate(), tt.want)
		})
	}
}

func TestHostname(t *testing.T) {
	assert.Equal(t, "api.appshelf.dev", hostname("https://api.appshelf.dev/"))
	assert.Equal(t, "localhost", hostname("http://localhost:8080"))
	assert.Equal(t, "", hostname(""))
}
