package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "")
	t.Setenv("JWT_SECRET", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.False(t, cfg.IsProduction())
	assert.Equal(t, StorageDisk, cfg.StorageBackend)
	assert.Equal(t, 5*time.Minute, cfg.MFAChallengeTTL)
	assert.Equal(t, 10*time.Minute, cfg.MFAEnrollmentTTL)
	assert.Equal(t, int64(100<<20), cfg.MaxUploadSize)
	assert.Equal(t, "UTC", cfg.Timezone.String())
	assert.NotEmpty(t, cfg.JWTSecret)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("MFA_CHALLENGE_TTL", "7m")
	t.Setenv("STORAGE_BACKEND", "S3")
	t.Setenv("AUDIT_WORKERS", "4")
	t.Setenv("PUBLIC_URL", "https://vault.example/")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 7*time.Minute, cfg.MFAChallengeTTL)
	assert.Equal(t, StorageS3, cfg.StorageBackend)
	assert.Equal(t, 4, cfg.AuditWorkers)
	assert.Equal(t, "https://vault.example", cfg.PublicURL)
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("COOKIE_DURATION", "forever")
	t.Setenv("MAX_UPLOAD_SIZE", "-1")
	t.Setenv("STORAGE_BACKEND", "tape")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COOKIE_DURATION")
	assert.Contains(t, err.Error(), "MAX_UPLOAD_SIZE")
	assert.Contains(t, err.Error(), "STORAGE_BACKEND")
}

func TestLoad_ProductionRequiresSecrets(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("COOKIE_AUTH_KEY", "")
	t.Setenv("MFA_SECRET_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required in Production")
}
