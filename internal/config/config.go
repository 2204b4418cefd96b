// Package config reads the service configuration from the environment.
// A .env file, when present, is loaded first by main via godotenv.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StorageDisk = "disk"
	StorageS3   = "s3"
)

type Config struct {
	Environment string
	ListenAddr  string
	ListenPort  string
	PublicURL   string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	JWTSecret      string
	AccessTokenTTL time.Duration
	CookieAuthKey  string
	CookieDuration time.Duration
	AllowedOrigins []string

	StorageBackend  string
	FileStoragePath string
	S3Endpoint      string
	S3Region        string
	S3Bucket        string
	S3AccessKey     string
	S3SecretKey     string
	MaxUploadSize   int64
	FileRetention   time.Duration

	MFAIssuer        string
	MFASecretKey     string
	MFAChallengeTTL  time.Duration
	MFAEnrollmentTTL time.Duration

	Timezone      *time.Location
	CountryHeader string

	EmailAddress    string
	MetricsPassword string

	AuditQueueSize int
	AuditWorkers   int

	LoginRate string
	MFARate   string
}

// IsProduction reports whether ENVIRONMENT is "Production" (case-insensitive).
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "Production")
}

// DSN builds the lib/pq connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName)
}

// Load builds a Config from environment variables, applying development
// defaults for anything unset.
func Load() (*Config, error) {
	var errList []error
	c := &Config{
		Environment:     getenv("ENVIRONMENT", "Development"),
		ListenAddr:      getenv("LISTEN_ADDR", "127.0.0.1"),
		ListenPort:      getenv("LISTEN_PORT", "8080"),
		PublicURL:       strings.TrimRight(getenv("PUBLIC_URL", "http://localhost:8080"), "/"),
		DBHost:          getenv("DB_HOST", "localhost"),
		DBPort:          getenv("DB_PORT", "5432"),
		DBUser:          getenv("DB_USER", "postgres"),
		DBPassword:      getenv("DB_PASSWORD", "postgres"),
		DBName:          getenv("DB_NAME", "vault"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		CookieAuthKey:   os.Getenv("COOKIE_AUTH_KEY"),
		StorageBackend:  strings.ToLower(getenv("STORAGE_BACKEND", StorageDisk)),
		FileStoragePath: getenv("FILE_STORAGE_PATH", "./storage"),
		S3Endpoint:      os.Getenv("S3_ENDPOINT"),
		S3Region:        getenv("S3_REGION", "us-east-1"),
		S3Bucket:        getenv("S3_BUCKET", "vault"),
		S3AccessKey:     os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:     os.Getenv("S3_SECRET_KEY"),
		MFAIssuer:       getenv("MFA_ISSUER", "GDrive Vault"),
		MFASecretKey:    os.Getenv("MFA_SECRET_KEY"),
		CountryHeader:   getenv("COUNTRY_HEADER", "CF-IPCountry"),
		EmailAddress:    os.Getenv("EMAIL_ADDRESS"),
		MetricsPassword: os.Getenv("METRICS_PASSWORD"),
		LoginRate:       getenv("LOGIN_RATE", "10-M"),
		MFARate:         getenv("MFA_RATE", "5-M"),
	}

	for _, o := range strings.Split(getenv("ALLOWED_ORIGINS", "http://localhost:3000"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			c.AllowedOrigins = append(c.AllowedOrigins, o)
		}
	}

	durations := []struct {
		key  string
		def  string
		dest *time.Duration
	}{
		{"ACCESS_TOKEN_TTL", "1h", &c.AccessTokenTTL},
		{"COOKIE_DURATION", "24h", &c.CookieDuration},
		{"FILE_RETENTION", "720h", &c.FileRetention},
		{"MFA_CHALLENGE_TTL", "5m", &c.MFAChallengeTTL},
		{"MFA_ENROLLMENT_TTL", "10m", &c.MFAEnrollmentTTL},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(getenv(d.key, d.def))
		if err != nil {
			errList = append(errList, fmt.Errorf("invalid %s: %w", d.key, err))
			continue
		}
		*d.dest = v
	}

	ints := []struct {
		key  string
		def  int64
		dest func(int64)
	}{
		{"MAX_UPLOAD_SIZE", 100 << 20, func(v int64) { c.MaxUploadSize = v }},
		{"AUDIT_QUEUE_SIZE", 1024, func(v int64) { c.AuditQueueSize = int(v) }},
		{"AUDIT_WORKERS", 2, func(v int64) { c.AuditWorkers = int(v) }},
	}
	for _, i := range ints {
		raw := os.Getenv(i.key)
		if raw == "" {
			i.dest(i.def)
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v <= 0 {
			errList = append(errList, fmt.Errorf("invalid %s '%s'", i.key, raw))
			continue
		}
		i.dest(v)
	}

	tz, err := time.LoadLocation(getenv("TIMEZONE", "UTC"))
	if err != nil {
		errList = append(errList, fmt.Errorf("invalid TIMEZONE: %w", err))
	}
	c.Timezone = tz

	if c.StorageBackend != StorageDisk && c.StorageBackend != StorageS3 {
		errList = append(errList, fmt.Errorf("invalid STORAGE_BACKEND '%s'", c.StorageBackend))
	}

	// Secrets have no usable default outside development.
	if c.JWTSecret == "" || c.CookieAuthKey == "" || c.MFASecretKey == "" {
		if c.IsProduction() {
			errList = append(errList, errors.New("JWT_SECRET, COOKIE_AUTH_KEY and MFA_SECRET_KEY are required in Production"))
		}
		c.JWTSecret = orDefault(c.JWTSecret, "development-jwt-secret-change-me")
		c.CookieAuthKey = orDefault(c.CookieAuthKey, "development-cookie-key-change-me!")
		c.MFASecretKey = orDefault(c.MFASecretKey, "development-mfa-key-change-me")
	}
	if len(c.JWTSecret) < 16 {
		errList = append(errList, errors.New("JWT_SECRET must be at least 16 characters"))
	}

	if len(errList) > 0 {
		return nil, errors.Join(errList...)
	}
	return c, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
