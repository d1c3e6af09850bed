// Package config loads configuration from environment variables and flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/nanome-ai/plugin-vault/internal/crypto"
)

// Config holds all vault server configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Filesystem layout
	VaultRoot  string
	AssetDir   string
	UploadsDir string

	// TLS (optional, both must be set)
	TLSCertFile string
	TLSKeyFile  string

	// Retention
	KeepFilesDays int

	// Presentation
	UIMessage string

	// Auth
	EnableAuth bool
	JWTSecret  string
	APIKey     string

	// Quotas
	UserStorage       int64 // bytes, 0 = unlimited
	RequestsPerMinute int   // 0 = unlimited
	MaxUploadSize     int64

	// Crypto
	KDFIterations int

	// Archive backend for expired files ("", "local" or "s3")
	ArchiveBackend   string
	ArchiveLocalPath string

	// S3 archive
	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
}

// DefaultKDFIterations is the PBKDF2 work factor for new locks.
const DefaultKDFIterations = crypto.DefaultIters

// Load reads configuration from environment variables with defaults, then
// applies any command-line overrides found in args.
func Load(args []string) (*Config, error) {
	userStorage, err := parseSize(envOr("USER_STORAGE", "0"))
	if err != nil {
		return nil, fmt.Errorf("USER_STORAGE: %w", err)
	}

	cfg := &Config{
		ListenAddr:        envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr:       envOr("METRICS_ADDR", ":9090"),
		LogLevel:          envOr("LOG_LEVEL", "info"),
		LogFormat:         envOr("LOG_FORMAT", "json"),
		VaultRoot:         envOr("VAULT_ROOT", defaultVaultRoot()),
		AssetDir:          envOr("ASSET_DIR", ""),
		UploadsDir:        envOr("UPLOADS_DIR", filepath.Join(os.TempDir(), "nanome-vault")),
		TLSCertFile:       envOr("TLS_CERT_FILE", ""),
		TLSKeyFile:        envOr("TLS_KEY_FILE", ""),
		KeepFilesDays:     envInt("KEEP_FILES_DAYS", 0),
		UIMessage:         envOr("UI_MESSAGE", ""),
		EnableAuth:        envBool("ENABLE_AUTH", false),
		JWTSecret:         envOr("JWT_SECRET", ""),
		APIKey:            envOr("API_KEY", ""),
		UserStorage:       userStorage,
		RequestsPerMinute: envInt("REQUESTS_PER_MINUTE", 0),
		MaxUploadSize:     envInt64("MAX_UPLOAD_SIZE", 512*1024*1024), // 512MB default
		KDFIterations:     envInt("KDF_ITERATIONS", DefaultKDFIterations),
		ArchiveBackend:    envOr("ARCHIVE_BACKEND", ""),
		ArchiveLocalPath:  envOr("ARCHIVE_LOCAL_PATH", ""),
		S3Endpoint:        envOr("S3_ENDPOINT", "http://localhost:9000"),
		S3Bucket:          envOr("S3_BUCKET", "nanome-vault"),
		S3AccessKey:       envOr("S3_ACCESS_KEY", ""),
		S3SecretKey:       envOr("S3_SECRET_KEY", ""),
		S3Region:          envOr("S3_REGION", "us-east-1"),
	}

	if err := cfg.parseFlags(args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) parseFlags(args []string) error {
	fs := pflag.NewFlagSet("vault-server", pflag.ContinueOnError)
	fs.StringVar(&c.VaultRoot, "vault-root", c.VaultRoot, "directory holding vault files")
	fs.StringVar(&c.AssetDir, "asset-dir", c.AssetDir, "directory of web UI assets (embedded UI when empty)")
	fs.StringVar(&c.UploadsDir, "uploads-dir", c.UploadsDir, "scratch directory for chunked uploads")
	fs.StringVar(&c.ListenAddr, "listen", c.ListenAddr, "HTTP listen address")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "metrics listen address, empty disables")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "json or console")
	fs.StringVar(&c.TLSCertFile, "tls-cert", c.TLSCertFile, "TLS certificate file")
	fs.StringVar(&c.TLSKeyFile, "tls-key", c.TLSKeyFile, "TLS key file")
	fs.IntVar(&c.KeepFilesDays, "keep-files-days", c.KeepFilesDays, "remove files not accessed for this many days (0 keeps forever)")
	fs.StringVar(&c.UIMessage, "ui-message", c.UIMessage, "message shown by the web UI")
	fs.BoolVar(&c.EnableAuth, "enable-auth", c.EnableAuth, "require bearer tokens and scope paths to accounts")
	fs.StringVar(&c.APIKey, "api-key", c.APIKey, "shared key accepted in the X-API-Key header")
	fs.IntVar(&c.RequestsPerMinute, "requests-per-minute", c.RequestsPerMinute, "per-principal request limit (0 is unlimited)")
	fs.IntVar(&c.KDFIterations, "kdf-iterations", c.KDFIterations, "PBKDF2 iterations for new locks")
	userStorage := fs.String("user-storage", "", "per-account storage limit, e.g. 500MB")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userStorage != "" {
		n, err := parseSize(*userStorage)
		if err != nil {
			return fmt.Errorf("--user-storage: %w", err)
		}
		c.UserStorage = n
	}
	return nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.VaultRoot == "" {
		return fmt.Errorf("VAULT_ROOT is required")
	}
	if c.EnableAuth && c.JWTSecret == "" && c.APIKey == "" {
		return fmt.Errorf("ENABLE_AUTH requires JWT_SECRET or API_KEY")
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return fmt.Errorf("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}
	if c.KDFIterations < 1 || c.KDFIterations > crypto.MaxIters {
		return fmt.Errorf("KDF_ITERATIONS must be between 1 and %d", crypto.MaxIters)
	}
	switch c.ArchiveBackend {
	case "":
	case "local":
		if c.ArchiveLocalPath == "" {
			return fmt.Errorf("ARCHIVE_LOCAL_PATH is required for the local archive backend")
		}
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required for the s3 archive backend")
		}
	default:
		return fmt.Errorf("unknown ARCHIVE_BACKEND %q", c.ArchiveBackend)
	}
	return nil
}

// TLSEnabled reports whether the server should serve HTTPS.
func (c *Config) TLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

func defaultVaultRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "nanome-vault"
	}
	return filepath.Join(home, "Documents", "nanome-vault")
}

// parseSize accepts plain byte counts and human sizes like "500MB".
func parseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}
