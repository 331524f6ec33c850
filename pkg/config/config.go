package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable read by Load.
const EnvPrefix = "CMS_"

// MinSecretLength is the shortest accepted token signing secret.
const MinSecretLength = 32

type Config struct {
	Addr            string   `yaml:"addr" toml:"addr" env:"ADDR"`
	DataDir         string   `yaml:"data_dir" toml:"data_dir" env:"DATA_DIR"`
	I18nDir         string   `yaml:"i18n_dir" toml:"i18n_dir" env:"I18N_DIR"`
	MediaDir        string   `yaml:"media_dir" toml:"media_dir" env:"MEDIA_DIR"`
	MediaPublicPath string   `yaml:"media_public_path" toml:"media_public_path" env:"MEDIA_PUBLIC_PATH"`
	RequestLogPath  string   `yaml:"request_log_path" toml:"request_log_path" env:"REQUEST_LOG_PATH"`
	MaxUploadBytes  int64    `yaml:"max_upload_bytes" toml:"max_upload_bytes" env:"MAX_UPLOAD_BYTES"`
	CORSOrigins     []string `yaml:"cors_origins" toml:"cors_origins" env:"CORS_ORIGINS" envSeparator:","`

	Database DatabaseConfig `yaml:"database" toml:"database" envPrefix:"DB_"`
	Auth     AuthConfig     `yaml:"auth" toml:"auth" envPrefix:"AUTH_"`
	Contact  ContactConfig  `yaml:"contact" toml:"contact" envPrefix:"CONTACT_"`
	Mail     MailConfig     `yaml:"mail" toml:"mail" envPrefix:"MAIL_"`
	Log      LogConfig      `yaml:"log" toml:"log" envPrefix:"LOG_"`
}

// DatabaseConfig selects the optional database tier. An empty DSN disables it.
type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver" env:"DRIVER"`
	DSN    string `yaml:"dsn" toml:"dsn" env:"DSN"`

	BreakerTimeout    time.Duration `yaml:"-" toml:"-" env:"BREAKER_TIMEOUT"`
	BreakerTimeoutRaw string        `yaml:"breaker_timeout" toml:"breaker_timeout"`
}

type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret" toml:"jwt_secret" env:"JWT_SECRET"`
	OperatorUsername string `yaml:"operator_username" toml:"operator_username" env:"OPERATOR_USERNAME"`
	OperatorPassword string `yaml:"operator_password" toml:"operator_password" env:"OPERATOR_PASSWORD"`
	LoginRateLimit   int    `yaml:"login_rate_limit" toml:"login_rate_limit" env:"LOGIN_RATE_LIMIT"`

	TokenTTL    time.Duration `yaml:"-" toml:"-" env:"TOKEN_TTL"`
	TokenTTLRaw string        `yaml:"token_ttl" toml:"token_ttl"`
}

type ContactConfig struct {
	RateLimit     int    `yaml:"rate_limit" toml:"rate_limit" env:"RATE_LIMIT"`
	AdminEmail    string `yaml:"admin_email" toml:"admin_email" env:"ADMIN_EMAIL"`
	SubjectPrefix string `yaml:"subject_prefix" toml:"subject_prefix" env:"SUBJECT_PREFIX"`
}

// MailConfig holds SMTP settings. With no host, notifications are only logged.
type MailConfig struct {
	Host     string `yaml:"host" toml:"host" env:"HOST"`
	Port     int    `yaml:"port" toml:"port" env:"PORT"`
	Username string `yaml:"username" toml:"username" env:"USERNAME"`
	Password string `yaml:"password" toml:"password" env:"PASSWORD"`
	From     string `yaml:"from" toml:"from" env:"FROM"`
}

type LogConfig struct {
	Level  string `yaml:"level" toml:"level" env:"LEVEL"`
	Format string `yaml:"format" toml:"format" env:"FORMAT"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Addr:            ":8080",
		DataDir:         "./src/data",
		I18nDir:         "./src/i18n",
		MediaDir:        "./public/src/assets/images",
		MediaPublicPath: "src/assets/images",
		RequestLogPath:  "./forms/requests.jsonl",
		MaxUploadBytes:  20 << 20,
		CORSOrigins:     []string{"*"},
		Database: DatabaseConfig{
			Driver:         "sqlite",
			BreakerTimeout: 30 * time.Second,
		},
		Auth: AuthConfig{
			OperatorUsername: "admin",
			LoginRateLimit:   10,
			TokenTTL:         12 * time.Hour,
		},
		Contact: ContactConfig{
			RateLimit:     5,
			AdminEmail:    "contact@sbainteractive.com",
			SubjectPrefix: "[SBA Interactive] ",
		},
		Mail: MailConfig{
			Port: 587,
			From: "no-reply@sbainteractive.com",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, an optional .env file, an
// optional YAML or TOML file at path, and CMS_* environment variables, in
// that order of increasing precedence.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := Default()

	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	expanded := []byte(expandEnvVars(string(data)))

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(expanded, cfg)
	case ".toml":
		err = toml.Unmarshal(expanded, cfg)
	default:
		return fmt.Errorf("unsupported config file extension %q", ext)
	}
	if err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} with the variable's value, or "" when unset.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func parseDurations(cfg *Config) error {
	var err error

	if cfg.Auth.TokenTTLRaw != "" {
		cfg.Auth.TokenTTL, err = time.ParseDuration(cfg.Auth.TokenTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing auth.token_ttl %q: %w", cfg.Auth.TokenTTLRaw, err)
		}
	}

	if cfg.Database.BreakerTimeoutRaw != "" {
		cfg.Database.BreakerTimeout, err = time.ParseDuration(cfg.Database.BreakerTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing database.breaker_timeout %q: %w", cfg.Database.BreakerTimeoutRaw, err)
		}
	}

	return nil
}

// Validate reports the first invalid or missing setting.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if c.DataDir == "" || c.I18nDir == "" {
		return fmt.Errorf("data_dir and i18n_dir are required")
	}
	if c.MediaDir == "" || c.MediaPublicPath == "" {
		return fmt.Errorf("media_dir and media_public_path are required")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be positive")
	}

	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver %q is not supported (sqlite, postgres)", c.Database.Driver)
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < MinSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", MinSecretLength)
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}

	return nil
}

// MediaURLPrefix is the URL path the media directory is served under.
func (c *Config) MediaURLPrefix() string {
	return "/" + strings.Trim(c.MediaPublicPath, "/")
}
