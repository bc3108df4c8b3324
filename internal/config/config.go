// Package config loads the server configuration from YAML with environment
// variable overrides. Duration fields accept Go duration strings ("15m").
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env string `yaml:"env"`
	} `yaml:"app"`

	Server struct {
		Addr               string   `yaml:"addr"`
		CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	} `yaml:"server"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Storage struct {
		// postgres | memory
		Driver   string `yaml:"driver"`
		DSN      string `yaml:"dsn"`
		Postgres struct {
			MaxOpenConns    int    `yaml:"max_open_conns"`
			MaxIdleConns    int    `yaml:"max_idle_conns"`
			ConnMaxLifetime string `yaml:"conn_max_lifetime"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	Cache struct {
		// memory | redis
		Kind  string `yaml:"kind"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
		Memory struct {
			DefaultTTL string `yaml:"default_ttl"`
		} `yaml:"memory"`
	} `yaml:"cache"`

	JWT struct {
		Issuer     string `yaml:"issuer"`
		Audience   string `yaml:"audience"`
		AccessTTL  string `yaml:"access_ttl"`
		IDTokenTTL string `yaml:"id_token_ttl"`
		RefreshTTL string `yaml:"refresh_ttl"`
		CodeTTL    string `yaml:"code_ttl"`

		// Bootstrap key pair used when the datastore holds no signing keys
		// (first run). PEM-encoded PKCS#1/PKCS#8 RSA.
		Bootstrap struct {
			KID            string `yaml:"kid"`
			PrivateKeyPEM  string `yaml:"private_key_pem"`
			PrivateKeyFile string `yaml:"private_key_file"`
			PublicKeyPEM   string `yaml:"public_key_pem"`
			PublicKeyFile  string `yaml:"public_key_file"`
		} `yaml:"bootstrap"`
	} `yaml:"jwt"`

	Secrets struct {
		// bcrypt cost for client secrets. 0 means bcrypt.DefaultCost.
		BcryptCost int `yaml:"bcrypt_cost"`
	} `yaml:"secrets"`

	Auth struct {
		Session struct {
			CookieName string `yaml:"cookie_name"`
			TTL        string `yaml:"ttl"`
		} `yaml:"session"`
		// Login UI the authorize endpoint redirects to when no session exists.
		LoginURL string `yaml:"login_url"`
		// Consent UI for pending authorization requests.
		ConsentURL string `yaml:"consent_url"`
	} `yaml:"auth"`

	Cleanup struct {
		Enabled  bool   `yaml:"enabled"`
		Interval string `yaml:"interval"`
	} `yaml:"cleanup"`

	Email struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		From     string `yaml:"from"`
	} `yaml:"email"`
}

// Load reads the YAML file at path and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

// FromEnv builds a config purely from environment variables.
func FromEnv() *Config {
	cfg := &Config{}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyEnv() {
	setStr(&c.App.Env, "APP_ENV")
	setStr(&c.Server.Addr, "SERVER_ADDR")
	setStr(&c.Log.Level, "LOG_LEVEL")
	setStr(&c.Storage.Driver, "STORAGE_DRIVER")
	setStr(&c.Storage.DSN, "STORAGE_DSN")
	setStr(&c.Cache.Kind, "CACHE_KIND")
	setStr(&c.Cache.Redis.Addr, "REDIS_ADDR")
	setStr(&c.Cache.Redis.Password, "REDIS_PASSWORD")
	setInt(&c.Cache.Redis.DB, "REDIS_DB")
	setStr(&c.JWT.Issuer, "JWT_ISSUER")
	setStr(&c.JWT.Audience, "JWT_AUDIENCE")
	setStr(&c.JWT.AccessTTL, "JWT_ACCESS_TTL")
	setStr(&c.JWT.RefreshTTL, "JWT_REFRESH_TTL")
	setStr(&c.JWT.Bootstrap.KID, "JWT_BOOTSTRAP_KID")
	setStr(&c.JWT.Bootstrap.PrivateKeyFile, "JWT_BOOTSTRAP_PRIVATE_KEY_FILE")
	setStr(&c.JWT.Bootstrap.PublicKeyFile, "JWT_BOOTSTRAP_PUBLIC_KEY_FILE")
	setInt(&c.Secrets.BcryptCost, "SECRETS_BCRYPT_COST")
	setStr(&c.Auth.LoginURL, "AUTH_LOGIN_URL")
	setStr(&c.Auth.ConsentURL, "AUTH_CONSENT_URL")
	setStr(&c.Email.Host, "SMTP_HOST")
	setInt(&c.Email.Port, "SMTP_PORT")
	setStr(&c.Email.Username, "SMTP_USERNAME")
	setStr(&c.Email.Password, "SMTP_PASSWORD")
	setStr(&c.Email.From, "SMTP_FROM")
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "postgres"
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.JWT.Issuer == "" {
		c.JWT.Issuer = "http://localhost:8080"
	}
	if c.JWT.AccessTTL == "" {
		c.JWT.AccessTTL = "15m"
	}
	if c.JWT.IDTokenTTL == "" {
		c.JWT.IDTokenTTL = "15m"
	}
	if c.JWT.RefreshTTL == "" {
		c.JWT.RefreshTTL = "720h" // 30 days
	}
	if c.JWT.CodeTTL == "" {
		c.JWT.CodeTTL = "10m"
	}
	if c.Auth.Session.CookieName == "" {
		c.Auth.Session.CookieName = "fa_session"
	}
	if c.Auth.Session.TTL == "" {
		c.Auth.Session.TTL = "24h"
	}
	if c.Cleanup.Interval == "" {
		c.Cleanup.Interval = "1h"
	}
}

// AccessTTL returns the parsed access token TTL.
func (c *Config) AccessTTL() time.Duration { return durOr(c.JWT.AccessTTL, 15*time.Minute) }

// IDTokenTTL returns the parsed ID token TTL.
func (c *Config) IDTokenTTL() time.Duration { return durOr(c.JWT.IDTokenTTL, 15*time.Minute) }

// RefreshTTL returns the parsed refresh token TTL.
func (c *Config) RefreshTTL() time.Duration { return durOr(c.JWT.RefreshTTL, 30*24*time.Hour) }

// CodeTTL returns the parsed authorization code TTL.
func (c *Config) CodeTTL() time.Duration { return durOr(c.JWT.CodeTTL, 10*time.Minute) }

// SessionTTL returns the parsed login session TTL.
func (c *Config) SessionTTL() time.Duration { return durOr(c.Auth.Session.TTL, 24*time.Hour) }

// CleanupInterval returns the parsed cleanup interval.
func (c *Config) CleanupInterval() time.Duration { return durOr(c.Cleanup.Interval, time.Hour) }

// BootstrapPrivatePEM resolves the bootstrap private key (inline wins over file).
func (c *Config) BootstrapPrivatePEM() (string, error) {
	return resolvePEM(c.JWT.Bootstrap.PrivateKeyPEM, c.JWT.Bootstrap.PrivateKeyFile)
}

// BootstrapPublicPEM resolves the bootstrap public key (inline wins over file).
func (c *Config) BootstrapPublicPEM() (string, error) {
	return resolvePEM(c.JWT.Bootstrap.PublicKeyPEM, c.JWT.Bootstrap.PublicKeyFile)
}

func resolvePEM(inline, file string) (string, error) {
	if strings.TrimSpace(inline) != "" {
		return inline, nil
	}
	if file == "" {
		return "", nil
	}
	b, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("config: read key file %s: %w", file, err)
	}
	return string(b), nil
}

func durOr(s string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil && d > 0 {
		return d
	}
	return def
}

func setStr(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
