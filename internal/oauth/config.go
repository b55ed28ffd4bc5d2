package oauth

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Registration modes for the client registration endpoint.
const (
	DCRModeOpen      = "open"
	DCRModeProtected = "protected"
	DCRModeDisabled  = "disabled"
)

// Config controls token lifetimes and protocol policy.
type Config struct {
	Issuer          string        `env:"OAUTH_ISSUER,required"`
	Audience        string        `env:"OAUTH_AUDIENCE"`
	AccessTokenTTL  time.Duration `env:"OAUTH_ACCESS_TOKEN_TTL" envDefault:"1h"`
	RefreshTokenTTL time.Duration `env:"OAUTH_REFRESH_TOKEN_TTL" envDefault:"720h"`
	AuthCodeTTL     time.Duration `env:"OAUTH_AUTH_CODE_TTL" envDefault:"10m"`

	// ReuseRevokesFamily revokes every token in a family when a used refresh
	// token or consumed code is presented again. When false the attempt is
	// refused and logged only.
	ReuseRevokesFamily bool `env:"OAUTH_REUSE_REVOKES_FAMILY" envDefault:"true"`

	DCRMode        string        `env:"OAUTH_DCR_MODE" envDefault:"protected"`
	DCRAccessToken string        `env:"OAUTH_DCR_ACCESS_TOKEN"`
	ClientCacheTTL time.Duration `env:"OAUTH_CLIENT_CACHE_TTL" envDefault:"5m"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	DatabaseURL     string        `env:"OAUTH_DATABASE_URL"`
	FallbackURL     string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"OAUTH_DB_MAX_OPEN_CONNS" envDefault:"5"`
	MaxIdleConns    int           `env:"OAUTH_DB_MAX_IDLE_CONNS" envDefault:"2"`
	ConnMaxLifetime time.Duration `env:"OAUTH_DB_CONN_MAX_LIFETIME" envDefault:"5m"`
	RedisURL        string        `env:"REDIS_URL"`
}

// KeyConfig locates the RS256 signing key.
type KeyConfig struct {
	PrivateKeyPEM     string `env:"OAUTH_PRIVATE_KEY_PEM"`
	PrivateKeyPath    string `env:"OAUTH_PRIVATE_KEY_PATH"`
	AllowEphemeralKey bool   `env:"OAUTH_ALLOW_EPHEMERAL_KEY" envDefault:"false"`
}

// LoadConfigFromEnv parses and validates Config.
func LoadConfigFromEnv() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("oauth config: %w", err)
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadStoreConfigFromEnv parses StoreConfig.
func LoadStoreConfigFromEnv() (StoreConfig, error) {
	cfg, err := env.ParseAs[StoreConfig]()
	if err != nil {
		return StoreConfig{}, fmt.Errorf("oauth store config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = cfg.FallbackURL
	}
	if cfg.DatabaseURL == "" {
		return StoreConfig{}, fmt.Errorf("OAUTH_DATABASE_URL or DATABASE_URL is required")
	}
	return cfg, nil
}

// LoadKeyConfigFromEnv parses KeyConfig.
func LoadKeyConfigFromEnv() (KeyConfig, error) {
	cfg, err := env.ParseAs[KeyConfig]()
	if err != nil {
		return KeyConfig{}, fmt.Errorf("oauth key config: %w", err)
	}
	return cfg, nil
}

func (c Config) withDefaults() Config {
	c.Issuer = strings.TrimRight(c.Issuer, "/")
	if c.Audience == "" {
		c.Audience = c.Issuer
	}
	if c.DCRMode == "" {
		c.DCRMode = DCRModeProtected
	}
	return c
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	u, err := url.Parse(c.Issuer)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("OAUTH_ISSUER must be an absolute URL, got %q", c.Issuer)
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 || c.AuthCodeTTL <= 0 {
		return fmt.Errorf("token lifetimes must be positive")
	}
	if c.RefreshTokenTTL <= c.AccessTokenTTL {
		return fmt.Errorf("OAUTH_REFRESH_TOKEN_TTL must exceed OAUTH_ACCESS_TOKEN_TTL")
	}
	switch c.DCRMode {
	case DCRModeOpen, DCRModeProtected, DCRModeDisabled:
	default:
		return fmt.Errorf("OAUTH_DCR_MODE must be open, protected or disabled, got %q", c.DCRMode)
	}
	return nil
}
