package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
)

const defaultSecret = "change-me"

type Config struct {
	Port       string `env:"PORT" envDefault:"8080"`
	Env        string `env:"ENV"`
	DBAdapter  string `env:"DB_ADAPTER" envDefault:"postgres"`
	SQLiteFile string `env:"SQLITE_FILE" envDefault:"./data/countryauth.db"`

	RateLimitPerMinute int `env:"RATE_LIMIT_PER_MINUTE" envDefault:"60"`

	JWT      JWT      `envPrefix:"JWT_"`
	Postgres Postgres `envPrefix:"POSTGRES_"`
}

// JWT holds the token-service parameters. RefreshSecret empty means
// single-token mode: no refresh tokens, expired access tokens are
// reissued transparently.
type JWT struct {
	Issuer           string `env:"ISSUER" envDefault:"countryauth"`
	AccessSecret     string `env:"SECRET_FOR_ACCESS_TOKEN" envDefault:"change-me"`
	RefreshSecret    string `env:"SECRET_FOR_REFRESH_TOKEN"`
	AccessExpirySec  int    `env:"EXPIRY_ACCESS_TOKEN_IN_SEC" envDefault:"300"`
	RefreshExpirySec int    `env:"EXPIRY_REFRESH_TOKEN_IN_SEC" envDefault:"1209600"`
}

// Postgres holds connection settings; DSN wins over the parts.
type Postgres struct {
	DSN      string `env:"DSN"`
	Host     string `env:"HOST" envDefault:"localhost"`
	Port     string `env:"PORT" envDefault:"5432"`
	User     string `env:"USER" envDefault:"countryauth"`
	Password string `env:"PASSWORD"`
	DB       string `env:"DB" envDefault:"countryauth"`
	SSLMode  string `env:"SSLMODE" envDefault:"disable"`
}

// DualTokenMode reports whether refresh tokens are issued alongside
// access tokens.
func (c *Config) DualTokenMode() bool {
	return c.JWT.RefreshSecret != ""
}

// BuildPostgresDSN constructs a PostgreSQL DSN from individual components
// or returns the provided DSN.
func (c *Config) BuildPostgresDSN() (string, error) {
	if c.Postgres.DSN != "" {
		return c.Postgres.DSN, nil
	}
	if c.Postgres.Host == "" {
		return "", errors.New("POSTGRES_HOST or POSTGRES_DSN must be set")
	}
	if c.Postgres.User == "" {
		return "", errors.New("POSTGRES_USER must be set")
	}
	if c.Postgres.DB == "" {
		return "", errors.New("POSTGRES_DB must be set")
	}

	dsn := fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=%s",
		c.Postgres.Host, c.Postgres.Port, c.Postgres.User, c.Postgres.DB, c.Postgres.SSLMode)
	if c.Postgres.Password != "" {
		dsn += " password=" + c.Postgres.Password
	}
	return dsn, nil
}

func New() (*Config, error) {
	c := &Config{}
	if err := env.Parse(c); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	switch c.DBAdapter {
	case "postgres":
		dsn, err := c.BuildPostgresDSN()
		if err != nil {
			return nil, fmt.Errorf("postgres configuration error: %w", err)
		}
		c.Postgres.DSN = dsn
	case "sqlite":
		if c.SQLiteFile == "" {
			return nil, errors.New("SQLITE_FILE must be set when DB_ADAPTER=sqlite")
		}
	case "memory":
	default:
		return nil, fmt.Errorf("unsupported DB_ADAPTER: %s (supported: postgres, sqlite, memory)", c.DBAdapter)
	}

	if c.JWT.AccessExpirySec <= 0 || c.JWT.RefreshExpirySec <= 0 {
		return nil, errors.New("token expiry must be positive")
	}

	// Refuse placeholder secrets in production
	envName := strings.ToLower(c.Env)
	if envName == "production" || envName == "prod" {
		if c.JWT.AccessSecret == "" || c.JWT.AccessSecret == defaultSecret {
			return nil, errors.New("JWT_SECRET_FOR_ACCESS_TOKEN must be set in production")
		}
		if c.JWT.RefreshSecret == defaultSecret {
			return nil, errors.New("JWT_SECRET_FOR_REFRESH_TOKEN must not use the default value")
		}
	}

	if _, err := strconv.Atoi(c.Port); err != nil {
		return nil, fmt.Errorf("invalid PORT: %s", c.Port)
	}

	return c, nil
}
