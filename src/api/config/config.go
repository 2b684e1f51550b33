package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

var (
	ErrMissingDSN        = errors.New("config: mysql.dsn is required")
	ErrMissingJWTSecret  = errors.New("config: auth.jwt_secret is required")
	ErrMissingClassifier = errors.New("config: classifier.endpoint is required")
)

// DefaultPaths are searched in order when AIDLE_CONFIG is unset.
var DefaultPaths = []string{"config/api.toml", "/etc/aidle/api.toml"}

type Config struct {
	Port       string     `koanf:"port"`
	AppURL     string     `koanf:"app_url"`
	Log        Log        `koanf:"log"`
	MySQL      MySQL      `koanf:"mysql"`
	Redis      Redis      `koanf:"redis"`
	Auth       Auth       `koanf:"auth"`
	Service    Service    `koanf:"service"`
	Plan       Plan       `koanf:"plan"`
	Classifier Classifier `koanf:"classifier"`
	Discord    Discord    `koanf:"discord"`
	Patreon    Patreon    `koanf:"patreon"`
	TLS        TLS        `koanf:"tls"`
}

type Log struct {
	Level       string `koanf:"level"`
	Development bool   `koanf:"development"`
}

type MySQL struct {
	DSN string `koanf:"dsn"`
}

type Redis struct {
	URL string `koanf:"url"`
}

type Auth struct {
	JWTSecret  string        `koanf:"jwt_secret"`
	HeaderName string        `koanf:"header_name"`
	SessionTTL time.Duration `koanf:"session_ttl"`
	// Requests per minute per client IP on the login route.
	LoginRate int `koanf:"login_rate"`
}

// Service guards the routes called by the bot.
type Service struct {
	Token string `koanf:"token"`
}

type Plan struct {
	DefaultMaxRequests int64 `koanf:"default_max_requests"`
}

type Classifier struct {
	Endpoint       string        `koanf:"endpoint"`
	Timeout        time.Duration `koanf:"timeout"`
	StartupTimeout time.Duration `koanf:"startup_timeout"`
	Labels         []string      `koanf:"labels"`
	CacheTTL       time.Duration `koanf:"cache_ttl"`
}

type Discord struct {
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`
	APIEndpoint  string `koanf:"api_endpoint"`
}

type Patreon struct {
	ClientID        string        `koanf:"client_id"`
	ClientSecret    string        `koanf:"client_secret"`
	RedirectURI     string        `koanf:"redirect_uri"`
	TokenKey        string        `koanf:"token_key"`
	RefreshInterval time.Duration `koanf:"refresh_interval"`
	RefreshWorkers  int           `koanf:"refresh_workers"`
}

// TLS enables HTTPS when both files are set.
type TLS struct {
	CertFile       string        `koanf:"cert_file"`
	KeyFile        string        `koanf:"key_file"`
	ReloadInterval time.Duration `koanf:"reload_interval"`
}

func (t TLS) Enabled() bool { return t.CertFile != "" && t.KeyFile != "" }

// Defaults returns the configuration used before any file or env is applied.
func Defaults() Config {
	return Config{
		Port:   "8000",
		AppURL: "http://localhost",
		Log:    Log{Level: "info"},
		Redis:  Redis{URL: "redis://localhost:6379/0"},
		Auth: Auth{
			HeaderName: "Authorization",
			SessionTTL: 7 * 24 * time.Hour,
			LoginRate:  30,
		},
		Plan: Plan{DefaultMaxRequests: 100},
		Classifier: Classifier{
			Timeout:        10 * time.Second,
			StartupTimeout: 2 * time.Minute,
			Labels:         []string{"OK", "H", "H2", "HR", "S", "S3", "SH", "V", "V2"},
		},
		Discord: Discord{APIEndpoint: "https://discord.com/api/v10"},
		Patreon: Patreon{
			RedirectURI:    "http://localhost:8000/patreon/callback",
			RefreshWorkers: 4,
		},
		TLS: TLS{ReloadInterval: 5 * time.Minute},
	}
}

// Load reads the TOML file (if any) and applies environment overrides.
func Load() (Config, string, error) {
	paths := DefaultPaths
	if p := os.Getenv("AIDLE_CONFIG"); p != "" {
		paths = []string{p}
	}
	return LoadFrom(paths...)
}

// LoadFrom is Load with an explicit search list. The first readable file wins.
func LoadFrom(paths ...string) (Config, string, error) {
	cfg := Defaults()

	k := koanf.New(".")
	var used string
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return Config{}, "", fmt.Errorf("load %s: %w", path, err)
		}
		used = path
		break
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, "", fmt.Errorf("unmarshal config: %w", err)
	}
	// Lists from the file replace the defaults instead of merging into them.
	if k.Exists("classifier.labels") {
		cfg.Classifier.Labels = k.Strings("classifier.labels")
	}
	applyEnv(&cfg)

	return cfg, used, nil
}

// applyEnv lets the deployment environment override the file.
func applyEnv(cfg *Config) {
	setenv(&cfg.Port, "PORT")
	setenv(&cfg.AppURL, "APP_URL")
	setenv(&cfg.Log.Level, "LOG_LEVEL")
	setenv(&cfg.MySQL.DSN, "MYSQL_DSN")
	setenv(&cfg.Redis.URL, "REDIS_URL")
	setenv(&cfg.Auth.JWTSecret, "JWT_SECRET_KEY")
	setenv(&cfg.Auth.HeaderName, "USER_COOKIE_NAME")
	setenv(&cfg.Service.Token, "SERVICE_TOKEN")
	setenv(&cfg.Classifier.Endpoint, "CLASSIFIER_URL")
	setenv(&cfg.Discord.ClientID, "CLIENT_ID")
	setenv(&cfg.Discord.ClientSecret, "CLIENT_SECRET")
	setenv(&cfg.Discord.APIEndpoint, "API_ENDPOINT")
	setenv(&cfg.Patreon.ClientID, "PATREON_CLIENT_ID")
	setenv(&cfg.Patreon.ClientSecret, "PATREON_CLIENT_SECRET")
	setenv(&cfg.Patreon.RedirectURI, "PATREON_REDIRECT_URI")
	setenv(&cfg.Patreon.TokenKey, "PATREON_TOKEN_KEY")
	setenv(&cfg.TLS.CertFile, "TLS_CERT_FILE")
	setenv(&cfg.TLS.KeyFile, "TLS_KEY_FILE")

	if v := os.Getenv("DEFAULT_MAX_REQUESTS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Plan.DefaultMaxRequests = n
		}
	}
}

func setenv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate reports settings the service cannot start without.
func (c Config) Validate() error {
	var errs []error
	if c.MySQL.DSN == "" {
		errs = append(errs, ErrMissingDSN)
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}
	if c.Classifier.Endpoint == "" {
		errs = append(errs, ErrMissingClassifier)
	}
	return errors.Join(errs...)
}

// PatreonTokenKey is the secret used to encrypt stored Patreon tokens.
func (c Config) PatreonTokenKey() string {
	if c.Patreon.TokenKey != "" {
		return c.Patreon.TokenKey
	}
	return c.Auth.JWTSecret
}
