// Package config assembles runtime settings from the environment. Command
// line flags are applied on top by the caller.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/signalsfoundry/tle-fetcher/internal/logging"
	"github.com/signalsfoundry/tle-fetcher/internal/observability"
	"github.com/signalsfoundry/tle-fetcher/internal/source"
)

// Repository backends.
const (
	RepositoryFile     = "file"
	RepositorySQLite   = "sqlite"
	RepositoryPostgres = "postgres"
)

// Defaults.
const (
	DefaultCacheTTL   = 2 * time.Hour
	DefaultRepository = RepositoryFile
	DefaultValidator  = "pure"
)

// Config is the merged runtime configuration.
type Config struct {
	StateDir    string
	Offline     bool
	CacheTTL    time.Duration
	SourceOrder []string
	// Verify is a probability in [0, 1].
	Verify      float64
	Repository  string
	PostgresDSN string
	CatalogDB   string
	Validator   string

	HTTPRetries int
	HTTPBackoff time.Duration
	HTTPTimeout time.Duration
	SourcesFile string
	Credentials source.Credentials

	LogLevel    string
	LogFormat   string
	MetricsAddr string
	Tracing     observability.TracingConfig
}

// Load reads every setting through getenv. Invalid values are reported with
// the variable name.
func Load(getenv func(string) string) (Config, error) {
	cfg := Config{
		StateDir:    getenv("TLE_FETCHER_STATE_DIR"),
		Repository:  strings.ToLower(envOr(getenv, "TLE_FETCHER_REPOSITORY", DefaultRepository)),
		PostgresDSN: getenv("TLE_FETCHER_POSTGRES_DSN"),
		CatalogDB:   getenv("TLE_FETCHER_CATALOG_DB"),
		Validator:   strings.ToLower(envOr(getenv, "TLE_FETCHER_VALIDATOR", DefaultValidator)),
		SourceOrder: source.ParseSourceOrder(getenv("TLE_FETCHER_SOURCE_ORDER")),
		SourcesFile: getenv("TLE_FETCHER_SOURCES_FILE"),
		Credentials: source.Credentials{
			SpaceTrackUser: getenv("SPACETRACK_USER"),
			SpaceTrackPass: getenv("SPACETRACK_PASS"),
			N2YOAPIKey:     getenv("N2YO_API_KEY"),
		},
		LogLevel:    getenv("LOG_LEVEL"),
		LogFormat:   getenv("LOG_FORMAT"),
		MetricsAddr: getenv("TLE_METRICS_ADDR"),
		Tracing:     observability.TracingConfigFromGetenv(getenv),
	}
	if cfg.StateDir == "" {
		cfg.StateDir = defaultStateDir()
	}
	if len(cfg.SourceOrder) == 0 {
		cfg.SourceOrder = append([]string(nil), source.DefaultOrder...)
	}

	var err error
	if cfg.Offline, err = envBool(getenv, "TLE_FETCHER_OFFLINE"); err != nil {
		return Config{}, err
	}
	if cfg.CacheTTL, err = envDuration(getenv, "TLE_FETCHER_CACHE_TTL", DefaultCacheTTL); err != nil {
		return Config{}, err
	}
	if cfg.HTTPBackoff, err = envDuration(getenv, "TLE_FETCHER_HTTP_BACKOFF", source.DefaultBackoff); err != nil {
		return Config{}, err
	}
	if cfg.HTTPTimeout, err = envDuration(getenv, "TLE_FETCHER_HTTP_TIMEOUT", source.DefaultTimeout); err != nil {
		return Config{}, err
	}
	if cfg.HTTPRetries, err = envInt(getenv, "TLE_FETCHER_HTTP_RETRIES", source.DefaultRetries); err != nil {
		return Config{}, err
	}
	if raw := getenv("TLE_FETCHER_VERIFY"); raw != "" {
		v, err := ParseVerify(raw)
		if err != nil {
			return Config{}, fmt.Errorf("TLE_FETCHER_VERIFY: %w", err)
		}
		cfg.Verify = v
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the enumerated settings.
func (c Config) Validate() error {
	switch c.Repository {
	case RepositoryFile, RepositorySQLite:
	case RepositoryPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("TLE_FETCHER_POSTGRES_DSN is required for the postgres repository")
		}
	default:
		return fmt.Errorf("TLE_FETCHER_REPOSITORY: unknown backend %q", c.Repository)
	}
	switch c.Validator {
	case "", "pure", "sgp4":
	default:
		return fmt.Errorf("TLE_FETCHER_VALIDATOR: unknown validator %q", c.Validator)
	}
	if c.HTTPRetries < 0 {
		return fmt.Errorf("TLE_FETCHER_HTTP_RETRIES must not be negative")
	}
	return nil
}

// RepositoryDir is where the file repository keeps <id>.tle files.
func (c Config) RepositoryDir() string { return filepath.Join(c.StateDir, "db") }

// SQLitePath is the element-set database used by the sqlite backend.
func (c Config) SQLitePath() string { return filepath.Join(c.StateDir, "tle.sqlite3") }

// CatalogPath is the discovery database.
func (c Config) CatalogPath() string {
	if c.CatalogDB != "" {
		return c.CatalogDB
	}
	return filepath.Join(c.StateDir, "ingest.sqlite3")
}

// ClientOptions returns the retry and timeout options for source clients.
func (c Config) ClientOptions() []source.Option {
	return []source.Option{
		source.WithRetries(c.HTTPRetries),
		source.WithBackoff(c.HTTPBackoff, source.DefaultJitter),
		source.WithTimeout(c.HTTPTimeout),
	}
}

// Registry returns the built-in source definitions with credentials
// applied, overlaid with SourcesFile when set.
func (c Config) Registry() (*source.Registry, error) {
	reg := source.NewRegistry(source.BuiltinDefinitions(c.Credentials)...)
	if c.SourcesFile == "" {
		return reg, nil
	}
	f, err := os.Open(c.SourcesFile)
	if err != nil {
		return nil, fmt.Errorf("TLE_FETCHER_SOURCES_FILE: %w", err)
	}
	defer f.Close()
	defs, err := source.LoadDefinitions(f)
	if err != nil {
		return nil, fmt.Errorf("TLE_FETCHER_SOURCES_FILE: %w", err)
	}
	for _, d := range defs {
		reg.Register(d)
	}
	return reg, nil
}

// LogFields renders the configuration for a startup log line with secrets
// redacted.
func (c Config) LogFields() []logging.Field {
	return []logging.Field{
		logging.String("state_dir", c.StateDir),
		logging.Bool("offline", c.Offline),
		logging.Duration("cache_ttl", c.CacheTTL),
		logging.String("source_order", strings.Join(c.SourceOrder, ",")),
		logging.Any("verify", c.Verify),
		logging.String("repository", c.Repository),
		logging.String("postgres_dsn", RedactDSN(c.PostgresDSN)),
		logging.String("validator", c.Validator),
		logging.String("spacetrack_user", c.Credentials.SpaceTrackUser),
		logging.String("spacetrack_pass", Redact(c.Credentials.SpaceTrackPass)),
		logging.String("n2yo_api_key", Redact(c.Credentials.N2YOAPIKey)),
	}
}

// ParseVerify accepts a fraction (0.25) or a percentage (25, 25%).
func ParseVerify(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	pct := strings.HasSuffix(raw, "%")
	v, err := strconv.ParseFloat(strings.TrimSuffix(raw, "%"), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid verify value %q", raw)
	}
	if v < 0 || v > 100 {
		return 0, fmt.Errorf("verify value %q out of range", raw)
	}
	if pct || v > 1 {
		v /= 100
	}
	return v, nil
}

// ParseTTL accepts a Go duration or a whole number of seconds.
func ParseTTL(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs < 0 {
			secs = 0
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	if d < 0 {
		d = 0
	}
	return d, nil
}

// Redact keeps the first four characters of a secret.
func Redact(secret string) string {
	switch {
	case secret == "":
		return ""
	case len(secret) <= 4:
		return strings.Repeat("*", len(secret))
	}
	return secret[:4] + "****"
}

// RedactDSN masks the password of a connection URL.
func RedactDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return dsn
	}
	userinfo := dsn[scheme+3 : at]
	user, _, hasPass := strings.Cut(userinfo, ":")
	if !hasPass {
		return dsn
	}
	return dsn[:scheme+3] + user + ":****" + dsn[at:]
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(".", ".tle-fetcher")
	}
	return filepath.Join(home, ".cache", "tle-fetcher")
}

func envOr(getenv func(string) string, key, def string) string {
	if v := strings.TrimSpace(getenv(key)); v != "" {
		return v
	}
	return def
}

func envBool(getenv func(string) string, key string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(getenv(key))) {
	case "", "0", "false", "no", "off":
		return false, nil
	case "1", "true", "yes", "on":
		return true, nil
	}
	return false, fmt.Errorf("%s: expected a boolean, got %q", key, getenv(key))
}

func envDuration(getenv func(string) string, key string, def time.Duration) (time.Duration, error) {
	raw := getenv(key)
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	d, err := ParseTTL(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func envInt(getenv func(string) string, key string, def int) (int, error) {
	raw := strings.TrimSpace(getenv(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: expected an integer, got %q", key, raw)
	}
	return n, nil
}
