// Package config loads service configuration from defaults, an optional
// config file, a .env file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/TomasB/geolocator/internal/data"
)

var errInvalidConfig = errors.New("invalid configuration")

// Config is the complete service configuration. It is mapped by viper.
type Config struct {
	HTTP     HTTP     `mapstructure:"http"`
	GRPC     GRPC     `mapstructure:"grpc"`
	Log      Log      `mapstructure:"log"`
	Location Database `mapstructure:"location"`
	Network  Database `mapstructure:"network"`
	Batch    Batch    `mapstructure:"batch"`
	Workers  Workers  `mapstructure:"workers"`
	Lookup   Lookup   `mapstructure:"lookup"`
	Reload   Reload   `mapstructure:"reload"`
	Metrics  Metrics  `mapstructure:"metrics"`
	OTEL     OTEL     `mapstructure:"otel"`
	Startup  Startup  `mapstructure:"startup"`
}

type (
	// HTTP.CORSOrigins lists the origins allowed by CORS; "*" allows any and
	// an empty list turns the middleware off.
	HTTP struct {
		Port        int      `mapstructure:"port"`
		CORSOrigins []string `mapstructure:"cors_origins"`
	}

	// GRPC is disabled when Port is 0.
	GRPC struct {
		Port int `mapstructure:"port"`
	}

	Log struct {
		Level string `mapstructure:"level"`
	}

	// Database points at one database file. An empty Path disables an optional database.
	Database struct {
		Path   string      `mapstructure:"path"`
		Format data.Format `mapstructure:"format"`
	}

	Batch struct {
		MaxItems int `mapstructure:"max_items"`
	}

	Workers struct {
		Capacity int `mapstructure:"capacity"`
	}

	Lookup struct {
		Timeout time.Duration `mapstructure:"timeout"`
	}

	Reload struct {
		Enabled  bool          `mapstructure:"enabled"`
		Debounce time.Duration `mapstructure:"debounce"`
	}

	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
	}

	// OTEL tracing is disabled when Endpoint is empty.
	OTEL struct {
		Endpoint string `mapstructure:"endpoint"`
	}

	Startup struct {
		FailFast bool `mapstructure:"fail_fast"`
	}
)

// legacyEnv lists environment variable names kept from earlier releases.
// The first matching variable wins.
var legacyEnv = map[string][]string{
	"http.port":     {"PORT"},
	"location.path": {"MMDB_PATH", "MAXMIND_CITY_DB_PATH"},
	"network.path":  {"MAXMIND_ASN_DB_PATH"},
}

// DefaultViper returns a viper instance with every key's default set and
// environment variables bound. Keys map to variables by upper casing and
// replacing dots with underscores, e.g. location.path is LOCATION_PATH.
func DefaultViper() *viper.Viper {
	vip := viper.New()

	vip.SetDefault("http.port", 8080)
	vip.SetDefault("http.cors_origins", []string{"*"})
	vip.SetDefault("grpc.port", 0)
	vip.SetDefault("log.level", "info")

	vip.SetDefault("location.path", "")
	vip.SetDefault("location.format", string(data.FormatMMDB))
	vip.SetDefault("network.path", "")
	vip.SetDefault("network.format", string(data.FormatMMDB))

	vip.SetDefault("batch.max_items", 100)
	vip.SetDefault("workers.capacity", 4*runtime.NumCPU())
	vip.SetDefault("lookup.timeout", 5*time.Second)

	vip.SetDefault("reload.enabled", false)
	vip.SetDefault("reload.debounce", 2*time.Second)

	vip.SetDefault("metrics.enabled", true)
	vip.SetDefault("otel.endpoint", "")
	vip.SetDefault("startup.fail_fast", false)

	vip.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vip.AutomaticEnv()

	for key, names := range legacyEnv {
		canonical := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = vip.BindEnv(append([]string{key, canonical}, names...)...)
	}

	return vip
}

// Load reads configuration. A .env file in the working directory is applied
// to the environment first if present; path, when not empty, names a config
// file in any format viper understands.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	vip := DefaultViper()
	if path != "" {
		vip.SetConfigFile(path)
		if err := vip.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	return FromViper(vip)
}

// FromViper decodes and validates the configuration held by vip.
func FromViper(vip *viper.Viper) (*Config, error) {
	var cfg Config
	if err := vip.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the configuration can start a server.
func (c *Config) Validate() error {
	var errs []error

	if c.Location.Path == "" {
		errs = append(errs, errors.New("location.path is required"))
	}
	for name, db := range map[string]Database{"location": c.Location, "network": c.Network} {
		if _, err := data.OpenerFor(db.Format); err != nil {
			errs = append(errs, fmt.Errorf("%s.format: %w", name, err))
		}
	}
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port %d out of range", c.HTTP.Port))
	}
	for _, origin := range c.HTTP.CORSOrigins {
		if origin != "*" && !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			errs = append(errs, fmt.Errorf("http.cors_origins: %q must be \"*\" or start with http:// or https://", origin))
		}
	}
	if c.GRPC.Port < 0 || c.GRPC.Port > 65535 {
		errs = append(errs, fmt.Errorf("grpc.port %d out of range", c.GRPC.Port))
	}
	if c.GRPC.Port != 0 && c.GRPC.Port == c.HTTP.Port {
		errs = append(errs, errors.New("grpc.port must differ from http.port"))
	}
	if c.Batch.MaxItems < 1 {
		errs = append(errs, errors.New("batch.max_items must be positive"))
	}
	if c.Workers.Capacity < 1 {
		errs = append(errs, errors.New("workers.capacity must be positive"))
	}
	if c.Lookup.Timeout <= 0 {
		errs = append(errs, errors.New("lookup.timeout must be positive"))
	}
	if c.Reload.Enabled && c.Reload.Debounce <= 0 {
		errs = append(errs, errors.New("reload.debounce must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", errInvalidConfig, errors.Join(errs...))
	}
	return nil
}
