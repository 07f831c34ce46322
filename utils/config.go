package utils

import (
	"fmt"
	"image/color"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	yamlv2 "gopkg.in/yaml.v2"
)

// string used to format Go ISO times
const ISOFormat = "2006-01-02T15:04:05.000Z"

// EnvPrefix marks environment variables that override the config file.
// SATGATE_TILES__CACHE_TTL=5m sets tiles.cache_ttl.
const EnvPrefix = "SATGATE_"

// ConfigPathEnvVar names the config file when --config is not given.
const ConfigPathEnvVar = "SATGATE_CONFIG"

type Palette struct {
	Interpolate bool         `json:"interpolate" yaml:"interpolate"`
	Colours     []color.RGBA `json:"colours" yaml:"colours"`
}

type ServerConfig struct {
	Addr            string        `koanf:"addr" yaml:"addr" validate:"required"`
	ReusePort       bool          `koanf:"reuse_port" yaml:"reuse_port"`
	RateLimit       int           `koanf:"rate_limit" yaml:"rate_limit" validate:"gte=0"`
	ReadTimeout     time.Duration `koanf:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" yaml:"shutdown_timeout"`
	// MetricsLogDir receives the per request metrics records, "-" for stdout.
	MetricsLogDir string `koanf:"metrics_log_dir" yaml:"metrics_log_dir"`
}

type LoggingConfig struct {
	Level  string `koanf:"level" yaml:"level"`
	Format string `koanf:"format" yaml:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller" yaml:"caller"`
}

type CatalogConfig struct {
	STACURL           string        `koanf:"stac_url" yaml:"stac_url" validate:"required,url"`
	DefaultCollection string        `koanf:"default_collection" yaml:"default_collection" validate:"required"`
	RateLimit         float64       `koanf:"rate_limit" yaml:"rate_limit" validate:"gt=0"`
	Timeout           time.Duration `koanf:"timeout" yaml:"timeout"`
	PostgresDSN       string        `koanf:"postgres_dsn" yaml:"postgres_dsn"`
}

type RasterConfig struct {
	Unsigned           bool          `koanf:"unsigned" yaml:"unsigned"`
	ReadTimeout        time.Duration `koanf:"read_timeout" yaml:"read_timeout"`
	PreviewSize        int           `koanf:"preview_size" yaml:"preview_size" validate:"gte=64,lte=8192"`
	BreakerMaxFailures uint32        `koanf:"breaker_max_failures" yaml:"breaker_max_failures" validate:"gte=1"`
	BreakerTimeout     time.Duration `koanf:"breaker_timeout" yaml:"breaker_timeout"`
	PublicBuckets      []string      `koanf:"public_buckets" yaml:"public_buckets"`
}

type TilesConfig struct {
	BandConcurrency int           `koanf:"band_concurrency" yaml:"band_concurrency" validate:"gte=1"`
	DefaultRescale  string        `koanf:"default_rescale" yaml:"default_rescale"`
	CacheTTL        time.Duration `koanf:"cache_ttl" yaml:"cache_ttl"`
	CacheSize       int64         `koanf:"cache_size" yaml:"cache_size" validate:"gte=0"`
	MaxAge          int           `koanf:"max_age" yaml:"max_age" validate:"gte=0"`
}

type ProcessingConfig struct {
	MaxConcurrentReads int  `koanf:"max_concurrent_reads" yaml:"max_concurrent_reads" validate:"gte=1"`
	AOIAllTouched      bool `koanf:"aoi_all_touched" yaml:"aoi_all_touched"`
}

type JobsConfig struct {
	Store        string        `koanf:"store" yaml:"store" validate:"oneof=memory memcache badger"`
	MemcacheAddr string        `koanf:"memcache_addr" yaml:"memcache_addr"`
	BadgerDir    string        `koanf:"badger_dir" yaml:"badger_dir"`
	StatusTTL    time.Duration `koanf:"status_ttl" yaml:"status_ttl"`
	Timeout      time.Duration `koanf:"timeout" yaml:"timeout"`
	OutputDir    string        `koanf:"output_dir" yaml:"output_dir" validate:"required"`
	GCSBucket    string        `koanf:"gcs_bucket" yaml:"gcs_bucket"`
	Workers      int           `koanf:"workers" yaml:"workers" validate:"gte=1"`
}

type SecurityConfig struct {
	AllowedDomains []string `koanf:"allowed_domains" yaml:"allowed_domains" validate:"min=1"`
}

// Config is the whole gateway configuration. It is loaded once in main
// and handed to the components that need a section of it.
type Config struct {
	Server     ServerConfig     `koanf:"server" yaml:"server"`
	Logging    LoggingConfig    `koanf:"logging" yaml:"logging"`
	Catalog    CatalogConfig    `koanf:"catalog" yaml:"catalog"`
	Raster     RasterConfig     `koanf:"raster" yaml:"raster"`
	Tiles      TilesConfig      `koanf:"tiles" yaml:"tiles"`
	Processing ProcessingConfig `koanf:"processing" yaml:"processing"`
	Jobs       JobsConfig       `koanf:"jobs" yaml:"jobs"`
	Security   SecurityConfig   `koanf:"security" yaml:"security"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			RateLimit:       600,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    90 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Catalog: CatalogConfig{
			STACURL:           "https://earth-search.aws.element84.com/v1",
			DefaultCollection: "sentinel-2-l2a",
			RateLimit:         10,
			Timeout:           30 * time.Second,
		},
		Raster: RasterConfig{
			Unsigned:           true,
			ReadTimeout:        20 * time.Second,
			PreviewSize:        2048,
			BreakerMaxFailures: 5,
			BreakerTimeout:     30 * time.Second,
			PublicBuckets:      []string{"sentinel-cogs", "usgs-landsat"},
		},
		Tiles: TilesConfig{
			BandConcurrency: 5,
			DefaultRescale:  "p2,p98",
			CacheTTL:        10 * time.Minute,
			CacheSize:       1000,
			MaxAge:          3600,
		},
		Processing: ProcessingConfig{
			MaxConcurrentReads: 5,
			AOIAllTouched:      true,
		},
		Jobs: JobsConfig{
			Store:        "memory",
			MemcacheAddr: "localhost:11211",
			BadgerDir:    "/var/lib/satgate/jobs",
			StatusTTL:    24 * time.Hour,
			Timeout:      30 * time.Minute,
			OutputDir:    os.TempDir() + "/satgate",
			Workers:      2,
		},
		Security: SecurityConfig{
			AllowedDomains: append([]string(nil), DefaultAllowedDomains...),
		},
	}
}

// LoadConfig layers the defaults, the optional YAML file at configPath (or
// $SATGATE_CONFIG) and SATGATE_ environment variables, then validates.
func LoadConfig(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if len(configPath) == 0 {
		configPath = os.Getenv(ConfigPathEnvVar)
	}
	if len(configPath) > 0 {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	for _, path := range sliceConfigPaths {
		if s, ok := k.Get(path).(string); ok {
			if err := k.Set(path, ParseList(s)); err != nil {
				return nil, fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// sliceConfigPaths arrive from the environment as comma separated strings.
var sliceConfigPaths = []string{
	"security.allowed_domains",
	"raster.public_buckets",
}

func envTransform(key string) string {
	key = strings.TrimPrefix(key, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(key), "__", ".")
}

var configValidator = validator.New()

func (c *Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return err
	}
	if c.Raster.ReadTimeout < 10*time.Second || c.Raster.ReadTimeout > 30*time.Second {
		return fmt.Errorf("raster.read_timeout must be between 10s and 30s, got %v", c.Raster.ReadTimeout)
	}
	if len(c.Tiles.DefaultRescale) > 0 {
		if _, err := ParseRescale(c.Tiles.DefaultRescale); err != nil {
			return fmt.Errorf("tiles.default_rescale: %w", err)
		}
	}
	if c.Jobs.Store == "memcache" && len(c.Jobs.MemcacheAddr) == 0 {
		return fmt.Errorf("jobs.memcache_addr is required for the memcache store")
	}
	if c.Jobs.Store == "badger" && len(c.Jobs.BadgerDir) == 0 {
		return fmt.Errorf("jobs.badger_dir is required for the badger store")
	}
	if c.Jobs.StatusTTL <= 0 || c.Jobs.Timeout <= 0 {
		return fmt.Errorf("jobs.status_ttl and jobs.timeout must be positive")
	}
	return nil
}

// DumpConfig renders cfg as YAML for check-conf.
func DumpConfig(cfg *Config) (string, error) {
	out, err := yamlv2.Marshal(cfg)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
