package config

import (
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/geosweep/internal/projection"
)

// Sink drivers.
const (
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds the full application configuration.
type Config struct {
	Areas  []Area       `yaml:"areas" mapstructure:"areas"`
	Remote RemoteConfig `yaml:"remote" mapstructure:"remote"`
	Crawl  CrawlConfig  `yaml:"crawl" mapstructure:"crawl"`
	Retry  RetryConfig  `yaml:"retry" mapstructure:"retry"`
	Sink   SinkConfig   `yaml:"sink" mapstructure:"sink"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// Area is one region to sweep.
type Area struct {
	Name         string   `yaml:"name" mapstructure:"name"`
	Boundaries   []string `yaml:"boundaries" mapstructure:"boundaries"` // GeoJSON or .shp paths
	GridStepM    float64  `yaml:"grid_step_m" mapstructure:"grid_step_m"`
	QueryRadiusM float64  `yaml:"query_radius_m" mapstructure:"query_radius_m"`
	Projection   string   `yaml:"projection" mapstructure:"projection"` // utm (default) or web_mercator
}

// RemoteConfig describes the POI list and detail endpoints.
type RemoteConfig struct {
	BaseURL            string            `yaml:"base_url" mapstructure:"base_url"`
	ListPath           string            `yaml:"list_path" mapstructure:"list_path"`
	DetailPath         string            `yaml:"detail_path" mapstructure:"detail_path"`
	ItemsPath          string            `yaml:"items_path" mapstructure:"items_path"`
	PageSize           int               `yaml:"page_size" mapstructure:"page_size"`
	DetailFlag         int               `yaml:"detail_flag" mapstructure:"detail_flag"`
	Headers            map[string]string `yaml:"headers" mapstructure:"headers"`
	InsecureSkipVerify bool              `yaml:"insecure_skip_verify" mapstructure:"insecure_skip_verify"`
}

// CrawlConfig configures pacing and concurrency of a sweep.
type CrawlConfig struct {
	RequestInterval time.Duration `yaml:"request_interval" mapstructure:"request_interval"`
	Workers         int           `yaml:"workers" mapstructure:"workers"`
	DetailWorkers   int           `yaml:"detail_workers" mapstructure:"detail_workers"`
	ProgressEvery   int           `yaml:"progress_every" mapstructure:"progress_every"`
}

// RetryConfig configures the retry policy of every remote call.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
	BaseBackoff time.Duration `yaml:"base_backoff" mapstructure:"base_backoff"`
	Jitter      time.Duration `yaml:"jitter" mapstructure:"jitter"`
}

// SinkConfig selects where records are persisted.
type SinkConfig struct {
	Drivers      []string `yaml:"drivers" mapstructure:"drivers"`
	Dir          string   `yaml:"dir" mapstructure:"dir"`
	SQLitePath   string   `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	DatabaseURL  string   `yaml:"database_url" mapstructure:"database_url"`
	ListName     string   `yaml:"list_name" mapstructure:"list_name"`
	DetailPrefix string   `yaml:"detail_prefix" mapstructure:"detail_prefix"`
}

// ServerConfig configures the preview server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment. An empty path looks for
// config.yaml in the working directory and tolerates its absence.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("GEOSWEEP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("remote.base_url", "https://yihe-api.slicejobs.com")
	v.SetDefault("remote.list_path", "/app/product/map_query")
	v.SetDefault("remote.detail_path", "/app/product/get_{id}")
	v.SetDefault("remote.items_path", "detail.data")
	v.SetDefault("remote.page_size", 20)
	v.SetDefault("remote.detail_flag", 0)
	v.SetDefault("remote.insecure_skip_verify", false)
	v.SetDefault("crawl.request_interval", "1200ms")
	v.SetDefault("crawl.workers", 1)
	v.SetDefault("crawl.detail_workers", 1)
	v.SetDefault("crawl.progress_every", 10)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.timeout", "20s")
	v.SetDefault("retry.base_backoff", "2s")
	v.SetDefault("retry.jitter", "2s")
	v.SetDefault("sink.drivers", []string{DriverFile})
	v.SetDefault("sink.dir", "data")
	v.SetDefault("sink.list_name", "product_list")
	v.SetDefault("sink.detail_prefix", "product")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional unless a path was given)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validation modes, one per command.
const (
	ModeCrawl  = "crawl"
	ModeSample = "sample"
	ModeServe  = "serve"
)

// Validate checks the settings the given mode depends on. Every mode needs
// well-formed areas; crawl also needs the remote, pacing, retry and sink
// settings and serve needs a port.
func (c *Config) Validate(mode string) error {
	switch mode {
	case ModeCrawl, ModeSample, ModeServe:
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if err := c.validateAreas(); err != nil {
		return err
	}

	switch mode {
	case ModeServe:
		if c.Server.Port <= 0 {
			return eris.Errorf("config: server.port must be > 0, got %d", c.Server.Port)
		}
	case ModeCrawl:
		if err := c.validateCrawl(); err != nil {
			return err
		}
		return c.Sink.Validate()
	}
	return nil
}

func (c *Config) validateAreas() error {
	if len(c.Areas) == 0 {
		return eris.New("config: no areas configured")
	}
	seen := make(map[string]bool, len(c.Areas))
	for i, a := range c.Areas {
		if strings.TrimSpace(a.Name) == "" {
			return eris.Errorf("config: areas[%d]: name is required", i)
		}
		if seen[a.Name] {
			return eris.Errorf("config: duplicate area %q", a.Name)
		}
		seen[a.Name] = true
		if err := a.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateCrawl() error {
	if c.Remote.BaseURL == "" {
		return eris.New("config: remote.base_url is required")
	}
	if c.Remote.PageSize <= 0 {
		return eris.Errorf("config: remote.page_size must be positive, got %d", c.Remote.PageSize)
	}
	if !strings.Contains(c.Remote.DetailPath, "{id}") {
		return eris.Errorf("config: remote.detail_path %q has no {id} placeholder", c.Remote.DetailPath)
	}
	if c.Crawl.RequestInterval < 0 {
		return eris.New("config: crawl.request_interval must not be negative")
	}
	if c.Crawl.Workers <= 0 || c.Crawl.DetailWorkers <= 0 {
		return eris.New("config: crawl.workers and crawl.detail_workers must be positive")
	}
	if c.Retry.MaxAttempts <= 0 {
		return eris.Errorf("config: retry.max_attempts must be positive, got %d", c.Retry.MaxAttempts)
	}
	return nil
}

// Validate checks a single area.
func (a Area) Validate() error {
	if len(a.Boundaries) == 0 {
		return eris.Errorf("config: area %q: no boundary files", a.Name)
	}
	if !(a.GridStepM > 0) {
		return eris.Errorf("config: area %q: grid_step_m must be positive", a.Name)
	}
	if !(a.QueryRadiusM > 0) {
		return eris.Errorf("config: area %q: query_radius_m must be positive", a.Name)
	}
	if !projection.Valid(a.Projection) {
		return eris.Errorf("config: area %q: unknown projection %q", a.Name, a.Projection)
	}
	return nil
}

// Validate checks the sink drivers and their settings.
func (s SinkConfig) Validate() error {
	if len(s.Drivers) == 0 {
		return eris.New("config: sink.drivers is empty")
	}
	for _, d := range s.Drivers {
		switch d {
		case DriverFile:
			if s.Dir == "" {
				return eris.New("config: sink.dir is required for the file driver")
			}
		case DriverSQLite:
			if s.SQLitePath == "" {
				return eris.New("config: sink.sqlite_path is required for the sqlite driver")
			}
		case DriverPostgres:
			if s.DatabaseURL == "" {
				return eris.New("config: sink.database_url is required for the postgres driver")
			}
		default:
			return eris.Errorf("config: unknown sink driver %q", d)
		}
	}
	return nil
}

// Area returns the area with the given name.
func (c *Config) Area(name string) (Area, bool) {
	for _, a := range c.Areas {
		if a.Name == name {
			return a, true
		}
	}
	return Area{}, false
}

// SelectAreas returns the named areas in configuration order, or every area
// when names is empty.
func (c *Config) SelectAreas(names []string) ([]Area, error) {
	if len(names) == 0 {
		return slices.Clone(c.Areas), nil
	}
	for _, n := range names {
		if _, ok := c.Area(n); !ok {
			return nil, eris.Errorf("config: unknown area %q", n)
		}
	}
	var out []Area
	for _, a := range c.Areas {
		if slices.Contains(names, a.Name) {
			out = append(out, a)
		}
	}
	return out, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
