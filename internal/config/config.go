// Package config provides configuration management using Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/jobrunner/cuenca/internal/domain"
)

// EnvPrefix is the prefix of every configuration environment variable.
const EnvPrefix = "CUENCA"

// Study-area source types.
const (
	SourceAsset      = "asset"
	SourceGeoJSON    = "geojson"
	SourceGeoPackage = "geopackage"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	EarthEngine EarthEngineConfig `mapstructure:"earthengine"`
	StudyArea   StudyAreaConfig   `mapstructure:"study_area"`
	Analysis    AnalysisConfig    `mapstructure:"analysis"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Warmup      WarmupConfig      `mapstructure:"warmup"`
	Session     SessionConfig     `mapstructure:"session"`
	Storage     StorageConfig     `mapstructure:"storage"`
	TLS         TLSConfig         `mapstructure:"tls"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	FrontendEnabled bool          `mapstructure:"frontend_enabled"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"` // e.g., ["https://example.com", "*.sub.domain.tld"]
}

// Enabled returns true if CORS is configured with at least one allowed origin.
func (c *CORSConfig) Enabled() bool {
	return len(c.AllowedOrigins) > 0
}

// EarthEngineConfig holds the remote compute service configuration.
type EarthEngineConfig struct {
	Project          string        `mapstructure:"project"`
	BaseURL          string        `mapstructure:"base_url"`
	TokenURL         string        `mapstructure:"token_url"`
	Timeout          time.Duration `mapstructure:"timeout"`
	CredentialsFile  string        `mapstructure:"credentials_file"`
	WriteCredentials bool          `mapstructure:"write_credentials"`
	ClientID         string        `mapstructure:"client_id"`
	ClientSecret     string        `mapstructure:"client_secret"`
	RefreshToken     string        `mapstructure:"refresh_token"`
}

// StudyAreaConfig selects and positions the study area.
type StudyAreaConfig struct {
	Name      string  `mapstructure:"name"`
	Source    string  `mapstructure:"source"` // asset, geojson, geopackage
	Asset     string  `mapstructure:"asset"`
	Path      string  `mapstructure:"path"` // object key in storage
	Layer     string  `mapstructure:"layer"`
	CenterLat float64 `mapstructure:"center_lat"`
	CenterLon float64 `mapstructure:"center_lon"`
	Zoom      int     `mapstructure:"zoom"`
	Watch     bool    `mapstructure:"watch"`
}

// AnalysisConfig holds series and comparison defaults.
type AnalysisConfig struct {
	StartYear    int   `mapstructure:"start_year"`
	EndYear      int   `mapstructure:"end_year"`
	CompareYears []int `mapstructure:"compare_years"`
	Parallelism  int   `mapstructure:"parallelism"`
	MaxYears     int   `mapstructure:"max_years"` // longest series a request may ask for
}

// CacheConfig holds result cache configuration.
type CacheConfig struct {
	Capacity    int           `mapstructure:"capacity"`
	TTL         time.Duration `mapstructure:"ttl"`
	TileTTL     time.Duration `mapstructure:"tile_ttl"`
	PersistPath string        `mapstructure:"persist_path"`
}

// WarmupConfig holds cache warmup configuration.
type WarmupConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// SessionConfig holds session lifecycle configuration.
type SessionConfig struct {
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	Type        string      `mapstructure:"type"` // s3, azure, http, local
	LocalPath   string      `mapstructure:"local_path"`
	DownloadDir string      `mapstructure:"download_dir"`
	S3          S3Config    `mapstructure:"s3"`
	Azure       AzureConfig `mapstructure:"azure"`
	HTTP        HTTPConfig  `mapstructure:"http"`
}

// S3Config holds AWS S3 configuration.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Prefix          string `mapstructure:"prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// AzureConfig holds Azure Blob Storage configuration.
type AzureConfig struct {
	Container        string `mapstructure:"container"`
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
	ConnectionString string `mapstructure:"connection_string"`
	Prefix           string `mapstructure:"prefix"`
}

// HTTPConfig holds HTTP download configuration.
type HTTPConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	IndexFile string        `mapstructure:"index_file"` // default: index.txt
	Timeout   time.Duration `mapstructure:"timeout"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
}

// TLSConfig holds TLS/CertMagic configuration.
type TLSConfig struct {
	Enabled  bool      `mapstructure:"enabled"`
	Domains  []string  `mapstructure:"domains"`
	Email    string    `mapstructure:"email"`
	CacheDir string    `mapstructure:"cache_dir"`
	Staging  bool      `mapstructure:"staging"` // Use Let's Encrypt staging
	DNS      DNSConfig `mapstructure:"dns"`
}

// DNSConfig holds the Azure DNS settings for DNS-01 challenges.
type DNSConfig struct {
	SubscriptionID    string `mapstructure:"subscription_id"`
	ResourceGroupName string `mapstructure:"resource_group_name"`
	ClientID          string `mapstructure:"client_id"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"` // 0 serves metrics on the API server
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text, pretty
}

// Defaults sets the default configuration values.
func Defaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 5*time.Minute)
	viper.SetDefault("server.shutdown_timeout", 10*time.Second)
	viper.SetDefault("server.frontend_enabled", true)
	viper.SetDefault("server.cors.allowed_origins", []string{})

	// Earth Engine defaults
	viper.SetDefault("earthengine.project", "fourth-return-458106-r5")
	viper.SetDefault("earthengine.base_url", "https://earthengine.googleapis.com")
	viper.SetDefault("earthengine.token_url", "https://oauth2.googleapis.com/token")
	viper.SetDefault("earthengine.timeout", 60*time.Second)
	viper.SetDefault("earthengine.credentials_file", "")
	viper.SetDefault("earthengine.write_credentials", false)
	viper.SetDefault("earthengine.client_id", "")
	viper.SetDefault("earthengine.client_secret", "")
	viper.SetDefault("earthengine.refresh_token", "")

	// Study area defaults
	viper.SetDefault("study_area.name", "Río Chili")
	viper.SetDefault("study_area.source", SourceAsset)
	viper.SetDefault("study_area.asset", "projects/fourth-return-458106-r5/assets/uchumayo")
	viper.SetDefault("study_area.path", "")
	viper.SetDefault("study_area.layer", "")
	viper.SetDefault("study_area.center_lat", -16.42)
	viper.SetDefault("study_area.center_lon", -71.54)
	viper.SetDefault("study_area.zoom", 11)
	viper.SetDefault("study_area.watch", true)

	// Analysis defaults
	viper.SetDefault("analysis.start_year", 2000)
	viper.SetDefault("analysis.end_year", 2025)
	viper.SetDefault("analysis.compare_years", []int{2023, 2020, 2017})
	viper.SetDefault("analysis.parallelism", 4)
	viper.SetDefault("analysis.max_years", 50)

	// Cache defaults
	viper.SetDefault("cache.capacity", 2048)
	viper.SetDefault("cache.ttl", time.Duration(0))
	viper.SetDefault("cache.tile_ttl", 12*time.Hour)
	viper.SetDefault("cache.persist_path", "")

	// Warmup defaults
	viper.SetDefault("warmup.enabled", false)
	viper.SetDefault("warmup.interval", time.Duration(0))

	// Session defaults
	viper.SetDefault("session.retry_interval", time.Minute)

	// Storage defaults
	viper.SetDefault("storage.type", "local")
	viper.SetDefault("storage.local_path", "./data")
	viper.SetDefault("storage.download_dir", "./.cache/study-area")
	viper.SetDefault("storage.http.index_file", "index.txt")
	viper.SetDefault("storage.http.timeout", 5*time.Minute)

	// TLS defaults
	viper.SetDefault("tls.enabled", false)
	viper.SetDefault("tls.cache_dir", "./.certmagic")
	viper.SetDefault("tls.staging", false)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.port", 0)
	viper.SetDefault("metrics.path", "/metrics")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// bindCredentials lets the remote credentials come from the unprefixed
// names used by existing deployments.
func bindCredentials() error {
	bindings := map[string][]string{
		"earthengine.client_id":     {"CUENCA_EARTHENGINE_CLIENT_ID", "EE_CLIENT_ID", "CLIENT_ID"},
		"earthengine.client_secret": {"CUENCA_EARTHENGINE_CLIENT_SECRET", "EE_CLIENT_SECRET", "CLIENT_SECRET"},
		"earthengine.refresh_token": {"CUENCA_EARTHENGINE_REFRESH_TOKEN", "EE_REFRESH_TOKEN", "REFRESH_TOKEN"},
		"earthengine.project":       {"CUENCA_EARTHENGINE_PROJECT", "EE_PROJECT"},
	}
	for key, envs := range bindings {
		if err := viper.BindEnv(append([]string{key}, envs...)...); err != nil {
			return err
		}
	}
	return nil
}

// LoadDotEnv loads environment variables from a .env file. Variables that
// are already set win and a missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// Load loads configuration from environment and config file.
func Load(configPath string) (*Config, error) {
	Defaults()

	// Environment variable binding
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	if err := bindCredentials(); err != nil {
		return nil, fmt.Errorf("binding credentials: %w", err)
	}

	// Config file
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/cuenca")
	}

	// Try to read config file (not required)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration. Missing credentials are not a
// configuration error: the session reports them when it opens.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.TLS.Enabled {
		if len(c.TLS.Domains) == 0 {
			return fmt.Errorf("TLS enabled but no domains specified")
		}
		if c.TLS.Email == "" {
			return fmt.Errorf("TLS enabled but no email specified")
		}
	}

	switch c.StudyArea.Source {
	case SourceAsset:
		if c.StudyArea.Asset == "" {
			return fmt.Errorf("study area asset is required for source %q", SourceAsset)
		}
	case SourceGeoJSON, SourceGeoPackage:
	default:
		return fmt.Errorf("unknown study area source: %s", c.StudyArea.Source)
	}

	if c.Analysis.StartYear > c.Analysis.EndYear {
		return fmt.Errorf("analysis start year %d is after end year %d", c.Analysis.StartYear, c.Analysis.EndYear)
	}
	if c.Analysis.MaxYears < 1 || c.Analysis.MaxYears > domain.MaxSeriesYears {
		return fmt.Errorf("analysis max years must be between 1 and %d: %d", domain.MaxSeriesYears, c.Analysis.MaxYears)
	}
	if c.Analysis.EndYear-c.Analysis.StartYear >= c.Analysis.MaxYears {
		return fmt.Errorf("analysis range %d-%d exceeds max years %d", c.Analysis.StartYear, c.Analysis.EndYear, c.Analysis.MaxYears)
	}
	if c.Analysis.Parallelism < 1 {
		return fmt.Errorf("invalid analysis parallelism: %d", c.Analysis.Parallelism)
	}
	if c.Cache.Capacity < 1 {
		return fmt.Errorf("invalid cache capacity: %d", c.Cache.Capacity)
	}

	switch c.Logging.Format {
	case "json", "text", "pretty":
	default:
		return fmt.Errorf("unknown logging format: %s", c.Logging.Format)
	}

	switch c.Storage.Type {
	case "local":
		if c.Storage.LocalPath == "" {
			return fmt.Errorf("local storage path is required")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("S3 bucket is required")
		}
		if c.Storage.S3.Region == "" {
			return fmt.Errorf("S3 region is required")
		}
	case "azure":
		if c.Storage.Azure.Container == "" {
			return fmt.Errorf("azure container is required")
		}
		if c.Storage.Azure.AccountName == "" && c.Storage.Azure.ConnectionString == "" {
			return fmt.Errorf("azure account name or connection string is required")
		}
	case "http":
		if c.Storage.HTTP.BaseURL == "" {
			return fmt.Errorf("HTTP base URL is required")
		}
	default:
		return fmt.Errorf("unknown storage type: %s", c.Storage.Type)
	}

	return nil
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
