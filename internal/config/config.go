// Package config loads and validates dataset-builder configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment override, e.g. CLIMATEDATA_SERVER_PORT.
const EnvPrefix = "CLIMATEDATA"

// Output backends.
const (
	BackendLocal  = "local"
	BackendMemory = "memory"
	BackendGCS    = "gcs"
	BackendS3     = "s3"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Datastore DatastoreConfig `mapstructure:"datastore"`
	Dataset   DatasetConfig   `mapstructure:"dataset"`
	Output    OutputConfig    `mapstructure:"output"`
	Database  DatabaseConfig  `mapstructure:"database"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
}

// DatastoreConfig points the client at the activity search API.
type DatastoreConfig struct {
	BaseURL         string `mapstructure:"base_url"`
	SubscriptionKey string `mapstructure:"subscription_key"`
	PageSize        int    `mapstructure:"page_size"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
	UserAgent       string `mapstructure:"user_agent"`
	// RequestsPerSecond paces page requests; zero disables pacing.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// Timeout returns the per-request timeout; zero keeps the fetcher default.
func (c DatastoreConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DatasetConfig controls labeling and balancing.
type DatasetConfig struct {
	ClimateTag string `mapstructure:"climate_tag"`
	Seed       uint64 `mapstructure:"seed"`
}

// OutputConfig selects where the CSV is written.
type OutputConfig struct {
	Backend     string      `mapstructure:"backend"`
	Prefix      string      `mapstructure:"prefix"`
	ContentType string      `mapstructure:"content_type"`
	Local       LocalConfig `mapstructure:"local"`
	GCS         GCSConfig   `mapstructure:"gcs"`
	S3          S3Config    `mapstructure:"s3"`
}

// LocalConfig configures the filesystem backend.
type LocalConfig struct {
	BaseDir    string `mapstructure:"base_dir"`
	CreateDirs bool   `mapstructure:"create_dirs"`
}

// GCSConfig configures the Cloud Storage backend.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
}

// S3Config configures the S3 backend. Endpoint is optional and enables
// path-style addressing for S3-compatible stores.
type S3Config struct {
	Bucket   string `mapstructure:"bucket"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
}

// DatabaseConfig controls the Postgres run ledger. An empty DSN keeps runs in memory.
type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for dataset-ready notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Enabled reports whether notifications go to Cloud Pub/Sub.
func (c PubSubConfig) Enabled() bool {
	return c.ProjectID != "" && c.TopicName != ""
}

// MetricsConfig configures the optional Pushgateway used by one-shot builds.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	JobName        string `mapstructure:"job_name"`
}

// ProgressConfig toggles the progress sinks.
type ProgressConfig struct {
	Console bool `mapstructure:"console"`
	Log     bool `mapstructure:"log"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// Load builds a Config from an optional file, a .env file in the working
// directory, and the environment.
func Load(path string) (Config, error) {
	return LoadWithEnvFile(path, ".env")
}

// LoadWithEnvFile is Load with an explicit dotenv path. A missing dotenv file
// is ignored; variables already set in the environment win over it.
func LoadWithEnvFile(path, envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("datastore.subscription_key", EnvPrefix+"_DATASTORE_SUBSCRIPTION_KEY", "API_KEY"); err != nil {
		return Config{}, fmt.Errorf("bind subscription key: %w", err)
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("datastore.base_url", "https://api.iatistandard.org/datastore/activity/select")
	v.SetDefault("datastore.page_size", 1000)
	v.SetDefault("datastore.timeout_seconds", 60)
	v.SetDefault("datastore.user_agent", "climatedata/0.1")
	v.SetDefault("datastore.requests_per_second", 0)
	v.SetDefault("datastore.burst", 1)
	v.SetDefault("dataset.climate_tag", "International Climate Finance")
	v.SetDefault("dataset.seed", 1337)
	v.SetDefault("output.backend", BackendLocal)
	v.SetDefault("output.content_type", "text/csv; charset=utf-8")
	v.SetDefault("output.local.base_dir", "data")
	v.SetDefault("output.local.create_dirs", false)
	v.SetDefault("database.table", "dataset_runs")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("metrics.job_name", "climatedata")
	v.SetDefault("progress.console", true)
	v.SetDefault("progress.log", false)
	v.SetDefault("logging.development", true)
	v.SetDefault("server.port", 8080)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	u, err := url.Parse(c.Datastore.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("datastore.base_url must be an absolute URL")
	}
	if c.Datastore.PageSize <= 0 {
		return fmt.Errorf("datastore.page_size must be > 0")
	}
	if c.Datastore.TimeoutSeconds < 0 {
		return fmt.Errorf("datastore.timeout_seconds must be >= 0")
	}
	if c.Datastore.RequestsPerSecond < 0 {
		return fmt.Errorf("datastore.requests_per_second must be >= 0")
	}
	if strings.TrimSpace(c.Dataset.ClimateTag) == "" {
		return fmt.Errorf("dataset.climate_tag must be set")
	}
	switch c.Output.Backend {
	case BackendLocal:
		if c.Output.Local.BaseDir == "" {
			return fmt.Errorf("output.local.base_dir must be set for the local backend")
		}
	case BackendMemory:
	case BackendGCS:
		if c.Output.GCS.Bucket == "" {
			return fmt.Errorf("output.gcs.bucket must be set for the gcs backend")
		}
	case BackendS3:
		if c.Output.S3.Bucket == "" {
			return fmt.Errorf("output.s3.bucket must be set for the s3 backend")
		}
	default:
		return fmt.Errorf("output.backend %q is not one of local, memory, gcs, s3", c.Output.Backend)
	}
	if c.Database.MaxConns < 0 {
		return fmt.Errorf("database.max_conns must be >= 0")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// Warnings lists settings that are allowed but likely to fail at run time.
func (c Config) Warnings() []string {
	var out []string
	if c.Datastore.SubscriptionKey == "" {
		out = append(out, "datastore.subscription_key is empty; requests will be rejected by the API")
	}
	return out
}
