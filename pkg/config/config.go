// Copyright 2025 Rustus Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/s3rius/rustus/pkg/logger"
)

// Tus protocol extensions rustus can serve.
const (
	ExtCreation            = "creation"
	ExtCreationWithUpload  = "creation-with-upload"
	ExtCreationDeferLength = "creation-defer-length"
	ExtTermination         = "termination"
	ExtConcatenation       = "concatenation"
	ExtChecksum            = "checksum"
	ExtGetting             = "getting"
)

// DefaultExtensions is the extension set served when none is configured.
var DefaultExtensions = []string{
	ExtGetting,
	ExtCreation,
	ExtTermination,
	ExtCreationWithUpload,
	ExtCreationDeferLength,
	ExtConcatenation,
	ExtChecksum,
}

// ServerConfig holds network and HTTP level options.
type ServerConfig struct {
	Host             string
	Port             int
	URL              string // base path uploads are served under, e.g. "/files"
	MaxBodySize      int64  // per request body cap, 0 = unlimited
	Workers          int
	CORSOrigins      []string
	DisableHealthLog bool
	BehindProxy      bool
}

// StorageConfig selects and configures the data storage backend.
type StorageConfig struct {
	Backend      string // "file" or "s3_hybrid"
	DataDir      string
	DirStructure string
	ForceFsync   bool

	S3Endpoint     string
	S3Bucket       string
	S3Region       string
	S3AccessKey    string
	S3SecretKey    string
	S3PathStyle    bool
	S3Headers      map[string]string
	S3ConcatWorker int // concurrent part downloads during concat
}

// InfoStorageConfig selects and configures the info storage backend.
type InfoStorageConfig struct {
	Backend         string // "file", "redis" or "postgres"
	Dir             string // file backend sidecar directory
	DSN             string // redis / postgres connection string
	RedisExpiration time.Duration
}

// AMQPConfig configures the AMQP hook notifier.
type AMQPConfig struct {
	URL             string
	Exchange        string
	ExchangeKind    string
	QueuesPrefix    string
	RoutingKey      string
	DeclareExchange bool
	DeclareQueues   bool
	DurableExchange bool
	DurableQueues   bool
	Celery          bool
	ConnectionPool  int
	ChannelPool     int
	IdleTimeout     time.Duration
}

// KafkaConfig configures the Kafka hook notifier.
type KafkaConfig struct {
	URLs         []string
	ClientID     string
	Topic        string
	Prefix       string
	RequiredAcks int
	Compression  string
	IdleTimeout  time.Duration
	SendTimeout  time.Duration
	ExtraOptions map[string]string
}

// NATSConfig configures the NATS hook notifier.
type NATSConfig struct {
	URLs           []string
	Subject        string
	Prefix         string
	WaitForReplies bool
	Username       string
	Password       string
	Token          string
}

// HooksConfig enumerates active notifiers and subscribed events.
type HooksConfig struct {
	Events       []string // enabled hook kinds, empty = all
	Format       string   // "default", "v2" or "tusd"
	File         string   // single hook executable
	Dir          string   // directory with one executable per hook
	HTTPURLs     []string
	HTTPHeaders  []string // incoming headers forwarded to webhook targets
	HTTPTimeout  time.Duration
	AMQP         AMQPConfig
	Kafka        KafkaConfig
	NATS         NATSConfig
}

// SentryConfig configures error reporting.
type SentryConfig struct {
	DSN        string
	SampleRate float64
}

// Config is the single immutable bundle handed to every component at
// construction time.
type Config struct {
	Server      ServerConfig
	Storage     StorageConfig
	InfoStorage InfoStorageConfig
	Hooks       HooksConfig
	Sentry      SentryConfig

	LogLevel      string
	MaxFileSize   int64 // 0 = unlimited
	AllowEmpty    bool
	RemoveParts   bool
	TusExtensions []string
	NoMetrics     bool

	extensionSet map[string]struct{}
}

// FromViper assembles the configuration from bound flags, config file
// values and RUSTUS_* environment variables.
func FromViper() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Host:             viper.GetString("host"),
			Port:             viper.GetInt("port"),
			URL:              viper.GetString("url"),
			MaxBodySize:      viper.GetInt64("max_body_size"),
			Workers:          viper.GetInt("workers"),
			CORSOrigins:      viper.GetStringSlice("cors"),
			DisableHealthLog: viper.GetBool("disable_health_access_log"),
			BehindProxy:      viper.GetBool("behind_proxy"),
		},
		Storage: StorageConfig{
			Backend:        viper.GetString("storage"),
			DataDir:        viper.GetString("data_dir"),
			DirStructure:   viper.GetString("dir_structure"),
			ForceFsync:     viper.GetBool("force_fsync"),
			S3Endpoint:     viper.GetString("s3_endpoint"),
			S3Bucket:       viper.GetString("s3_bucket"),
			S3Region:       viper.GetString("s3_region"),
			S3AccessKey:    viper.GetString("s3_access_key"),
			S3SecretKey:    viper.GetString("s3_secret_key"),
			S3PathStyle:    viper.GetBool("s3_force_path_style"),
			S3Headers:      viper.GetStringMapString("s3_headers"),
			S3ConcatWorker: viper.GetInt("s3_concat_concurrency"),
		},
		InfoStorage: InfoStorageConfig{
			Backend:         viper.GetString("info_storage"),
			Dir:             viper.GetString("info_dir"),
			DSN:             viper.GetString("info_db_dsn"),
			RedisExpiration: viper.GetDuration("info_redis_expiration"),
		},
		Hooks: HooksConfig{
			Events:      viper.GetStringSlice("hooks"),
			Format:      viper.GetString("hooks_format"),
			File:        viper.GetString("hooks_file"),
			Dir:         viper.GetString("hooks_dir"),
			HTTPURLs:    viper.GetStringSlice("hooks_http_urls"),
			HTTPHeaders: viper.GetStringSlice("hooks_http_proxy_headers"),
			HTTPTimeout: viper.GetDuration("hooks_http_timeout"),
			AMQP: AMQPConfig{
				URL:             viper.GetString("hooks_amqp_url"),
				Exchange:        viper.GetString("hooks_amqp_exchange"),
				ExchangeKind:    viper.GetString("hooks_amqp_exchange_kind"),
				QueuesPrefix:    viper.GetString("hooks_amqp_queues_prefix"),
				RoutingKey:      viper.GetString("hooks_amqp_routing_key"),
				DeclareExchange: viper.GetBool("hooks_amqp_declare_exchange"),
				DeclareQueues:   viper.GetBool("hooks_amqp_declare_queues"),
				DurableExchange: viper.GetBool("hooks_amqp_durable_exchange"),
				DurableQueues:   viper.GetBool("hooks_amqp_durable_queues"),
				Celery:          viper.GetBool("hooks_amqp_celery"),
				ConnectionPool:  viper.GetInt("hooks_amqp_connection_pool_size"),
				ChannelPool:     viper.GetInt("hooks_amqp_channel_pool_size"),
				IdleTimeout:     viper.GetDuration("hooks_amqp_idle_connection_timeout"),
			},
			Kafka: KafkaConfig{
				URLs:         viper.GetStringSlice("hooks_kafka_urls"),
				ClientID:     viper.GetString("hooks_kafka_client_id"),
				Topic:        viper.GetString("hooks_kafka_topic"),
				Prefix:       viper.GetString("hooks_kafka_prefix"),
				RequiredAcks: viper.GetInt("hooks_kafka_required_acks"),
				Compression:  viper.GetString("hooks_kafka_compression"),
				IdleTimeout:  viper.GetDuration("hooks_kafka_idle_timeout"),
				SendTimeout:  viper.GetDuration("hooks_kafka_send_timeout"),
				ExtraOptions: viper.GetStringMapString("hooks_kafka_extra_options"),
			},
			NATS: NATSConfig{
				URLs:           viper.GetStringSlice("hooks_nats_urls"),
				Subject:        viper.GetString("hooks_nats_subject"),
				Prefix:         viper.GetString("hooks_nats_prefix"),
				WaitForReplies: viper.GetBool("hooks_nats_wait_for_replies"),
				Username:       viper.GetString("hooks_nats_username"),
				Password:       viper.GetString("hooks_nats_password"),
				Token:          viper.GetString("hooks_nats_token"),
			},
		},
		Sentry: SentryConfig{
			DSN:        viper.GetString("sentry_dsn"),
			SampleRate: viper.GetFloat64("sentry_sample_rate"),
		},
		LogLevel:      viper.GetString("log_level"),
		MaxFileSize:   viper.GetInt64("max_file_size"),
		AllowEmpty:    viper.GetBool("allow_empty"),
		RemoveParts:   viper.GetBool("remove_parts"),
		TusExtensions: viper.GetStringSlice("tus_extensions"),
		NoMetrics:     viper.GetBool("no_metrics"),
	}
	cfg.Prepare()
	return cfg
}

// Prepare normalizes the base URL and builds the extension set. The
// creation-with-upload and creation-defer-length extensions imply
// creation itself.
func (c *Config) Prepare() {
	c.Server.URL = "/" + strings.Trim(c.Server.URL, "/")
	if len(c.TusExtensions) == 0 {
		c.TusExtensions = append([]string(nil), DefaultExtensions...)
	}
	c.extensionSet = make(map[string]struct{}, len(c.TusExtensions))
	for _, ext := range c.TusExtensions {
		ext = strings.TrimSpace(ext)
		if ext == ExtCreationWithUpload || ext == ExtCreationDeferLength {
			c.extensionSet[ExtCreation] = struct{}{}
		}
		c.extensionSet[ext] = struct{}{}
	}
}

// Validate rejects configurations the process must not start with.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "file":
	case "s3_hybrid":
		if c.Storage.S3Bucket == "" {
			return fmt.Errorf("s3_bucket is required for the s3_hybrid storage")
		}
		if c.Storage.S3Endpoint == "" {
			return fmt.Errorf("s3_endpoint is required for the s3_hybrid storage")
		}
	default:
		return fmt.Errorf("unknown data storage backend: %s", c.Storage.Backend)
	}

	switch c.InfoStorage.Backend {
	case "file":
	case "redis", "postgres":
		if c.InfoStorage.DSN == "" {
			return fmt.Errorf("info_db_dsn is required for the %s info storage", c.InfoStorage.Backend)
		}
	default:
		return fmt.Errorf("unknown info storage backend: %s", c.InfoStorage.Backend)
	}

	for _, ext := range c.TusExtensions {
		switch strings.TrimSpace(ext) {
		case ExtCreation, ExtCreationWithUpload, ExtCreationDeferLength,
			ExtTermination, ExtConcatenation, ExtChecksum, ExtGetting:
		default:
			return fmt.Errorf("unknown tus extension: %s", ext)
		}
	}

	switch c.Hooks.Format {
	case "", "default", "v2", "tusd":
	default:
		return fmt.Errorf("unknown hooks format: %s", c.Hooks.Format)
	}

	return nil
}

// ExtensionEnabled reports whether a protocol extension is active.
func (c *Config) ExtensionEnabled(ext string) bool {
	_, ok := c.extensionSet[ext]
	return ok
}

// ExtensionHeader renders the Tus-Extension header value.
func (c *Config) ExtensionHeader() string {
	enabled := make([]string, 0, len(DefaultExtensions))
	for _, ext := range DefaultExtensions {
		if c.ExtensionEnabled(ext) {
			enabled = append(enabled, ext)
		}
	}
	return strings.Join(enabled, ",")
}

// BaseURL returns the normalized upload prefix, e.g. "/files".
func (c *Config) BaseURL() string {
	return c.Server.URL
}

// FileURL builds the upload resource path for an id.
func (c *Config) FileURL(id string) string {
	return c.Server.URL + "/" + id
}

// LoadConfiguration merges an optional TOML config file into viper.
func LoadConfiguration(configDir string) {
	viper.SetConfigName("rustus")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.rustus")
	viper.AddConfigPath("/etc/rustus/")
	viper.SetEnvPrefix("RUSTUS")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.MergeInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			logger.Debug().Msg("no config file found, using flags and environment")
			return
		}
		logger.Fatal().Err(err).Msg("failed to load config file")
	}
	logger.Info().Msgf("Loaded config file: %s", viper.ConfigFileUsed())
}
