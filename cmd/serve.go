// Copyright 2025 Rustus Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/s3rius/rustus/pkg/blobstore"
	"github.com/s3rius/rustus/pkg/config"
	"github.com/s3rius/rustus/pkg/debug"
	"github.com/s3rius/rustus/pkg/engine"
	"github.com/s3rius/rustus/pkg/hooks"
	"github.com/s3rius/rustus/pkg/infostore"
	"github.com/s3rius/rustus/pkg/logger"
	"github.com/s3rius/rustus/pkg/protocol"
	"github.com/s3rius/rustus/pkg/utils"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the upload server",
	Long: `Start the rustus server. Options may come from flags, a rustus.toml
config file or RUSTUS_* environment variables.`,
	Run: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	f := serveCmd.Flags()

	// Server
	f.String("host", "0.0.0.0", "Address to bind the HTTP server to")
	f.Int("port", 1081, "Port to bind the HTTP server to")
	f.String("url", "/files", "Base URL uploads are served under")
	f.Int64("max_body_size", 0, "Maximum request body size in bytes (0 = unlimited)")
	f.Int("workers", 0, "Number of OS threads to use (0 = number of CPUs)")
	f.StringSlice("cors", nil, "Allowed CORS origins (supports '*' wildcards)")
	f.Bool("disable_health_access_log", false, "Do not log health endpoint requests")
	f.Bool("behind_proxy", false, "Trust Forwarded and X-Forwarded-* headers")

	// Protocol
	f.Int64("max_file_size", 0, "Maximum upload size in bytes (0 = unlimited)")
	f.Bool("allow_empty", false, "Allow creation of zero length uploads")
	f.Bool("remove_parts", false, "Remove part files after concatenation")
	f.StringSlice("tus_extensions", config.DefaultExtensions, "Enabled tus extensions")

	// Data storage
	f.String("storage", "file", "Data storage backend (file, s3_hybrid)")
	f.String("data_dir", "./data", "Directory to store upload payloads in")
	f.String("dir_structure", "", "Directory structure template, e.g. '{year}/{month}/{day}'")
	f.Bool("force_fsync", false, "fsync every write to the data storage")
	f.String("s3_endpoint", "", "S3 endpoint URL")
	f.String("s3_bucket", "", "S3 bucket name")
	f.String("s3_region", "", "S3 region")
	f.String("s3_access_key", "", "S3 access key")
	f.String("s3_secret_key", "", "S3 secret key")
	f.Bool("s3_force_path_style", false, "Use path style S3 addressing")
	f.StringToString("s3_headers", nil, "Extra metadata headers attached to S3 objects")
	f.Int("s3_concat_concurrency", 4, "Concurrent part downloads during S3 concatenation")

	// Info storage
	f.String("info_storage", "file", "Info storage backend (file, redis, postgres)")
	f.String("info_dir", "./data", "Directory for .info sidecar files")
	f.String("info_db_dsn", "", "Redis or postgres connection string")
	f.Duration("info_redis_expiration", 0, "Expiration for redis upload records (0 = none)")

	// Hooks
	f.StringSlice("hooks", nil, "Hook kinds to dispatch (empty = all)")
	f.String("hooks_format", "default", "Hook payload format (default, v2, tusd)")
	f.String("hooks_file", "", "Executable invoked for every hook")
	f.String("hooks_dir", "", "Directory with one executable per hook kind")
	f.StringSlice("hooks_http_urls", nil, "Webhook URLs")
	f.StringSlice("hooks_http_proxy_headers", nil, "Incoming headers forwarded to webhooks")
	f.Duration("hooks_http_timeout", 2*time.Second, "Webhook and subprocess hook timeout")
	f.String("hooks_amqp_url", "", "AMQP broker URL")
	f.String("hooks_amqp_exchange", "rustus", "AMQP exchange name")
	f.String("hooks_amqp_exchange_kind", "topic", "AMQP exchange kind")
	f.String("hooks_amqp_queues_prefix", "rustus", "AMQP queue and routing key prefix")
	f.String("hooks_amqp_routing_key", "", "Fixed AMQP routing key (overrides per-hook keys)")
	f.Bool("hooks_amqp_declare_exchange", false, "Declare the AMQP exchange at startup")
	f.Bool("hooks_amqp_declare_queues", false, "Declare and bind one queue per hook at startup")
	f.Bool("hooks_amqp_durable_exchange", false, "Declare the exchange as durable")
	f.Bool("hooks_amqp_durable_queues", false, "Declare queues as durable")
	f.Bool("hooks_amqp_celery", false, "Publish messages consumable as celery tasks")
	f.Int("hooks_amqp_connection_pool_size", 2, "AMQP connection pool size")
	f.Int("hooks_amqp_channel_pool_size", 10, "AMQP channel pool size")
	f.Duration("hooks_amqp_idle_connection_timeout", time.Minute, "Idle AMQP channel eviction timeout")
	f.StringSlice("hooks_kafka_urls", nil, "Kafka broker addresses")
	f.String("hooks_kafka_client_id", "rustus", "Kafka client id")
	f.String("hooks_kafka_topic", "", "Fixed kafka topic for all hooks")
	f.String("hooks_kafka_prefix", "", "Kafka topic prefix; topics become '{prefix}-{hook}'")
	f.Int("hooks_kafka_required_acks", 1, "Kafka required acks (0, 1 or -1)")
	f.String("hooks_kafka_compression", "", "Kafka compression codec")
	f.Duration("hooks_kafka_idle_timeout", 0, "Kafka metadata refresh interval; idle connections are not timed out")
	f.Duration("hooks_kafka_send_timeout", 0, "Kafka send timeout")
	f.StringToString("hooks_kafka_extra_options", nil, "Extra kafka producer options")
	f.StringSlice("hooks_nats_urls", nil, "NATS server addresses")
	f.String("hooks_nats_subject", "", "Fixed NATS subject for all hooks")
	f.String("hooks_nats_prefix", "", "NATS subject prefix; subjects become '{prefix}.{hook}'")
	f.Bool("hooks_nats_wait_for_replies", false, "Wait for NATS consumer replies and treat non-OK as rejection")
	f.String("hooks_nats_username", "", "NATS username")
	f.String("hooks_nats_password", "", "NATS password")
	f.String("hooks_nats_token", "", "NATS auth token")

	// Observability
	f.String("log_level", "info", "Log level")
	f.String("sentry_dsn", "", "Sentry DSN")
	f.Float64("sentry_sample_rate", 1.0, "Sentry error sample rate")
	f.Bool("no_metrics", false, "Disable the /metrics endpoint")

	viper.BindPFlags(f)
}

func runServe(cmd *cobra.Command, args []string) {
	config.LoadConfiguration(configDir)
	cfg := config.FromViper()

	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	if cfg.Server.Workers > 0 {
		runtime.GOMAXPROCS(cfg.Server.Workers)
	}

	if cfg.Sentry.DSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:        cfg.Sentry.DSN,
			SampleRate: cfg.Sentry.SampleRate,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("failed to initialize sentry")
		}
		defer sentry.Flush(2 * time.Second)
	}

	ctx := cmd.Context()
	debug.SetNotReady()

	info, err := infostore.New(cfg.InfoStorage)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create info storage")
	}
	if err := info.Prepare(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare info storage")
	}
	defer info.Close()

	data, err := blobstore.New(cfg.Storage)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create data storage")
	}
	if err := data.Prepare(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare data storage")
	}
	defer data.Close()

	dispatcher, err := hooks.NewDispatcher(cfg.Hooks)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure hooks")
	}
	if err := dispatcher.Prepare(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare hook notifiers")
	}
	defer dispatcher.Close()

	eng := engine.New(cfg, info, data, dispatcher)
	handler := protocol.New(cfg, eng)

	mux := http.NewServeMux()
	mux.Handle(cfg.BaseURL(), handler)
	mux.Handle(cfg.BaseURL()+"/", handler)
	mux.Handle("/health", healthHandler(cfg))
	mux.Handle("/ready", debug.ReadyHandler())
	if !cfg.NoMetrics {
		mux.Handle("/metrics", debug.MetricsHandler())
	}

	addr := utils.JoinHostPort(cfg.Server.Host, cfg.Server.Port)
	listener, err := utils.NewListener(addr)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", addr).Msg("failed to create HTTP listener")
	}

	maxSize := "unlimited"
	if cfg.MaxFileSize > 0 {
		maxSize = humanize.IBytes(uint64(cfg.MaxFileSize))
	}
	logger.Info().
		Str("addr", addr).
		Str("base_url", cfg.BaseURL()).
		Str("storage", data.Name()).
		Str("info_storage", info.Name()).
		Str("max_file_size", maxSize).
		Msg("Starting rustus server")

	server := &http.Server{Handler: mux}
	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("failed to start HTTP server")
		}
	}()

	debug.SetReady()
	waitForShutdown()
	debug.SetNotReady()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP server shutdown failed")
	}
}

// healthHandler answers liveness probes, optionally without access
// logging.
func healthHandler(cfg *config.Config) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !cfg.Server.DisableHealthLog {
			logger.Debug().Str("remote", r.RemoteAddr).Msg("health check")
		}
		w.WriteHeader(http.StatusOK)
	})
}

func waitForShutdown() {
	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-stopChan
}
