// Command server runs the stream transcoding supervisor and its HTTP control
// API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"streampulse/internal/api"
	"streampulse/internal/broadcast"
	"streampulse/internal/history"
	"streampulse/internal/observability/logging"
	"streampulse/internal/observability/metrics"
	"streampulse/internal/server"
	"streampulse/internal/streamlog"
	"streampulse/internal/supervisor"
)

func main() {
	// Missing .env files are fine; the environment wins over file values.
	_ = godotenv.Load()

	addr := flag.String("addr", "", "HTTP listen address")
	publicBaseURL := flag.String("public-base-url", "", "base URL prefixed to HLS playback paths")
	ingestURL := flag.String("ingest-url", "", "RTMP publish base the transcoders push to")
	hlsRoot := flag.String("hls-root", "", "media server segment root, cleaned up on stream removal")
	streamLogDir := flag.String("stream-log-dir", "", "directory for per-stream bitrate and issue logs")
	historyDriver := flag.String("history-driver", "", "history snapshot driver (file, redis, or postgres)")
	historyPath := flag.String("history-path", "", "path to the file-backed history snapshot")
	redisAddr := flag.String("history-redis-addr", "", "Redis address for history snapshots")
	redisAddrs := flag.String("history-redis-addrs", "", "comma separated Redis addresses for history snapshots")
	redisUsername := flag.String("history-redis-username", "", "Redis username for history snapshots")
	redisPassword := flag.String("history-redis-password", "", "Redis password for history snapshots")
	redisMasterName := flag.String("history-redis-sentinel-master", "", "Redis sentinel master name for history snapshots")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string for history snapshots")
	snapshotInterval := flag.Duration("snapshot-interval", 0, "interval between history snapshots")
	idleTimeout := flag.Duration("idle-timeout", 0, "zero-viewer age before a stream is torn down")
	staleAfter := flag.Duration("stale-after", 0, "telemetry silence before a stream is flagged down")
	stopTimeout := flag.Duration("stop-timeout", 0, "graceful transcoder exit wait before a hard kill")
	deleteCooldown := flag.Duration("delete-cooldown", 0, "relaunch block after a stream is removed")
	hookToken := flag.String("hook-token", "", "shared token required on media server viewer hooks")
	ffmpegBinary := flag.String("ffmpeg", "", "path to the ffmpeg binary")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("STREAMPULSE_LOG_LEVEL"), "info"),
		Format: firstNonEmpty(*logFormat, os.Getenv("STREAMPULSE_LOG_FORMAT")),
	})
	recorder := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logDir := firstNonEmpty(*streamLogDir, os.Getenv("STREAMPULSE_STREAM_LOG_DIR"), "data/streams")
	logWriter, err := streamlog.New(logDir)
	if err != nil {
		logger.Error("failed to prepare stream log directory", "dir", logDir, "error", err)
		os.Exit(1)
	}

	store, err := configureHistoryStore(ctx, historyStoreSettings{
		Driver:          firstNonEmpty(*historyDriver, os.Getenv("STREAMPULSE_HISTORY_DRIVER")),
		Path:            firstNonEmpty(*historyPath, os.Getenv("STREAMPULSE_HISTORY_PATH"), "data/history.json"),
		RedisAddr:       firstNonEmpty(*redisAddr, os.Getenv("STREAMPULSE_HISTORY_REDIS_ADDR")),
		RedisAddrs:      splitAndTrim(firstNonEmpty(*redisAddrs, os.Getenv("STREAMPULSE_HISTORY_REDIS_ADDRS"))),
		RedisUsername:   firstNonEmpty(*redisUsername, os.Getenv("STREAMPULSE_HISTORY_REDIS_USERNAME")),
		RedisPassword:   firstNonEmpty(*redisPassword, os.Getenv("STREAMPULSE_HISTORY_REDIS_PASSWORD")),
		RedisMasterName: firstNonEmpty(*redisMasterName, os.Getenv("STREAMPULSE_HISTORY_REDIS_SENTINEL_MASTER")),
		PostgresDSN:     firstNonEmpty(*postgresDSN, os.Getenv("STREAMPULSE_POSTGRES_DSN"), os.Getenv("DATABASE_URL")),
	})
	if err != nil {
		logger.Error("failed to configure history store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("history store close", "error", err)
		}
	}()

	runner := &supervisor.FFmpegRunner{
		Binary: firstNonEmpty(*ffmpegBinary, os.Getenv("STREAMPULSE_FFMPEG")),
	}

	sup := supervisor.New(supervisor.Config{
		IngestURL:      firstNonEmpty(*ingestURL, os.Getenv("STREAMPULSE_INGEST_URL")),
		PublicBaseURL:  firstNonEmpty(*publicBaseURL, os.Getenv("STREAMPULSE_PUBLIC_BASE_URL")),
		HLSRoot:        firstNonEmpty(*hlsRoot, os.Getenv("STREAMPULSE_HLS_ROOT")),
		IdleTimeout:    resolveDuration(*idleTimeout, "STREAMPULSE_IDLE_TIMEOUT", 0),
		StaleAfter:     resolveDuration(*staleAfter, "STREAMPULSE_STALE_AFTER", 0),
		StopTimeout:    resolveDuration(*stopTimeout, "STREAMPULSE_STOP_TIMEOUT", 0),
		DeleteCooldown: resolveDuration(*deleteCooldown, "STREAMPULSE_DELETE_COOLDOWN", 0),
	},
		supervisor.WithRunner(runner),
		supervisor.WithMetrics(recorder),
		supervisor.WithStreamLogs(logWriter),
		supervisor.WithLogger(logging.WithComponent(logger, "supervisor")),
	)

	hub := broadcast.NewHub(broadcast.Config{
		Logger:            logging.WithComponent(logger, "events"),
		Snapshot:          sup.SnapshotEvents,
		HeartbeatInterval: 30 * time.Second,
	})
	sup.AttachPublisher(hub)

	if histories, err := store.Load(ctx, time.Now().UTC()); err != nil {
		logger.Warn("failed to load persisted history", "error", err)
	} else if len(histories) > 0 {
		sup.RestoreHistory(histories)
		logger.Info("restored bitrate history", "streams", len(histories))
	}

	handler := &api.Handler{
		Streams:   sup,
		Events:    hub,
		HookToken: firstNonEmpty(*hookToken, os.Getenv("STREAMPULSE_HOOK_TOKEN")),
		Logger:    logging.WithComponent(logger, "api"),
	}

	srv := server.New(handler, server.Config{
		Addr: firstNonEmpty(*addr, os.Getenv("STREAMPULSE_ADDR"), ":8080"),
		TLS: server.TLSConfig{
			CertFile: firstNonEmpty(*tlsCert, os.Getenv("STREAMPULSE_TLS_CERT")),
			KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("STREAMPULSE_TLS_KEY")),
		},
		Logger:  logging.WithComponent(logger, "http"),
		Metrics: recorder,
	})

	stopSweeps := sup.StartWorkers(ctx)
	stopSnapshots := startSnapshotWorker(ctx, logging.WithComponent(logger, "snapshots"), sup, store,
		resolveDuration(*snapshotInterval, "STREAMPULSE_SNAPSHOT_INTERVAL", 5*time.Minute))

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return srv.Run(groupCtx)
	})

	err = group.Wait()
	stopSweeps()
	stopSnapshots()
	sup.Shutdown()

	saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if saveErr := store.Save(saveCtx, sup.HistorySnapshot()); saveErr != nil {
		logger.Warn("failed to persist final history snapshot", "error", saveErr)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

type historyStoreSettings struct {
	Driver          string
	Path            string
	RedisAddr       string
	RedisAddrs      []string
	RedisUsername   string
	RedisPassword   string
	RedisMasterName string
	PostgresDSN     string
}

func configureHistoryStore(ctx context.Context, settings historyStoreSettings) (history.Store, error) {
	driver := strings.ToLower(strings.TrimSpace(settings.Driver))
	if driver == "" {
		switch {
		case settings.PostgresDSN != "":
			driver = "postgres"
		case settings.RedisAddr != "" || len(settings.RedisAddrs) > 0:
			driver = "redis"
		default:
			driver = "file"
		}
	}
	switch driver {
	case "file":
		return history.NewFileStore(settings.Path)
	case "redis":
		return history.NewRedisStore(history.RedisConfig{
			Addr:       settings.RedisAddr,
			Addrs:      settings.RedisAddrs,
			Username:   settings.RedisUsername,
			Password:   settings.RedisPassword,
			MasterName: settings.RedisMasterName,
		})
	case "postgres":
		if strings.TrimSpace(settings.PostgresDSN) == "" {
			return nil, fmt.Errorf("postgres history store selected without DSN")
		}
		return history.NewPostgresStore(ctx, settings.PostgresDSN)
	default:
		return nil, fmt.Errorf("unsupported history driver %q", driver)
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		} else {
			slog.Warn("invalid duration value", "key", envKey, "value", env, "error", err)
		}
	}
	return fallback
}
