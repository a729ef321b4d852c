// Command offlined wires the offline caching layer together: it opens the
// configured namespace backend and snapshot store, runs install and
// activation for the current cache version, and serves the control channel
// until interrupted.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/caarlos0/env/v11"
	_ "github.com/lib/pq"

	offlinecache "github.com/audiomark/offline-cache"
	"github.com/audiomark/offline-cache/caches/disk"
	"github.com/audiomark/offline-cache/caches/dynamodb"
	"github.com/audiomark/offline-cache/caches/local"
	"github.com/audiomark/offline-cache/caches/postgres"
	"github.com/audiomark/offline-cache/metastore"
	"github.com/audiomark/offline-cache/metrics"
)

type config struct {
	Origin  string `env:"OFFLINE_ORIGIN" envDefault:"http://localhost:3000"`
	App     string `env:"OFFLINE_APP" envDefault:"audio-marker"`
	Version string `env:"OFFLINE_CACHE_VERSION" envDefault:"v1"`

	// Backend selects the namespace storage: memory, disk, postgres or
	// dynamodb.
	Backend     string `env:"OFFLINE_CACHE_BACKEND" envDefault:"memory"`
	CacheDir    string `env:"OFFLINE_CACHE_DIR" envDefault:".offline-cache"`
	PostgresDSN string `env:"OFFLINE_POSTGRES_DSN"`
	DynamoTable string `env:"OFFLINE_DYNAMODB_TABLE"`

	SnapshotDB string `env:"OFFLINE_SNAPSHOT_DB" envDefault:"offline-snapshots.db"`
	Debug      bool   `env:"OFFLINE_DEBUG"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var conf config
	if err := env.Parse(&conf); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	level := slog.LevelInfo
	if conf.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	provider, err := openProvider(ctx, conf, logger)
	if err != nil {
		return err
	}

	snapshots, err := metastore.Open(conf.SnapshotDB)
	if err != nil {
		return fmt.Errorf("open snapshot store: %w", err)
	}
	defer snapshots.Close()

	cacheCfg := offlinecache.DefaultConfig()
	cacheCfg.App = conf.App
	cacheCfg.Version = conf.Version

	registry := offlinecache.NewRegistry(cacheCfg, provider)
	tracker := metrics.NewTracker(0.01)
	lifecycle := offlinecache.NewLifecycle(registry, http.DefaultTransport, conf.Origin, logger)
	controller := offlinecache.NewController(registry, lifecycle, http.DefaultTransport, logger)

	transport := offlinecache.New(registry, tracker, logger)(http.DefaultTransport)
	httpClient := &http.Client{Transport: transport}
	_ = httpClient // handed to the page layer embedding this binary

	if err := lifecycle.Install(ctx); err != nil {
		return fmt.Errorf("install: %w", err)
	}
	if err := lifecycle.Activate(ctx); err != nil {
		return fmt.Errorf("activate: %w", err)
	}

	logger.Info("offline cache ready",
		"version", conf.Version, "backend", conf.Backend, "origin", conf.Origin)

	controller.Run(ctx)

	if ct, ok := transport.(*offlinecache.Transport); ok {
		ct.Wait()
	}
	for _, strategy := range []string{"cache-first", "network-first", "stale-while-revalidate", "content-keyed-swr"} {
		if stats, err := tracker.GetStats(strategy); err == nil {
			logger.Info("strategy latency", "stats", stats.String())
		}
	}
	return nil
}

func openProvider(ctx context.Context, conf config, logger *slog.Logger) (offlinecache.Provider, error) {
	switch conf.Backend {
	case "memory":
		return local.NewProvider(), nil

	case "disk":
		return disk.NewProvider(conf.CacheDir, logger)

	case "postgres":
		db, err := sql.Open("postgres", conf.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return postgres.New(ctx, db)

	case "dynamodb":
		awscfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return dynamodb.New(awsdynamodb.NewFromConfig(awscfg), &dynamodb.Config{
			Table: conf.DynamoTable,
		})

	default:
		return nil, fmt.Errorf("unknown cache backend %q", conf.Backend)
	}
}
