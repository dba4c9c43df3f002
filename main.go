package main

import (
	"context"
	"expvar"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"reviewhooks/internal"
	"reviewhooks/pkg/api"
	"reviewhooks/pkg/ingest"
	"reviewhooks/pkg/relevance"
	"reviewhooks/pkg/stats"
	"reviewhooks/pkg/storage/sqlstore"
	"reviewhooks/pkg/telemetry"
	"reviewhooks/webhook"

	"github.com/joho/godotenv"
)

func main() {
	logger := internal.NewLogger("server")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Printf("load .env: %v", err)
	}

	config, err := internal.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	store, err := sqlstore.Open(sqlstore.Config{
		Driver:      config.Storage.Driver,
		DSN:         config.Storage.DSN,
		Dialect:     config.Storage.Dialect,
		AutoMigrate: config.Storage.AutoMigrate,
	})
	if err != nil {
		logger.Fatalf("storage: %v", err)
	}
	defer store.Close()

	ruleEngine, err := internal.NewRuleEngine(config.Rules, internal.NewLogger("rules"))
	if err != nil {
		logger.Fatalf("compile rules: %v", err)
	}

	publisher, err := internal.NewPublisher(config.Watermill)
	if err != nil {
		logger.Fatalf("publisher: %v", err)
	}
	defer publisher.Close()

	var sink telemetry.Sink = telemetry.NopSink{}
	if config.Telemetry.Enabled {
		sink, err = telemetry.NewSink(config.Telemetry.Sinks, publisher, config.Telemetry.Topic, internal.NewLogger("telemetry"))
		if err != nil {
			logger.Fatalf("telemetry: %v", err)
		}
	}
	emitter := telemetry.NewEmitter(sink, telemetry.Options{
		Sync:        config.Telemetry.Sync,
		Timeout:     config.Telemetry.Timeout(),
		AnonymousID: config.Telemetry.AnonymousID,
		Logger:      internal.NewLogger("telemetry"),
	})
	defer emitter.Close()

	mux := http.NewServeMux()

	if config.Providers.Bitbucket.Enabled {
		parser, err := ingest.NewBitbucketParser(config.Providers.Bitbucket.Secret)
		if err != nil {
			logger.Fatalf("bitbucket parser: %v", err)
		}
		var deduper *ingest.Deduper
		if config.Ingest.Dedupe.Enabled {
			deduper = ingest.NewDeduper(config.Ingest.Dedupe.Size, config.Ingest.Dedupe.TTL())
		}
		pipeline, err := ingest.NewPipeline(ingest.Options{
			Parser:         parser,
			Resolver:       ingest.NewResolver(store, store, config.Ingest.LookupTimeout()),
			Publisher:      publisher,
			Rules:          ruleEngine,
			Tracker:        emitter,
			Deduper:        deduper,
			PublishTimeout: config.Ingest.PublishTimeout(),
			Logger:         internal.NewLogger("ingest"),
		})
		if err != nil {
			logger.Fatalf("bitbucket pipeline: %v", err)
		}
		mux.Handle(config.Providers.Bitbucket.Path, webhook.NewBitbucketHandler(pipeline, logger, config.Server.MaxBodyBytes))
		logger.Printf("bitbucket webhook enabled on %s", config.Providers.Bitbucket.Path)

		mux.Handle(config.Providers.Bitbucket.InstallPath, webhook.NewInstallHandler(
			publisher,
			config.Providers.Bitbucket.InstallTopic,
			config.Ingest.PublishTimeout(),
			logger,
			config.Server.MaxBodyBytes,
		))
		logger.Printf("bitbucket install callback enabled on %s", config.Providers.Bitbucket.InstallPath)
	}

	apiLogger := internal.NewLogger("api")
	mux.Handle(config.API.SetupPath, &api.SetupHandler{Setups: store, Users: store, Configs: store, Logger: apiLogger})
	mux.Handle(config.API.ReposPath, &api.ReposHandler{Setups: store, Users: store, Tracker: emitter, Logger: apiLogger})
	mux.Handle(config.API.RelevantPath, &api.RelevantHandler{
		Service:        relevance.NewService(store, store, apiLogger),
		IdentityHeader: config.API.IdentityHeader,
		AllowedOrigin:  config.API.AllowedOrigin,
		Logger:         apiLogger,
	})
	mux.Handle(config.API.AuthorsPath, &api.AuthorStatsHandler{
		Service: stats.NewService(store, config.API.StatsMinCommits),
		Logger:  apiLogger,
	})
	if config.Server.MetricsEnabled {
		mux.Handle(config.Server.MetricsPath, expvar.Handler())
	}

	var handler http.Handler = mux
	if config.Server.RateLimitRPS > 0 {
		handler = internal.NewRateLimitHandler(mux, config.Server.RateLimitRPS, config.Server.RateLimitBurst, 10*time.Minute)
	}

	addr := ":" + strconv.Itoa(config.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       time.Duration(config.Server.ReadTimeoutMS) * time.Millisecond,
		WriteTimeout:      time.Duration(config.Server.WriteTimeoutMS) * time.Millisecond,
		IdleTimeout:       time.Duration(config.Server.IdleTimeoutMS) * time.Millisecond,
		ReadHeaderTimeout: time.Duration(config.Server.ReadHeaderMS) * time.Millisecond,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Printf("listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("listen: %v", err)
		}
	}()

	<-shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Printf("shutdown: %v", err)
	}
}
