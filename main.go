package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"atmflow/config"
	"atmflow/internal/channel"
	"atmflow/internal/dashboard"
	"atmflow/internal/metrics"
	"atmflow/internal/pipeline"
	"atmflow/logger"
	"atmflow/reader"
	"atmflow/reader/bybit"
	"atmflow/reader/nse"
	"atmflow/writer"
)

const shutdownTimeout = 30 * time.Second

func main() {
	log := logger.GetLogger()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	once := flag.Bool("once", false, "Run a single tick, flush and exit")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolvePath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":  cfg.ATMFlow.Name,
		"version":  cfg.ATMFlow.Version,
		"env":      config.AppEnvironment(),
		"trackers": len(cfg.Trackers),
		"source":   cfg.Source.Primary,
		"storage":  cfg.Storage.Backend,
	}).Info("starting atmflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.Prometheus {
		metrics.Init()
	}
	if cfg.Metrics.CloudWatch.Enabled {
		logger.InitCloudWatch(ctx, cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	source, err := buildSource(cfg.Source)
	if err != nil {
		log.WithError(err).Error("failed to build quote source")
		os.Exit(1)
	}

	backend, err := writer.NewBackend(ctx, cfg.Storage)
	if err != nil {
		log.WithError(err).Error("failed to create storage backend")
		os.Exit(1)
	}

	var archiver writer.Archiver
	if cfg.Storage.Archive.Enabled {
		archiver = writer.NewParquetArchiver(backend, cfg.Storage.Archive)
	}

	trackers := make([]pipeline.Tracker, 0, len(cfg.Trackers))
	for _, tc := range cfg.Trackers {
		t, err := pipeline.NewTracker(tc, backend, archiver)
		if err != nil {
			log.WithError(err).Error("failed to create tracker")
			os.Exit(1)
		}
		trackers = append(trackers, t)
	}

	session, err := pipeline.NewSession(cfg.Scheduler.Timezone, cfg.Scheduler.Bucket)
	if err != nil {
		log.WithError(err).Error("failed to create session")
		os.Exit(1)
	}

	channels := channel.NewChannels(cfg.Channels.EventBuffer, func(subscriber string) {
		metrics.EmitDropMetric(log, subscriber)
	})
	defer channels.Close()

	engine, err := pipeline.NewEngine(pipeline.EngineOptions{
		Source:       source,
		Trackers:     trackers,
		Session:      session,
		Events:       channels,
		FetchTimeout: cfg.Scheduler.FetchTimeout,
		Quotes:       cfg.Quotes,
	})
	if err != nil {
		log.WithError(err).Error("failed to create engine")
		os.Exit(1)
	}
	if err := engine.Load(ctx); err != nil {
		log.WithError(err).Warn("some trackers start without their persisted series")
	}

	if *once {
		os.Exit(runOnce(ctx, log, engine))
	}

	var kafkaWriter *writer.KafkaWriter
	if cfg.Kafka.Enabled {
		kafkaWriter, err = writer.NewKafkaWriter(cfg.Kafka, channels.Subscribe("kafka"))
		if err != nil {
			log.WithError(err).Error("failed to create kafka writer")
			os.Exit(1)
		}
		if err := kafkaWriter.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start kafka writer")
			os.Exit(1)
		}
	}

	dash, err := dashboard.NewServer(cfg.Dashboard, log, engine, channels)
	if err != nil {
		log.WithError(err).Error("failed to create dashboard")
		os.Exit(1)
	}

	scheduler, err := pipeline.NewScheduler(cfg.Scheduler.Interval, session.Location, engine)
	if err != nil {
		log.WithError(err).Error("failed to create scheduler")
		os.Exit(1)
	}

	channels.StartMetricsReporting(ctx, 30*time.Second)
	metrics.StartChannelSizeMetrics(ctx, channels, 10*time.Second)

	g, gctx := errgroup.WithContext(ctx)
	if dash != nil {
		g.Go(func() error {
			if err := dash.Run(gctx, cfg.ATMFlow.Name); err != nil {
				return fmt.Errorf("dashboard: %w", err)
			}
			return nil
		})
	}

	scheduler.Start(ctx)
	log.WithFields(logger.Fields{
		"session":   session.ID,
		"interval":  cfg.Scheduler.Interval.String(),
		"dashboard": dash.Address(),
	}).Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	case <-gctx.Done():
		log.Warn("a component stopped unexpectedly")
	}

	log.Info("starting graceful shutdown")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := scheduler.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("scheduler did not stop in time")
	}
	if err := engine.Flush(shutdownCtx); err != nil {
		log.WithError(err).Warn("failed to flush tracker series")
	}

	cancel()
	if kafkaWriter != nil {
		log.Info("stopping kafka writer")
		kafkaWriter.Stop()
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			log.WithError(err).Warn("component exited with error")
		}
		log.Info("graceful shutdown completed")
	case <-shutdownCtx.Done():
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("atmflow stopped")
}

// buildSource chains the primary source and its fallbacks. The NSE HTML
// table follows the NSE API when enabled.
func buildSource(cfg config.SourceConfig) (reader.Source, error) {
	var nseClient *nse.Client
	names := append([]string{cfg.Primary}, cfg.Fallback...)
	seen := make(map[string]bool, len(names))

	var sources []reader.Source
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		switch name {
		case config.SourceNSE:
			if nseClient == nil {
				c, err := nse.NewClient(cfg.NSE)
				if err != nil {
					return nil, err
				}
				nseClient = c
			}
			sources = append(sources, nseClient)
			if cfg.NSE.HTMLFallback {
				sources = append(sources, nse.NewHTMLSource(nseClient))
			}
		case config.SourceBybit:
			sources = append(sources, bybit.NewOptionSource(cfg.Bybit))
		default:
			return nil, fmt.Errorf("unsupported source %q", name)
		}
	}
	if len(sources) == 1 {
		return sources[0], nil
	}
	return reader.NewFallback(sources...), nil
}

func runOnce(ctx context.Context, log *logger.Log, engine *pipeline.Engine) int {
	tickCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	code := 0
	if err := engine.Tick(tickCtx); err != nil {
		log.WithError(err).Error("tick failed")
		code = 1
	}
	if err := engine.Flush(tickCtx); err != nil {
		log.WithError(err).Error("failed to flush tracker series")
		code = 1
	}
	for _, v := range engine.Registry().List() {
		log.WithComponent("main").WithFields(logger.Fields{
			"tracker":  v.Tracker,
			"atm":      v.ATM,
			"status":   v.Status,
			"captures": v.Captures,
			"error":    v.Error,
		}).Info("tick result")
	}
	return code
}
