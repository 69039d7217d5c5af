package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"CrossPoster/internal/config"
	"CrossPoster/internal/dedup"
	"CrossPoster/internal/domain"
	"CrossPoster/internal/infrastructure/feed"
	"CrossPoster/internal/infrastructure/mastodon"
	"CrossPoster/internal/infrastructure/scheduler"
	"CrossPoster/internal/infrastructure/storage"
	"CrossPoster/internal/infrastructure/telegram"
	"CrossPoster/internal/logging"
	"CrossPoster/internal/metrics"
	"CrossPoster/internal/ports"
	"CrossPoster/internal/retry"
	"CrossPoster/internal/scanner"
	"CrossPoster/internal/tracker"
	"CrossPoster/internal/uploader"
	"CrossPoster/internal/usecase"
)

const shutdownTimeout = 10 * time.Second

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	store     ports.Store
	scheduler *usecase.Scheduler
	registry  *prometheus.Registry
}

// New opens the state store and builds every component described by cfg.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := storage.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	loc := cfg.Scheduler.Location()
	httpClient := &http.Client{Timeout: cfg.Destination.Timeout}

	var (
		recorder metrics.Recorder = metrics.NoopRecorder{}
		registry *prometheus.Registry
	)
	if cfg.Metrics.ListenAddr != "" {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		recorder = metrics.NewPrometheusRecorder(registry)
	}

	scanners := scanner.NewRegistry(
		feed.NewRSSScanner(httpClient, cfg.Destination.MaxChars),
		feed.NewYouTubeScanner(httpClient, cfg.Destination.MaxChars),
	)
	source := feed.NewStrategySource(scanners, logging.Component(baseLogger, "source"))

	publisher := mastodon.NewPublisher(cfg.Destination.InstanceURL, cfg.Destination.AccessToken, mastodon.Options{
		Visibility: cfg.Destination.Visibility,
		Client:     httpClient,
		Logger:     logging.Component(baseLogger, "mastodon"),
	})

	var notifier ports.Notifier
	if cfg.Notifications.Telegram.Enabled() {
		notifier = telegram.NewNotifier(cfg.Notifications.Telegram.BotToken, cfg.Notifications.Telegram.ChatID)
	}

	tr := tracker.New(store, tracker.Policy{
		PollInterval: cfg.Scheduler.PollInterval,
		BackoffCap:   cfg.Scheduler.BackoffCap,
	}, loc)
	classifier := dedup.NewClassifier(store, store, dedup.Config{
		SimilarityThreshold: cfg.Dedup.SimilarityThreshold,
		Retention:           cfg.Dedup.RetentionWindow,
	}, time.Now)

	pub := cfg.Publishing
	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Source:            source,
		Publisher:         publisher,
		Store:             store,
		Tracker:           tr,
		Classifier:        classifier,
		Uploader:          uploader.New(publisher, pub.MaxAttachments, pub.UploadWorkers, logging.Component(baseLogger, "uploader")),
		Retry:             retry.NewPolicy(retry.BackoffMode(pub.BackoffMode), pub.RetryInitial, pub.RetryMax, pub.MaxRetries),
		MaxRateLimitWaits: pub.MaxRateLimitWaits,
		Notifier:          notifier,
		Metrics:           recorder,
		Logger:            logging.Component(baseLogger, "pipeline"),
	})

	sources := make([]domain.Source, 0, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		sources = append(sources, sc.Source())
	}

	sched := usecase.NewScheduler(usecase.SchedulerDeps{
		Driver: scheduler.NewCronScheduler(cfg.Scheduler.CronExpression, cfg.Scheduler.TickInterval, loc,
			logging.Component(baseLogger, "cron")),
		Pipeline:      pipeline,
		Tracker:       tr,
		Buffer:        store,
		Sources:       sources,
		MaxConcurrent: cfg.Scheduler.MaxConcurrentSources,
		Retention:     classifier.Retention(),
		SweepInterval: cfg.Dedup.SweepInterval,
		Metrics:       recorder,
		Logger:        logging.Component(baseLogger, "scheduler"),
	})

	return &Application{
		cfg:       cfg,
		logger:    baseLogger,
		store:     store,
		scheduler: sched,
		registry:  registry,
	}, nil
}

// Run starts the tick driver and the metrics endpoint, then blocks until ctx is done.
func (a *Application) Run(ctx context.Context) error {
	var srv *http.Server
	if a.registry != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.HTTPHandler(a.registry))
		srv = &http.Server{Addr: a.cfg.Metrics.ListenAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics endpoint stopped", logging.Err(err))
			}
		}()
		a.logger.Info("serving metrics", "addr", a.cfg.Metrics.ListenAddr)
	}

	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	a.logger.Info("crossposter started", "sources", len(a.cfg.Sources))

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	err := a.scheduler.Stop(stopCtx)
	if srv != nil {
		err = errors.Join(err, srv.Shutdown(stopCtx))
	}
	a.logger.Info("crossposter stopped")
	return err
}

// RunOnce performs a single tick: every due source runs one cycle.
func (a *Application) RunOnce(ctx context.Context) ([]domain.CycleReport, error) {
	return a.scheduler.Tick(ctx, time.Now())
}

// Sweep purges expired edit buffer entries.
func (a *Application) Sweep(ctx context.Context) (int64, error) {
	return a.scheduler.Sweep(ctx, time.Now())
}

// Close releases the state store.
func (a *Application) Close() error {
	return a.store.Close()
}
