package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/procurely/outreach/config"
	"github.com/procurely/outreach/internal/adapters/dispatcher"
	"github.com/procurely/outreach/internal/adapters/provider"
	"github.com/procurely/outreach/internal/adapters/reaper"
	"github.com/procurely/outreach/internal/adapters/sweeper"
	"github.com/procurely/outreach/internal/core"
	"github.com/procurely/outreach/internal/data"
	"github.com/procurely/outreach/internal/observability/statsd"
	"github.com/procurely/outreach/internal/ratelimit"
	"github.com/procurely/outreach/internal/service"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Queue         *service.QueueService
	Campaigns     *service.CampaignService
	Sequences     *service.SequenceService
	Stats         *service.StatsService
	Ingest        *service.IngestService
	Audience      *service.AudienceService
	Renderer      *service.TemplateRenderer
	Jobs          core.JobRepository
	Suppressions  core.SuppressionRepository
	Directory     *data.DirectoryRepo
	Budgets       core.BudgetRepository
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink   *statsd.Client
	MetricsConfig config.ObservabilityMetricsConfig
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// serviceRepositories groups data adapters backing service ports.
type serviceRepositories struct {
	DB              *sql.DB
	Redis           redis.UniversalClient
	JobRepo         *data.JobRepo
	CampaignRepo    *data.CampaignRepo
	SequenceRepo    *data.SequenceRepo
	MetricRepo      *data.MetricRepo
	SuppressionRepo *data.SuppressionRepo
	DirectoryRepo   *data.DirectoryRepo
	BudgetRepo      *data.BudgetRepo
	StatsCache      *data.RedisStatsCache
}

// buildObservability configures the metrics sink.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	var metricsSink *statsd.Client
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  "outreach",
			Logger:  obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			metricsSink = client
		}
	}

	return ObservabilityContainer{
		MetricsSink:   metricsSink,
		MetricsConfig: cfg.Metrics,
	}
}

// buildRepositories builds repositories backing service ports; no business rules here.
func buildRepositories(db *sql.DB, redisClient redis.UniversalClient) *serviceRepositories {
	repos := &serviceRepositories{
		DB:              db,
		Redis:           redisClient,
		JobRepo:         data.NewJobRepo(db, data.JobRepoConfig{}),
		CampaignRepo:    data.NewCampaignRepo(db, nil),
		SequenceRepo:    data.NewSequenceRepo(db, nil),
		MetricRepo:      data.NewMetricRepo(db, nil),
		SuppressionRepo: data.NewSuppressionRepo(db, nil),
		DirectoryRepo:   data.NewDirectoryRepo(db, nil),
		BudgetRepo:      data.NewBudgetRepo(db),
	}
	if redisClient != nil {
		repos.StatsCache = data.NewRedisStatsCache(redisClient)
	}
	return repos
}

// NewServices wires repositories into the domain services.
func NewServices(deps *ServiceDeps) ServiceContainer {
	if deps == nil {
		return ServiceContainer{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var cfg config.AppConfig
	if deps.Config != nil {
		cfg = *deps.Config
	}
	cfg.Sanitize()

	observability := buildObservability(logger, cfg.Observability)
	repos := buildRepositories(deps.DB, deps.RedisClient)

	renderer := service.NewTemplateRenderer(service.RendererOptions{})

	var cache core.StatsCache
	if repos.StatsCache != nil {
		cache = repos.StatsCache
	}
	stats := service.MustNewStatsService(service.StatsServiceOptions{
		Events: repos.MetricRepo,
		Cache:  cache,
		Logger: logger,
	})

	queue := service.MustNewQueueService(service.QueueServiceOptions{
		Repo:         repos.JobRepo,
		DefaultLease: cfg.Dispatcher.JobLease,
		Logger:       logger,
	})

	audience := service.MustNewAudienceService(service.AudienceServiceOptions{
		Directory: repos.DirectoryRepo,
		Logger:    logger,
	})

	dailyCeiling := cfg.Campaign.DailyCeiling
	if dailyCeiling <= 0 {
		dailyCeiling = cfg.Limiter.PerDay
	}
	campaigns := service.MustNewCampaignService(service.CampaignServiceOptions{
		Campaigns:    repos.CampaignRepo,
		Jobs:         repos.JobRepo,
		Audience:     audience,
		Suppressions: repos.SuppressionRepo,
		Renderer:     renderer,
		DailyCeiling: dailyCeiling,
		Location:     cfg.Limiter.Location(),
		Logger:       logger,
	})

	sequences := service.MustNewSequenceService(service.SequenceServiceOptions{
		Sequences: repos.SequenceRepo,
		Jobs:      repos.JobRepo,
		State:     repos.DirectoryRepo,
		Logger:    logger,
	})

	ingest := service.MustNewIngestService(service.IngestServiceOptions{
		Stats:        stats,
		Suppressions: repos.SuppressionRepo,
		Actions:      repos.DirectoryRepo,
		Jobs:         repos.JobRepo,
		Logger:       logger,
	})

	return ServiceContainer{
		Queue:         queue,
		Campaigns:     campaigns,
		Sequences:     sequences,
		Stats:         stats,
		Ingest:        ingest,
		Audience:      audience,
		Renderer:      renderer,
		Jobs:          repos.JobRepo,
		Suppressions:  repos.SuppressionRepo,
		Directory:     repos.DirectoryRepo,
		Budgets:       repos.BudgetRepo,
		Observability: observability,
	}
}

// ServiceOrchestrationConfig contains everything needed to run background services.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	DB       *sql.DB
	Services ServiceContainer
	Logger   *slog.Logger
}

// RunServicesWithShutdown starts the enabled background services and blocks
// until a termination signal arrives or one of them fails. The first failure
// cancels the rest; a signal-driven shutdown returns nil.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	if enabledServices[config.ServiceModeDispatcher] {
		runner, buildErr := buildDispatchRunner(cfg, logger)
		if buildErr != nil {
			return fmt.Errorf("build dispatcher: %w", buildErr)
		}
		group.Go(func() error {
			logger.Info("dispatcher started", "workers", cfg.Config.Dispatcher.Workers)
			return runner.Run(groupCtx)
		})
	}

	if enabledServices[config.ServiceModeSweeper] {
		runner, buildErr := sweeper.NewRunner(sweeper.RunnerOptions{
			DB:      cfg.DB,
			Config:  cfg.Config.Sweeper,
			Logger:  logger,
			Metrics: cfg.Services.Observability.MetricsSink,
			Queue:   cfg.Services.Queue,
		})
		if buildErr != nil {
			return fmt.Errorf("build sweeper: %w", buildErr)
		}
		group.Go(func() error {
			logger.Info("sweeper started", "interval", cfg.Config.Sweeper.Interval)
			return runner.Run(groupCtx)
		})
	}

	if enabledServices[config.ServiceModeReaper] {
		runner, buildErr := reaper.NewRunner(reaper.RunnerOptions{
			DB:      cfg.DB,
			Config:  cfg.Config.Reaper,
			Logger:  logger,
			Budgets: cfg.Services.Budgets,
			Metrics: cfg.Services.Observability.MetricsSink,
		})
		if buildErr != nil {
			return fmt.Errorf("build reaper: %w", buildErr)
		}
		group.Go(func() error {
			logger.Info("reaper started", "interval", cfg.Config.Reaper.Interval)
			return runner.Run(groupCtx)
		})
	}

	waitErr := group.Wait()
	if waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		logger.Error("service error", "error", waitErr)
		return waitErr
	}

	logger.Info("services stopped")
	return nil
}

// buildDispatchRunner assembles the delivery worker pool from the shared
// container plus the dispatcher-only collaborators.
func buildDispatchRunner(cfg *ServiceOrchestrationConfig, logger *slog.Logger) (*dispatcher.Runner, error) {
	deliveryProvider, err := provider.New(cfg.Config.Provider, logger)
	if err != nil {
		return nil, err
	}

	limiter, err := ratelimit.NewLimiter(ratelimit.LimiterOptions{
		Ceilings: ratelimit.Ceilings{
			PerSecond: cfg.Config.Limiter.PerSecond,
			PerHour:   cfg.Config.Limiter.PerHour,
			PerDay:    cfg.Config.Limiter.PerDay,
		},
		Store:    cfg.Services.Budgets,
		Location: cfg.Config.Limiter.Location(),
	})
	if err != nil {
		return nil, err
	}

	return dispatcher.NewRunner(dispatcher.RunnerOptions{
		DB:           cfg.DB,
		Logger:       logger,
		Lease:        cfg.Config.Dispatcher.JobLease,
		Workers:      cfg.Config.Dispatcher.Workers,
		SendTimeout:  cfg.Config.Dispatcher.SendTimeout,
		MaxRateWait:  cfg.Config.Dispatcher.MaxRateWait,
		Renderer:     cfg.Services.Renderer,
		Provider:     deliveryProvider,
		Limiter:      limiter,
		Queue:        cfg.Services.Queue,
		Sequences:    cfg.Services.Sequences,
		Stats:        cfg.Services.Stats,
		Suppressions: cfg.Services.Suppressions,
		Directory:    cfg.Services.Directory,
		Metrics:      cfg.Services.Observability.MetricsSink,
	})
}
