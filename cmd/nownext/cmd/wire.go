package cmd

import (
	"log/slog"

	"github.com/jmylchreest/nownext/internal/config"
	"github.com/jmylchreest/nownext/internal/guide"
	"github.com/jmylchreest/nownext/internal/metadata"
	"github.com/jmylchreest/nownext/internal/observability"
	"github.com/jmylchreest/nownext/internal/version"
	"github.com/jmylchreest/nownext/pkg/httpclient"
	"github.com/jmylchreest/nownext/pkg/xtream"
)

// stack is the guide machinery shared by the serve and guide commands.
type stack struct {
	http      *httpclient.Client
	xtream    *xtream.Client
	catalog   *metadata.Catalog
	scheduler *guide.Scheduler
}

// buildStack wires the metadata client, the fetch pipeline and the
// scheduler. metrics may be nil.
func buildStack(cfg *config.Config, logger *slog.Logger, metrics *guide.Metrics) (*stack, error) {
	if err := cfg.Xtream.RequireXtream(); err != nil {
		return nil, err
	}

	userAgent := cfg.Xtream.UserAgent
	if userAgent == "" {
		userAgent = version.UserAgent()
	}

	breakerLogger := observability.WithComponent(logger, "metadata.breaker")
	hcCfg := httpclient.DefaultConfig()
	hcCfg.Timeout = cfg.Xtream.Timeout
	hcCfg.RetryAttempts = 0
	hcCfg.CircuitThreshold = cfg.CircuitBreaker.FailureThreshold
	hcCfg.CircuitTimeout = cfg.CircuitBreaker.ResetTimeout
	hcCfg.CircuitHalfOpenMax = cfg.CircuitBreaker.HalfOpenMax
	hcCfg.UserAgent = userAgent
	hcCfg.Logger = logger
	hcCfg.OnStateChange = func(from, to httpclient.CircuitState) {
		metrics.SetBreakerState(int(to), to == httpclient.CircuitOpen)
		breakerLogger.Warn("circuit breaker state changed",
			slog.String("from", from.String()),
			slog.String("to", to.String()),
		)
	}
	hc := httpclient.New(hcCfg)

	client := xtream.NewClient(cfg.Xtream.URL, cfg.Xtream.Username, cfg.Xtream.Password,
		xtream.WithHTTPClient(hc.StandardClient()),
		xtream.WithUserAgent(userAgent),
	)

	svc := metadata.NewXtreamService(client).
		WithLogger(logger).
		WithRateLimit(cfg.Xtream.RequestsPerSecond, cfg.Xtream.Burst)

	pipeline := guide.NewPipeline(svc, guide.NewCache(), guide.NewInFlight()).
		WithLogger(logger).
		WithMetrics(metrics).
		WithShortLimit(cfg.Guide.ShortLimit)

	sched, err := guide.NewScheduler(pipeline, schedulerConfig(cfg.Guide))
	if err != nil {
		return nil, err
	}
	sched.WithLogger(logger).WithMetrics(metrics)

	logger.Debug("guide stack ready",
		slog.String("xtream_url", observability.RedactURL(cfg.Xtream.URL)),
		slog.Int("short_limit", cfg.Guide.ShortLimit),
	)

	return &stack{
		http:      hc,
		xtream:    client,
		catalog:   metadata.NewCatalog(client).WithLogger(logger),
		scheduler: sched,
	}, nil
}

func schedulerConfig(c config.GuideConfig) guide.SchedulerConfig {
	return guide.SchedulerConfig{
		StepDelay:      c.StepDelay,
		MaxDelay:       c.MaxDelay,
		Lookahead:      c.Lookahead,
		HardCutoff:     c.HardCutoff,
		WorkerPoolSize: c.WorkerPoolSize,
	}
}
