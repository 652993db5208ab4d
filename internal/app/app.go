package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/yungbote/listinglens-backend/internal/capabilities"
	"github.com/yungbote/listinglens-backend/internal/clients/amazon"
	"github.com/yungbote/listinglens-backend/internal/clients/openai"
	"github.com/yungbote/listinglens-backend/internal/clients/redis"
	"github.com/yungbote/listinglens-backend/internal/data/db"
	"github.com/yungbote/listinglens-backend/internal/data/repos"
	"github.com/yungbote/listinglens-backend/internal/data/sessionstore"
	apphttp "github.com/yungbote/listinglens-backend/internal/http"
	httpH "github.com/yungbote/listinglens-backend/internal/http/handlers"
	httpMW "github.com/yungbote/listinglens-backend/internal/http/middleware"
	"github.com/yungbote/listinglens-backend/internal/jobs/orchestrator"
	"github.com/yungbote/listinglens-backend/internal/jobs/steps"
	"github.com/yungbote/listinglens-backend/internal/jobs/worker"
	"github.com/yungbote/listinglens-backend/internal/observability"
	"github.com/yungbote/listinglens-backend/internal/platform/logger"
	"github.com/yungbote/listinglens-backend/internal/realtime"
	"github.com/yungbote/listinglens-backend/internal/services"
)

const shutdownGrace = 15 * time.Second

type App struct {
	Log      *logger.Logger
	Cfg      Config
	DB       *db.Service
	Repos    repos.Set
	Store    *sessionstore.Store
	Hub      *realtime.Multiplexer
	Pool     *worker.Pool
	Engine   *orchestrator.Engine
	Analysis services.AnalysisService
	Metrics  *observability.Metrics
	Server   *apphttp.Server

	redis        *redis.SessionCache
	shutdownOtel func(context.Context) error
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	a, err := Build(log, cfg)
	if err != nil {
		log.Sync()
		return nil, err
	}
	return a, nil
}

// Build wires every component from cfg. On error everything opened so far is
// closed again.
func Build(log *logger.Logger, cfg Config) (a *App, err error) {
	a = &App{Log: log, Cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()

	a.shutdownOtel = observability.InitOTel(context.Background(), log, cfg.Otel)
	if cfg.MetricsEnabled {
		a.Metrics = observability.NewMetrics()
	}

	a.DB, err = db.NewService(log, cfg.DB)
	if err != nil {
		return a, fmt.Errorf("init database: %w", err)
	}
	if err = a.DB.AutoMigrateAll(); err != nil {
		return a, fmt.Errorf("database automigrate: %w", err)
	}
	a.Repos = repos.New(a.DB.DB(), log)

	var cache sessionstore.Cache
	if cfg.Redis.Addr != "" {
		a.redis, err = redis.NewSessionCache(log, cfg.Redis)
		if err != nil {
			return a, fmt.Errorf("init redis: %w", err)
		}
		cache = a.redis
	} else {
		log.Info("REDIS_ADDR not set, using in-process session cache")
		cache = sessionstore.NewMemoryCache(cfg.SessionTTL)
	}
	a.Store, err = sessionstore.New(log, cache, a.Repos.Sessions, cfg.SessionTTL)
	if err != nil {
		return a, fmt.Errorf("init session store: %w", err)
	}

	rtCfg := cfg.Realtime
	rtCfg.Metrics = a.Metrics
	a.Hub = realtime.NewMultiplexer(log, a.Repos.Events, rtCfg)
	a.Pool = worker.NewPool(log, cfg.PipelineConcurrency)

	market := amazon.NewClient(log, cfg.Amazon)
	summarizer := wireSummarizer(log, cfg.OpenAI)
	var keywords steps.KeywordSource = steps.DeterministicKeywords{}
	if cfg.KeywordsFromLLM {
		keywords = steps.SummarizerKeywords{Summarizer: summarizer, Log: log}
	}

	a.Engine, err = orchestrator.NewEngine(orchestrator.Deps{
		Log:     log,
		Store:   a.Store,
		Channel: a.Hub,
		Pool:    a.Pool,
		Collection: steps.CollectionDeps{
			Scraper:  market,
			Searcher: market,
			Keywords: keywords,
			Pacer:    steps.NewPacer(cfg.SearchDelayMin, cfg.SearchDelayMax),
			Products: a.Repos.Products,
			Metrics:  a.Metrics,
		},
		Summaries: steps.SummaryDeps{Summarizer: summarizer, Strict: cfg.StrictSummaries},
		Metrics:   a.Metrics,
	}, cfg.Pipeline)
	if err != nil {
		return a, fmt.Errorf("init pipeline: %w", err)
	}

	a.Analysis = services.NewAnalysisService(log, a.Store, a.Repos.Events, a.Engine)

	checks := map[string]httpH.Pinger{"database": a.DB}
	if a.redis != nil {
		checks["redis"] = a.redis
	}
	socket := cfg.Socket
	if len(socket.AllowedOrigins) == 0 {
		socket.AllowedOrigins = httpMW.DefaultOrigins
	}
	a.Server = apphttp.NewServer(apphttp.RouterConfig{
		Log:             log,
		ServiceName:     cfg.ServiceName,
		CORSOrigins:     cfg.CORSOrigins,
		Metrics:         a.Metrics,
		AnalysisHandler: httpH.NewAnalysisHandler(log, a.Analysis),
		RealtimeHandler: httpH.NewRealtimeHandler(log, a.Hub, a.Analysis, socket),
		HealthHandler:   httpH.NewHealthHandler(checks),
	})
	return a, nil
}

// wireSummarizer falls back to the static summarizer when no model is
// configured so the pipeline still produces marked placeholder text.
func wireSummarizer(log *logger.Logger, cfg openai.Config) capabilities.Summarizer {
	if cfg.APIKey == "" {
		log.Warn("OPENAI_API_KEY not set, summaries use static fallback text")
		return capabilities.StaticSummarizer{}
	}
	s, err := openai.NewSummarizer(log, cfg)
	if err != nil {
		log.Warn("OpenAI summarizer unavailable, using static fallback text", "error", err)
		return capabilities.StaticSummarizer{}
	}
	return s
}

// Run serves on PORT until ctx is cancelled or the server fails, then shuts
// down gracefully.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	addr := ":" + a.Cfg.Port
	errc := make(chan error, 1)
	go func() {
		a.Log.Info("Server listening", "addr", addr)
		errc <- a.Server.Run(addr)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	a.Log.Info("Shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return a.Shutdown(sctx)
}

// Shutdown stops accepting requests, cancels running pipelines and waits for
// them to record their outcome.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.Server != nil {
		if err := a.Server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if a.Analysis != nil {
		if err := a.Analysis.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("pipeline shutdown: %w", err))
		}
	}
	if a.Pool != nil {
		if err := a.Pool.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("worker pool stop: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close releases connections. It is safe on a partially built App.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Hub != nil {
		a.Hub.Close()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Log.Warn("Session store close failed", "error", err)
		}
	} else if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Log.Warn("Database close failed", "error", err)
		}
	}
	if a.shutdownOtel != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.shutdownOtel(ctx); err != nil {
			a.Log.Warn("OpenTelemetry shutdown failed", "error", err)
		}
		cancel()
		a.shutdownOtel = nil
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
