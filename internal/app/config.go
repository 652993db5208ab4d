package app

import (
	"time"

	"github.com/yungbote/listinglens-backend/internal/clients/amazon"
	"github.com/yungbote/listinglens-backend/internal/clients/openai"
	"github.com/yungbote/listinglens-backend/internal/clients/redis"
	"github.com/yungbote/listinglens-backend/internal/data/db"
	"github.com/yungbote/listinglens-backend/internal/http/handlers"
	"github.com/yungbote/listinglens-backend/internal/jobs/orchestrator"
	"github.com/yungbote/listinglens-backend/internal/jobs/steps"
	"github.com/yungbote/listinglens-backend/internal/observability"
	"github.com/yungbote/listinglens-backend/internal/platform/envutil"
	"github.com/yungbote/listinglens-backend/internal/platform/logger"
	"github.com/yungbote/listinglens-backend/internal/realtime"
)

type Config struct {
	Port        string
	ServiceName string
	CORSOrigins []string

	DB    db.Config
	Redis redis.Config

	SessionTTL          time.Duration
	PipelineConcurrency int
	Pipeline            orchestrator.Config
	SearchDelayMin      time.Duration
	SearchDelayMax      time.Duration
	StrictSummaries     bool
	KeywordsFromLLM     bool

	Amazon   amazon.Config
	OpenAI   openai.Config
	Realtime realtime.Config
	Socket   handlers.RealtimeConfig

	MetricsEnabled bool
	Otel           observability.OtelConfig
}

func LoadConfig(log *logger.Logger) Config {
	cfg := Config{
		Port:        envutil.String("PORT", "8000", log),
		ServiceName: envutil.String("SERVICE_NAME", "listinglens", log),
		CORSOrigins: envutil.List("CORS_ORIGINS", nil, log),

		DB: db.Config{
			Driver:           envutil.String("DB_DRIVER", "sqlite", log),
			PostgresHost:     envutil.String("POSTGRES_HOST", "localhost", log),
			PostgresPort:     envutil.String("POSTGRES_PORT", "5432", log),
			PostgresUser:     envutil.String("POSTGRES_USER", "postgres", log),
			PostgresPassword: envutil.String("POSTGRES_PASSWORD", "", log),
			PostgresName:     envutil.String("POSTGRES_NAME", "listinglens", log),
			PostgresSSLMode:  envutil.String("POSTGRES_SSLMODE", "disable", log),
			SQLitePath:       envutil.String("SQLITE_PATH", "listinglens.db", log),
		},
		Redis: redis.Config{
			Addr:     envutil.String("REDIS_ADDR", "", log),
			Password: envutil.String("REDIS_PASSWORD", "", log),
			DB:       envutil.Int("REDIS_DB", 0, log),
		},

		SessionTTL:          envutil.Duration("SESSION_TTL", 2*time.Hour, log),
		PipelineConcurrency: envutil.Int("PIPELINE_CONCURRENCY", 2, log),
		Pipeline: orchestrator.Config{
			Budget: envutil.Duration("PIPELINE_BUDGET", orchestrator.DefaultBudget, log),
			Collection: steps.CollectionConfig{
				MaxKeywords:       envutil.Int("MAX_KEYWORDS", steps.MaxKeywords, log),
				ResultsPerKeyword: envutil.Int("SEARCH_RESULTS_PER_KEYWORD", steps.DefaultResultsPerKeyword, log),
				MaxCompetitors:    envutil.Int("MAX_COMPETITORS", steps.DefaultMaxCompetitors, log),
				CompetitorWorkers: envutil.Int("COMPETITOR_WORKERS", steps.MaxCompetitorWorkers, log),
			},
		},
		SearchDelayMin:  envutil.Duration("SEARCH_DELAY_MIN", 2*time.Second, log),
		SearchDelayMax:  envutil.Duration("SEARCH_DELAY_MAX", 4*time.Second, log),
		StrictSummaries: envutil.Bool("STRICT_SUMMARIES", false, log),
		KeywordsFromLLM: envutil.Bool("KEYWORDS_FROM_LLM", false, log),

		Amazon: amazon.Config{
			BaseURL: envutil.String("MARKETPLACE_BASE_URL", "", log),
			Timeout: envutil.Duration("SCRAPE_TIMEOUT", 15*time.Second, log),
		},
		OpenAI: openai.Config{
			APIKey:  envutil.String("OPENAI_API_KEY", "", log),
			Model:   envutil.String("OPENAI_MODEL", "", log),
			BaseURL: envutil.String("OPENAI_BASE_URL", "", log),
		},
		Realtime: realtime.Config{
			BufferLimit: envutil.Int("EVENT_BUFFER_LIMIT", 256, log),
			Linger:      envutil.Duration("EVENT_LINGER", 5*time.Minute, log),
		},
		Socket: handlers.RealtimeConfig{
			PongWait: envutil.Duration("WS_PONG_WAIT", 60*time.Second, log),
		},

		MetricsEnabled: envutil.Bool("METRICS_ENABLED", true, log),
		Otel: observability.OtelConfig{
			Enabled:     envutil.Bool("OTEL_ENABLED", false, log),
			Environment: envutil.String("ENVIRONMENT", "development", log),
			Version:     envutil.String("SERVICE_VERSION", "dev", log),
			Endpoint:    envutil.String("OTEL_EXPORTER_OTLP_ENDPOINT", "", log),
			Headers:     observability.ParseHeaders(envutil.String("OTEL_EXPORTER_OTLP_HEADERS", "", log)),
			Insecure:    envutil.Bool("OTEL_EXPORTER_OTLP_INSECURE", false, log),
			SampleRatio: envutil.Float("OTEL_SAMPLE_RATIO", 1, log),
		},
	}
	cfg.Redis.TTL = cfg.SessionTTL
	cfg.Otel.ServiceName = cfg.ServiceName
	cfg.Socket.AllowedOrigins = cfg.CORSOrigins
	if cfg.SearchDelayMax < cfg.SearchDelayMin {
		log.Warn("SEARCH_DELAY_MAX below SEARCH_DELAY_MIN, using min for both")
		cfg.SearchDelayMax = cfg.SearchDelayMin
	}
	return cfg
}
