package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/listinglens-backend/internal/http/handlers"
	httpMW "github.com/yungbote/listinglens-backend/internal/http/middleware"
	"github.com/yungbote/listinglens-backend/internal/observability"
	"github.com/yungbote/listinglens-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	ServiceName string
	CORSOrigins []string
	Metrics     *observability.Metrics

	AnalysisHandler *httpH.AnalysisHandler
	RealtimeHandler *httpH.RealtimeHandler
	HealthHandler   *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/health", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapF(cfg.Metrics.WriteHTTP))
	}

	api := r.Group("/api")
	{
		if cfg.AnalysisHandler != nil {
			api.POST("/analyze", cfg.AnalysisHandler.Analyze)
			api.GET("/analysis/:id/status", cfg.AnalysisHandler.Status)
			api.GET("/analysis/:id/result", cfg.AnalysisHandler.Result)
			api.GET("/analysis/:id/events", cfg.AnalysisHandler.Events)
			api.GET("/sessions", cfg.AnalysisHandler.ListSessions)
		}
	}

	// Realtime (websocket)
	if cfg.RealtimeHandler != nil {
		r.GET("/ws/:id", cfg.RealtimeHandler.Stream)
	}

	return r
}
