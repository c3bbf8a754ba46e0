package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/payflow/internal/config"
	"github.com/smallbiznis/payflow/internal/observability"
	obsmiddleware "github.com/smallbiznis/payflow/internal/observability/logger"
	obstracing "github.com/smallbiznis/payflow/internal/observability/tracing"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(run),
)

// NewEngine builds the operations endpoint: liveness backed by a database
// ping, and the Prometheus scrape handler.
func NewEngine(obsCfg observability.Config, db *gorm.DB) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware("/metrics"))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", healthHandler(db))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func healthHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err != nil {
			AbortWithError(c, fmt.Errorf("%w: %v", ErrServiceUnavailable, err))
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := sqlDB.PingContext(ctx); err != nil {
			AbortWithError(c, fmt.Errorf("%w: %v", ErrServiceUnavailable, err))
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.OpsAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("operations server stopped", zap.Error(err))
				}
			}()
			log.Info("operations server listening", zap.String("addr", cfg.OpsAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
