package db

import (
	"context"
	"time"

	obslogger "github.com/smallbiznis/payflow/internal/observability/logger"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormprom "gorm.io/plugin/prometheus"
)

// Module provides the shared *gorm.DB.
var Module = fx.Module("db",
	fx.Provide(ConfigFromApp),
	fx.Provide(New),
)

// Open connects to the configured database and applies pool limits.
func Open(cfg Config, gormLog *obslogger.GormLogger) (*gorm.DB, error) {
	dialect, err := Dialect(cfg)
	if err != nil {
		return nil, err
	}

	gormCfg := &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
	}
	if gormLog != nil {
		gormCfg.Logger = gormLog
	}

	conn, err := gorm.Open(dialect, gormCfg)
	if err != nil {
		return nil, err
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxIdleConn > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConn)
	}
	if cfg.MaxOpenConn > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConn)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}
	if cfg.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTime) * time.Second)
	}
	if cfg.Type == "sqlite" {
		// one writer at a time; extra connections only produce SQLITE_BUSY
		sqlDB.SetMaxOpenConns(1)
	}

	return conn, nil
}

// New opens the database and closes it when the application stops.
func New(lc fx.Lifecycle, cfg Config, gormCfg obslogger.GormConfig, log *zap.Logger) (*gorm.DB, error) {
	conn, err := Open(cfg, obslogger.NewGormLogger(log, gormCfg))
	if err != nil {
		return nil, err
	}
	if err := instrument(conn, cfg); err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			log.Info("closing database connection")
			return sqlDB.Close()
		},
	})

	log.Info("database connected", zap.String("type", cfg.Type))
	return conn, nil
}

// instrument attaches query spans and connection pool gauges.
func instrument(conn *gorm.DB, cfg Config) error {
	if err := conn.Use(otelgorm.NewPlugin(
		otelgorm.WithDBName(cfg.Name),
		otelgorm.WithoutQueryVariables(),
	)); err != nil {
		return err
	}
	return conn.Use(gormprom.New(gormprom.Config{
		DBName:          cfg.Name,
		RefreshInterval: 15,
		StartServer:     false,
	}))
}
