package lock

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/payflow/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("lock",
	fx.Provide(NewLocker),
)

const redisKeyPrefix = "payflow:lock:"

// NewLocker returns a Redis-backed Locker when REDIS_ADDR is set and an
// in-process KeyedMutex otherwise.
func NewLocker(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (Locker, error) {
	log = log.Named("lock")
	if cfg.RedisAddr == "" {
		log.Info("using in-process bucket locks")
		return NewKeyedMutex(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})

	log.Info("using redis bucket locks", zap.String("addr", cfg.RedisAddr))
	return NewRedisLocker(client, redisKeyPrefix), nil
}
