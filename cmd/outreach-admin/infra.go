package main

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/procurely/outreach/internal/bootstrap"
)

// adminEnv bundles the connections and service container a command needs.
type adminEnv struct {
	DB       *sql.DB
	Redis    redis.UniversalClient
	Services bootstrap.ServiceContainer
}

func connectDB(cmdCtx *commandContext) (*sql.DB, error) {
	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{
		DBConfig: cmdCtx.Config.Postgres,
		Logger:   cmdCtx.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	return db, nil
}

// openAdminEnv connects infrastructure and wires the service container.
// Redis is best-effort when wantRedis is set: commands that only read the
// durable stores keep working against a broken cache.
func openAdminEnv(cmdCtx *commandContext, wantRedis bool) (*adminEnv, error) {
	db, err := connectDB(cmdCtx)
	if err != nil {
		return nil, err
	}

	var redisClient redis.UniversalClient
	if wantRedis {
		redisClient, err = bootstrap.ConnectRedis(bootstrap.DatabaseConfig{
			RedisConfig: cmdCtx.Config.Redis,
			Logger:      cmdCtx.Logger,
		})
		if err != nil {
			cmdCtx.Logger.Warn("redis unavailable, continuing without cache", "error", err)
			redisClient = nil
		}
	}

	services := bootstrap.NewServices(&bootstrap.ServiceDeps{
		Config:      &cmdCtx.Config,
		DB:          db,
		RedisClient: redisClient,
		Logger:      cmdCtx.Logger,
	})

	return &adminEnv{
		DB:       db,
		Redis:    redisClient,
		Services: services,
	}, nil
}

func (e *adminEnv) Close(logger *slog.Logger) {
	if e == nil {
		return
	}
	if e.DB != nil {
		closeQuietly(logger, "db", e.DB)
	}
	if e.Redis != nil {
		closeQuietly(logger, "redis", e.Redis)
	}
}
