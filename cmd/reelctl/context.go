package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/aura-studio/reelsmith/config"
	"github.com/aura-studio/reelsmith/pkg/database"
	"github.com/aura-studio/reelsmith/pkg/redis"
)

// commandContext lazily loads configuration and opens only the connections a command needs.
type commandContext struct {
	verbose *bool
	cfg     *config.Config
	logger  *zap.Logger
}

func newCommandContext(verbose *bool) *commandContext {
	return &commandContext{verbose: verbose}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	c.cfg = cfg
	return cfg, nil
}

func (c *commandContext) log() *zap.Logger {
	if c.logger != nil {
		return c.logger
	}
	c.logger = zap.NewNop()
	if c.verbose != nil && *c.verbose {
		if l, err := zap.NewDevelopment(); err == nil {
			c.logger = l
		}
	}
	return c.logger
}

func (c *commandContext) withPool(ctx context.Context, fn func(*pgxpool.Pool) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), database.PoolOptions{MaxConns: 2}, c.log())
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(pool)
}

func (c *commandContext) withRedis(ctx context.Context, fn func(*redis.Client) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	rdb, err := redis.NewClient(ctx, redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, c.log())
	if err != nil {
		return err
	}
	defer rdb.Close()
	return fn(rdb)
}
