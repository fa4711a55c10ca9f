// Package persistence opens the configured document store driver.
package persistence

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/negrahodzic/UniVerse-sub000/config"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/account"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/progress"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/session"
	"github.com/negrahodzic/UniVerse-sub000/internal/infrastructure/persistence/memory"
	"github.com/negrahodzic/UniVerse-sub000/internal/infrastructure/persistence/mongo"
	"github.com/negrahodzic/UniVerse-sub000/internal/infrastructure/persistence/postgres"
	"github.com/negrahodzic/UniVerse-sub000/internal/infrastructure/persistence/redis"
)

// Stores groups the store ports of one driver.
type Stores struct {
	Driver      config.StoreDriver
	Users       progress.Store
	Sessions    session.Store
	Credentials account.CredentialStore

	// Memory is set for the memory driver. It doubles as a process-local
	// settlement guard when Redis is off.
	Memory *memory.Store

	ping  func(ctx context.Context) error
	close func(ctx context.Context) error
}

// Ping checks the backing database.
func (s *Stores) Ping(ctx context.Context) error {
	if s.ping == nil {
		return nil
	}
	return s.ping(ctx)
}

// Close releases connections.
func (s *Stores) Close(ctx context.Context) error {
	if s.close == nil {
		return nil
	}
	return s.close(ctx)
}

// Open connects the driver named by cfg.Store.Driver. migrate runs the
// Postgres migrations when the driver is postgres.
func Open(ctx context.Context, cfg *config.Config, migrate bool) (*Stores, error) {
	switch cfg.Store.Driver {
	case config.StoreMemory:
		mem := memory.NewStore()
		return &Stores{Driver: cfg.Store.Driver, Users: mem, Sessions: mem, Credentials: mem, Memory: mem}, nil

	case config.StorePostgres:
		pgCfg := postgres.DefaultConfig()
		pgCfg.URL = cfg.Database.URL
		if cfg.Database.MaxOpenConns > 0 {
			pgCfg.MaxConns = int32(cfg.Database.MaxOpenConns)
		}
		if cfg.Database.MaxIdleConns > 0 {
			pgCfg.MinConns = int32(cfg.Database.MaxIdleConns)
		}
		if cfg.Database.ConnMaxLifetime > 0 {
			pgCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
		}
		if cfg.Database.ConnMaxIdleTime > 0 {
			pgCfg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime
		}
		conn, err := postgres.NewConnection(ctx, pgCfg)
		if err != nil {
			return nil, err
		}
		if migrate {
			if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
				conn.Close()
				return nil, err
			}
		}
		return &Stores{
			Driver:      cfg.Store.Driver,
			Users:       postgres.NewUserStore(conn),
			Sessions:    postgres.NewSessionStore(conn),
			Credentials: postgres.NewCredentialStore(conn),
			ping:        conn.Ping,
			close: func(context.Context) error {
				conn.Close()
				return nil
			},
		}, nil

	case config.StoreMongo:
		timeout := cfg.Mongo.ConnectTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		store, err := mongo.Connect(ctx, mongo.Config{URI: cfg.Mongo.URI, Database: cfg.Mongo.Database, ConnectTimeout: timeout})
		if err != nil {
			return nil, err
		}
		return &Stores{
			Driver:      cfg.Store.Driver,
			Users:       store,
			Sessions:    store,
			Credentials: store,
			ping:        store.Ping,
			close:       store.Close,
		}, nil

	default:
		return nil, fmt.Errorf("persistence: unknown store driver %q", cfg.Store.Driver)
	}
}

// OpenRedis connects Redis from cfg.Redis. Individual settings are applied
// first; a URL overrides address, password and database.
func OpenRedis(ctx context.Context, cfg *config.Config) (*goredis.Client, error) {
	rc := redisConfig(cfg.Redis)
	rc, err := rc.WithURL(cfg.Redis.URL)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(ctx, rc)
}

func redisConfig(c config.RedisConfig) redis.Config {
	rc := redis.DefaultConfig()
	if c.Host != "" {
		rc.Host = c.Host
	}
	if c.Port > 0 {
		rc.Port = c.Port
	}
	rc.Password = c.Password
	rc.DB = c.DB
	if c.PoolSize > 0 {
		rc.PoolSize = c.PoolSize
	}
	if c.MinIdleConns > 0 {
		rc.MinIdleConns = c.MinIdleConns
	}
	if c.DialTimeout > 0 {
		rc.DialTimeout = c.DialTimeout
	}
	if c.ReadTimeout > 0 {
		rc.ReadTimeout = c.ReadTimeout
	}
	if c.WriteTimeout > 0 {
		rc.WriteTimeout = c.WriteTimeout
	}
	return rc
}
