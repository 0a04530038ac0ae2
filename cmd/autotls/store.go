package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/autotls/core/config"
	"github.com/dmitrymomot/autotls/core/health"
	"github.com/dmitrymomot/autotls/core/letsencrypt"
	"github.com/dmitrymomot/autotls/core/logger"
	"github.com/dmitrymomot/autotls/integration/database/redis"
	"github.com/dmitrymomot/autotls/integration/storage/s3"
)

const (
	storeFile  = "file"
	storeRedis = "redis"
	storeS3    = "s3"
)

// archive is the selected account and certificate store backend.
type archive struct {
	cache letsencrypt.Cache
	check health.Check
	close func()
}

// openArchive builds the archive backend. A nil cache means archiving is
// disabled (file backend without a storage directory).
func openArchive(ctx context.Context, kind, dir string, log *slog.Logger) (archive, error) {
	noop := func() {}

	switch kind {
	case "", storeFile:
		if dir == "" {
			log.Info("certificate archive disabled", logger.Component("store"))
			return archive{close: noop}, nil
		}
		log.Info("using file archive", logger.Component("store"), logger.Key("dir", dir))
		return archive{cache: letsencrypt.DirCache(dir), close: noop}, nil

	case storeRedis:
		var cfg redis.Config
		if err := config.Load(&cfg); err != nil {
			return archive{}, err
		}
		client, err := redis.Connect(ctx, cfg)
		if err != nil {
			return archive{}, err
		}
		cache, err := redis.NewCache(client, redis.WithKeyPrefix(cfg.KeyPrefix))
		if err != nil {
			_ = client.Close()
			return archive{}, err
		}
		log.Info("using redis archive", logger.Component("store"))
		return archive{
			cache: cache,
			check: redis.Healthcheck(client),
			close: func() { _ = client.Close() },
		}, nil

	case storeS3:
		var cfg s3.Config
		if err := config.Load(&cfg); err != nil {
			return archive{}, err
		}
		cache, err := s3.New(ctx, cfg)
		if err != nil {
			return archive{}, err
		}
		log.Info("using s3 archive", logger.Component("store"), logger.Key("bucket", cfg.Bucket))
		return archive{cache: cache, close: noop}, nil

	default:
		return archive{}, fmt.Errorf("unknown AUTOTLS_STORE %q: want file, redis or s3", kind)
	}
}
