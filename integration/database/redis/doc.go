// Package redis provides Redis client initialization, health checking and a
// Redis-backed cache for ACME accounts and certificates.
//
// # Key Features
//
//   - Connect: creates a client with exponential retry and ping verification
//   - Healthcheck: returns a ping function for readiness checks
//   - Cache: autocert.Cache implementation shared by the account and certificate stores
//
// # Configuration
//
//	type Config struct {
//		ConnectionURL  string        `env:"REDIS_URL,required" envDefault:"redis://localhost:6379/0"`
//		RetryAttempts  int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3"`
//		RetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"5s"`
//		ConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"30s"`
//		KeyPrefix      string        `env:"REDIS_KEY_PREFIX" envDefault:"autotls:"`
//	}
//
// Both redis:// and rediss:// (TLS) URLs are accepted.
//
// # Usage Example
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	cache, err := redis.NewCache(client, redis.WithKeyPrefix(cfg.KeyPrefix))
//	if err != nil {
//		return err
//	}
//
//	accounts := letsencrypt.NewAccountStore(cache)
//	certs := letsencrypt.NewCertificateStore(cache)
//
// Several replicas sharing one Redis reuse a single ACME account instead of
// registering one per process.
//
// # Error Handling
//
//   - ErrFailedToParseRedisConnString: the connection URL is malformed
//   - ErrRedisNotReady: Redis did not answer a ping within the retry budget
//   - ErrEmptyConnectionURL: no connection URL was provided
//   - ErrHealthcheckFailed: the health check ping failed
//   - ErrNilClient: a nil client was passed
package redis
