// Command autotls serves HTTPS for one domain with a certificate it obtains
// and rotates itself through an ACME authority using the HTTP-01 challenge.
//
// Configuration is read from the environment (and a .env file when present):
// ACME_* for provisioning, ROTATION_* for the schedule, SERVER_* for the
// HTTPS listener, AUTOTLS_STORE to pick the archive backend and POSTMARK_*
// to enable failure alerts. Rotation stats are served on AUTOTLS_ADMIN_ADDR.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/autotls/core/config"
	"github.com/dmitrymomot/autotls/core/health"
	"github.com/dmitrymomot/autotls/core/letsencrypt"
	"github.com/dmitrymomot/autotls/core/logger"
	"github.com/dmitrymomot/autotls/core/rotation"
	"github.com/dmitrymomot/autotls/core/server"
	"github.com/dmitrymomot/autotls/integration/email/postmark"
)

type appConfig struct {
	Env      string `env:"APP_ENV" envDefault:"production"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	// Store selects where accounts and certificates are archived: file, redis or s3.
	Store string `env:"AUTOTLS_STORE" envDefault:"file"`
	// ReadyMargin is the minimum remaining validity for the readiness check.
	ReadyMargin time.Duration `env:"AUTOTLS_READY_MARGIN" envDefault:"168h"`
	// AdminAddr serves rotation stats over plain HTTP. Keep it on loopback.
	AdminAddr string `env:"AUTOTLS_ADMIN_ADDR" envDefault:"127.0.0.1:9090"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "autotls:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	var app appConfig
	if err := config.Load(&app); err != nil {
		return err
	}

	log := newLogger(app)

	var acmeCfg letsencrypt.Config
	if err := config.Load(&acmeCfg); err != nil {
		return err
	}
	var rotCfg rotation.Config
	if err := config.Load(&rotCfg); err != nil {
		return err
	}
	var srvCfg server.Config
	if err := config.Load(&srvCfg); err != nil {
		return err
	}

	store, err := openArchive(ctx, app.Store, acmeCfg.StorageDir, log)
	if err != nil {
		return err
	}
	defer store.close()

	provOpts := []letsencrypt.Option{letsencrypt.WithLogger(log)}
	var certStore *letsencrypt.CertificateStore
	if store.cache != nil {
		certStore = letsencrypt.NewCertificateStore(store.cache)
		provOpts = append(provOpts,
			letsencrypt.WithAccountStore(letsencrypt.NewAccountStore(store.cache)),
			letsencrypt.WithCertificateStore(certStore),
		)
	}

	provisioner, err := letsencrypt.NewFromConfig(acmeCfg, provOpts...)
	if err != nil {
		return err
	}

	cell := server.NewTLSConfigCell()

	schedOpts := []rotation.Option{rotation.WithLogger(log)}
	if certStore != nil {
		schedOpts = append(schedOpts, rotation.WithCertificateStore(certStore))
	}
	notifier, err := newNotifier(log)
	if err != nil {
		return err
	}
	if notifier != nil {
		schedOpts = append(schedOpts, rotation.WithNotifier(notifier))
	}

	sched, err := rotation.NewFromConfig(rotCfg, provisioner, cell, schedOpts...)
	if err != nil {
		return err
	}

	// Nothing is served until a certificate is installed.
	if err := sched.Bootstrap(ctx); err != nil {
		return err
	}

	srv, err := server.NewFromConfig(srvCfg,
		server.WithTLSConfigCell(cell),
		server.WithLogger(log),
	)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(sched.Run(gctx))
	checks := []health.Check{health.Certificate(cell, app.ReadyMargin)}
	if store.check != nil {
		checks = append(checks, store.check)
	}
	g.Go(srv.Run(gctx, newHandler(log, checks...)))

	admin := server.New(app.AdminAddr, server.WithLogger(log))
	g.Go(admin.Run(gctx, newAdminHandler(sched, provisioner.Domain())))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newLogger(app appConfig) *slog.Logger {
	opts := []logger.Option{logger.WithLevelName(app.LogLevel)}
	if app.Env == "development" {
		opts = append(opts, logger.WithDevelopment("autotls"))
	} else {
		opts = append(opts, logger.WithProduction("autotls"))
	}
	return logger.New(opts...)
}

// newNotifier returns nil when Postmark is not configured.
func newNotifier(log *slog.Logger) (rotation.Notifier, error) {
	var cfg postmark.Config
	if err := config.Load(&cfg); err != nil {
		return nil, err
	}
	if cfg.PostmarkServerToken == "" {
		log.Info("rotation failure alerts disabled", logger.Component("postmark"))
		return nil, nil
	}
	return postmark.New(cfg)
}
