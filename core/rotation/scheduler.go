package rotation

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dmitrymomot/autotls/core/letsencrypt"
	"github.com/dmitrymomot/autotls/core/logger"
	"github.com/dmitrymomot/autotls/core/server"
	"github.com/dmitrymomot/autotls/pkg/acme"
)

// Provisioner obtains a fresh certificate. *letsencrypt.Provisioner satisfies it.
type Provisioner interface {
	Domain() string
	Provision(ctx context.Context) (*letsencrypt.Run, error)
}

// Failure describes a rotation that did not produce a certificate.
type Failure struct {
	Domain string
	RunID  string
	// LastState is the last state the run reached before failing.
	LastState   letsencrypt.State
	Err         error
	At          time.Time
	Consecutive int64
	// Expires is the expiry of the certificate still being served, zero if none.
	Expires time.Time
}

// Notifier reports rotation failures.
type Notifier interface {
	Notify(ctx context.Context, f Failure) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, f Failure) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, failure Failure) error {
	return f(ctx, failure)
}

// Scheduler keeps the listener's certificate fresh by re-provisioning on a
// fixed interval and swapping the TLS config cell on success.
type Scheduler struct {
	provisioner Provisioner
	cell        *server.TLSConfigCell
	install     Installer
	notifier    Notifier
	certs       CertificateStore
	logger      *slog.Logger

	interval          time.Duration
	shutdownTimeout   time.Duration
	reuseStored       bool
	bootstrapAttempts int
	bootstrapBackoff  time.Duration

	// State management
	mu         sync.Mutex
	cancel     context.CancelFunc
	generation uint64
	running    atomic.Bool
	wg         sync.WaitGroup
	rotating   atomic.Bool

	// Observability metrics
	succeeded   atomic.Int64
	failed      atomic.Int64
	consecutive atomic.Int64
	lastSuccess atomic.Int64
	lastFailure atomic.Int64
}

// Stats provides observability metrics for monitoring and debugging.
type Stats struct {
	Succeeded           int64
	Failed              int64
	ConsecutiveFailures int64
	LastSuccess         time.Time
	LastFailure         time.Time
	NotAfter            time.Time // Expiry of the certificate being served
	IsRunning           bool
	InFlight            bool
}

// NewScheduler creates a rotation scheduler writing into cell.
func NewScheduler(p Provisioner, cell *server.TLSConfigCell, opts ...Option) (*Scheduler, error) {
	if p == nil {
		return nil, ErrProvisionerNil
	}
	if cell == nil {
		return nil, ErrCellNil
	}

	s := &Scheduler{
		provisioner:       p,
		cell:              cell,
		install:           defaultInstaller,
		logger:            logger.Nop(),
		interval:          DefaultInterval,
		shutdownTimeout:   30 * time.Second,
		bootstrapAttempts: 1,
		bootstrapBackoff:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logger.Component("rotation"), logger.Domain(p.Domain()))

	return s, nil
}

// NewFromConfig creates a Scheduler from configuration. Additional options override config values.
func NewFromConfig(cfg Config, p Provisioner, cell *server.TLSConfigCell, opts ...Option) (*Scheduler, error) {
	allOpts := append([]Option{
		WithInterval(cfg.Interval),
		WithShutdownTimeout(cfg.ShutdownTimeout),
		WithReuseStored(cfg.ReuseStored),
		WithBootstrapRetry(cfg.BootstrapAttempts, cfg.BootstrapBackoff),
	}, opts...)

	return NewScheduler(p, cell, allOpts...)
}

// Bootstrap installs the first certificate. It must succeed before the
// listener serves traffic, so its error is meant to be fatal.
func (s *Scheduler) Bootstrap(ctx context.Context) error {
	if s.installStored(ctx) {
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.bootstrapBackoff
	b.MaxElapsedTime = 0

	attempt := 0
	var last *letsencrypt.Run
	op := func() error {
		attempt++
		run, err := s.rotate(ctx)
		last = run
		if err == nil {
			return nil
		}
		s.logger.WarnContext(ctx, "initial provisioning attempt failed",
			logger.Attempt(attempt),
			logger.Error(err),
		)
		if errors.Is(err, letsencrypt.ErrListenerBindFailed) || errors.Is(err, letsencrypt.ErrChallengeDir) {
			return backoff.Permanent(err)
		}
		return err
	}

	retries := uint64(s.bootstrapAttempts - 1)
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx)); err != nil {
		s.report(ctx, last, err)
		return fmt.Errorf("%w: %w", ErrBootstrapFailed, err)
	}
	return nil
}

// installStored installs an archived certificate when reuse is enabled and
// the certificate outlives the next rotation.
func (s *Scheduler) installStored(ctx context.Context) bool {
	if !s.reuseStored || s.certs == nil {
		return false
	}

	cert, err := s.certs.Load(ctx, s.provisioner.Domain())
	switch {
	case errors.Is(err, letsencrypt.ErrCertificateNotFound):
		s.logger.InfoContext(ctx, "no stored certificate")
		return false
	case err != nil:
		s.logger.WarnContext(ctx, "failed to load stored certificate", logger.Error(err))
		return false
	case !letsencrypt.Usable(cert, time.Now(), s.interval):
		s.logger.InfoContext(ctx, "stored certificate expires before next rotation", logger.Expires(cert.NotAfter))
		return false
	}

	cfg, err := s.install(cert)
	if err == nil {
		err = s.cell.Store(cfg)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "failed to install stored certificate", logger.Error(err))
		return false
	}

	s.logger.InfoContext(ctx, "stored certificate installed", logger.Expires(cert.NotAfter))
	return true
}

// Start runs rotations on a fixed interval. This is a blocking operation that
// runs until the context is cancelled. Use Run() for errgroup pattern.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	s.running.Store(true)
	defer s.running.Store(false)
	defer func() {
		cancel()
		s.mu.Lock()
		if s.generation == gen {
			s.cancel = nil
		}
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.InfoContext(runCtx, "rotation scheduler started",
		logger.Interval(s.interval),
		logger.Expires(s.cell.NotAfter()),
	)

	for {
		select {
		case <-runCtx.Done():
			s.logger.InfoContext(context.Background(), "rotation scheduler stopping")
			return runCtx.Err()
		case <-ticker.C:
			s.tick(runCtx)
		}
	}
}

// tick runs one rotation tracked by the WaitGroup so Stop can wait for it.
func (s *Scheduler) tick(ctx context.Context) {
	// Mutex protects against shutdown race: the scheduler must still be
	// running when the rotation is added to the WaitGroup.
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()

	_ = s.RotateNow(ctx)
}

// RotateNow provisions a new certificate and swaps it in. On failure the
// current certificate stays installed and the notifier is informed.
func (s *Scheduler) RotateNow(ctx context.Context) error {
	run, err := s.rotate(ctx)
	if errors.Is(err, ErrRotationInFlight) {
		return err
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "certificate rotation failed, keeping current certificate",
			logger.Result("failed"),
			logger.Error(err),
			logger.Expires(s.cell.NotAfter()),
		)
		s.report(ctx, run, err)
		return err
	}
	return nil
}

func (s *Scheduler) rotate(ctx context.Context) (*letsencrypt.Run, error) {
	if !s.rotating.CompareAndSwap(false, true) {
		return nil, ErrRotationInFlight
	}
	defer s.rotating.Store(false)

	start := time.Now()
	run, err := s.provisioner.Provision(ctx)
	if err == nil {
		err = s.swap(run)
	}
	if err != nil {
		s.failed.Add(1)
		s.consecutive.Add(1)
		s.lastFailure.Store(time.Now().UnixNano())
		return run, err
	}

	s.succeeded.Add(1)
	s.consecutive.Store(0)
	s.lastSuccess.Store(time.Now().UnixNano())

	s.logger.InfoContext(ctx, "certificate rotated",
		logger.Result("rotated"),
		logger.RunID(run.ID),
		logger.Expires(run.Certificate.NotAfter),
		logger.Elapsed(start),
	)
	return run, nil
}

func (s *Scheduler) swap(run *letsencrypt.Run) error {
	if run == nil || run.Certificate == nil {
		return letsencrypt.ErrCertificateNotFound
	}
	cfg, err := s.install(run.Certificate)
	if err != nil {
		return err
	}
	return s.cell.Store(cfg)
}

func (s *Scheduler) report(ctx context.Context, run *letsencrypt.Run, err error) {
	if s.notifier == nil {
		return
	}

	f := Failure{
		Domain:      s.provisioner.Domain(),
		Err:         err,
		At:          time.Now(),
		Consecutive: s.consecutive.Load(),
		Expires:     s.cell.NotAfter(),
	}
	if run != nil {
		f.RunID = run.ID
		f.LastState = lastActiveState(run.History)
	}

	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if nerr := s.notifier.Notify(notifyCtx, f); nerr != nil {
		s.logger.WarnContext(ctx, "failed to send rotation failure notification", logger.Error(nerr))
	}
}

// lastActiveState skips the bookkeeping states appended after a failure.
func lastActiveState(history []letsencrypt.State) letsencrypt.State {
	for i := len(history) - 1; i >= 0; i-- {
		switch history[i] {
		case letsencrypt.StateFailed, letsencrypt.StateCleanup:
			continue
		}
		return history[i]
	}
	return letsencrypt.StateIdle
}

// Stop cancels the loop and waits for an in-flight rotation up to the shutdown timeout.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return ErrNotStarted
	}

	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	cancel()

	s.logger.InfoContext(context.Background(), "rotation scheduler stopping, waiting for in-flight rotation",
		slog.Duration("timeout", s.shutdownTimeout))

	ctx, ctxCancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer ctxCancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.InfoContext(context.Background(), "rotation scheduler stopped cleanly")
		return nil
	case <-ctx.Done():
		s.logger.WarnContext(context.Background(), "rotation scheduler shutdown timeout exceeded",
			slog.Duration("timeout", s.shutdownTimeout))
		return fmt.Errorf("%w after %s", ErrShutdownTimeout, s.shutdownTimeout)
	}
}

// Run provides errgroup compatibility for coordinated lifecycle management.
func (s *Scheduler) Run(ctx context.Context) func() error {
	return func() error {
		errCh := make(chan error, 1)
		go func() {
			errCh <- s.Start(ctx)
		}()

		select {
		case <-ctx.Done():
			err := s.Stop()
			<-errCh
			if errors.Is(err, ErrNotStarted) {
				return nil
			}
			return err
		case err := <-errCh:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
	}
}

// Stats returns a snapshot of rotation metrics.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Succeeded:           s.succeeded.Load(),
		Failed:              s.failed.Load(),
		ConsecutiveFailures: s.consecutive.Load(),
		LastSuccess:         unixNano(s.lastSuccess.Load()),
		LastFailure:         unixNano(s.lastFailure.Load()),
		NotAfter:            s.cell.NotAfter(),
		IsRunning:           s.running.Load(),
		InFlight:            s.rotating.Load(),
	}
}

func defaultInstaller(cert *acme.Certificate) (*tls.Config, error) {
	return letsencrypt.Install(cert)
}

func unixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
