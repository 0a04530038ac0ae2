package rotation

import (
	"context"
	"crypto/tls"
	"log/slog"
	"time"

	"github.com/dmitrymomot/autotls/pkg/acme"
)

// Option is a functional option for configuring a Scheduler.
type Option func(*Scheduler)

// Installer turns an issued certificate into the listener configuration.
type Installer func(cert *acme.Certificate) (*tls.Config, error)

// CertificateStore returns archived certificates.
// *letsencrypt.CertificateStore satisfies it.
type CertificateStore interface {
	Load(ctx context.Context, domain string) (*acme.Certificate, error)
}

// WithInterval sets the time between rotations.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithShutdownTimeout configures how long Stop waits for an in-flight rotation.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// WithInstaller replaces letsencrypt.Install.
func WithInstaller(i Installer) Option {
	return func(s *Scheduler) {
		if i != nil {
			s.install = i
		}
	}
}

// WithLogger configures structured logging for scheduler operations.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithNotifier reports rotation failures to an operator.
func WithNotifier(n Notifier) Option {
	return func(s *Scheduler) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithCertificateStore sets where Bootstrap looks for a reusable certificate.
func WithCertificateStore(cs CertificateStore) Option {
	return func(s *Scheduler) {
		if cs != nil {
			s.certs = cs
		}
	}
}

// WithReuseStored makes Bootstrap install a stored certificate that is valid
// for longer than one interval instead of provisioning.
func WithReuseStored(reuse bool) Option {
	return func(s *Scheduler) {
		s.reuseStored = reuse
	}
}

// WithBootstrapRetry allows the initial provisioning to be attempted up to
// attempts times with exponential backoff starting at initial.
func WithBootstrapRetry(attempts int, initial time.Duration) Option {
	return func(s *Scheduler) {
		if attempts > 0 {
			s.bootstrapAttempts = attempts
		}
		if initial > 0 {
			s.bootstrapBackoff = initial
		}
	}
}
