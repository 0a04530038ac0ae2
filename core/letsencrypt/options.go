package letsencrypt

import (
	"crypto"
	"log/slog"
)

// Option configures a Provisioner during initialization.
type Option func(*Provisioner)

// WithACMEClient sets the ACME client implementation.
// This is primarily useful for testing with stub clients.
func WithACMEClient(client ACMEClient) Option {
	return func(p *Provisioner) {
		if client != nil {
			p.client = client
		}
	}
}

// WithResponderFactory replaces how the challenge responder is started.
// By default server.StartChallengeResponder is used with the configured address.
func WithResponderFactory(f ResponderFactory) Option {
	return func(p *Provisioner) {
		if f != nil {
			p.startResponder = f
		}
	}
}

// WithLogger sets the logger. Nil is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provisioner) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithAccountStore enables account reuse across runs.
func WithAccountStore(s *AccountStore) Option {
	return func(p *Provisioner) {
		p.accounts = s
	}
}

// WithCertificateStore archives every issued certificate.
func WithCertificateStore(s *CertificateStore) Option {
	return func(p *Provisioner) {
		p.certs = s
	}
}

// WithExporter writes every issued certificate to disk as PEM files.
func WithExporter(e *Exporter) Option {
	return func(p *Provisioner) {
		p.exporter = e
	}
}

// WithKeyGenerator sets the certificate key generator.
// Defaults to acme.GenerateCertificateKey (EC P-384).
func WithKeyGenerator(f func() (crypto.Signer, error)) Option {
	return func(p *Provisioner) {
		if f != nil {
			p.generateKey = f
		}
	}
}
