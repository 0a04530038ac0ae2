package letsencrypt

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/autotls/core/logger"
	"github.com/dmitrymomot/autotls/core/server"
	"github.com/dmitrymomot/autotls/pkg/acme"
)

// ACMEClient is the step-by-step protocol surface a run drives.
// *acme.Client satisfies it.
type ACMEClient interface {
	Connect(ctx context.Context, directoryURL string) (*acme.Directory, error)
	RegisterAccount(ctx context.Context, contacts []string) (*acme.Account, error)
	LoadAccount(ctx context.Context, keyPEM []byte, contacts []string) (*acme.Account, error)
	NewOrder(ctx context.Context, domain string) (*acme.Order, error)
	Authorizations(ctx context.Context, order *acme.Order) ([]*acme.Authorization, error)
	HTTPChallenge(authz *acme.Authorization) (*acme.Challenge, error)
	Validate(ctx context.Context, ch *acme.Challenge, policy acme.PollPolicy) error
	ConfirmValidations(ctx context.Context, order *acme.Order) (*acme.ReadyOrder, error)
	Finalize(ctx context.Context, ready *acme.ReadyOrder, key crypto.Signer, policy acme.PollPolicy) (*acme.CertOrder, error)
	DownloadCert(ctx context.Context, order *acme.CertOrder, key crypto.Signer) (*acme.Certificate, error)
}

// Responder publishes challenge proofs for the duration of a run.
// *server.ChallengeResponder satisfies it.
type Responder interface {
	WriteProof(token string, proof []byte) error
	Stop(ctx context.Context) error
}

// ResponderFactory starts a Responder for domain. It must return only after
// the responder accepts connections.
type ResponderFactory func(ctx context.Context, domain string) (Responder, error)

// Run records one provisioning attempt.
type Run struct {
	ID          string
	Domain      string
	State       State
	History     []State
	Certificate *acme.Certificate
	Err         error
	Started     time.Time
	Finished    time.Time
}

// Duration returns how long the run took.
func (r *Run) Duration() time.Duration {
	if r.Finished.IsZero() {
		return time.Since(r.Started)
	}
	return r.Finished.Sub(r.Started)
}

// Provisioner obtains a certificate for one domain from an ACME authority
// using the HTTP-01 challenge. Runs are serialized.
type Provisioner struct {
	mu sync.Mutex

	cfg            Config
	client         ACMEClient
	startResponder ResponderFactory
	generateKey    func() (crypto.Signer, error)
	accounts       *AccountStore
	certs          *CertificateStore
	exporter       *Exporter
	logger         *slog.Logger
}

// NewProvisioner creates a Provisioner. Without WithACMEClient an *acme.Client
// is built from cfg.
func NewProvisioner(cfg Config, opts ...Option) (*Provisioner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Provisioner{
		cfg:         cfg,
		generateKey: acme.GenerateCertificateKey,
		logger:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.client == nil {
		p.client = acme.New(
			acme.WithLogger(p.logger),
			acme.WithUserAgent(cfg.UserAgent),
			acme.WithIssuerURL(cfg.IssuerURL),
		)
	}
	if p.startResponder == nil {
		p.startResponder = p.defaultResponder
	}

	return p, nil
}

// NewFromConfig creates a Provisioner with file stores for cfg.StorageDir
// and an exporter for cfg.ExportDir when they are set. Explicit options win.
func NewFromConfig(cfg Config, opts ...Option) (*Provisioner, error) {
	var defaults []Option
	if cfg.StorageDir != "" {
		cache := DirCache(cfg.StorageDir)
		defaults = append(defaults,
			WithAccountStore(NewAccountStore(cache)),
			WithCertificateStore(NewCertificateStore(cache)),
		)
	}
	if cfg.ExportDir != "" {
		exp, err := NewExporter(cfg.ExportDir)
		if err != nil {
			return nil, err
		}
		defaults = append(defaults, WithExporter(exp))
	}

	return NewProvisioner(cfg, append(defaults, opts...)...)
}

// Domain returns the domain certificates are issued for.
func (p *Provisioner) Domain() string {
	return p.cfg.Domain
}

// Provision performs one full run. The returned Run is never nil; on failure
// its State is StateFailed and Err equals the returned error.
func (p *Provisioner) Provision(ctx context.Context) (*Run, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	run := &Run{
		ID:      uuid.NewString(),
		Domain:  p.cfg.Domain,
		State:   StateIdle,
		History: []State{StateIdle},
		Started: time.Now(),
	}
	log := p.logger.With(
		logger.Component("provisioner"),
		logger.RunID(run.ID),
		logger.Domain(run.Domain),
	)
	log.InfoContext(ctx, "provisioning started", slog.String("directory", p.cfg.Directory()))

	cert, err := p.provision(ctx, run, log)
	run.Finished = time.Now()
	if err != nil {
		run.Err = err
		p.transition(ctx, log, run, StateFailed)
		log.ErrorContext(ctx, "provisioning failed", logger.Error(err), logger.Duration(run.Duration()))
		return run, err
	}

	run.Certificate = cert
	p.transition(ctx, log, run, StateDone)
	log.InfoContext(ctx, "provisioning completed",
		logger.Expires(cert.NotAfter),
		logger.Duration(run.Duration()),
	)
	return run, nil
}

func (p *Provisioner) provision(ctx context.Context, run *Run, log *slog.Logger) (_ *acme.Certificate, err error) {
	responder, err := p.startResponder(ctx, p.cfg.Domain)
	if err != nil {
		return nil, err
	}
	p.transition(ctx, log, run, StateChallengeServerUp)

	defer func() {
		p.transition(ctx, log, run, StateCleanup)
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.CleanupTimeout)
		defer cancel()
		if stopErr := responder.Stop(stopCtx); stopErr != nil {
			log.WarnContext(ctx, "challenge responder cleanup failed", logger.Error(stopErr))
		}
	}()

	if err := p.account(ctx, log); err != nil {
		return nil, err
	}
	p.transition(ctx, log, run, StateAccountReady)

	order, err := p.client.NewOrder(ctx, p.cfg.Domain)
	if err != nil {
		return nil, err
	}
	log.DebugContext(ctx, "order created", logger.URL(order.URL), logger.Status(string(order.Status)))
	p.transition(ctx, log, run, StateOrderOpen)

	p.transition(ctx, log, run, StateAuthorizationsPending)
	ready, err := p.authorize(ctx, log, responder, order)
	if err != nil {
		return nil, err
	}
	p.transition(ctx, log, run, StateAuthorizationsValid)

	p.transition(ctx, log, run, StateFinalizing)
	key, err := p.generateKey()
	if err != nil {
		return nil, fmt.Errorf("generate certificate key: %w", err)
	}
	certOrder, err := p.client.Finalize(ctx, ready, key, p.cfg.PollPolicy())
	if err != nil {
		return nil, err
	}
	cert, err := p.client.DownloadCert(ctx, certOrder, key)
	if err != nil {
		return nil, err
	}
	p.transition(ctx, log, run, StateCertIssued)

	p.archive(ctx, log, cert)
	return cert, nil
}

// account connects to the directory and reuses stored credentials when present.
func (p *Provisioner) account(ctx context.Context, log *slog.Logger) error {
	directory := p.cfg.Directory()
	if _, err := p.client.Connect(ctx, directory); err != nil {
		return err
	}

	contacts := []string{p.cfg.Email}
	persist := p.accounts != nil

	if p.accounts != nil {
		stored, err := p.accounts.Load(ctx, directory, p.cfg.Email)
		switch {
		case err == nil:
			acct, err := p.client.LoadAccount(ctx, stored.KeyPEM, contacts)
			if err == nil {
				log.InfoContext(ctx, "account loaded", logger.URL(acct.URL))
				return nil
			}
			if !errors.Is(err, ErrAccountNotFound) {
				return err
			}
			log.WarnContext(ctx, "stored account unknown to authority, registering a new one", logger.URL(stored.URL))
		case errors.Is(err, ErrAccountNotFound):
		default:
			// The stored account may still be good; keep it for the next run.
			persist = false
			log.WarnContext(ctx, "account store unavailable, registered account will not be saved", logger.Error(err))
		}
	}

	acct, err := p.client.RegisterAccount(ctx, contacts)
	if err != nil {
		return err
	}
	log.InfoContext(ctx, "account registered", logger.URL(acct.URL))

	if persist {
		if err := p.accounts.Save(ctx, directory, p.cfg.Email, acct); err != nil {
			log.WarnContext(ctx, "failed to persist account", logger.Error(err))
		}
	}
	return nil
}

// authorize satisfies every pending authorization of order and waits until
// the authority reports the order ready.
func (p *Provisioner) authorize(ctx context.Context, log *slog.Logger, responder Responder, order *acme.Order) (*acme.ReadyOrder, error) {
	policy := p.cfg.PollPolicy()

	for round := 1; round <= p.cfg.AuthorizationRounds; round++ {
		authzs, err := p.client.Authorizations(ctx, order)
		if err != nil {
			return nil, err
		}

		for _, authz := range authzs {
			switch authz.Status {
			case acme.StatusValid:
				continue
			case acme.StatusInvalid, acme.StatusDeactivated, acme.StatusExpired, acme.StatusRevoked:
				return nil, fmt.Errorf("%w: authorization for %s is %s", ErrChallengeRejected, authz.Domain, authz.Status)
			}

			ch, err := p.client.HTTPChallenge(authz)
			if err != nil {
				return nil, err
			}
			if ch.Status == acme.StatusValid {
				continue
			}

			if err := responder.WriteProof(ch.Token, ch.Proof); err != nil {
				return nil, fmt.Errorf("publish challenge proof: %w", err)
			}
			log.DebugContext(ctx, "challenge proof published", logger.Token(ch.Token), logger.URL(ch.URL))

			if err := p.client.Validate(ctx, ch, policy); err != nil {
				return nil, err
			}
			log.InfoContext(ctx, "authorization validated", logger.URL(authz.URL))
		}

		ready, err := p.client.ConfirmValidations(ctx, order)
		if err != nil {
			return nil, err
		}
		if ready != nil {
			return ready, nil
		}

		log.DebugContext(ctx, "order not ready yet", logger.Attempt(round), logger.Interval(p.cfg.PollInterval))
		if err := acme.Wait(ctx, p.cfg.PollInterval); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w: order not ready after %d rounds", ErrAuthorizationTimeout, p.cfg.AuthorizationRounds)
}

// archive stores the issued certificate. Failures are logged, not returned.
func (p *Provisioner) archive(ctx context.Context, log *slog.Logger, cert *acme.Certificate) {
	if p.certs != nil {
		if err := p.certs.Save(ctx, cert); err != nil {
			log.WarnContext(ctx, "failed to archive certificate", logger.Error(err))
		}
	}
	if p.exporter != nil {
		if err := p.exporter.Export(cert); err != nil {
			log.WarnContext(ctx, "failed to export certificate", logger.Error(err))
		}
	}
}

func (p *Provisioner) transition(ctx context.Context, log *slog.Logger, run *Run, to State) {
	from := run.State
	run.State = to
	run.History = append(run.History, to)
	log.InfoContext(ctx, "provisioning state changed",
		logger.Event("state_changed"),
		slog.String("from", from.String()),
		logger.State(to.String()),
	)
}

func (p *Provisioner) defaultResponder(ctx context.Context, domain string) (Responder, error) {
	r, err := server.StartChallengeResponder(ctx, server.ChallengeConfig{
		Addr:    p.cfg.ChallengeAddr,
		Domain:  domain,
		BaseDir: p.cfg.ChallengeDir,
		Logger:  p.logger,
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}
