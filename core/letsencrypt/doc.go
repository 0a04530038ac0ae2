// Package letsencrypt obtains certificates from an ACME authority using the
// HTTP-01 challenge and turns them into TLS server configurations.
//
// A Provisioner drives one run at a time through a fixed sequence of states:
//
//	idle → challenge_server_up → account_ready → order_open →
//	authorizations_pending → authorizations_valid → finalizing →
//	cert_issued → cleanup → done
//
// Any failure ends the run in the failed state. The challenge responder is
// started before the authority is contacted and is always stopped before
// Provision returns, so a bind failure on port 80 aborts without any CA
// traffic and a failed run leaves no listener or challenge files behind.
//
// # Types
//
//   - Provisioner: runs the provisioning workflow
//   - Run: outcome and state history of one attempt
//   - Config: provisioning configuration loaded from ACME_* variables
//   - AccountStore, CertificateStore: persistence over an autocert.Cache
//   - Exporter: cert.pem/key.pem files for external consumers
//
// # Errors
//
// Every failure wraps one of the sentinel errors declared in this package,
// including those re-exported from pkg/acme and core/server:
//
//	run, err := p.Provision(ctx)
//	switch {
//	case errors.Is(err, letsencrypt.ErrListenerBindFailed):
//		// port 80 unavailable, nothing was sent to the authority
//	case errors.Is(err, letsencrypt.ErrChallengeRejected):
//		// the authority could not fetch the proof
//	}
//
// # Basic Usage
//
//	p, err := letsencrypt.NewFromConfig(letsencrypt.Config{
//		Domain:     "example.com",
//		Email:      "admin@example.com",
//		Staging:    true,
//		StorageDir: "/var/lib/autotls",
//	}, letsencrypt.WithLogger(log))
//	if err != nil {
//		return err
//	}
//
//	run, err := p.Provision(ctx)
//	if err != nil {
//		return err
//	}
//
//	tlsCfg, err := letsencrypt.Install(run.Certificate)
//	if err != nil {
//		return err
//	}
//
// Install verifies that the private key belongs to the leaf and returns a
// configuration built on server.DefaultTLSConfig.
package letsencrypt
