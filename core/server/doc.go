// Package server provides the HTTP plumbing used for certificate provisioning:
// a graceful HTTP/HTTPS server, a short-lived HTTP-01 challenge responder and
// an atomically swappable TLS configuration cell.
//
// # HTTPS listener
//
// The long-lived listener reads its certificate from a TLSConfigCell on every
// handshake, so installing a new certificate never restarts the listener:
//
//	cell := server.NewTLSConfigCell()
//	srv := server.New(":443",
//		server.WithTLSConfigCell(cell),
//		server.WithLogger(log),
//	)
//
//	g, ctx := errgroup.WithContext(ctx)
//	g.Go(srv.Run(ctx, handler))
//
//	// later, from the rotation goroutine
//	_ = cell.Store(tlsConfig)
//
// Existing connections keep the configuration they negotiated; new ones use
// the stored one.
//
// # Challenge responder
//
// StartChallengeResponder creates a fresh challenge directory and binds the
// listener synchronously. Bind failures are reported as ErrListenerBind before
// anything else happens:
//
//	resp, err := server.StartChallengeResponder(ctx, server.ChallengeConfig{
//		Addr:   ":80",
//		Domain: "example.com",
//	})
//	if err != nil {
//		return err
//	}
//	defer resp.Stop(context.Background())
//
//	if err := resp.WriteProof(token, keyAuthorization); err != nil {
//		return err
//	}
//
// Proofs are served at /.well-known/acme-challenge/<token>. Tokens outside the
// base64url alphabet are rejected. Stop shuts the listener down, waits for the
// serve loop to exit and removes the directory.
//
// # TLS presets
//
// DefaultTLSConfig, ModernTLSConfig, IntermediateTLSConfig and StrictTLSConfig
// follow Mozilla's server-side recommendations. NewTLSConfig applies
// TLSConfigOption values on top of DefaultTLSConfig.
package server
