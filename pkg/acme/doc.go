// Package acme is a step-by-step ACME (RFC 8555) client for HTTP-01 issuance
// of a single-identifier certificate.
//
// Unlike lego's one-shot certificate.Obtain, every protocol stage is a
// separate call so the caller can interleave its own work (publishing proofs,
// logging state transitions, cleaning up) between them. The JWS signing,
// nonce handling and resource round trips are delegated to lego's acme/api core.
//
//	c := acme.New(acme.WithLogger(log), acme.WithIssuerURL(issuer))
//
//	if _, err := c.Connect(ctx, directoryURL); err != nil {
//		return err
//	}
//	if _, err := c.RegisterAccount(ctx, []string{"ops@example.com"}); err != nil {
//		return err
//	}
//	order, err := c.NewOrder(ctx, "example.com")
//	authzs, err := c.Authorizations(ctx, order)
//	ch, err := c.HTTPChallenge(authzs[0])
//	// publish ch.Proof at /.well-known/acme-challenge/<ch.Token>
//	err = c.Validate(ctx, ch, acme.DefaultPollPolicy())
//	ready, err := c.ConfirmValidations(ctx, order) // nil while pending
//	key, err := acme.GenerateCertificateKey()
//	done, err := c.Finalize(ctx, ready, key, acme.DefaultPollPolicy())
//	cert, err := c.DownloadCert(ctx, done, key)
//
// Every poll re-fetches the resource from the authority. Loops are bounded by
// PollPolicy and report ErrAuthorizationTimeout or ErrFinalizationTimeout when
// the budget runs out. Failures wrap the package's sentinel errors and can be
// tested with errors.Is.
package acme
