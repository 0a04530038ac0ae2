// Package rotation keeps an HTTPS listener's certificate fresh.
//
// A Scheduler runs the provisioning workflow once at startup (Bootstrap) and
// then on a fixed interval, 28 days by default against a 90-day certificate.
// A successful rotation installs the new certificate into a
// server.TLSConfigCell; the listener reads the cell on every handshake, so
// new connections use the new certificate while existing ones are untouched.
// A failed rotation is logged and reported to the Notifier and the previous
// certificate stays installed until the next tick.
//
//	cell := server.NewTLSConfigCell()
//	sched, err := rotation.NewScheduler(provisioner, cell,
//		rotation.WithLogger(log),
//		rotation.WithNotifier(notifier),
//	)
//	if err != nil {
//		return err
//	}
//	if err := sched.Bootstrap(ctx); err != nil {
//		return err // nothing to serve
//	}
//
//	g, ctx := errgroup.WithContext(ctx)
//	g.Go(sched.Run(ctx))
//	g.Go(httpsServer.Run(ctx, handler))
//	return g.Wait()
package rotation
