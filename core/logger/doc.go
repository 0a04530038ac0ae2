// Package logger provides structured logging utilities built on Go's standard slog package.
//
// Loggers are created with New and functional options:
//
//	log := logger.New(
//		logger.WithProduction("autotls"),
//		logger.WithLevel(slog.LevelDebug),
//	)
//
//	log.Info("certificate rotated",
//		logger.Component("rotation"),
//		logger.Domain("example.com"),
//		logger.Elapsed(start),
//	)
//
// Attribute helpers return an empty slog.Attr for nil or empty input, so they
// are safe to pass unconditionally:
//
//	log.Error("provisioning failed", logger.Error(err), logger.RunID(run.ID))
//
// Components that accept a logger fall back to Nop when none is configured.
package logger
