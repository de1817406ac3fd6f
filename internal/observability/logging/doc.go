// Package logging provides structured logging utilities with context propagation.
//
// Loggers emit JSON through log/slog. When a log directory is configured the
// output is also appended to <dir>/app.log, which a Rotator shifts once it
// grows past 5 MiB and prunes by age; both operations run as scheduled jobs.
//
// Example usage:
//
//	logger, rotator, err := logging.New(logging.Options{Level: "info", Dir: "logs"})
//	if err != nil {
//	    return err
//	}
//	defer rotator.Close()
//	logger.Info("application started", slog.String("version", "1.0"))
package logging
