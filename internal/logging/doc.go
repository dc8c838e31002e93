// Package logging provides structured logging for the Dialdeck engine.
//
// This package wraps a zap logger with convenience functions for the
// patterns used throughout the engine: lifecycle events, per-device state
// changes and raw wire traffic.
//
// # Log Levels
//
//   - Debug: wire-level detail (frame hex dumps, candidate port probing)
//   - Info: normal operations (connect, discovery, provisioning results)
//   - Warn: non-fatal issues (timeouts, malformed frames, queue retries)
//   - Error: serious failures (lost serial link, persistence errors)
//
// # Configuration
//
// Logging is silent by default so the library never surprises an embedding
// application with output. Set the DIALDECK_LOG_LEVEL environment variable
// (or call Initialize with an explicit level) to enable it:
//
//	if err := logging.InitializeFromEnv(); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// All logging functions are safe for concurrent use.
package logging
