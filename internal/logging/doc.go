// Package logging provides structured logging for the Sidelights controller.
//
// This package wraps a zap logger with convenience functions for common logging
// patterns used throughout the daemon. It provides both general logging functions
// and domain-specific helpers for link events, HTTP traffic and OTA progress.
//
// # Log Levels
//
//   - Debug: Detailed debugging info (request body dumps, per-chunk OTA progress)
//   - Info: Normal operations (mode changes, link events, requests)
//   - Warn: Non-fatal issues (connection retries, rejected requests)
//   - Error: Failures surfaced to a caller (storage, OTA aborts)
//
// # Structured Logging
//
//	logging.Info("Credentials saved",
//	    zap.String("ssid", rec.SSID),
//	)
//
// # Configuration
//
// Initialize logging at daemon startup:
//
//	if err := logging.Initialize("info"); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// When no level is given, SIDELIGHTS_LOG_LEVEL is consulted; with neither set
// the logger is a no-op so CLI commands stay quiet.
//
// # Thread Safety
//
// All logging functions are safe for concurrent use.
package logging
