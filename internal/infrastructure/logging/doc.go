// Package logging provides structured logging for vspid.
//
// This package wraps Go's standard log/slog package so that every component
// (framework, spi plugin, API, MQTT bridge, boot init) logs the same way.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	spiLog := logger.Component("spi")
//	spiLog.Error("control-plane write failed", "device", id, "entry", "new_spi_controller", "error", err)
//
// Never log secrets, tokens or passwords.
package logging
