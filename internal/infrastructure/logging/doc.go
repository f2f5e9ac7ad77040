// Package logging provides structured logging for SmartRack Core.
//
// This package wraps Go's standard log/slog package so every component
// logs with the same format and default fields (service, version).
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
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("starting service", "port", 8080)
//	logger.Error("failed to send email", "error", err)
//
// # Security
//
// Never log passwords, JWTs, refresh token ids, reset codes or device
// secrets. Log the owning user or device id instead.
package logging
