// Package logging provides structured logging for devicehub.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the service.
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
//	logger.Error("failed to connect", "error", err)
//
// # Security
//
// Never log secrets, passwords, or full tokens. Recovery tokens are
// logged as a six character prefix. Values under keys such as password,
// token or secret are replaced with [REDACTED] by the handler.
package logging
