// Package logging provides structured logging for the fleet daemon.
//
// It wraps log/slog so every component logs the same way: JSON in
// production, text in development, with service and version attached to
// every record.
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Domain packages do not import this package. They declare a four-method
// Logger interface that *Logger satisfies through the embedded slog.Logger.
//
// Never log MQTT passwords or InfluxDB tokens.
package logging
