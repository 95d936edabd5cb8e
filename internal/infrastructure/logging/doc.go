// Package logging builds the bridge's slog logger.
//
//	logging:
//	  level: info     # debug, info, warn, error
//	  format: json    # json or text
//	  output: stdout  # stdout, stderr or a file path
//
// Every entry carries service=wizbridge and the build version. Components
// derive child loggers with Component("mqtt"), Component("wiz") and so on.
package logging
