// Package logx is wmsched's structured logging.
//
// Logger is a small value type over zerolog. Components derive their own
// logger with With(String("comp", ...)); the zero value discards everything.
// Service owns the sinks (console and optional JSON file) and can swap them
// at runtime; loggers obtained from it follow the swap.
package logx
