/*
Package log provides structured logging for paramd using zerolog.

A single global Logger is configured once by Init at process start. Every
package derives a child logger with WithComponent and keeps it for its
lifetime:

	logger := log.WithComponent("watcher")
	logger.Warn().Err(err).Int("retry", n).Msg("reconnect failed")

Output is human-readable console text by default, JSON when JSONOutput is
set, and JSON written to a size-rotated file (lumberjack) when File is set.
The service logs permission denials at debug level, skipped persistence
records and watcher transport errors at warn, and startup failures at error.
*/
package log
