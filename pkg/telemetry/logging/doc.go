// Package logging configures the process-wide slog logger: level, format,
// optional source locations, and rotated file output.
package logging
