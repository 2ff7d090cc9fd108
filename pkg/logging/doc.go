// Package logging builds the process-wide slog.Logger for the server and the
// agent from a small YAML-friendly Config. File output is rotated with
// lumberjack.
package logging
