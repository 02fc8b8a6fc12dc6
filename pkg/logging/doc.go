// Package logging builds the slog.Logger used by docsync binaries.
//
// Two formats are supported:
//   - json     slog.NewJSONHandler on the given writer (default, production)
//   - console  one line per record with a color-coded level, for terminals
//
// The level lives in a slog.LevelVar so config hot reload can change it without
// rebuilding the logger.
package logging
