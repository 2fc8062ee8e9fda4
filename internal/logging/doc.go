// Package logging constructs the slog loggers used across avsync.
//
// It provides console and JSON handler construction from config, shared
// attribute helpers so call sites stay consistent, standardized field keys for
// session/stage/correlation metadata, and context-derived logger enrichment so
// stage handlers inherit the identifiers stamped by the workflow manager.
package logging
