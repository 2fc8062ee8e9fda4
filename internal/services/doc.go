// Package services defines shared utilities consumed by the workflow stage
// handlers and external tool integrations.
//
// Key responsibilities:
//   - Context helpers that stamp session IDs, stage names, and correlation
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that keep failure
//     classification uniform across stages.
//   - The Executor seam that makes external command invocation testable.
//
// Use these helpers when wiring new stage logic so operational behaviour
// (error handling, observability, timeouts) stays uniform across the pipeline.
package services
