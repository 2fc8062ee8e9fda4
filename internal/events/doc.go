// Package events fans lifecycle and iteration notifications out to
// subscribers.
//
// The Bus decouples the workflow manager and the correction loop from any
// delivery transport: producers publish typed events tagged with the session
// ID and a per-session monotonically increasing sequence number, and each
// subscriber receives them on a bounded channel. Delivery is best-effort; a
// subscriber that falls behind its buffer is dropped so a slow observer can
// never stall the orchestration.
package events
