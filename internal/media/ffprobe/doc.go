// Package ffprobe wraps ffprobe execution for media inspection.
//
// Preparation uses it to capture the intake metadata a session needs before
// synchronization: frame rate, video and audio codecs, and stream presence.
package ffprobe
