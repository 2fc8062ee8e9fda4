// Package analysis interprets SyncNet model reports and reduces the raw
// per-segment readings into a single audio/video offset measurement.
package analysis

import (
	"math"
	"os"
	"regexp"
	"strconv"
)

// reportPattern matches one segment reading: the frame offset followed by the
// model's confidence for that segment.
var reportPattern = regexp.MustCompile(`(?s)AV offset:\s*(-?\d+).*?Confidence:\s*([\d.]+)`)

// Outcome is the reduced result of one analysis pass. OK is false when the
// report produced no usable reading; the caller treats that as a NoReading
// pass rather than an error.
type Outcome struct {
	// OffsetMs is the measured offset in milliseconds. Positive values mean
	// the audio leads the video.
	OffsetMs int64
	// Confidence is the aggregate confidence behind the winning offset.
	Confidence float64
	// OK reports whether the pass produced a usable measurement.
	OK bool
}

// AnalyzeReport reduces the text of a model report to an Outcome. Segments
// with negative confidence are discarded. Confidence is summed per distinct
// frame offset and the offset with the highest aggregate wins; ties prefer the
// smaller absolute offset, then the smaller signed offset, so repeated runs of
// the same report agree. Frame offsets convert to milliseconds using the
// video frame rate with truncation toward zero.
func AnalyzeReport(report string, fps float64) Outcome {
	if fps <= 0 {
		return Outcome{}
	}

	totals := make(map[int64]float64)
	for _, match := range reportPattern.FindAllStringSubmatch(report, -1) {
		frames, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil {
			continue
		}
		confidence, err := strconv.ParseFloat(match[2], 64)
		if err != nil || confidence < 0 {
			continue
		}
		totals[frames] += confidence
	}
	if len(totals) == 0 {
		return Outcome{}
	}

	var (
		bestFrames     int64
		bestConfidence float64
		found          bool
	)
	for frames, confidence := range totals {
		if !found || confidence > bestConfidence || (confidence == bestConfidence && preferred(frames, bestFrames)) {
			bestFrames = frames
			bestConfidence = confidence
			found = true
		}
	}

	offsetMs := int64(math.Trunc(float64(bestFrames) * 1000 / fps))
	return Outcome{OffsetMs: offsetMs, Confidence: bestConfidence, OK: true}
}

// preferred breaks aggregate-confidence ties deterministically.
func preferred(candidate, current int64) bool {
	ca, cb := abs64(candidate), abs64(current)
	if ca != cb {
		return ca < cb
	}
	return candidate < current
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// AnalyzeFile reads a report from disk and reduces it. A missing or
// unreadable file yields a no-reading outcome rather than an error; the
// iteration engine budgets such passes the same way as an empty report.
func AnalyzeFile(path string, fps float64) Outcome {
	data, err := os.ReadFile(path)
	if err != nil {
		return Outcome{}
	}
	return AnalyzeReport(string(data), fps)
}
