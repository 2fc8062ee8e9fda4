package main

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.English)

// statusLabel renders a machine status or termination reason for humans:
// "budget_exhausted" becomes "Budget Exhausted".
func statusLabel(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "-"
	}
	return titleCaser.String(strings.ReplaceAll(value, "_", " "))
}

func formatShift(ms int64) string {
	if ms > 0 {
		return fmt.Sprintf("+%d ms", ms)
	}
	return fmt.Sprintf("%d ms", ms)
}

func formatOffset(ms *int64) string {
	if ms == nil {
		return "no reading"
	}
	return formatShift(*ms)
}

func formatTimestamp(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.Local().Format("2006-01-02 15:04:05")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
