package domain

import "strings"

// Severity grades an alert. High and above escalate to administrators.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
	SeverityExtreme  Severity = "extreme"
)

// ParseSeverity normalizes raw. Empty input yields fallback; unknown input reports false.
func ParseSeverity(raw string, fallback Severity) (Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return fallback, true
	case "low", "minor":
		return SeverityLow, true
	case "medium", "moderate":
		return SeverityMedium, true
	case "high":
		return SeverityHigh, true
	case "critical", "severe":
		return SeverityCritical, true
	case "extreme":
		return SeverityExtreme, true
	default:
		return "", false
	}
}

// Escalates reports whether the severity requires an administrator acknowledgment and a sticky alert.
func (s Severity) Escalates() bool {
	switch s {
	case SeverityHigh, SeverityCritical, SeverityExtreme:
		return true
	default:
		return false
	}
}

// Priority is the CRPF dispatch priority.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ParsePriority normalizes raw, defaulting empty input to PriorityMedium.
func ParsePriority(raw string) (Priority, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return PriorityMedium, true
	case "low":
		return PriorityLow, true
	case "medium":
		return PriorityMedium, true
	case "high":
		return PriorityHigh, true
	default:
		return "", false
	}
}
