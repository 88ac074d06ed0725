package model

import (
	"fmt"
)

type Severity string

const (
	Info    Severity = "info"
	Warning Severity = "warning"
)

const (
	KindMeasureMismatch   = "measure duration mismatch"
	KindOrphanTie         = "orphan tie"
	KindOrphanSlur        = "orphan slur"
	KindVoiceMeasureCount = "voice measure count mismatch"
	KindLyricOverflow     = "lyric overflow"
	KindIgnoredField      = "ignored field"
	KindMissingKey        = "missing key field"
	KindIgnoredTune       = "ignored tune"
	KindUnsupported       = "unsupported element"
)

// Diagnostic is a non-fatal finding about musically irregular input. Voice
// and Measure are set when known; Line and Column only for compact input.
type Diagnostic struct {
	Kind     string   `json:"kind"`
	Severity Severity `json:"severity"`
	Voice    string   `json:"voice,omitempty"`
	Measure  int      `json:"measure,omitempty"`
	Line     int      `json:"line,omitempty"`
	Column   int      `json:"column,omitempty"`
	Message  string   `json:"message"`
}

func (d Diagnostic) String() string {
	pos := ""
	switch {
	case d.Line > 0:
		pos = fmt.Sprintf("%d:%d: ", d.Line, d.Column)
	case d.Voice != "":
		pos = fmt.Sprintf("voice %s measure %d: ", d.Voice, d.Measure)
	}
	return fmt.Sprintf("%s%s: %s: %s", pos, d.Severity, d.Kind, d.Message)
}

// HasWarnings reports whether any diagnostic is at warning level.
func HasWarnings(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == Warning {
			return true
		}
	}
	return false
}

// InvariantViolation means the engine produced an inconsistent tree. It is
// never caused by user input.
type InvariantViolation struct {
	Detail string
}

func (e *InvariantViolation) Error() string {
	return "internal invariant violation: " + e.Detail
}

func Violationf(format string, args ...any) *InvariantViolation {
	return &InvariantViolation{Detail: fmt.Sprintf(format, args...)}
}
