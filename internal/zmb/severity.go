package zmb

import (
	"encoding/json"
	"fmt"
)

// Severity is the level of a result entry.  The engine emits three additional
// debug levels below [SeverityInfo]; those never cross the store boundary.
type Severity uint8

// Severity values, ordered from least to most severe.
const (
	// SeverityDebug3 through SeverityDebug are engine-internal levels.  They
	// are filtered out when results are stored.
	SeverityDebug3 Severity = iota
	SeverityDebug2
	SeverityDebug

	SeverityInfo
	SeverityNotice
	SeverityWarning
	SeverityError
	SeverityCritical
)

// severityNames maps severities to their wire names.
var severityNames = map[Severity]string{
	SeverityDebug3:   "DEBUG3",
	SeverityDebug2:   "DEBUG2",
	SeverityDebug:    "DEBUG",
	SeverityInfo:     "INFO",
	SeverityNotice:   "NOTICE",
	SeverityWarning:  "WARNING",
	SeverityError:    "ERROR",
	SeverityCritical: "CRITICAL",
}

// severityValues is the inverse of severityNames.
var severityValues = map[string]Severity{}

func init() {
	for s, n := range severityNames {
		severityValues[n] = s
	}
}

// NewSeverity parses a wire-form severity name.
func NewSeverity(s string) (sev Severity, err error) {
	sev, ok := severityValues[s]
	if !ok {
		return 0, &ArgumentError{
			Name:    "level",
			Message: fmt.Sprintf("bad severity %q", s),
		}
	}

	return sev, nil
}

// IsDebug reports whether sev is one of the engine-internal debug levels.
func (sev Severity) IsDebug() (ok bool) {
	return sev < SeverityInfo
}

// type check
var _ fmt.Stringer = SeverityInfo

// String implements the [fmt.Stringer] interface for Severity.
func (sev Severity) String() (s string) {
	s, ok := severityNames[sev]
	if !ok {
		return fmt.Sprintf("!bad_severity_%d", uint8(sev))
	}

	return s
}

// type check
var _ json.Marshaler = SeverityInfo

// MarshalJSON implements the [json.Marshaler] interface for Severity.
func (sev Severity) MarshalJSON() (b []byte, err error) {
	return json.Marshal(sev.String())
}

// type check
var _ json.Unmarshaler = (*Severity)(nil)

// UnmarshalJSON implements the [json.Unmarshaler] interface for *Severity.
func (sev *Severity) UnmarshalJSON(b []byte) (err error) {
	var s string
	err = json.Unmarshal(b, &s)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return err
	}

	*sev, err = NewSeverity(s)

	return err
}

// OverallResult is the aggregate of the severities of a finished test, as
// reported in test history listings.
type OverallResult string

// OverallResult values.
const (
	OverallResultOK       OverallResult = "ok"
	OverallResultWarning  OverallResult = "warning"
	OverallResultError    OverallResult = "error"
	OverallResultCritical OverallResult = "critical"
)

// Overall returns the aggregate result for the maximum severity among
// entries.  Entries at or below [SeverityNotice] do not raise the aggregate
// above [OverallResultOK].
func Overall(entries []*ResultEntry) (res OverallResult) {
	maxSev := SeverityInfo
	for _, ent := range entries {
		if ent.Level > maxSev {
			maxSev = ent.Level
		}
	}

	switch {
	case maxSev >= SeverityCritical:
		return OverallResultCritical
	case maxSev >= SeverityError:
		return OverallResultError
	case maxSev >= SeverityWarning:
		return OverallResultWarning
	default:
		return OverallResultOK
	}
}
