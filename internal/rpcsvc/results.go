package rpcsvc

import (
	"regexp"

	"github.com/zonemaster/zmbroker/internal/zmb"
)

// resultLine is one rendered entry of a get_test_results response.
type resultLine struct {
	// Module is the engine module that produced the entry.
	Module string `json:"module"`

	// Message is the translated message text.
	Message string `json:"message"`

	// Level is the severity of the entry.
	Level zmb.Severity `json:"level"`

	// NSName is the name server the entry concerns, if any.
	NSName string `json:"ns,omitempty"`
}

// Path rewriting patterns.  Messages produced by the engine's SYSTEM module
// may embed the server-side path of a configuration file; clients have no use
// for the path, so it is replaced with a stable human label.
var (
	policyPathPat = regexp.MustCompile(`[^" ]*policy\.json`)
	configPathPat = regexp.MustCompile(`[^" ]*config\.json`)
)

// Replacement labels of the rewritten paths.
const (
	policyLabel = "policy file"
	configLabel = "configuration file"
)

// renderResults translates the stored result entries into locale and applies
// the legacy message rewriting.
func (svc *Service) renderResults(entries []*zmb.ResultEntry, locale string) (lines []*resultLine) {
	lines = make([]*resultLine, 0, len(entries))
	for _, ent := range entries {
		if dropEntry(ent) {
			continue
		}

		msg := svc.translator.Entry(ent, locale)
		msg = policyPathPat.ReplaceAllString(msg, policyLabel)
		msg = configPathPat.ReplaceAllString(msg, configLabel)

		lines = append(lines, &resultLine{
			Module:  ent.Module,
			Message: msg,
			Level:   ent.Level,
			NSName:  ent.NSName,
		})
	}

	return lines
}

// dropEntry reports whether ent is one of the placeholder messages that are
// removed from responses entirely.
func dropEntry(ent *zmb.ResultEntry) (ok bool) {
	if ent.Module != "SYSTEM" || ent.Tag != "POLICY_DISABLED" {
		return false
	}

	name, _ := ent.Args["name"].(string)

	return name == "Example"
}
