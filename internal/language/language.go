// Package language maps the server-configured locale set to the client-facing
// language tags and back.
//
// The configuration carries full locales of the form "ll_CC.UTF-8".  Clients
// use either the full "ll_CC" tag or, when a language is configured for only
// one region, the bare "ll" shorthand.
package language

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// localePat matches one configured locale.
var localePat = regexp.MustCompile(`^([a-z]{2})_([A-Z]{2})(?:\.UTF-8)?$`)

// Locales is the set of supported locales and the tags they answer to.
type Locales struct {
	// byTag maps every accepted tag, short and full, to the full "ll_CC"
	// locale name.  Ambiguous short tags are absent.
	byTag map[string]string

	// tags are all accepted tags in sorted order.
	tags []string
}

// New parses the space-separated locale list from the configuration, for
// example "en_US.UTF-8 nb_NO.UTF-8 sv_SE.UTF-8".
func New(conf string) (l *Locales, err error) {
	l = &Locales{
		byTag: map[string]string{},
	}

	// shortCount tracks how many configured regions share a language, since
	// the shorthand is only offered when it is unambiguous.
	shortCount := map[string]int{}
	var full []string

	for _, f := range strings.Fields(conf) {
		m := localePat.FindStringSubmatch(f)
		if m == nil {
			return nil, fmt.Errorf("locale %q: bad format", f)
		}

		name := m[1] + "_" + m[2]
		if slices.Contains(full, name) {
			return nil, fmt.Errorf("locale %q: duplicate", f)
		}

		full = append(full, name)
		shortCount[m[1]]++
	}

	for _, name := range full {
		l.byTag[name] = name

		short := name[:2]
		if shortCount[short] == 1 {
			l.byTag[short] = name
		}
	}

	for t := range l.byTag {
		l.tags = append(l.tags, t)
	}

	slices.Sort(l.tags)

	return l, nil
}

// Tags returns all accepted language tags in sorted order.
func (l *Locales) Tags() (tags []string) {
	return slices.Clone(l.tags)
}

// Resolve maps a client language tag to the full locale name.  ok is false
// when the tag is unknown or ambiguous.
func (l *Locales) Resolve(tag string) (locale string, ok bool) {
	locale, ok = l.byTag[tag]

	return locale, ok
}
