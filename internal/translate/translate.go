// Package translate adapts the external gettext message catalog to the
// broker.  Unlike the classic catalog binding, which mutates the process-wide
// locale, every call here takes the locale as an argument, so concurrent
// reads in different languages do not interfere.
package translate

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/leonelquinteros/gotext"
	"github.com/zonemaster/zmbroker/internal/zmb"
)

// Interface translates result entries and plain messages into a client
// locale.  Implementations fall back to the untranslated source form when the
// locale or the message is unknown.
type Interface interface {
	// Entry renders a result entry in the given full locale name, for
	// example "sv_SE".
	Entry(ent *zmb.ResultEntry, locale string) (msg string)

	// Message renders a plain source message in the given full locale name.
	Message(msgid, locale string) (msg string)
}

// Catalog is the gettext-backed [Interface] implementation.
type Catalog struct {
	// byLocale maps full locale names to their parsed catalogs.
	byLocale map[string]*gotext.Po
}

// NewCatalog loads ".po" catalogs named "<locale>.po" from dir for each of
// the given full locale names.  Missing catalog files are not an error: those
// locales simply fall back to source messages.
func NewCatalog(dir string, locales []string) (c *Catalog, err error) {
	c = &Catalog{
		byLocale: map[string]*gotext.Po{},
	}

	for _, loc := range locales {
		b, readErr := os.ReadFile(filepath.Join(dir, loc+".po"))
		if readErr != nil {
			if os.IsNotExist(readErr) {
				continue
			}

			return nil, fmt.Errorf("catalog for %s: %w", loc, readErr)
		}

		po := gotext.NewPo()
		po.Parse(b)
		c.byLocale[loc] = po
	}

	return c, nil
}

// type check
var _ Interface = (*Catalog)(nil)

// Entry implements the [Interface] interface for *Catalog.  The message
// identifier of an entry is "MODULE:TAG"; the translated template may refer
// to entry arguments as "{name}" placeholders.
func (c *Catalog) Entry(ent *zmb.ResultEntry, locale string) (msg string) {
	msgid := ent.Module + ":" + ent.Tag

	msg = c.Message(msgid, locale)
	if msg == msgid {
		return sourceForm(ent)
	}

	return expandArgs(msg, ent.Args)
}

// Message implements the [Interface] interface for *Catalog.
func (c *Catalog) Message(msgid, locale string) (msg string) {
	po, ok := c.byLocale[locale]
	if !ok {
		return msgid
	}

	msg = po.Get(msgid)
	if msg == "" {
		return msgid
	}

	return msg
}

// expandArgs substitutes "{name}" placeholders in tmpl with the corresponding
// argument values.
func expandArgs(tmpl string, args map[string]any) (msg string) {
	for name, val := range args {
		tmpl = strings.ReplaceAll(tmpl, "{"+name+"}", fmt.Sprint(val))
	}

	return tmpl
}

// sourceForm renders an entry without a catalog: the message identifier
// followed by the arguments in sorted order.
func sourceForm(ent *zmb.ResultEntry) (msg string) {
	b := &strings.Builder{}
	_, _ = b.WriteString(ent.Module + ":" + ent.Tag)

	names := make([]string, 0, len(ent.Args))
	for name := range ent.Args {
		names = append(names, name)
	}

	slices.Sort(names)

	for _, name := range names {
		_, _ = fmt.Fprintf(b, " %s=%v", name, ent.Args[name])
	}

	return b.String()
}
