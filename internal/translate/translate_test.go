package translate_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zonemaster/zmbroker/internal/translate"
	"github.com/zonemaster/zmbroker/internal/zmb"
)

// svCatalog is a minimal gettext catalog for tests.
const svCatalog = `msgid ""
msgstr ""
"Content-Type: text/plain; charset=UTF-8\n"

msgid "NAMESERVER:NO_RESPONSE"
msgstr "Namnservern {ns} svarar inte"

msgid "Unknown profile"
msgstr "Okänd profil"
`

func newCatalog(t *testing.T) (c *translate.Catalog) {
	t.Helper()

	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "sv_SE.po"), []byte(svCatalog), 0o644)
	require.NoError(t, err)

	c, err = translate.NewCatalog(dir, []string{"sv_SE", "en_US"})
	require.NoError(t, err)

	return c
}

func TestCatalog_Entry(t *testing.T) {
	c := newCatalog(t)

	ent := &zmb.ResultEntry{
		Module: "NAMESERVER",
		Tag:    "NO_RESPONSE",
		Args:   map[string]any{"ns": "ns1.example.com"},
		Level:  zmb.SeverityWarning,
	}

	assert.Equal(t, "Namnservern ns1.example.com svarar inte", c.Entry(ent, "sv_SE"))
}

func TestCatalog_Entry_fallback(t *testing.T) {
	c := newCatalog(t)

	ent := &zmb.ResultEntry{
		Module: "DNSSEC",
		Tag:    "NO_DS",
		Args:   map[string]any{"zone": "example.com", "parent": "com"},
		Level:  zmb.SeverityInfo,
	}

	// Unknown message: the source form with sorted args.
	assert.Equal(t, "DNSSEC:NO_DS parent=com zone=example.com", c.Entry(ent, "sv_SE"))

	// Unknown locale: the source form too.
	assert.Equal(t, "DNSSEC:NO_DS parent=com zone=example.com", c.Entry(ent, "fr_FR"))
}

func TestCatalog_Message(t *testing.T) {
	c := newCatalog(t)

	assert.Equal(t, "Okänd profil", c.Message("Unknown profile", "sv_SE"))

	// Missing catalog for the locale: the msgid comes back untranslated.
	assert.Equal(t, "Unknown profile", c.Message("Unknown profile", "en_US"))

	// Unknown message in a known catalog.
	assert.Equal(t, "No such message", c.Message("No such message", "sv_SE"))
}
