package language_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zonemaster/zmbroker/internal/language"
)

func TestNew(t *testing.T) {
	testCases := []struct {
		name     string
		conf     string
		wantTags []string
		wantErr  bool
	}{{
		name:     "single",
		conf:     "en_US.UTF-8",
		wantTags: []string{"en", "en_US"},
	}, {
		name:     "ambiguous_short",
		conf:     "en_US.UTF-8 en_GB.UTF-8 sv_SE.UTF-8",
		wantTags: []string{"en_GB", "en_US", "sv", "sv_SE"},
	}, {
		name:     "no_encoding_suffix",
		conf:     "nb_NO",
		wantTags: []string{"nb", "nb_NO"},
	}, {
		name:    "bad_format",
		conf:    "english",
		wantErr: true,
	}, {
		name:    "duplicate",
		conf:    "en_US.UTF-8 en_US.UTF-8",
		wantErr: true,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			l, err := language.New(tc.conf)
			if tc.wantErr {
				assert.Error(t, err)

				return
			}

			require.NoError(t, err)

			assert.Equal(t, tc.wantTags, l.Tags())
		})
	}
}

func TestLocales_Resolve(t *testing.T) {
	l, err := language.New("en_US.UTF-8 en_GB.UTF-8 sv_SE.UTF-8")
	require.NoError(t, err)

	testCases := []struct {
		name       string
		tag        string
		wantLocale string
		wantOK     bool
	}{{
		name:       "full",
		tag:        "en_GB",
		wantLocale: "en_GB",
		wantOK:     true,
	}, {
		name:       "short_unambiguous",
		tag:        "sv",
		wantLocale: "sv_SE",
		wantOK:     true,
	}, {
		name:   "short_ambiguous",
		tag:    "en",
		wantOK: false,
	}, {
		name:   "unknown",
		tag:    "fr",
		wantOK: false,
	}, {
		name:   "empty",
		tag:    "",
		wantOK: false,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			locale, ok := l.Resolve(tc.tag)
			assert.Equal(t, tc.wantOK, ok)
			assert.Equal(t, tc.wantLocale, locale)
		})
	}
}
