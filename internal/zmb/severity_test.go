package zmb_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zonemaster/zmbroker/internal/zmb"
)

func TestNewSeverity(t *testing.T) {
	testCases := []struct {
		name    string
		in      string
		want    zmb.Severity
		wantErr bool
	}{{
		name: "info",
		in:   "INFO",
		want: zmb.SeverityInfo,
	}, {
		name: "debug3",
		in:   "DEBUG3",
		want: zmb.SeverityDebug3,
	}, {
		name: "critical",
		in:   "CRITICAL",
		want: zmb.SeverityCritical,
	}, {
		name:    "lowercase",
		in:      "info",
		wantErr: true,
	}, {
		name:    "unknown",
		in:      "FATAL",
		wantErr: true,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sev, err := zmb.NewSeverity(tc.in)
			if tc.wantErr {
				assert.Error(t, err)

				return
			}

			require.NoError(t, err)

			assert.Equal(t, tc.want, sev)
		})
	}
}

func TestSeverity_IsDebug(t *testing.T) {
	assert.True(t, zmb.SeverityDebug3.IsDebug())
	assert.True(t, zmb.SeverityDebug2.IsDebug())
	assert.True(t, zmb.SeverityDebug.IsDebug())
	assert.False(t, zmb.SeverityInfo.IsDebug())
	assert.False(t, zmb.SeverityCritical.IsDebug())
}

func TestSeverity_json(t *testing.T) {
	b, err := json.Marshal(zmb.SeverityWarning)
	require.NoError(t, err)

	assert.Equal(t, `"WARNING"`, string(b))

	var sev zmb.Severity
	require.NoError(t, json.Unmarshal([]byte(`"NOTICE"`), &sev))

	assert.Equal(t, zmb.SeverityNotice, sev)

	assert.Error(t, json.Unmarshal([]byte(`"BOGUS"`), &sev))
	assert.Error(t, json.Unmarshal([]byte(`42`), &sev))
}

func TestOverall(t *testing.T) {
	entry := func(sev zmb.Severity) (ent *zmb.ResultEntry) {
		return &zmb.ResultEntry{Module: "NAMESERVER", Tag: "TAG", Level: sev}
	}

	testCases := []struct {
		name    string
		entries []*zmb.ResultEntry
		want    zmb.OverallResult
	}{{
		name:    "empty",
		entries: nil,
		want:    zmb.OverallResultOK,
	}, {
		name:    "info_notice",
		entries: []*zmb.ResultEntry{entry(zmb.SeverityInfo), entry(zmb.SeverityNotice)},
		want:    zmb.OverallResultOK,
	}, {
		name:    "warning",
		entries: []*zmb.ResultEntry{entry(zmb.SeverityInfo), entry(zmb.SeverityWarning)},
		want:    zmb.OverallResultWarning,
	}, {
		name:    "error",
		entries: []*zmb.ResultEntry{entry(zmb.SeverityWarning), entry(zmb.SeverityError)},
		want:    zmb.OverallResultError,
	}, {
		name:    "critical",
		entries: []*zmb.ResultEntry{entry(zmb.SeverityCritical), entry(zmb.SeverityInfo)},
		want:    zmb.OverallResultCritical,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, zmb.Overall(tc.entries))
		})
	}
}

func TestFilterDebug(t *testing.T) {
	entries := []*zmb.ResultEntry{{
		Module: "BASIC",
		Tag:    "A",
		Level:  zmb.SeverityDebug,
	}, {
		Module: "BASIC",
		Tag:    "B",
		Level:  zmb.SeverityInfo,
	}, {
		Module: "BASIC",
		Tag:    "C",
		Level:  zmb.SeverityDebug3,
	}, {
		Module: "BASIC",
		Tag:    "D",
		Level:  zmb.SeverityError,
	}}

	got := zmb.FilterDebug(entries)
	require.Len(t, got, 2)

	assert.Equal(t, "B", got[0].Tag)
	assert.Equal(t, "D", got[1].Tag)
}
