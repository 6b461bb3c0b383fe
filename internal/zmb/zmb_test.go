package zmb_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zonemaster/zmbroker/internal/zmb"
)

func TestNewTestID(t *testing.T) {
	testCases := []struct {
		name       string
		in         string
		wantErrMsg string
	}{{
		name:       "ok",
		in:         "0123456789abcdef",
		wantErrMsg: "",
	}, {
		name:       "empty",
		in:         "",
		wantErrMsg: `argument test_id is invalid: bad test id ""`,
	}, {
		name:       "short",
		in:         "abcdef",
		wantErrMsg: `argument test_id is invalid: bad test id "abcdef"`,
	}, {
		name:       "uppercase",
		in:         "0123456789ABCDEF",
		wantErrMsg: `argument test_id is invalid: bad test id "0123456789ABCDEF"`,
	}, {
		name:       "nonhex",
		in:         "0123456789abcdeg",
		wantErrMsg: `argument test_id is invalid: bad test id "0123456789abcdeg"`,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			id, err := zmb.NewTestID(tc.in)
			if tc.wantErrMsg == "" {
				require.NoError(t, err)

				assert.Equal(t, zmb.TestID(tc.in), id)

				return
			}

			require.Error(t, err)

			assert.Equal(t, tc.wantErrMsg, err.Error())
		})
	}
}

func TestFingerprint_TestID(t *testing.T) {
	assert.Equal(t, zmb.TestID("0000000000000001"), zmb.Fingerprint(1).TestID())
	assert.Equal(t, zmb.TestID("ffffffffffffffff"), zmb.Fingerprint(^uint64(0)).TestID())
}

func TestTest_Finished(t *testing.T) {
	now := time.Now()

	tst := &zmb.Test{
		CreatedAt: now,
		Progress:  zmb.ProgressNone,
	}
	assert.False(t, tst.Finished())

	tst.Progress = 50
	assert.False(t, tst.Finished())

	tst.Progress = zmb.ProgressDone
	assert.True(t, tst.Finished())
}

func TestValidUsername(t *testing.T) {
	assert.True(t, zmb.ValidUsername("alice"))
	assert.True(t, zmb.ValidUsername("alice@example.com"))
	assert.False(t, zmb.ValidUsername(""))
	assert.False(t, zmb.ValidUsername("alice bob"))
	assert.False(t, zmb.ValidUsername("alice_bob"))
}

func TestValidAPIKey(t *testing.T) {
	assert.True(t, zmb.ValidAPIKey("secret"))
	assert.True(t, zmb.ValidAPIKey("s3cr3t_-"))
	assert.False(t, zmb.ValidAPIKey(""))
	assert.False(t, zmb.ValidAPIKey("with space"))
	assert.False(t, zmb.ValidAPIKey("with@at"))
}

func TestTestParams_Undelegated(t *testing.T) {
	p := &zmb.TestParams{Domain: "example.com", Profile: "default"}
	assert.False(t, p.Undelegated())

	p.Nameservers = []*zmb.Nameserver{{Name: "ns1.example.com"}}
	assert.True(t, p.Undelegated())

	p.Nameservers = nil
	p.DSInfo = []*zmb.DSInfo{{Digest: "ab", KeyTag: 1, Algorithm: 8, DigestType: 2}}
	assert.True(t, p.Undelegated())
}

func TestTestParams_json(t *testing.T) {
	yes := true
	p := &zmb.TestParams{
		IPv4:    &yes,
		Domain:  "example.com",
		Profile: "default",
		Nameservers: []*zmb.Nameserver{{
			Name: "ns1.example.com",
			IP:   "192.0.2.1",
		}},
	}

	b, err := json.Marshal(p)
	require.NoError(t, err)

	assert.JSONEq(
		t,
		`{
			"ipv4": true,
			"domain": "example.com",
			"profile": "default",
			"nameservers": [{"ns": "ns1.example.com", "ip": "192.0.2.1"}]
		}`,
		string(b),
	)
}
