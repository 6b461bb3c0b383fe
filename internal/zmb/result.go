package zmb

import "time"

// ResultEntry is a single message produced by the testing engine for a
// finished test.
type ResultEntry struct {
	// Timestamp is the engine-reported offset or time of the message.  It is
	// kept verbatim.
	Timestamp float64 `json:"timestamp"`

	// Args holds the free-form message arguments keyed by name.
	Args map[string]any `json:"args,omitempty"`

	// Module is the engine module that produced the entry, for example
	// "NAMESERVER" or "SYSTEM".
	Module string `json:"module"`

	// Tag identifies the message within the module.
	Tag string `json:"tag"`

	// NSName is the name server the entry concerns, if any.
	NSName string `json:"ns,omitempty"`

	// Level is the severity of the entry.
	Level Severity `json:"level"`
}

// FilterDebug returns entries without the engine-internal debug levels.  The
// returned slice shares the remaining entries with the argument.
func FilterDebug(entries []*ResultEntry) (filtered []*ResultEntry) {
	filtered = make([]*ResultEntry, 0, len(entries))
	for _, ent := range entries {
		if !ent.Level.IsDebug() {
			filtered = append(filtered, ent)
		}
	}

	return filtered
}

// TestParams is the normalized parameter object of a test.  Its JSON form is
// both what clients of the read-side RPCs receive and what the fingerprint is
// derived from, so field order and normalization rules must stay stable.
type TestParams struct {
	// IPv4 reports whether the engine may use IPv4 transport.  Nil means the
	// profile default.
	IPv4 *bool `json:"ipv4,omitempty"`

	// IPv6 reports whether the engine may use IPv6 transport.  Nil means the
	// profile default.
	IPv6 *bool `json:"ipv6,omitempty"`

	// Domain is the tested domain, lowercased and IDNA-encoded, with the
	// trailing dot stripped unless the domain is the root.
	Domain string `json:"domain"`

	// Profile is the lowercased name of the engine profile.
	Profile string `json:"profile"`

	// ClientID identifies the submitting client, if provided.
	ClientID string `json:"client_id,omitempty"`

	// ClientVersion is the version of the submitting client, if provided.
	ClientVersion string `json:"client_version,omitempty"`

	// Nameservers are the delegation overrides, in canonical order.
	Nameservers []*Nameserver `json:"nameservers,omitempty"`

	// DSInfo are the DS record overrides, in canonical order.
	DSInfo []*DSInfo `json:"ds_info,omitempty"`
}

// Undelegated reports whether p carries any delegation or DS overrides.
func (p *TestParams) Undelegated() (ok bool) {
	return len(p.Nameservers) > 0 || len(p.DSInfo) > 0
}

// Nameserver is one delegation override: a name server name with an optional
// address.
type Nameserver struct {
	// Name is the name server domain, lowercased and IDNA-encoded.
	Name string `json:"ns"`

	// IP is the canonical textual form of the address, or empty.
	IP string `json:"ip,omitempty"`
}

// DSInfo is one DS record override.
type DSInfo struct {
	// Digest is the lowercased hexadecimal digest.
	Digest string `json:"digest"`

	// KeyTag is the DNSKEY key tag.
	KeyTag uint16 `json:"keytag"`

	// Algorithm is the DNSSEC algorithm number.
	Algorithm uint8 `json:"algorithm"`

	// DigestType is the digest type number.
	DigestType uint8 `json:"digtype"`
}

// HistoryFilter selects tests by their undelegated flag in history listings.
type HistoryFilter string

// HistoryFilter values.
const (
	HistoryFilterAll         HistoryFilter = "all"
	HistoryFilterDelegated   HistoryFilter = "delegated"
	HistoryFilterUndelegated HistoryFilter = "undelegated"
)

// HistoryEntry is one line of a test history listing.
type HistoryEntry struct {
	// CreatedAt is the creation time of the test.
	CreatedAt time.Time

	// ID is the external test identifier.
	ID TestID

	// SeqID is the surrogate sequential identifier.
	SeqID uint64

	// Overall is the aggregate result of the test.
	Overall OverallResult

	// Undelegated is the undelegated flag of the test.
	Undelegated bool
}
