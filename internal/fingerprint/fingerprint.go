// Package fingerprint derives the stable 64-bit deduplication identifier of a
// test from the semantically significant subset of its parameters.
//
// The fingerprint is not cryptographic.  It is a dedup key; collisions are
// absorbed by the unique constraint on the test id column and the retry path
// of test creation.
package fingerprint

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/zonemaster/zmbroker/internal/zmb"
)

// Normalize brings p into its canonical form in place: the domain and profile
// are lowercased, the trailing dot is stripped from the domain unless it is
// the root, and the nameserver and DS lists are sorted into canonical order
// so that permuted submissions fingerprint identically.
func Normalize(p *zmb.TestParams) {
	p.Domain = NormalizeDomain(p.Domain)
	p.Profile = strings.ToLower(p.Profile)

	for _, ns := range p.Nameservers {
		ns.Name = NormalizeDomain(ns.Name)
	}

	slices.SortStableFunc(p.Nameservers, func(a, b *zmb.Nameserver) (res int) {
		if res = strings.Compare(a.Name, b.Name); res != 0 {
			return res
		}

		return strings.Compare(a.IP, b.IP)
	})

	for _, ds := range p.DSInfo {
		ds.Digest = strings.ToLower(ds.Digest)
	}

	slices.SortStableFunc(p.DSInfo, func(a, b *zmb.DSInfo) (res int) {
		switch {
		case a.KeyTag != b.KeyTag:
			return int(a.KeyTag) - int(b.KeyTag)
		case a.Algorithm != b.Algorithm:
			return int(a.Algorithm) - int(b.Algorithm)
		case a.DigestType != b.DigestType:
			return int(a.DigestType) - int(b.DigestType)
		default:
			return strings.Compare(a.Digest, b.Digest)
		}
	})
}

// NormalizeDomain lowercases d and strips the trailing dot unless d is the
// root domain.
func NormalizeDomain(d string) (norm string) {
	norm = strings.ToLower(d)
	if norm != "." {
		norm = strings.TrimSuffix(norm, ".")
	}

	return norm
}

// New computes the fingerprint of p.  p must already be normalized with
// [Normalize].  Client identification, priority, queue, and language do not
// participate, so resubmissions that differ only in those fields deduplicate.
func New(p *zmb.TestParams) (fp zmb.Fingerprint, err error) {
	sig := map[string]any{
		"domain":  p.Domain,
		"profile": p.Profile,
	}

	if p.IPv4 != nil {
		sig["ipv4"] = *p.IPv4
	}

	if p.IPv6 != nil {
		sig["ipv6"] = *p.IPv6
	}

	if len(p.Nameservers) > 0 {
		sig["nameservers"] = p.Nameservers
	}

	if len(p.DSInfo) > 0 {
		sig["ds_info"] = p.DSInfo
	}

	// encoding/json serializes map keys in sorted order and struct fields in
	// declaration order, which keeps the serialization deterministic.
	b, err := json.Marshal(sig)
	if err != nil {
		return 0, fmt.Errorf("serializing params: %w", err)
	}

	sum := md5.Sum(b)

	return zmb.Fingerprint(binary.BigEndian.Uint64(sum[:8])), nil
}

// NewTestID derives the external identifier for a fresh test row.  The
// underlying 64-bit hash id mixes the fingerprint with the creation time at
// second granularity, so that resubmissions of the same parameters outside
// the reuse window get a distinct identifier, while concurrent submissions of
// the same parameters derive the same one and collide on the unique test id
// column, which is what makes the lookup-retry path of test creation
// converge on a single row.
func NewTestID(fp zmb.Fingerprint, createdAt time.Time) (id zmb.TestID) {
	var b [16]byte
	binary.BigEndian.PutUint64(b[0:8], uint64(fp))
	binary.BigEndian.PutUint64(b[8:16], uint64(createdAt.Unix()))

	sum := md5.Sum(b[:])

	return zmb.Fingerprint(binary.BigEndian.Uint64(sum[:8])).TestID()
}
