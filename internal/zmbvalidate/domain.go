package zmbvalidate

import (
	"fmt"
	"net/netip"
	"regexp"
	"strings"

	"github.com/zonemaster/zmbroker/internal/zmb"
	"golang.org/x/net/idna"
)

// maxDomainLen is the maximum accepted length of a domain name.
const maxDomainLen = 254

// maxLabelLen is the maximum accepted length of a single label after A-label
// conversion.
const maxLabelLen = 63

// idnaProfile converts non-ASCII names to A-labels.  STD3 rules are off so
// that names with unusual but historically accepted ASCII characters reach
// the explicit character-set check below and get its message instead of a
// generic conversion failure.
var idnaProfile = idna.New(
	idna.MapForLookup(),
	idna.StrictDomainName(false),
	idna.VerifyDNSLength(false),
)

// domainCharsPat is the character set accepted after A-label conversion.
var domainCharsPat = regexp.MustCompile(`^[A-Za-z0-9._\-]+$`)

// checkDomain validates d and returns its A-label form.  msg is one of the
// domain problem messages, or empty when d is valid.  The singleton root "."
// is accepted as is.
func checkDomain(d string) (norm string, msg string) {
	if d == "" {
		return "", msgDomainBadChars
	}

	if len(d) > maxDomainLen {
		return "", msgDomainTooLong
	}

	if d == "." {
		return d, ""
	}

	norm, err := idnaProfile.ToASCII(d)
	if err != nil {
		return "", msgDomainBadIDNA
	}

	if !domainCharsPat.MatchString(norm) {
		return "", msgDomainBadChars
	}

	for _, label := range strings.Split(strings.TrimSuffix(norm, "."), ".") {
		if label == "" {
			return "", msgDomainBadChars
		}

		if len(label) > maxLabelLen {
			return "", msgLabelTooLong
		}
	}

	return norm, ""
}

// checkIP validates an IPv4 dotted-decimal or IPv6 textual address and
// returns its canonical form.
func checkIP(s string) (canon string, ok bool) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return "", false
	}

	return addr.String(), true
}

// nameserver object properties.
var nameserverProps = []string{"ns", "ip"}

// parseNameservers validates the nameservers list at the JSON-Pointer path
// base.
func parseNameservers(val any, base string) (nss []*zmb.Nameserver, probs []*Problem) {
	list, ok := val.([]any)
	if !ok {
		return nil, []*Problem{{Path: base, Message: msgNotAList}}
	}

	for i, elem := range list {
		path := fmt.Sprintf("%s/%d", base, i)

		obj, ok := elem.(map[string]any)
		if !ok {
			probs = append(probs, &Problem{Path: path, Message: msgNotAnObjectElem})

			continue
		}

		probs = append(probs, checkUnknownAt(obj, nameserverProps, path)...)

		ns := &zmb.Nameserver{}

		nsVal, ok := obj["ns"]
		if !ok {
			probs = append(probs, &Problem{Path: path + "/ns", Message: msgMissing})
		} else if s, isStr := toString(nsVal); !isStr {
			probs = append(probs, &Problem{Path: path + "/ns", Message: msgNotAString})
		} else if norm, msg := checkDomain(s); msg != "" {
			probs = append(probs, &Problem{Path: path + "/ns", Message: msg})
		} else {
			ns.Name = norm
		}

		if ipVal, hasIP := obj["ip"]; hasIP && ipVal != nil {
			s, isStr := toString(ipVal)
			if !isStr {
				probs = append(probs, &Problem{Path: path + "/ip", Message: msgBadIP})
			} else if s != "" {
				canon, ipOK := checkIP(s)
				if !ipOK {
					probs = append(probs, &Problem{Path: path + "/ip", Message: msgBadIP})
				} else {
					ns.IP = canon
				}
			}
		}

		nss = append(nss, ns)
	}

	return nss, probs
}

// digestPat matches SHA-1, SHA-256, and SHA-384 hexadecimal digests.
var digestPat = regexp.MustCompile(`^(?:[0-9a-fA-F]{40}|[0-9a-fA-F]{64}|[0-9a-fA-F]{96})$`)

// dsInfo object properties.
var dsInfoProps = []string{"digest", "algorithm", "digtype", "keytag"}

// parseDSInfo validates the ds_info list at the JSON-Pointer path base.
func parseDSInfo(val any, base string) (dss []*zmb.DSInfo, probs []*Problem) {
	list, ok := val.([]any)
	if !ok {
		return nil, []*Problem{{Path: base, Message: msgNotAList}}
	}

	for i, elem := range list {
		path := fmt.Sprintf("%s/%d", base, i)

		obj, ok := elem.(map[string]any)
		if !ok {
			probs = append(probs, &Problem{Path: path, Message: msgNotAnObjectElem})

			continue
		}

		probs = append(probs, checkUnknownAt(obj, dsInfoProps, path)...)

		ds := &zmb.DSInfo{}

		if s, isStr := toString(obj["digest"]); !isStr || !digestPat.MatchString(s) {
			probs = append(probs, &Problem{Path: path + "/digest", Message: msgBadDigest})
		} else {
			ds.Digest = s
		}

		if n, isInt := toInt(obj["algorithm"]); !isInt || n < 0 || n > 255 {
			probs = append(probs, &Problem{Path: path + "/algorithm", Message: msgBadAlgorithm})
		} else {
			ds.Algorithm = uint8(n)
		}

		if n, isInt := toInt(obj["digtype"]); !isInt || n < 0 || n > 255 {
			probs = append(probs, &Problem{Path: path + "/digtype", Message: msgBadDigestType})
		} else {
			ds.DigestType = uint8(n)
		}

		if n, isInt := toInt(obj["keytag"]); !isInt || n < 0 || n > 65535 {
			probs = append(probs, &Problem{Path: path + "/keytag", Message: msgBadKeyTag})
		} else {
			ds.KeyTag = uint16(n)
		}

		dss = append(dss, ds)
	}

	return dss, probs
}

// checkUnknownAt is like [checkUnknown] but prefixes the problem paths with
// base.
func checkUnknownAt(obj map[string]any, allowed []string, base string) (probs []*Problem) {
	probs = checkUnknown(obj, allowed)
	for _, p := range probs {
		p.Path = base + p.Path
	}

	return probs
}
