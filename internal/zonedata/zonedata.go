// Package zonedata performs the DNS lookups behind the data-prefill RPC
// methods: the address lookup of get_host_by_name and the delegation and DS
// discovery of get_data_from_parent_zone.
package zonedata

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/miekg/dns"
	cache "github.com/patrickmn/go-cache"
	"github.com/zonemaster/zmbroker/internal/errcoll"
	"github.com/zonemaster/zmbroker/internal/zmb"
)

// Default lookup parameters.
const (
	defaultTimeout  = 5 * time.Second
	defaultCacheExp = 1 * time.Minute
	defaultCacheGC  = 1 * time.Minute
)

// resolvConfPath is where the system resolver addresses are read from when
// the configuration does not name upstreams.
const resolvConfPath = "/etc/resolv.conf"

// ZoneData is the delegation data of a domain as seen from its parent zone.
type ZoneData struct {
	// NSList are the delegation name servers, one entry per name server
	// address pair.
	NSList []*zmb.Nameserver

	// DSList are the DS records of the domain.
	DSList []*zmb.DSInfo
}

// Lookuper performs the lookups.
type Lookuper struct {
	logger  *slog.Logger
	errColl errcoll.Interface

	udp *dns.Client
	tcp *dns.Client

	cache *cache.Cache

	upstreams []string
}

// Config is the [Lookuper] configuration.
type Config struct {
	// Logger is used to log the lookups.  It must not be nil.
	Logger *slog.Logger

	// ErrColl collects non-critical lookup errors.  It must not be nil.
	ErrColl errcoll.Interface

	// Upstreams are the recursive resolver addresses, as host:port.  When
	// empty, the system resolver configuration is used.
	Upstreams []string

	// Timeout is the timeout of one exchange.  Zero means a default.
	Timeout time.Duration
}

// New returns a new properly initialized *Lookuper.
func New(c *Config) (l *Lookuper, err error) {
	timeout := c.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	upstreams := c.Upstreams
	if len(upstreams) == 0 {
		conf, confErr := dns.ClientConfigFromFile(resolvConfPath)
		if confErr != nil {
			return nil, fmt.Errorf("reading %s: %w", resolvConfPath, confErr)
		}

		for _, srv := range conf.Servers {
			upstreams = append(upstreams, srv+":"+conf.Port)
		}
	}

	if len(upstreams) == 0 {
		return nil, fmt.Errorf("no upstream resolvers")
	}

	return &Lookuper{
		logger:    c.Logger,
		errColl:   c.ErrColl,
		udp:       &dns.Client{Net: "udp", Timeout: timeout},
		tcp:       &dns.Client{Net: "tcp", Timeout: timeout},
		cache:     cache.New(defaultCacheExp, defaultCacheGC),
		upstreams: upstreams,
	}, nil
}

// exchange sends req to the upstreams in order until one answers, retrying
// truncated UDP responses over TCP.
func (l *Lookuper) exchange(ctx context.Context, req *dns.Msg, server string) (resp *dns.Msg, err error) {
	servers := l.upstreams
	if server != "" {
		servers = []string{server}
	}

	var errs []error
	for _, srv := range servers {
		resp, _, err = l.udp.ExchangeContext(ctx, req, srv)
		if err == nil && resp.Truncated {
			resp, _, err = l.tcp.ExchangeContext(ctx, req, srv)
		}

		if err == nil {
			return resp, nil
		}

		errs = append(errs, fmt.Errorf("upstream %s: %w", srv, err))
	}

	return nil, fmt.Errorf("exchanging %s: %w", req.Question[0].Name, errors.Join(errs...))
}

// query performs one recursive lookup for (name, qtype) and returns the
// answer records.
func (l *Lookuper) query(ctx context.Context, name string, qtype uint16) (rrs []dns.RR, err error) {
	req := (&dns.Msg{}).SetQuestion(dns.Fqdn(name), qtype)
	req.SetEdns0(dns.DefaultMsgSize, true)
	req.RecursionDesired = true

	resp, err := l.exchange(ctx, req, "")
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}

	return resp.Answer, nil
}

// HostByName returns the IPv4 and IPv6 addresses of hostname, one entry per
// address, in their canonical textual form.  A name with no address records
// returns an empty list and no error.
func (l *Lookuper) HostByName(ctx context.Context, hostname string) (addrs []string, err error) {
	cacheKey := "host:" + hostname
	if cached, ok := l.cache.Get(cacheKey); ok {
		return cached.([]string), nil
	}

	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		rrs, qErr := l.query(ctx, hostname, qtype)
		if qErr != nil {
			return nil, fmt.Errorf("resolving %q: %w", hostname, qErr)
		}

		for _, rr := range rrs {
			switch rr := rr.(type) {
			case *dns.A:
				addrs = append(addrs, rr.A.String())
			case *dns.AAAA:
				addrs = append(addrs, rr.AAAA.String())
			default:
				// CNAMEs and the like carry no address.
			}
		}
	}

	l.cache.SetDefault(cacheKey, addrs)

	return addrs, nil
}

// ParentZoneData returns the delegation data of domain as published in its
// parent zone.
func (l *Lookuper) ParentZoneData(ctx context.Context, domain string) (zd *ZoneData, err error) {
	cacheKey := "zone:" + domain
	if cached, ok := l.cache.Get(cacheKey); ok {
		return cached.(*ZoneData), nil
	}

	zd = &ZoneData{}

	nsNames, err := l.delegationNS(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("delegation of %q: %w", domain, err)
	}

	for _, name := range nsNames {
		addrs, addrErr := l.HostByName(ctx, name)
		if addrErr != nil {
			errcoll.Collect(ctx, l.errColl, l.logger, "resolving delegation ns", addrErr)

			addrs = nil
		}

		if len(addrs) == 0 {
			zd.NSList = append(zd.NSList, &zmb.Nameserver{Name: name})

			continue
		}

		for _, addr := range addrs {
			zd.NSList = append(zd.NSList, &zmb.Nameserver{Name: name, IP: addr})
		}
	}

	dsRRs, err := l.query(ctx, domain, dns.TypeDS)
	if err != nil {
		return nil, fmt.Errorf("ds of %q: %w", domain, err)
	}

	for _, rr := range dsRRs {
		ds, ok := rr.(*dns.DS)
		if !ok {
			continue
		}

		zd.DSList = append(zd.DSList, &zmb.DSInfo{
			Digest:     strings.ToLower(ds.Digest),
			KeyTag:     ds.KeyTag,
			Algorithm:  ds.Algorithm,
			DigestType: ds.DigestType,
		})
	}

	l.cache.SetDefault(cacheKey, zd)

	return zd, nil
}

// delegationNS returns the delegation name servers of domain.  A recursive
// NS query answers for delegated domains; for domains that are not yet
// resolvable, the parent zone's authoritative servers are asked directly and
// the delegation is read from the authority section.
func (l *Lookuper) delegationNS(ctx context.Context, domain string) (names []string, err error) {
	rrs, err := l.query(ctx, domain, dns.TypeNS)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}

	names = nsNames(rrs)
	if len(names) > 0 {
		return names, nil
	}

	return l.parentDelegationNS(ctx, domain)
}

// parentDelegationNS asks the parent zone's servers for the delegation of
// domain.
func (l *Lookuper) parentDelegationNS(ctx context.Context, domain string) (names []string, err error) {
	parent := parentZone(domain)

	parentRRs, err := l.query(ctx, parent, dns.TypeNS)
	if err != nil {
		return nil, fmt.Errorf("parent %q: %w", parent, err)
	}

	for _, parentNS := range nsNames(parentRRs) {
		addrs, addrErr := l.HostByName(ctx, parentNS)
		if addrErr != nil || len(addrs) == 0 {
			continue
		}

		req := (&dns.Msg{}).SetQuestion(dns.Fqdn(domain), dns.TypeNS)
		req.SetEdns0(dns.DefaultMsgSize, true)
		req.RecursionDesired = false

		resp, exErr := l.exchange(ctx, req, addrs[0]+":53")
		if exErr != nil {
			l.logger.DebugContext(
				ctx,
				"parent ns query",
				"server", parentNS,
				slogutil.KeyError, exErr,
			)

			continue
		}

		names = nsNames(append(resp.Answer, resp.Ns...))
		if len(names) > 0 {
			return names, nil
		}
	}

	return nil, nil
}

// nsNames extracts the normalized target names of the NS records in rrs.
func nsNames(rrs []dns.RR) (names []string) {
	for _, rr := range rrs {
		ns, ok := rr.(*dns.NS)
		if !ok {
			continue
		}

		names = append(names, strings.ToLower(strings.TrimSuffix(ns.Ns, ".")))
	}

	return names
}

// parentZone returns the parent zone of domain, or the root for single-label
// domains.
func parentZone(domain string) (parent string) {
	_, parent, found := strings.Cut(domain, ".")
	if !found || parent == "" {
		return "."
	}

	return parent
}
