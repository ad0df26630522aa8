// Package admission validates a Request synchronously before any
// scheduler, rate limiter, breaker, or pool resource is committed to
// it. Rejections never consume a worker slot.
package admission

import (
	"context"
	"net"
	"net/netip"
	"strings"

	"fetchcore/internal/domain/model"
)

// Policy mirrors the security.* configuration table: allowed schemes,
// host block/allow lists, whether private/loopback/link-local IPs are
// reachable, and the hard bounds on URL and body size.
type Policy struct {
	AllowedSchemes  map[string]bool
	BlockedHosts    map[string]bool
	AllowedHosts    map[string]bool // empty means "no allowlist configured"
	AllowPrivateIPs bool
	MaxURLLength    int
	MaxBodySize     int64
}

func DefaultPolicy() Policy {
	return Policy{
		AllowedSchemes: map[string]bool{"http": true, "https": true},
		BlockedHosts:   map[string]bool{},
		AllowedHosts:   map[string]bool{},
		MaxURLLength:   8192,
		MaxBodySize:    10 << 20,
	}
}

// Resolver abstracts DNS resolution so tests can inject a fake
// resolver instead of touching the network during admission checks.
type Resolver interface {
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
}

type netResolver struct{}

func (netResolver) LookupIP(ctx context.Context, network, host string) ([]net.IP, error) {
	return net.DefaultResolver.LookupIP(ctx, network, host)
}

// Admitter runs every check in §4.1 against incoming requests.
type Admitter struct {
	policy   Policy
	resolver Resolver
}

func New(policy Policy, resolver Resolver) *Admitter {
	if resolver == nil {
		resolver = netResolver{}
	}

	return &Admitter{policy: policy, resolver: resolver}
}

// Check classifies the request against every admission rule and
// returns a *model.ValidationErrors (wrapping model.ErrInvalidRequest)
// on the first violation, or nil if the request may proceed.
func (a *Admitter) Check(ctx context.Context, req *model.Request) error {
	if len(req.URL) > a.policy.MaxURLLength {
		return reject("url", "url exceeds maximum length", "url-too-long")
	}

	u, _, err := model.NormalizeURL(req.URL)
	if err != nil {
		return reject("url", "url does not parse", "invalid-url")
	}

	if !a.policy.AllowedSchemes[u.Scheme] {
		return reject("scheme", "scheme not allowed", "invalid-scheme")
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return reject("url", "url has no host", "invalid-url")
	}

	if a.policy.BlockedHosts[host] {
		return reject("host", "host is blocked", "blocked-host")
	}

	if len(a.policy.AllowedHosts) > 0 && !a.policy.AllowedHosts[host] {
		return reject("host", "host is not in the allowlist", "blocked-host")
	}

	if int64(len(req.Body)) > a.policy.MaxBodySize {
		return reject("body", "body exceeds maximum size", "body-too-large")
	}

	if !a.policy.AllowPrivateIPs {
		if err := a.checkPrivateIP(ctx, host); err != nil {
			return err
		}
	}

	return nil
}

func (a *Admitter) checkPrivateIP(ctx context.Context, host string) error {
	if addr, err := netip.ParseAddr(host); err == nil {
		if isDisallowed(addr) {
			return reject("host", "host resolves to a private ip range", "private-ip")
		}

		return nil
	}

	ips, err := a.resolver.LookupIP(ctx, "ip", host)
	if err != nil {
		// DNS failure is not an admission concern; it surfaces later as
		// a Transport error during connect.
		return nil
	}

	for _, ip := range ips {
		addr, ok := netip.AddrFromSlice(ip.To16())
		if !ok {
			continue
		}

		if isDisallowed(addr.Unmap()) {
			return reject("host", "host resolves to a private ip range", "private-ip")
		}
	}

	return nil
}

func isDisallowed(addr netip.Addr) bool {
	return addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() || addr.IsUnspecified()
}

func reject(field, message, code string) error {
	errs := &model.ValidationErrors{}
	errs.Add(field, message, code)

	return errs
}
