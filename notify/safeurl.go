package notify

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
)

// ErrUnsafeURL is returned for webhook URLs that are not public http(s).
var ErrUnsafeURL = errors.New("notify: unsafe webhook URL")

// privateRanges are refused in addition to loopback and link-local.
var privateRanges = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("fc00::/7"),
}

// ValidateURL checks that rawURL is http(s) with a host that does not
// resolve to a private, loopback or link-local address. Unresolvable
// hosts pass; the request fails later anyway.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsafeURL, err)
	}
	if s := strings.ToLower(u.Scheme); s != "http" && s != "https" {
		return fmt.Errorf("%w: scheme %q", ErrUnsafeURL, u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("%w: no host", ErrUnsafeURL)
	}

	addrs := []string{host}
	if _, err := netip.ParseAddr(host); err != nil {
		resolved, err := net.LookupHost(host)
		if err != nil {
			return nil
		}
		addrs = resolved
	}
	for _, a := range addrs {
		ip, err := netip.ParseAddr(a)
		if err != nil {
			continue
		}
		if isPrivate(ip.Unmap()) {
			return fmt.Errorf("%w: %s resolves to %s", ErrUnsafeURL, host, ip)
		}
	}
	return nil
}

func isPrivate(ip netip.Addr) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return true
	}
	for _, p := range privateRanges {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}
