package fetcher

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"net/url"
)

// validateURL accepts only absolute http(s) URLs with a host. With
// denyPrivateIPs the host is resolved and every address must be public:
// loopback, RFC 1918 / ULA, link-local and unspecified addresses are rejected.
// IP literals are checked without a lookup.
func validateURL(ctx context.Context, raw string, denyPrivateIPs bool) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return fmt.Errorf("%w: scheme %q not allowed", ErrInvalidURL, u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if !denyPrivateIPs {
		return nil
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		return checkAddr(host, addr)
	}

	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return fmt.Errorf("%w: resolve %s: %v", ErrInvalidURL, host, err)
	}
	for _, addr := range addrs {
		if err := checkAddr(host, addr); err != nil {
			return err
		}
	}
	return nil
}

func checkAddr(host string, addr netip.Addr) error {
	if isPrivateAddr(addr) {
		return fmt.Errorf("%w: %s resolves to %s", ErrPrivateIP, host, addr)
	}
	return nil
}

func isPrivateAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	return addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsUnspecified()
}
