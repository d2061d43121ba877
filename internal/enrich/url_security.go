package enrich

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
)

var (
	errInvalidURLScheme = errors.New("unsupported url scheme")
	errBlockedURLHost   = errors.New("blocked url host")
	errBlockedURLPort   = errors.New("blocked url port")
)

type urlGuard struct {
	allowPrivate bool
}

func (g urlGuard) validate(rawURL string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, err
	}
	if parsed.Host == "" {
		return nil, errors.New("url host is required")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, errInvalidURLScheme
	}
	if g.allowPrivate {
		return parsed, nil
	}
	hostname := strings.ToLower(parsed.Hostname())
	if isBlockedHostname(hostname) {
		return nil, errBlockedURLHost
	}
	if !isAllowedPort(parsed.Port()) {
		return nil, errBlockedURLPort
	}
	return parsed, nil
}

func isAllowedPort(rawPort string) bool {
	if rawPort == "" {
		return true
	}
	port, err := strconv.Atoi(rawPort)
	if err != nil {
		return false
	}
	return port == 80 || port == 443
}

func isBlockedHostname(hostname string) bool {
	if hostname == "localhost" || strings.HasSuffix(hostname, ".localhost") {
		return true
	}
	if strings.HasSuffix(hostname, ".local") || strings.HasSuffix(hostname, ".internal") {
		return true
	}
	if ip, err := netip.ParseAddr(hostname); err == nil {
		return isPrivateIP(ip)
	}
	return false
}

func isPrivateIP(ip netip.Addr) bool {
	if !ip.IsValid() {
		return true
	}
	return ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsMulticast() || ip.IsPrivate() || ip.IsUnspecified() || ip.IsInterfaceLocalMulticast()
}

// secureDialContext refuses connections whose resolved address is private, so redirects cannot reach internal hosts.
func secureDialContext(base *net.Dialer) func(context.Context, string, string) (net.Conn, error) {
	return func(ctx context.Context, network, address string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(address)
		if err != nil {
			return nil, err
		}
		if isBlockedHostname(strings.ToLower(host)) {
			return nil, errBlockedURLHost
		}
		ips, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
		if err != nil {
			return nil, err
		}
		for _, ip := range ips {
			if isPrivateIP(ip.Unmap()) {
				return nil, errBlockedURLHost
			}
		}
		if len(ips) == 0 {
			return nil, fmt.Errorf("no ip addresses for host %q", host)
		}
		return base.DialContext(ctx, network, net.JoinHostPort(ips[0].Unmap().String(), port))
	}
}
