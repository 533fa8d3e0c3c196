// Package safehttp builds HTTP clients for upstream calls made on behalf of
// remote callers, refusing to dial private networks.
package safehttp

import (
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"
)

// Blocked reports whether ip is loopback, private, link-local or unspecified.
func Blocked(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}

// control runs after DNS resolution and before connect, so a hostname that
// resolves to a private address is refused too.
func control(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("invalid dial address %q: %w", address, err)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return fmt.Errorf("failed to parse remote IP for %q", address)
	}
	if Blocked(ip) {
		return fmt.Errorf("access to private IP %s is denied", ip)
	}
	return nil
}

// NewTransport returns a transport that refuses private destinations. It
// ignores proxy environment variables, which would otherwise bypass the check.
func NewTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   control,
	}
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.Proxy = nil
	t.DialContext = dialer.DialContext
	return t
}

// NewClient returns the upstream client for the proxy. With blockPrivate
// unset it uses the default transport.
func NewClient(blockPrivate bool) *http.Client {
	if !blockPrivate {
		return &http.Client{Transport: http.DefaultTransport}
	}
	return &http.Client{Transport: NewTransport()}
}
