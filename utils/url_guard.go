package utils

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// DefaultAllowedDomains are the hosts remote rasters and downloads may
// come from.
var DefaultAllowedDomains = []string{
	"sentinel-hub.com",
	"scihub.copernicus.eu",
	"earthexplorer.usgs.gov",
	"planet.com",
	"amazonaws.com",
	"s3.us-west-2.amazonaws.com",
	"element84.com",
}

// Resolver is the subset of net.Resolver the guard needs.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// URLRejectedError is returned for any url the guard refuses.
type URLRejectedError struct {
	URL    string
	Reason string
}

func (e *URLRejectedError) Error() string {
	return fmt.Sprintf("url %q rejected: %s", e.URL, e.Reason)
}

var reservedNets []*net.IPNet

func init() {
	for _, cidr := range []string{
		"0.0.0.0/8",
		"100.64.0.0/10",
		"192.0.0.0/24",
		"192.0.2.0/24",
		"198.18.0.0/15",
		"198.51.100.0/24",
		"203.0.113.0/24",
		"240.0.0.0/4",
		"64:ff9b::/96",
		"100::/64",
		"2001::/23",
		"2001:db8::/32",
	} {
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(err)
		}
		reservedNets = append(reservedNets, n)
	}
}

// NormaliseHost applies IDNA lookup normalisation and lower cases host.
func NormaliseHost(host string) (string, error) {
	host = strings.TrimSuffix(host, ".")
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", err
	}
	return strings.ToLower(ascii), nil
}

// HostAllowed reports whether host equals an allowed domain or is a direct
// one label subdomain of one. host must already be normalised.
func HostAllowed(host string, allowed []string) bool {
	for _, d := range allowed {
		d, err := NormaliseHost(d)
		if err != nil || len(d) == 0 {
			continue
		}
		if host == d {
			return true
		}
		if strings.HasSuffix(host, "."+d) {
			label := strings.TrimSuffix(host, "."+d)
			if len(label) > 0 && !strings.Contains(label, ".") {
				return true
			}
		}
	}
	return false
}

// IsPublicIP rejects private, loopback, link-local, multicast, unspecified
// and reserved addresses.
func IsPublicIP(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	if ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() || ip.IsMulticast() || ip.IsUnspecified() {
		return false
	}
	if ip.Equal(net.IPv4bcast) {
		return false
	}
	for _, n := range reservedNets {
		if n.Contains(ip) {
			return false
		}
	}
	return true
}

// GuardURL checks that raw is an http(s) url on an allowed host whose every
// resolved address is public. Any lookup failure rejects the url.
func GuardURL(ctx context.Context, raw string, allowed []string, resolver Resolver) error {
	u, err := url.Parse(raw)
	if err != nil {
		return &URLRejectedError{URL: raw, Reason: "malformed url"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &URLRejectedError{URL: raw, Reason: "scheme must be http or https"}
	}
	if len(u.Hostname()) == 0 {
		return &URLRejectedError{URL: raw, Reason: "missing host"}
	}
	if u.User != nil {
		return &URLRejectedError{URL: raw, Reason: "credentials in url"}
	}

	host, err := NormaliseHost(u.Hostname())
	if err != nil {
		return &URLRejectedError{URL: raw, Reason: "host fails IDNA normalisation"}
	}
	if !HostAllowed(host, allowed) {
		return &URLRejectedError{URL: raw, Reason: "host not in allow-list"}
	}

	if resolver == nil {
		resolver = net.DefaultResolver
	}
	addrs, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return &URLRejectedError{URL: raw, Reason: "host does not resolve"}
	}
	if len(addrs) == 0 {
		return &URLRejectedError{URL: raw, Reason: "host has no addresses"}
	}
	for _, a := range addrs {
		if !IsPublicIP(a.IP) {
			return &URLRejectedError{URL: raw, Reason: fmt.Sprintf("host resolves to non public address %s", a.IP)}
		}
	}
	return nil
}

// PinnedDialer resolves the host itself and connects only to addresses
// that pass IsPublicIP, so the address checked is the address dialled.
type PinnedDialer struct {
	Resolver Resolver
	Dialer   net.Dialer
}

func (d *PinnedDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}

	var ips []net.IP
	if ip := net.ParseIP(host); ip != nil {
		ips = []net.IP{ip}
	} else {
		resolver := d.Resolver
		if resolver == nil {
			resolver = net.DefaultResolver
		}
		addrs, err := resolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, &URLRejectedError{URL: address, Reason: "host does not resolve"}
		}
		for _, a := range addrs {
			ips = append(ips, a.IP)
		}
	}
	if len(ips) == 0 {
		return nil, &URLRejectedError{URL: address, Reason: "host has no addresses"}
	}
	for _, ip := range ips {
		if !IsPublicIP(ip) {
			return nil, &URLRejectedError{URL: address, Reason: fmt.Sprintf("host resolves to non public address %s", ip)}
		}
	}

	var lastErr error
	for _, ip := range ips {
		conn, err := d.Dialer.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
