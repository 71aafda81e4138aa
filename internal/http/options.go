package http

import (
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"time"
)

// Debug levels for request/response dumps.
const (
	DebugOff     = ""
	DebugHeaders = "headers"
	DebugFull    = "full"
)

// Trace outputs.
const (
	TracesNone = "none"
	TracesLog  = "log"
)

// Options are the run-wide transport settings shared by every VU.
type Options struct {
	// Timeout bounds a single request.
	Timeout time.Duration

	// Batch limits parallel requests of one Batch call; BatchPerHost limits
	// them per host. Zero means unlimited.
	Batch        int
	BatchPerHost int

	// RPS caps requests per second across all VUs. Zero means unlimited.
	RPS float64

	// NoConnectionReuse disables keep-alive entirely.
	NoConnectionReuse bool
	// NoVUConnectionReuse gives every VU its own connection pool, dropped
	// between iterations.
	NoVUConnectionReuse bool
	// NoCookiesReset keeps the cookie jar across iterations.
	NoCookiesReset bool

	DiscardResponseBodies bool

	// Debug is DebugOff, DebugHeaders or DebugFull.
	Debug string

	// Hosts maps host or host:port to a replacement address.
	Hosts map[string]string

	InsecureSkipTLSVerify bool
	TLSMinVersion         uint16
	TLSMaxVersion         uint16

	// LocalIPs are source addresses assigned to VUs round-robin.
	LocalIPs []net.IP

	UserAgent string

	// TracesOutput is TracesNone or TracesLog.
	TracesOutput string
}

// DefaultOptions returns the defaults used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Timeout:      60 * time.Second,
		Batch:        20,
		BatchPerHost: 6,
		UserAgent:    "loadrun/1.0",
		TracesOutput: TracesNone,
	}
}

// Validate checks option combinations.
func (o Options) Validate() error {
	switch o.Debug {
	case DebugOff, DebugHeaders, DebugFull:
	default:
		return fmt.Errorf("httpDebug must be %q or %q, got %q", DebugHeaders, DebugFull, o.Debug)
	}
	switch o.TracesOutput {
	case "", TracesNone, TracesLog:
	default:
		return fmt.Errorf("traces output must be %q or %q, got %q", TracesNone, TracesLog, o.TracesOutput)
	}
	if o.Batch < 0 || o.BatchPerHost < 0 {
		return fmt.Errorf("batch limits must be >= 0")
	}
	if o.RPS < 0 {
		return fmt.Errorf("rps must be >= 0")
	}
	if o.TLSMinVersion != 0 && o.TLSMaxVersion != 0 && o.TLSMinVersion > o.TLSMaxVersion {
		return fmt.Errorf("tls min version is above max version")
	}
	return nil
}

var tlsVersions = map[string]uint16{
	"tls1.0": tls.VersionTLS10,
	"tls1.1": tls.VersionTLS11,
	"tls1.2": tls.VersionTLS12,
	"tls1.3": tls.VersionTLS13,
}

// ParseTLSVersion converts "tls1.2" style names. An empty name is 0.
func ParseTLSVersion(name string) (uint16, error) {
	if name == "" {
		return 0, nil
	}
	v, ok := tlsVersions[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("unknown TLS version %q", name)
	}
	return v, nil
}

// ParseLocalIPs parses a comma separated list of IPs, CIDR blocks and
// "first-last" ranges into individual addresses.
func ParseLocalIPs(s string) ([]net.IP, error) {
	var out []net.IP
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		switch {
		case strings.Contains(part, "/"):
			ip, ipnet, err := net.ParseCIDR(part)
			if err != nil {
				return nil, fmt.Errorf("local IPs: %w", err)
			}
			for cur := ip.Mask(ipnet.Mask); ipnet.Contains(cur); cur = nextIP(cur) {
				out = append(out, cur)
			}

		case strings.Contains(part, "-"):
			lo, hi, _ := strings.Cut(part, "-")
			first, last := net.ParseIP(strings.TrimSpace(lo)), net.ParseIP(strings.TrimSpace(hi))
			if first == nil || last == nil {
				return nil, fmt.Errorf("local IPs: invalid range %q", part)
			}
			for cur := first; ; cur = nextIP(cur) {
				out = append(out, cur)
				if cur.Equal(last) {
					break
				}
				if len(out) > 1<<16 {
					return nil, fmt.Errorf("local IPs: range %q is too large", part)
				}
			}

		default:
			ip := net.ParseIP(part)
			if ip == nil {
				return nil, fmt.Errorf("local IPs: invalid address %q", part)
			}
			out = append(out, ip)
		}
	}
	return out, nil
}

func nextIP(ip net.IP) net.IP {
	next := make(net.IP, len(ip))
	copy(next, ip)
	for i := len(next) - 1; i >= 0; i-- {
		next[i]++
		if next[i] != 0 {
			break
		}
	}
	return next
}
