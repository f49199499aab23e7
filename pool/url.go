package pool

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"
)

// RelayURL is a parsed, normalized relay address: scheme ws or wss,
// host split into its domain parts the same way the teacher's general
// purpose URL parser does it, used as the registry's identity key.
type RelayURL struct {
	Scheme   string
	SubName  string
	Name     string
	TLD      string
	Port     string
	IsLocal  bool
	Raw      string
	original *url.URL
}

// String returns the normalized ws(s):// URL, scheme and host lowercased.
func (u *RelayURL) String() string { return u.Raw }

// ParseRelayURL parses and normalizes a relay address, enforcing the
// ws/wss scheme relays are reachable over. Bare host:port input is
// assumed to be wss, matching the convention of treating a missing
// scheme as the secure default.
func ParseRelayURL(raw string) (*RelayURL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, newErr(ErrKindURL, fmt.Errorf("empty relay url"))
	}
	if !strings.Contains(raw, "://") {
		raw = "wss://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, newErr(ErrKindURL, fmt.Errorf("parse relay url: %w", err))
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "ws" && scheme != "wss" {
		return nil, newErr(ErrKindURL, fmt.Errorf("relay url scheme must be ws or wss, got %q", parsed.Scheme))
	}
	parsed.Scheme = scheme
	parsed.Host = strings.ToLower(parsed.Host)
	if parsed.Host == "" {
		return nil, newErr(ErrKindURL, fmt.Errorf("relay url has no host"))
	}

	host, port := splitHostPort(parsed.Host)
	result := &RelayURL{Scheme: scheme, Port: port, original: parsed}

	if ip := net.ParseIP(strings.TrimPrefix(strings.TrimSuffix(host, "]"), "[")); ip != nil {
		result.Name = host
		result.IsLocal = ip.IsLoopback()
	} else if host == "localhost" {
		result.TLD = "localhost"
		result.IsLocal = true
	} else {
		etld1, err := publicsuffix.EffectiveTLDPlusOne(host)
		if err != nil {
			return nil, newErr(ErrKindURL, fmt.Errorf("extract relay domain: %w", err))
		}
		dot := strings.Index(etld1, ".")
		result.Name = etld1[:dot]
		result.TLD = etld1[dot+1:]
		if rest := strings.TrimSuffix(host, "."+etld1); rest != host {
			result.SubName = rest
		}
		if _, err := idna.ToASCII(host); err != nil {
			return nil, newErr(ErrKindURL, fmt.Errorf("convert relay host to ascii: %w", err))
		}
	}

	result.Raw = parsed.String()
	return result, nil
}

func splitHostPort(host string) (string, string) {
	for i := len(host) - 1; i >= 0; i-- {
		if host[i] == ':' {
			return host[:i], host[i+1:]
		}
		if host[i] < '0' || host[i] > '9' {
			return host, ""
		}
	}
	return host, ""
}
