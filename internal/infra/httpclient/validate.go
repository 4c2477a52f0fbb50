package httpclient

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrDisallowedURL wraps every rejection from ValidateOutboundURL.
var ErrDisallowedURL = errors.New("disallowed url")

// URLValidationOptions controls which endpoints the server may call.
type URLValidationOptions struct {
	AllowLocalhost       bool
	AllowPrivateNetworks bool
	// RequireHTTPS rejects plain http, as browsers do for push services.
	RequireHTTPS bool
}

// DefaultURLValidationOptions rejects local and private targets.
func DefaultURLValidationOptions() URLValidationOptions {
	return URLValidationOptions{}
}

// PushEndpointOptions are the rules for browser-supplied push endpoints.
func PushEndpointOptions() URLValidationOptions {
	return URLValidationOptions{RequireHTTPS: true}
}

// ValidateOutboundURL checks a user- or operator-supplied endpoint before any
// request is sent to it.
func ValidateOutboundURL(raw string, opts URLValidationOptions) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, reject("url is required")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDisallowedURL, err)
	}

	switch scheme := strings.ToLower(u.Scheme); {
	case scheme == "https":
	case scheme == "http" && !opts.RequireHTTPS:
	default:
		return nil, reject("scheme %q not allowed", u.Scheme)
	}
	if u.User != nil {
		return nil, reject("credentials in url")
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return nil, reject("host is required")
	}
	ip := net.ParseIP(host)
	local := host == "localhost" || strings.HasSuffix(host, ".localhost") ||
		(ip != nil && (ip.IsLoopback() || ip.IsUnspecified()))
	if local && !opts.AllowLocalhost {
		return nil, reject("local host %s", host)
	}
	if ip != nil && !local && !opts.AllowPrivateNetworks &&
		(ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()) {
		return nil, reject("private address %s", host)
	}
	return u, nil
}

func reject(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDisallowedURL, fmt.Sprintf(format, args...))
}
