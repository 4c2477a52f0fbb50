package httpclient

import (
	"net/http"
	"time"

	"wanderlust/internal/shared/logging"
	"wanderlust/internal/shared/utils/id"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "wanderlust/1.0"

	// HeaderLogID carries the caller's log id to downstream services.
	HeaderLogID = "X-Log-Id"
)

// Option customizes the client built by New.
type Option func(*clientOptions)

type clientOptions struct {
	userAgent string
	base      http.RoundTripper
}

// WithUserAgent overrides the User-Agent header sent on every request.
func WithUserAgent(ua string) Option {
	return func(o *clientOptions) {
		if ua != "" {
			o.userAgent = ua
		}
	}
}

// WithTransport swaps the base round tripper; tests use it to stub the network.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *clientOptions) {
		if rt != nil {
			o.base = rt
		}
	}
}

// New returns an http.Client configured for outbound requests.
//
// Requests carry the log id found on their context and are logged at debug
// level with status and latency.
func New(timeout time.Duration, logger logging.Logger, opts ...Option) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	options := clientOptions{userAgent: defaultUserAgent}
	for _, opt := range opts {
		opt(&options)
	}
	if options.base == nil {
		options.base = Transport()
	}

	return &http.Client{
		Timeout: timeout,
		Transport: &loggingTransport{
			base:      options.base,
			userAgent: options.userAgent,
			logger:    logging.OrNop(logger),
		},
	}
}

// Transport returns an http.Transport clone that honours proxy environment
// variables.
func Transport() *http.Transport {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return &http.Transport{Proxy: http.ProxyFromEnvironment}
	}
	transport := base.Clone()
	transport.Proxy = http.ProxyFromEnvironment
	return transport
}

type loggingTransport struct {
	base      http.RoundTripper
	userAgent string
	logger    logging.Logger
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	if out.Header.Get("User-Agent") == "" {
		out.Header.Set("User-Agent", t.userAgent)
	}
	if logID := id.LogIDFromContext(req.Context()); logID != "" && out.Header.Get(HeaderLogID) == "" {
		out.Header.Set(HeaderLogID, logID)
	}

	log := logging.FromContext(req.Context(), t.logger)
	started := time.Now()
	resp, err := t.base.RoundTrip(out)
	elapsed := time.Since(started)
	if err != nil {
		log.Debug("%s %s failed after %s: %v", out.Method, out.URL.Redacted(), elapsed, err)
		return nil, err
	}
	log.Debug("%s %s -> %d (%s)", out.Method, out.URL.Redacted(), resp.StatusCode, elapsed)
	return resp, nil
}
