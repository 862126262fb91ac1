package outlook

import "net/http"

type options struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures the provider.
type Option func(*options)

func newOptions(opts ...Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithBaseURL overrides the Graph endpoint, mainly for tests. The SDK
// default is the public v1.0 endpoint.
func WithBaseURL(u string) Option {
	return func(o *options) { o.baseURL = u }
}

// WithHTTPClient sets the HTTP client used for Graph calls, bypassing
// the SDK's default middleware pipeline.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}
