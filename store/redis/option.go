package redis

import "time"

// Defaults.
const (
	DefaultPrefix = "mailsync"
	DefaultTTL    = time.Hour
)

type options struct {
	prefix string
	ttl    time.Duration
}

// Option configures the cache.
type Option func(*options)

func newOptions(opts ...Option) options {
	o := options{
		prefix: DefaultPrefix,
		ttl:    DefaultTTL,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithPrefix sets the key prefix. An empty prefix disables prefixing.
func WithPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

// WithTTL sets the default TTL used when callers pass zero.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}
