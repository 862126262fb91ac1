package postgres

// DefaultDSN is the connection string used when none is configured.
const DefaultDSN = "postgres://localhost:5432/mailsync?sslmode=disable"

type options struct {
	dsn string
}

// Option configures the store.
type Option func(*options)

func newOptions(opts ...Option) options {
	o := options{dsn: DefaultDSN}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithDSN sets the PostgreSQL connection string.
func WithDSN(dsn string) Option {
	return func(o *options) {
		if dsn != "" {
			o.dsn = dsn
		}
	}
}
