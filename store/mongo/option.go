package mongo

// Defaults.
const (
	DefaultURI      = "mongodb://localhost:27017"
	DefaultDatabase = "mailsync"
)

type options struct {
	uri      string
	database string
}

// Option configures the store.
type Option func(*options)

func newOptions(opts ...Option) options {
	o := options{
		uri:      DefaultURI,
		database: DefaultDatabase,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithURI sets the MongoDB connection URI.
func WithURI(uri string) Option {
	return func(o *options) {
		if uri != "" {
			o.uri = uri
		}
	}
}

// WithDatabase sets the database name.
func WithDatabase(name string) Option {
	return func(o *options) {
		if name != "" {
			o.database = name
		}
	}
}
