package mailsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rbaliyan/event/v3"
	"github.com/rbaliyan/event/v3/transport/noop"
	eventredis "github.com/rbaliyan/event/v3/transport/redis"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/semaphore"

	"github.com/rbaliyan/mailsync/provider"
	"github.com/rbaliyan/mailsync/resolver"
	"github.com/rbaliyan/mailsync/store"
)

// ServiceHealth provides health and state information about the
// service.
type ServiceHealth interface {
	// IsConnected returns true if the service is connected and ready.
	IsConnected() bool
}

// Service manages the email sync engine. It owns the storage and
// provider connections and mints per-user account clients.
type Service interface {
	ServiceHealth

	// Connect establishes connections to storage backends.
	Connect(ctx context.Context) error
	// Close stops accepting work, waits for running syncs and closes
	// all connections.
	Close(ctx context.Context) error
	// Client returns an account client for the given user. The
	// returned client shares the service's connections.
	Client(userID string) Account
	// Events returns per-service event instances for subscribing and
	// publishing.
	Events() *ServiceEvents
}

// Account is a client bound to one user's mailbox. Reads are served
// from the local index with cache-aside semantics; mutations go to
// the provider first and are then reflected locally.
type Account interface {
	// UserID returns the bound user id.
	UserID() string

	// ListEmails returns locally indexed emails, newest first. An
	// empty folderID means all folders.
	ListEmails(ctx context.Context, folderID string, page Page) ([]Email, error)

	// SearchEmails runs a free-text search over subject, preview and
	// body of locally indexed emails. The returned result carries the
	// total match count alongside the requested page.
	SearchEmails(ctx context.Context, text string, page Page) (SearchResult, error)

	// GetEmail returns a single email. A locally unknown message is
	// fetched from the provider and indexed before returning.
	GetEmail(ctx context.Context, messageID string) (Email, error)

	// SendEmail sends a message through the provider and indexes it
	// locally with status "sent".
	SendEmail(ctx context.Context, msg provider.Outgoing) (Email, error)

	// MarkRead marks a message read or unread, remotely then locally,
	// and returns the updated email.
	MarkRead(ctx context.Context, messageID string, read bool) (Email, error)

	// MoveEmail moves a message to another folder and returns the
	// reindexed email, whose id may differ from the original.
	MoveEmail(ctx context.Context, messageID, folderID string) (Email, error)

	// DeleteEmail deletes a message remotely and locally. Deleting a
	// message the provider no longer has still removes it locally.
	DeleteEmail(ctx context.Context, messageID string) error

	// ListFolders returns the locally indexed folder list sorted by
	// display name.
	ListFolders(ctx context.Context) ([]MailFolder, error)

	// StartSync begins a full mailbox sync. If a sync is already
	// running for this user, the existing task is returned instead
	// of starting another.
	StartSync(ctx context.Context) (SyncTask, error)

	// SyncStatus returns the task with the given sync id.
	SyncStatus(ctx context.Context, syncID string) (SyncTask, error)

	// ListSyncTasks returns the user's sync history, newest first.
	ListSyncTasks(ctx context.Context, page Page) ([]SyncTask, error)
}

// Connection states for the service.
const (
	stateDisconnected int32 = 0
	stateConnecting   int32 = 1
	stateConnected    int32 = 2
)

// service is the default implementation of Service.
type service struct {
	docs     store.DocStore
	provider provider.Provider
	tokens   resolver.TokenResolver
	logger   *slog.Logger
	opts     *options
	state    int32
	otel     *otelInstrumentation
	syncSem  *semaphore.Weighted
	eventBus *event.Bus
	events   *ServiceEvents

	emails  *store.Dual[Email]
	folders *store.Dual[MailFolder]
	tasks   *store.Dual[SyncTask]

	// activeSyncs tracks in-flight syncs per user so StartSync is
	// single-flight within this process.
	syncMu      sync.Mutex
	activeSyncs map[string]string
	running     sync.WaitGroup
}

// New creates a new sync engine service. Call Connect() before use.
func New(opts ...Option) (Service, error) {
	o := newOptions(opts...)

	if o.store == nil {
		return nil, ErrStoreRequired
	}
	if o.provider == nil {
		return nil, ErrProviderRequired
	}
	if o.tokens == nil {
		return nil, ErrResolverRequired
	}

	otelInstr, err := newOtelInstrumentation(o)
	if err != nil {
		return nil, fmt.Errorf("init otel: %w", err)
	}

	dualOpts := []store.DualOption{
		store.WithTTL(o.cacheTTL),
		store.WithSearchTTL(o.searchCacheTTL),
		store.WithLogger(o.logger),
	}
	if o.cache != nil {
		dualOpts = append(dualOpts, store.WithCache(o.cache))
	}
	if o.metricsEnabled {
		mp := o.meterProvider
		if mp == nil {
			mp = otel.GetMeterProvider()
		}
		dualOpts = append(dualOpts, store.WithMeterProvider(mp))
	}

	return &service{
		docs:        o.store,
		provider:    o.provider,
		tokens:      o.tokens,
		logger:      o.logger,
		opts:        o,
		otel:        otelInstr,
		syncSem:     semaphore.NewWeighted(int64(o.maxConcurrentSyncs)),
		emails:      store.NewDual[Email](o.store, CollectionEmails, dualOpts...),
		folders:     store.NewDual[MailFolder](o.store, CollectionFolders, dualOpts...),
		tasks:       store.NewDual[SyncTask](o.store, CollectionTasks, dualOpts...),
		activeSyncs: make(map[string]string),
	}, nil
}

// Events returns per-service event instances.
func (s *service) Events() *ServiceEvents {
	return s.events
}

// IsConnected returns true if the service is connected and ready.
func (s *service) IsConnected() bool {
	return atomic.LoadInt32(&s.state) == stateConnected
}

// Connect establishes connections to storage backends.
func (s *service) Connect(ctx context.Context) error {
	// Three-state transition prevents clients from seeing partial
	// initialization.
	if !atomic.CompareAndSwapInt32(&s.state, stateDisconnected, stateConnecting) {
		return ErrAlreadyConnected
	}

	success := false
	defer func() {
		if success {
			atomic.StoreInt32(&s.state, stateConnected)
		} else {
			atomic.StoreInt32(&s.state, stateDisconnected)
		}
	}()

	if err := s.docs.Connect(ctx); err != nil {
		return fmt.Errorf("connect store: %w", err)
	}

	if err := s.initEventBus(ctx); err != nil {
		s.docs.Close(ctx)
		return fmt.Errorf("init event bus: %w", err)
	}

	success = true
	s.logger.Info("mailsync service connected", "provider", s.provider.Name())
	return nil
}

// busCounter generates unique suffixes for event bus names.
var busCounter int64

// initEventBus initializes the event bus for this service. Each
// service creates its own bus and its own event instances.
func (s *service) initEventBus(ctx context.Context) error {
	busName := fmt.Sprintf("%s-%d", s.opts.serviceName, atomic.AddInt64(&busCounter, 1))

	var bus *event.Bus
	var err error

	switch {
	case s.opts.eventTransport != nil:
		s.logger.Info("initializing event bus with custom transport")
		bus, err = event.NewBus(busName, event.WithTransport(s.opts.eventTransport))
	case s.opts.redisClient != nil:
		s.logger.Info("initializing event bus with Redis transport")
		t, transportErr := eventredis.New(s.opts.redisClient)
		if transportErr != nil {
			return fmt.Errorf("create redis transport: %w", transportErr)
		}
		bus, err = event.NewBus(busName, event.WithTransport(t))
	default:
		s.logger.Debug("initializing event bus with noop transport")
		bus, err = event.NewBus(busName, event.WithTransport(noop.New()))
	}

	if err != nil {
		return fmt.Errorf("create event bus: %w", err)
	}
	s.eventBus = bus

	s.events = newServiceEvents(busName)
	if err := registerServiceEvents(ctx, bus, s.events); err != nil {
		bus.Close(ctx)
		return fmt.Errorf("register service events: %w", err)
	}

	return nil
}

// Close waits for running syncs and closes connections.
func (s *service) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.state, stateConnected, stateDisconnected) {
		return nil
	}

	var errs []error

	// No new syncs can start once the state is disconnected; wait for
	// the running ones within the shutdown budget.
	done := make(chan struct{})
	go func() {
		s.running.Wait()
		close(done)
	}()
	shutdownCtx, cancel := context.WithTimeout(ctx, s.opts.shutdownTimeout)
	defer cancel()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		s.logger.Warn("timeout waiting for running syncs, proceeding with shutdown")
		errs = append(errs, fmt.Errorf("graceful shutdown timeout: %w", shutdownCtx.Err()))
	}

	// Close the event bus only if it has a real transport. A noop bus
	// holds no resources and its events may be shared.
	if s.eventBus != nil && (s.opts.eventTransport != nil || s.opts.redisClient != nil) {
		if err := s.eventBus.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close event bus: %w", err))
		}
	}

	if err := s.docs.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	return errors.Join(errs...)
}

// Client returns an account client for the given user.
func (s *service) Client(userID string) Account {
	return &account{
		userID:      userID,
		service:     s,
		validUserID: isValidUserID(userID),
	}
}

// checkAccess validates service state and the bound user before an
// operation runs.
func (a *account) checkAccess() error {
	if !a.validUserID {
		return &ValidationError{Field: "userId", Message: "must be non-empty and contain no separator characters"}
	}
	if atomic.LoadInt32(&a.service.state) != stateConnected {
		return ErrNotConnected
	}
	return nil
}
