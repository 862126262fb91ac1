// Package mailsync synchronizes remote mailboxes into a local,
// searchable index.
//
// A Service owns a durable document store, an optional cache and a
// mail provider. Per-user Account clients read from the local index
// with cache-aside semantics and push mutations to the provider
// before reflecting them locally. A background sync task pulls
// folders and messages from the provider into the index.
//
// # Basic Usage
//
//	svc, err := mailsync.New(
//	    mailsync.WithStore(memory.New()),
//	    mailsync.WithProvider(outlook.New()),
//	    mailsync.WithTokenResolver(resolver.NewStatic(tokens)),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := svc.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close(ctx)
//
//	acct := svc.Client("user123")
//	task, err := acct.StartSync(ctx)
//	// poll acct.SyncStatus(ctx, task.SyncID) until task.Terminal()
//
//	emails, err := acct.ListEmails(ctx, "", mailsync.Page{})
//
// # Storage Backends
//
// The store package provides implementations for:
//   - MongoDB (store/mongo)
//   - PostgreSQL (store/postgres)
//   - In-memory (store/memory) - for testing
//
// Redis (store/redis) implements the cache layer used by the
// cache-aside read path. Cached entries are invalidated, never
// updated, on writes.
//
// # Sync Semantics
//
// StartSync is single-flight per user: starting a sync while one is
// already running returns the running task. Tasks move from
// in-progress to exactly one of completed or failed and never leave a
// terminal state. A folder fetch failure fails the run; individual
// malformed or unpersistable messages are skipped and logged.
//
// # Events
//
// The service publishes typed events (sync started, completed,
// failed, email sent) via github.com/rbaliyan/event/v3. Pass
// WithEventRedis or WithEventTransport to route them across
// processes; otherwise a process-local noop transport is used.
package mailsync
