package mailsync

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/rbaliyan/mailsync/provider"
	"github.com/rbaliyan/mailsync/retry"
	"github.com/rbaliyan/mailsync/store"
)

// StartSync begins a full mailbox sync for the bound user. Syncs are
// single-flight per user: if one is already running, its task is
// returned and no new work starts.
func (a *account) StartSync(ctx context.Context) (SyncTask, error) {
	if err := a.checkAccess(); err != nil {
		return SyncTask{}, err
	}
	ctx, end := a.service.otel.startSpan(ctx, "mailsync.StartSync",
		attribute.String("user_id", a.userID))

	task, err := a.startSync(ctx)

	end(err)
	return task, err
}

func (a *account) startSync(ctx context.Context) (SyncTask, error) {
	s := a.service

	s.syncMu.Lock()
	if syncID, ok := s.activeSyncs[a.userID]; ok {
		s.syncMu.Unlock()
		return a.SyncStatus(ctx, syncID)
	}

	// A task left in-progress by another process also counts as a
	// running sync.
	existing, err := s.tasks.Search(ctx, a.userID, store.Query{
		Terms: map[string]string{"userId": a.userID, "status": SyncStatusInProgress},
		Limit: 1,
	})
	if err != nil {
		s.syncMu.Unlock()
		return SyncTask{}, fmt.Errorf("mailsync: check running sync: %w", err)
	}
	if len(existing) > 0 {
		s.syncMu.Unlock()
		return existing[0], nil
	}

	ts := now()
	task := SyncTask{
		SyncID:    uuid.NewString(),
		UserID:    a.userID,
		Status:    SyncStatusInProgress,
		StartedAt: ts,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	if err := s.tasks.Put(ctx, task.SyncID, task, a.userID); err != nil {
		s.syncMu.Unlock()
		return SyncTask{}, fmt.Errorf("mailsync: create sync task: %w", err)
	}
	s.activeSyncs[a.userID] = task.SyncID
	s.running.Add(1)
	s.syncMu.Unlock()

	a.publishSyncStarted(ctx, task)
	s.logger.InfoContext(ctx, "sync started", "user", a.userID, "sync", task.SyncID)

	// The sync outlives the request that started it.
	bg := context.WithoutCancel(ctx)
	go a.runSync(bg, task.SyncID)

	return task, nil
}

// runSync executes one sync run and finalizes its task.
func (a *account) runSync(ctx context.Context, syncID string) {
	s := a.service
	defer func() {
		s.syncMu.Lock()
		delete(s.activeSyncs, a.userID)
		s.syncMu.Unlock()
		s.running.Done()
	}()

	if err := s.syncSem.Acquire(ctx, 1); err != nil {
		a.finishSync(ctx, syncID, 0, 0, fmt.Errorf("acquire sync slot: %w", err))
		return
	}
	defer s.syncSem.Release(1)

	start := time.Now()
	emailCount, folderCount, err := a.syncMailbox(ctx)
	s.otel.recordSync(ctx, time.Since(start), emailCount, err)

	a.finishSync(ctx, syncID, emailCount, folderCount, err)
}

// syncMailbox pulls folders and messages concurrently and indexes
// them. A folder failure fails the run; individual bad messages are
// skipped.
func (a *account) syncMailbox(ctx context.Context) (emailCount, folderCount int, err error) {
	s := a.service

	client, err := a.remote(ctx)
	if err != nil {
		return 0, 0, err
	}

	var emails, folders atomic.Int64
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		n, err := a.syncFolders(gctx, client)
		folders.Store(int64(n))
		return err
	})
	g.Go(func() error {
		n, err := a.syncMessages(gctx, client)
		emails.Store(int64(n))
		return err
	})

	if err := g.Wait(); err != nil {
		return int(emails.Load()), int(folders.Load()), err
	}
	s.logger.InfoContext(ctx, "sync finished",
		"user", a.userID, "emails", emails.Load(), "folders", folders.Load())
	return int(emails.Load()), int(folders.Load()), nil
}

func (a *account) syncFolders(ctx context.Context, client provider.Client) (int, error) {
	s := a.service

	list, err := retry.DoWithResult(ctx, s.opts.retry, func(ctx context.Context) ([]provider.Folder, error) {
		folders, err := client.ListFolders(ctx)
		if err != nil && !provider.IsRetryable(err) {
			return nil, retry.MarkNotRetryable(err)
		}
		return folders, err
	})
	if err != nil {
		return 0, fmt.Errorf("list folders: %w", err)
	}

	count := 0
	for _, f := range list {
		if f.ID == "" {
			s.logger.WarnContext(ctx, "skipping folder without id", "user", a.userID)
			continue
		}
		folder := folderFromProvider(a.userID, f)
		if err := s.folders.Put(ctx, folder.FolderID, folder, a.userID); err != nil {
			return count, fmt.Errorf("index folder %s: %w", folder.FolderID, err)
		}
		count++
	}
	return count, nil
}

func (a *account) syncMessages(ctx context.Context, client provider.Client) (int, error) {
	s := a.service
	pageSize := s.opts.pageSize

	count := 0
	for offset := 0; ; offset += pageSize {
		page := provider.Page{Size: pageSize, Offset: offset}
		msgs, err := retry.DoWithResult(ctx, s.opts.retry, func(ctx context.Context) ([]provider.Message, error) {
			msgs, err := client.ListMessages(ctx, "", page)
			if err != nil && !provider.IsRetryable(err) {
				return nil, retry.MarkNotRetryable(err)
			}
			return msgs, err
		})
		if err != nil {
			return count, fmt.Errorf("list messages at offset %d: %w", offset, err)
		}
		if len(msgs) == 0 {
			return count, nil
		}

		for _, m := range msgs {
			if m.ID == "" {
				s.logger.WarnContext(ctx, "skipping message without id", "user", a.userID)
				continue
			}
			email := emailFromMessage(a.userID, m)
			if err := a.indexEmail(ctx, email); err != nil {
				s.logger.WarnContext(ctx, "skipping message after failed index",
					"user", a.userID, "message", m.ID, "error", err)
				continue
			}
			count++
		}

		if len(msgs) < pageSize {
			return count, nil
		}
	}
}

// indexEmail upserts a synced email, retrying the write once on
// failure. Re-syncs keep the original created_at and do not downgrade
// a flagged status.
func (a *account) indexEmail(ctx context.Context, email Email) error {
	existing, err := a.service.emails.Get(ctx, email.MessageID)
	if err == nil {
		email.CreatedAt = existing.CreatedAt
		if existing.Status == EmailStatusFlagged {
			email.Status = existing.Status
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if err := a.service.emails.Put(ctx, email.MessageID, email, a.userID); err == nil {
		return nil
	}
	return a.service.emails.Put(ctx, email.MessageID, email, a.userID)
}

// finishSync moves the task to its terminal state and publishes the
// corresponding event.
func (a *account) finishSync(ctx context.Context, syncID string, emailCount, folderCount int, runErr error) {
	s := a.service

	task, err := s.tasks.Get(ctx, syncID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to load sync task for completion",
			"user", a.userID, "sync", syncID, "error", err)
		return
	}
	if task.Terminal() {
		// Finished states are never rewritten.
		s.logger.WarnContext(ctx, "sync task already finished",
			"user", a.userID, "sync", syncID, "status", task.Status)
		return
	}

	ts := now()
	task.EmailCount = emailCount
	task.FolderCount = folderCount
	task.CompletedAt = ts
	task.UpdatedAt = ts
	if runErr != nil {
		task.Status = SyncStatusFailed
		task.Error = runErr.Error()
	} else {
		task.Status = SyncStatusCompleted
	}

	if err := s.tasks.Put(ctx, syncID, task, a.userID); err != nil {
		s.logger.ErrorContext(ctx, "failed to finalize sync task",
			"user", a.userID, "sync", syncID, "error", err)
		return
	}

	if runErr != nil {
		s.logger.ErrorContext(ctx, "sync failed",
			"user", a.userID, "sync", syncID, "error", runErr)
		a.publishSyncFailed(ctx, task)
		return
	}
	a.publishSyncCompleted(ctx, task)
}

// SyncStatus returns the sync task with the given id.
func (a *account) SyncStatus(ctx context.Context, syncID string) (SyncTask, error) {
	if err := a.checkAccess(); err != nil {
		return SyncTask{}, err
	}
	if syncID == "" {
		return SyncTask{}, &ValidationError{Field: "syncId", Message: "must not be empty"}
	}

	task, err := a.service.tasks.Get(ctx, syncID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return SyncTask{}, fmt.Errorf("mailsync: sync task %s: %w", syncID, ErrNotFound)
		}
		return SyncTask{}, fmt.Errorf("mailsync: get sync task %s: %w", syncID, err)
	}
	if task.UserID != a.userID {
		return SyncTask{}, fmt.Errorf("mailsync: sync task %s: %w", syncID, ErrNotFound)
	}
	return task, nil
}

// ListSyncTasks returns the user's sync history, newest first.
func (a *account) ListSyncTasks(ctx context.Context, page Page) ([]SyncTask, error) {
	if err := a.checkAccess(); err != nil {
		return nil, err
	}

	page = page.normalize(a.service.opts.pageSize)
	return a.service.tasks.Search(ctx, a.userID, store.Query{
		Terms:     map[string]string{"userId": a.userID},
		SortBy:    "created_at",
		SortOrder: store.SortDesc,
		Limit:     page.Size,
		Offset:    page.Offset,
	})
}

func (a *account) publishSyncStarted(ctx context.Context, task SyncTask) {
	events := a.service.events
	if events == nil {
		return
	}
	err := events.SyncStarted.Publish(ctx, SyncStartedEvent{
		SyncID:    task.SyncID,
		UserID:    task.UserID,
		StartedAt: time.Now().UTC(),
	})
	if err != nil {
		a.service.logger.WarnContext(ctx, "failed to publish sync started event",
			"sync", task.SyncID, "error", err)
	}
}

func (a *account) publishSyncCompleted(ctx context.Context, task SyncTask) {
	events := a.service.events
	if events == nil {
		return
	}
	err := events.SyncCompleted.Publish(ctx, SyncCompletedEvent{
		SyncID:      task.SyncID,
		UserID:      task.UserID,
		EmailCount:  task.EmailCount,
		FolderCount: task.FolderCount,
		CompletedAt: time.Now().UTC(),
	})
	if err != nil {
		a.service.logger.WarnContext(ctx, "failed to publish sync completed event",
			"sync", task.SyncID, "error", err)
	}
}

func (a *account) publishSyncFailed(ctx context.Context, task SyncTask) {
	events := a.service.events
	if events == nil {
		return
	}
	err := events.SyncFailed.Publish(ctx, SyncFailedEvent{
		SyncID:   task.SyncID,
		UserID:   task.UserID,
		Error:    task.Error,
		FailedAt: time.Now().UTC(),
	})
	if err != nil {
		a.service.logger.WarnContext(ctx, "failed to publish sync failed event",
			"sync", task.SyncID, "error", err)
	}
}
