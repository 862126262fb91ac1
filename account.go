package mailsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/rbaliyan/mailsync/provider"
	"github.com/rbaliyan/mailsync/store"
)

// account is the default implementation of Account.
type account struct {
	userID      string
	service     *service
	validUserID bool
}

func (a *account) UserID() string { return a.userID }

// remote returns a provider client for the bound user, resolving the
// current access token first.
func (a *account) remote(ctx context.Context) (provider.Client, error) {
	token, err := a.service.tokens.Resolve(ctx, a.userID)
	if err != nil {
		return nil, fmt.Errorf("mailsync: resolve token for %s: %w", a.userID, err)
	}
	client, err := a.service.provider.Client(a.userID, token)
	if err != nil {
		return nil, fmt.Errorf("mailsync: provider client for %s: %w", a.userID, err)
	}
	return client, nil
}

func (a *account) ListEmails(ctx context.Context, folderID string, page Page) ([]Email, error) {
	if err := a.checkAccess(); err != nil {
		return nil, err
	}
	ctx, end := a.service.otel.startSpan(ctx, "mailsync.ListEmails",
		attribute.String("user_id", a.userID))
	start := time.Now()

	page = page.normalize(a.service.opts.pageSize)
	terms := map[string]string{"userId": a.userID}
	if folderID != "" {
		terms["folderId"] = folderID
	}
	emails, err := a.service.emails.Search(ctx, a.userID, store.Query{
		Terms:     terms,
		SortBy:    "receivedAt",
		SortOrder: store.SortDesc,
		Limit:     page.Size,
		Offset:    page.Offset,
	})

	end(err)
	a.service.otel.recordOp(ctx, "list", time.Since(start), err)
	return emails, err
}

func (a *account) SearchEmails(ctx context.Context, text string, page Page) (SearchResult, error) {
	if err := a.checkAccess(); err != nil {
		return SearchResult{}, err
	}
	if text == "" {
		return SearchResult{}, &ValidationError{Field: "query", Message: "must not be empty"}
	}
	ctx, end := a.service.otel.startSpan(ctx, "mailsync.SearchEmails",
		attribute.String("user_id", a.userID))
	start := time.Now()

	res, err := a.searchEmails(ctx, text, page)

	end(err)
	a.service.otel.recordOp(ctx, "search", time.Since(start), err)
	return res, err
}

func (a *account) searchEmails(ctx context.Context, text string, page Page) (SearchResult, error) {
	// The full result set runs through the cache so the total count
	// stays consistent across pages; the page itself is sliced here.
	emails, err := a.service.emails.Search(ctx, a.userID, store.Query{
		Terms:      map[string]string{"userId": a.userID},
		Text:       text,
		TextFields: []string{"subject", "preview", "body"},
		SortBy:     "receivedAt",
		SortOrder:  store.SortDesc,
	})
	if err != nil {
		return SearchResult{}, err
	}

	res := SearchResult{Total: len(emails), SearchTerm: text}
	page = page.normalize(a.service.opts.pageSize)
	if page.Offset < len(emails) {
		end := page.Offset + page.Size
		if end > len(emails) {
			end = len(emails)
		}
		res.Results = emails[page.Offset:end]
	}
	return res, nil
}

func (a *account) GetEmail(ctx context.Context, messageID string) (Email, error) {
	if err := a.checkAccess(); err != nil {
		return Email{}, err
	}
	if err := validateMessageID(messageID); err != nil {
		return Email{}, err
	}
	ctx, end := a.service.otel.startSpan(ctx, "mailsync.GetEmail",
		attribute.String("user_id", a.userID))
	start := time.Now()

	email, err := a.getEmail(ctx, messageID)

	end(err)
	a.service.otel.recordOp(ctx, "get", time.Since(start), err)
	return email, err
}

func (a *account) getEmail(ctx context.Context, messageID string) (Email, error) {
	email, err := a.service.emails.Get(ctx, messageID)
	if err == nil {
		if email.UserID != a.userID {
			return Email{}, ErrNotFound
		}
		return email, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return Email{}, fmt.Errorf("mailsync: get email %s: %w", messageID, err)
	}

	// Not indexed yet, fall back to the provider and index on the way
	// out.
	client, err := a.remote(ctx)
	if err != nil {
		return Email{}, err
	}
	msg, err := client.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, provider.ErrNotFound) {
			return Email{}, fmt.Errorf("mailsync: email %s: %w", messageID, ErrNotFound)
		}
		return Email{}, fmt.Errorf("mailsync: fetch email %s: %w", messageID, err)
	}

	email = emailFromMessage(a.userID, msg)
	if err := a.service.emails.Put(ctx, email.MessageID, email, a.userID); err != nil {
		// Indexing is best-effort here; the caller still gets the
		// message.
		a.service.logger.WarnContext(ctx, "failed to index fetched email",
			"user", a.userID, "message", messageID, "error", err)
	}
	return email, nil
}

func (a *account) SendEmail(ctx context.Context, msg provider.Outgoing) (Email, error) {
	if err := a.checkAccess(); err != nil {
		return Email{}, err
	}
	if err := validateOutgoing(msg); err != nil {
		return Email{}, err
	}
	ctx, end := a.service.otel.startSpan(ctx, "mailsync.SendEmail",
		attribute.String("user_id", a.userID))
	start := time.Now()

	email, err := a.sendEmail(ctx, msg)

	end(err)
	a.service.otel.recordOp(ctx, "send", time.Since(start), err)
	return email, err
}

func (a *account) sendEmail(ctx context.Context, msg provider.Outgoing) (Email, error) {
	client, err := a.remote(ctx)
	if err != nil {
		return Email{}, err
	}
	if err := client.SendMessage(ctx, msg); err != nil {
		return Email{}, fmt.Errorf("mailsync: send email: %w", err)
	}

	// The provider does not return the stored message, so the local
	// index gets a synthetic id until the next sync picks up the real
	// one from the sent folder.
	ts := now()
	email := Email{
		MessageID: "sent-" + uuid.NewString(),
		UserID:    a.userID,
		Subject:   msg.Subject,
		To:        msg.To,
		Cc:        msg.Cc,
		Body:      msg.Body,
		BodyType:  msg.BodyType,
		IsRead:    true,
		Status:    EmailStatusSent,
		SentAt:    ts,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	if len(msg.Attachments) > 0 {
		email.HasAttachments = true
		email.Attachments = attachmentMeta(msg.Attachments)
	}
	if err := a.service.emails.Put(ctx, email.MessageID, email, a.userID); err != nil {
		return Email{}, fmt.Errorf("mailsync: index sent email: %w", err)
	}

	a.publishEmailSent(ctx, email)
	return email, nil
}

func (a *account) MarkRead(ctx context.Context, messageID string, read bool) (Email, error) {
	if err := a.checkAccess(); err != nil {
		return Email{}, err
	}
	if err := validateMessageID(messageID); err != nil {
		return Email{}, err
	}
	ctx, end := a.service.otel.startSpan(ctx, "mailsync.MarkRead",
		attribute.String("user_id", a.userID))
	start := time.Now()

	email, err := a.markRead(ctx, messageID, read)

	end(err)
	a.service.otel.recordOp(ctx, "mark_read", time.Since(start), err)
	return email, err
}

func (a *account) markRead(ctx context.Context, messageID string, read bool) (Email, error) {
	client, err := a.remote(ctx)
	if err != nil {
		return Email{}, err
	}
	if err := client.SetRead(ctx, messageID, read); err != nil {
		if errors.Is(err, provider.ErrNotFound) {
			return Email{}, fmt.Errorf("mailsync: email %s: %w", messageID, ErrNotFound)
		}
		return Email{}, fmt.Errorf("mailsync: mark read %s: %w", messageID, err)
	}

	// Backfills from the provider when the email is not indexed yet.
	email, err := a.getEmail(ctx, messageID)
	if err != nil {
		return Email{}, err
	}
	email.IsRead = read
	if email.Status != EmailStatusFlagged {
		email.Status = statusForRead(read)
	}
	email.UpdatedAt = now()
	if err := a.service.emails.Put(ctx, messageID, email, a.userID); err != nil {
		return Email{}, fmt.Errorf("mailsync: update email %s: %w", messageID, err)
	}
	return email, nil
}

func (a *account) MoveEmail(ctx context.Context, messageID, folderID string) (Email, error) {
	if err := a.checkAccess(); err != nil {
		return Email{}, err
	}
	if err := validateMessageID(messageID); err != nil {
		return Email{}, err
	}
	if folderID == "" {
		return Email{}, &ValidationError{Field: "folderId", Message: "must not be empty"}
	}
	ctx, end := a.service.otel.startSpan(ctx, "mailsync.MoveEmail",
		attribute.String("user_id", a.userID))
	start := time.Now()

	email, err := a.moveEmail(ctx, messageID, folderID)

	end(err)
	a.service.otel.recordOp(ctx, "move", time.Since(start), err)
	return email, err
}

func (a *account) moveEmail(ctx context.Context, messageID, folderID string) (Email, error) {
	client, err := a.remote(ctx)
	if err != nil {
		return Email{}, err
	}
	newID, err := client.Move(ctx, messageID, folderID)
	if err != nil {
		if errors.Is(err, provider.ErrNotFound) {
			return Email{}, fmt.Errorf("mailsync: email %s: %w", messageID, ErrNotFound)
		}
		return Email{}, fmt.Errorf("mailsync: move email %s: %w", messageID, err)
	}

	email, err := a.service.emails.Get(ctx, messageID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return Email{}, fmt.Errorf("mailsync: load email %s: %w", messageID, err)
	}
	if err != nil {
		// Not indexed before the move, fetch the moved message fresh.
		msg, ferr := client.GetMessage(ctx, newID)
		if ferr != nil {
			return Email{}, fmt.Errorf("mailsync: fetch moved email %s: %w", newID, ferr)
		}
		email = emailFromMessage(a.userID, msg)
	}

	// Some providers mint a new message id on move; reindex under the
	// new id and drop the old document.
	if newID != "" && newID != messageID {
		if err := a.service.emails.Delete(ctx, messageID, a.userID); err != nil {
			return Email{}, fmt.Errorf("mailsync: drop moved email %s: %w", messageID, err)
		}
		email.MessageID = newID
	}
	email.FolderID = folderID
	email.UpdatedAt = now()
	if err := a.service.emails.Put(ctx, email.MessageID, email, a.userID); err != nil {
		return Email{}, fmt.Errorf("mailsync: reindex moved email %s: %w", email.MessageID, err)
	}
	return email, nil
}

func (a *account) DeleteEmail(ctx context.Context, messageID string) error {
	if err := a.checkAccess(); err != nil {
		return err
	}
	if err := validateMessageID(messageID); err != nil {
		return err
	}
	ctx, end := a.service.otel.startSpan(ctx, "mailsync.DeleteEmail",
		attribute.String("user_id", a.userID))
	start := time.Now()

	err := a.deleteEmail(ctx, messageID)

	end(err)
	a.service.otel.recordOp(ctx, "delete", time.Since(start), err)
	return err
}

func (a *account) deleteEmail(ctx context.Context, messageID string) error {
	client, err := a.remote(ctx)
	if err != nil {
		return err
	}
	if err := client.Delete(ctx, messageID); err != nil && !errors.Is(err, provider.ErrNotFound) {
		return fmt.Errorf("mailsync: delete email %s: %w", messageID, err)
	}
	if err := a.service.emails.Delete(ctx, messageID, a.userID); err != nil {
		return fmt.Errorf("mailsync: drop email %s: %w", messageID, err)
	}
	return nil
}

func (a *account) ListFolders(ctx context.Context) ([]MailFolder, error) {
	if err := a.checkAccess(); err != nil {
		return nil, err
	}
	ctx, end := a.service.otel.startSpan(ctx, "mailsync.ListFolders",
		attribute.String("user_id", a.userID))
	start := time.Now()

	folders, err := a.service.folders.Search(ctx, a.userID, store.Query{
		Terms:     map[string]string{"userId": a.userID},
		SortBy:    "displayName",
		SortOrder: store.SortAsc,
	})

	end(err)
	a.service.otel.recordOp(ctx, "list_folders", time.Since(start), err)
	return folders, err
}

func (a *account) publishEmailSent(ctx context.Context, email Email) {
	events := a.service.events
	if events == nil {
		return
	}
	err := events.EmailSent.Publish(ctx, EmailSentEvent{
		MessageID: email.MessageID,
		UserID:    email.UserID,
		Subject:   email.Subject,
		SentAt:    time.Now().UTC(),
	})
	if err != nil {
		a.service.logger.WarnContext(ctx, "failed to publish email sent event",
			"user", a.userID, "error", err)
	}
}

// emailFromMessage converts a provider message to a local email
// document.
func emailFromMessage(userID string, m provider.Message) Email {
	ts := now()
	return Email{
		MessageID:      m.ID,
		UserID:         userID,
		FolderID:       m.FolderID,
		Subject:        m.Subject,
		From:           m.From,
		To:             m.To,
		Cc:             m.Cc,
		Preview:        m.Preview,
		Body:           m.Body,
		BodyType:       m.BodyType,
		IsRead:         m.IsRead,
		HasAttachments: m.HasAttachments,
		Attachments:    m.Attachments,
		Status:         statusForRead(m.IsRead),
		ReceivedAt:     formatTime(m.ReceivedAt),
		CreatedAt:      ts,
		UpdatedAt:      ts,
	}
}

func statusForRead(read bool) string {
	if read {
		return EmailStatusRead
	}
	return EmailStatusUnread
}

// attachmentMeta strips inline content before attachments are stored;
// the index carries metadata only.
func attachmentMeta(in []provider.Attachment) []provider.Attachment {
	out := make([]provider.Attachment, len(in))
	for i, a := range in {
		if a.Size == 0 {
			a.Size = int64(len(a.Content))
		}
		a.Content = nil
		out[i] = a
	}
	return out
}

// folderFromProvider converts a provider folder to a local folder
// document.
func folderFromProvider(userID string, f provider.Folder) MailFolder {
	ts := now()
	return MailFolder{
		FolderID:    f.ID,
		UserID:      userID,
		DisplayName: f.DisplayName,
		ParentID:    f.ParentID,
		ChildCount:  f.ChildCount,
		TotalCount:  f.TotalCount,
		UnreadCount: f.UnreadCount,
		IsHidden:    f.IsHidden,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
}
