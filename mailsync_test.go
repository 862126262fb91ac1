package mailsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rbaliyan/mailsync/provider"
	"github.com/rbaliyan/mailsync/resolver"
	"github.com/rbaliyan/mailsync/store/memory"
)

// fakeProvider is an in-memory provider.Provider for tests.
type fakeProvider struct {
	mu       sync.Mutex
	folders  []provider.Folder
	messages []provider.Message
	sent     []provider.Outgoing

	folderErr  error
	listErr    error
	listBlock  chan struct{}
	listCalls  int
	getCalls   int
	deleted    []string
	moveSuffix string
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Client(userID, token string) (provider.Client, error) {
	if token == "" {
		return nil, provider.ErrAuth
	}
	return &fakeClient{p: p}, nil
}

type fakeClient struct {
	p *fakeProvider
}

func (c *fakeClient) ListFolders(ctx context.Context) ([]provider.Folder, error) {
	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	if c.p.folderErr != nil {
		return nil, c.p.folderErr
	}
	return append([]provider.Folder(nil), c.p.folders...), nil
}

func (c *fakeClient) ListMessages(ctx context.Context, folderID string, page provider.Page) ([]provider.Message, error) {
	c.p.mu.Lock()
	block := c.p.listBlock
	c.p.listCalls++
	if c.p.listErr != nil {
		err := c.p.listErr
		c.p.mu.Unlock()
		return nil, err
	}
	msgs := append([]provider.Message(nil), c.p.messages...)
	c.p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	page = page.Normalize()
	if page.Offset >= len(msgs) {
		return nil, nil
	}
	msgs = msgs[page.Offset:]
	if len(msgs) > page.Size {
		msgs = msgs[:page.Size]
	}
	return msgs, nil
}

func (c *fakeClient) GetMessage(ctx context.Context, messageID string) (provider.Message, error) {
	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	c.p.getCalls++
	for _, m := range c.p.messages {
		if m.ID == messageID {
			return m, nil
		}
	}
	return provider.Message{}, provider.ErrNotFound
}

func (c *fakeClient) SearchMessages(ctx context.Context, query string, page provider.Page) ([]provider.Message, error) {
	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	var out []provider.Message
	for _, m := range c.p.messages {
		if strings.Contains(strings.ToLower(m.Subject), strings.ToLower(query)) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (c *fakeClient) SendMessage(ctx context.Context, msg provider.Outgoing) error {
	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	c.p.sent = append(c.p.sent, msg)
	return nil
}

func (c *fakeClient) SetRead(ctx context.Context, messageID string, read bool) error {
	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	for i := range c.p.messages {
		if c.p.messages[i].ID == messageID {
			c.p.messages[i].IsRead = read
			return nil
		}
	}
	return provider.ErrNotFound
}

func (c *fakeClient) Move(ctx context.Context, messageID, folderID string) (string, error) {
	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	for i := range c.p.messages {
		if c.p.messages[i].ID == messageID {
			newID := messageID + c.p.moveSuffix
			c.p.messages[i].ID = newID
			c.p.messages[i].FolderID = folderID
			return newID, nil
		}
	}
	return "", provider.ErrNotFound
}

func (c *fakeClient) Delete(ctx context.Context, messageID string) error {
	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	for i := range c.p.messages {
		if c.p.messages[i].ID == messageID {
			c.p.messages = append(c.p.messages[:i], c.p.messages[i+1:]...)
			c.p.deleted = append(c.p.deleted, messageID)
			return nil
		}
	}
	return provider.ErrNotFound
}

func testMessage(id, subject string, received time.Time) provider.Message {
	return provider.Message{
		ID:         id,
		FolderID:   "inbox",
		Subject:    subject,
		From:       provider.Address{Email: "bob@example.com"},
		ReceivedAt: received,
	}
}

func newTestStore() *memory.Store {
	return memory.New()
}

func newTestResolver() *resolver.Static {
	return resolver.NewStatic(map[string]string{
		"user123": "tok",
		"user456": "tok",
	})
}

// setupTestService creates a connected service backed by in-memory
// store, cache and provider, plus a defaulted token for "user123".
func setupTestService(t *testing.T, p *fakeProvider) Service {
	t.Helper()
	svc, err := New(
		WithStore(memory.New()),
		WithCache(memory.NewCache()),
		WithProvider(p),
		WithTokenResolver(resolver.NewStatic(map[string]string{"user123": "tok"})),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := svc.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { svc.Close(context.Background()) })
	return svc
}

func TestNew(t *testing.T) {
	t.Run("requires store", func(t *testing.T) {
		_, err := New(
			WithProvider(&fakeProvider{}),
			WithTokenResolver(resolver.NewStatic(nil)),
		)
		if !errors.Is(err, ErrStoreRequired) {
			t.Errorf("expected ErrStoreRequired, got %v", err)
		}
	})

	t.Run("requires provider", func(t *testing.T) {
		_, err := New(
			WithStore(memory.New()),
			WithTokenResolver(resolver.NewStatic(nil)),
		)
		if !errors.Is(err, ErrProviderRequired) {
			t.Errorf("expected ErrProviderRequired, got %v", err)
		}
	})

	t.Run("requires resolver", func(t *testing.T) {
		_, err := New(
			WithStore(memory.New()),
			WithProvider(&fakeProvider{}),
		)
		if !errors.Is(err, ErrResolverRequired) {
			t.Errorf("expected ErrResolverRequired, got %v", err)
		}
	})
}

func TestServiceLifecycle(t *testing.T) {
	svc, err := New(
		WithStore(memory.New()),
		WithProvider(&fakeProvider{}),
		WithTokenResolver(resolver.NewStatic(nil)),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	if svc.IsConnected() {
		t.Error("IsConnected before Connect")
	}

	if err := svc.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !svc.IsConnected() {
		t.Error("not connected after Connect")
	}
	if err := svc.Connect(ctx); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("double connect = %v, want ErrAlreadyConnected", err)
	}

	if err := svc.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := svc.Close(ctx); err != nil {
		t.Errorf("second close = %v, want nil", err)
	}
}

func TestClientNotConnected(t *testing.T) {
	svc, err := New(
		WithStore(memory.New()),
		WithProvider(&fakeProvider{}),
		WithTokenResolver(resolver.NewStatic(nil)),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	acct := svc.Client("user123")
	if _, err := acct.ListEmails(context.Background(), "", Page{}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("ListEmails before connect = %v, want ErrNotConnected", err)
	}
}

func TestClientInvalidUserID(t *testing.T) {
	svc := setupTestService(t, &fakeProvider{})

	for _, id := range []string{"", "a:b", "a/b", "a b", "a*b"} {
		acct := svc.Client(id)
		_, err := acct.ListEmails(context.Background(), "", Page{})
		if !IsValidationError(err) {
			t.Errorf("user %q: err = %v, want ValidationError", id, err)
		}
	}
}

func TestGetEmailBackfillsFromProvider(t *testing.T) {
	p := &fakeProvider{
		messages: []provider.Message{testMessage("m1", "hello", time.Now())},
	}
	svc := setupTestService(t, p)
	acct := svc.Client("user123")
	ctx := context.Background()

	email, err := acct.GetEmail(ctx, "m1")
	if err != nil {
		t.Fatalf("GetEmail: %v", err)
	}
	if email.Subject != "hello" || email.Status != EmailStatusUnread {
		t.Errorf("email = %+v", email)
	}

	// The fetched message is indexed; a second read must not hit the
	// provider again.
	calls := p.getCalls
	if _, err := acct.GetEmail(ctx, "m1"); err != nil {
		t.Fatalf("GetEmail again: %v", err)
	}
	if p.getCalls != calls {
		t.Errorf("provider fetched again: %d calls, want %d", p.getCalls, calls)
	}
}

func TestGetEmailNotFound(t *testing.T) {
	svc := setupTestService(t, &fakeProvider{})
	acct := svc.Client("user123")

	_, err := acct.GetEmail(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetEmail absent = %v, want ErrNotFound", err)
	}
}

func TestSendEmailIndexesSent(t *testing.T) {
	p := &fakeProvider{}
	svc := setupTestService(t, p)
	acct := svc.Client("user123")
	ctx := context.Background()

	email, err := acct.SendEmail(ctx, provider.Outgoing{
		Subject: "ping",
		Body:    "pong",
		To:      []provider.Address{{Email: "bob@example.com"}},
	})
	if err != nil {
		t.Fatalf("SendEmail: %v", err)
	}
	if len(p.sent) != 1 {
		t.Fatalf("provider sent %d messages, want 1", len(p.sent))
	}
	if email.Status != EmailStatusSent || email.SentAt == "" {
		t.Errorf("sent email = %+v", email)
	}

	got, err := acct.GetEmail(ctx, email.MessageID)
	if err != nil {
		t.Fatalf("GetEmail sent: %v", err)
	}
	if got.Subject != "ping" {
		t.Errorf("indexed subject = %q", got.Subject)
	}
}

func TestSendEmailValidation(t *testing.T) {
	svc := setupTestService(t, &fakeProvider{})
	acct := svc.Client("user123")
	ctx := context.Background()

	tests := []struct {
		name string
		msg  provider.Outgoing
	}{
		{"no recipients", provider.Outgoing{Subject: "s", Body: "b"}},
		{"bad address", provider.Outgoing{Subject: "s", Body: "b", To: []provider.Address{{Email: "not-an-address"}}}},
		{"missing subject", provider.Outgoing{Body: "b", To: []provider.Address{{Email: "a@b.com"}}}},
		{"missing body", provider.Outgoing{Subject: "s", To: []provider.Address{{Email: "a@b.com"}}}},
		{"empty subject and body", provider.Outgoing{To: []provider.Address{{Email: "a@b.com"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := acct.SendEmail(ctx, tt.msg); !IsValidationError(err) {
				t.Errorf("err = %v, want ValidationError", err)
			}
		})
	}
}

func TestMarkRead(t *testing.T) {
	p := &fakeProvider{
		messages: []provider.Message{testMessage("m1", "hello", time.Now())},
	}
	svc := setupTestService(t, p)
	acct := svc.Client("user123")
	ctx := context.Background()

	// Index it first.
	if _, err := acct.GetEmail(ctx, "m1"); err != nil {
		t.Fatalf("GetEmail: %v", err)
	}

	marked, err := acct.MarkRead(ctx, "m1", true)
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if !marked.IsRead || marked.Status != EmailStatusRead {
		t.Errorf("marked email = %+v", marked)
	}
	if !p.messages[0].IsRead {
		t.Error("provider message not marked read")
	}
	email, err := acct.GetEmail(ctx, "m1")
	if err != nil {
		t.Fatalf("GetEmail: %v", err)
	}
	if !email.IsRead {
		t.Error("local email not marked read")
	}
}

func TestMarkReadKeepsFlaggedStatus(t *testing.T) {
	p := &fakeProvider{
		messages: []provider.Message{testMessage("m1", "hello", time.Now())},
	}
	svc := setupTestService(t, p)
	acct := svc.Client("user123")
	ctx := context.Background()

	if _, err := acct.GetEmail(ctx, "m1"); err != nil {
		t.Fatalf("GetEmail: %v", err)
	}

	s := svc.(*service)
	email, err := s.emails.Get(ctx, "m1")
	if err != nil {
		t.Fatalf("load email: %v", err)
	}
	email.Status = EmailStatusFlagged
	if err := s.emails.Put(ctx, "m1", email, "user123"); err != nil {
		t.Fatalf("flag email: %v", err)
	}

	marked, err := acct.MarkRead(ctx, "m1", true)
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if marked.Status != EmailStatusFlagged {
		t.Errorf("status = %q, want flagged preserved", marked.Status)
	}
	if !marked.IsRead {
		t.Error("IsRead not updated")
	}
}

func TestSendEmailWithAttachments(t *testing.T) {
	p := &fakeProvider{}
	svc := setupTestService(t, p)
	acct := svc.Client("user123")
	ctx := context.Background()

	content := []byte("%PDF-1.7")
	email, err := acct.SendEmail(ctx, provider.Outgoing{
		Subject: "report",
		Body:    "attached",
		To:      []provider.Address{{Email: "bob@example.com"}},
		Attachments: []provider.Attachment{{
			Name:        "q3.pdf",
			ContentType: "application/pdf",
			Content:     content,
		}},
	})
	if err != nil {
		t.Fatalf("SendEmail: %v", err)
	}
	if len(p.sent) != 1 || len(p.sent[0].Attachments) != 1 {
		t.Fatalf("provider sent = %+v", p.sent)
	}
	if !email.HasAttachments || len(email.Attachments) != 1 {
		t.Fatalf("indexed email = %+v", email)
	}
	att := email.Attachments[0]
	if att.Name != "q3.pdf" || att.Size != int64(len(content)) {
		t.Errorf("attachment = %+v", att)
	}
	if att.Content != nil {
		t.Error("attachment content stored")
	}
}

func TestMoveEmailReindexesNewID(t *testing.T) {
	p := &fakeProvider{
		messages:   []provider.Message{testMessage("m1", "hello", time.Now())},
		moveSuffix: "-moved",
	}
	svc := setupTestService(t, p)
	acct := svc.Client("user123")
	ctx := context.Background()

	if _, err := acct.GetEmail(ctx, "m1"); err != nil {
		t.Fatalf("GetEmail: %v", err)
	}

	email, err := acct.MoveEmail(ctx, "m1", "archive")
	if err != nil {
		t.Fatalf("MoveEmail: %v", err)
	}
	if email.MessageID != "m1-moved" || email.FolderID != "archive" {
		t.Errorf("moved email = %+v", email)
	}

	if _, err := acct.GetEmail(ctx, "m1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("old id still resolves locally: %v", err)
	}
	if _, err := acct.GetEmail(ctx, "m1-moved"); err != nil {
		t.Errorf("new id not indexed: %v", err)
	}
}

func TestDeleteEmailIdempotent(t *testing.T) {
	p := &fakeProvider{
		messages: []provider.Message{testMessage("m1", "hello", time.Now())},
	}
	svc := setupTestService(t, p)
	acct := svc.Client("user123")
	ctx := context.Background()

	if _, err := acct.GetEmail(ctx, "m1"); err != nil {
		t.Fatalf("GetEmail: %v", err)
	}

	if err := acct.DeleteEmail(ctx, "m1"); err != nil {
		t.Fatalf("DeleteEmail: %v", err)
	}
	// The provider no longer has the message; deleting again still
	// succeeds.
	if err := acct.DeleteEmail(ctx, "m1"); err != nil {
		t.Errorf("second DeleteEmail = %v, want nil", err)
	}
}

func TestListEmailsNewestFirst(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	p := &fakeProvider{}
	for i := 0; i < 3; i++ {
		p.messages = append(p.messages, testMessage(
			fmt.Sprintf("m%d", i), fmt.Sprintf("subject %d", i), base.Add(time.Duration(i)*time.Hour)))
	}
	svc := setupTestService(t, p)
	acct := svc.Client("user123")
	ctx := context.Background()

	waitForSync(t, acct)

	emails, err := acct.ListEmails(ctx, "inbox", Page{})
	if err != nil {
		t.Fatalf("ListEmails: %v", err)
	}
	if len(emails) != 3 {
		t.Fatalf("got %d emails, want 3", len(emails))
	}
	if emails[0].MessageID != "m2" {
		t.Errorf("first email = %s, want newest m2", emails[0].MessageID)
	}
}

func TestSearchEmails(t *testing.T) {
	p := &fakeProvider{
		messages: []provider.Message{
			testMessage("m1", "quarterly report", time.Now()),
			testMessage("m2", "lunch plans", time.Now()),
		},
	}
	svc := setupTestService(t, p)
	acct := svc.Client("user123")
	ctx := context.Background()

	waitForSync(t, acct)

	res, err := acct.SearchEmails(ctx, "report", Page{})
	if err != nil {
		t.Fatalf("SearchEmails: %v", err)
	}
	if res.Total != 1 || res.SearchTerm != "report" {
		t.Errorf("SearchEmails result = %+v", res)
	}
	if len(res.Results) != 1 || res.Results[0].MessageID != "m1" {
		t.Errorf("SearchEmails results = %+v", res.Results)
	}

	if _, err := acct.SearchEmails(ctx, "", Page{}); !IsValidationError(err) {
		t.Errorf("empty query err = %v, want ValidationError", err)
	}
}

func TestListFoldersSorted(t *testing.T) {
	p := &fakeProvider{
		folders: []provider.Folder{
			{ID: "f2", DisplayName: "Sent"},
			{ID: "f1", DisplayName: "Inbox"},
			{ID: "f3", DisplayName: "Archive"},
		},
	}
	svc := setupTestService(t, p)
	acct := svc.Client("user123")
	ctx := context.Background()

	waitForSync(t, acct)

	folders, err := acct.ListFolders(ctx)
	if err != nil {
		t.Fatalf("ListFolders: %v", err)
	}
	if len(folders) != 3 {
		t.Fatalf("got %d folders, want 3", len(folders))
	}
	want := []string{"Archive", "Inbox", "Sent"}
	for i, f := range folders {
		if f.DisplayName != want[i] {
			t.Errorf("folders[%d] = %s, want %s", i, f.DisplayName, want[i])
		}
	}
}

// waitForSync starts a sync and blocks until its task reaches a
// terminal state.
func waitForSync(t *testing.T, acct Account) SyncTask {
	t.Helper()
	ctx := context.Background()

	task, err := acct.StartSync(ctx)
	if err != nil {
		t.Fatalf("StartSync: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		task, err = acct.SyncStatus(ctx, task.SyncID)
		if err != nil {
			t.Fatalf("SyncStatus: %v", err)
		}
		if task.Terminal() {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("sync %s did not finish", task.SyncID)
	return task
}
