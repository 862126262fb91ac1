package mailsync

import (
	"time"

	"github.com/rbaliyan/mailsync/provider"
)

// Store collections.
const (
	CollectionEmails  = "emails"
	CollectionFolders = "mail_folders"
	CollectionTasks   = "sync_tasks"
)

// Email status values.
const (
	EmailStatusRead    = "read"
	EmailStatusUnread  = "unread"
	EmailStatusFlagged = "flagged"
	EmailStatusDeleted = "deleted"
	EmailStatusSent    = "sent"
)

// Sync task states. Tasks move from in-progress to exactly one of
// completed or failed and never leave a terminal state.
const (
	SyncStatusInProgress = "in-progress"
	SyncStatusCompleted  = "completed"
	SyncStatusFailed     = "failed"
)

// Email is a locally indexed mail message. Timestamps are RFC 3339
// strings so lexicographic ordering matches chronological ordering in
// every store backend.
type Email struct {
	MessageID      string                `json:"messageId"`
	UserID         string                `json:"userId"`
	FolderID       string                `json:"folderId,omitempty"`
	Subject        string                `json:"subject"`
	From           provider.Address      `json:"from"`
	To             []provider.Address    `json:"to,omitempty"`
	Cc             []provider.Address    `json:"cc,omitempty"`
	Preview        string                `json:"preview,omitempty"`
	Body           string                `json:"body,omitempty"`
	BodyType       string                `json:"bodyType,omitempty"`
	IsRead         bool                  `json:"isRead"`
	HasAttachments bool                  `json:"hasAttachments"`
	Attachments    []provider.Attachment `json:"attachments,omitempty"`
	Status         string                `json:"status"`
	ReceivedAt     string                `json:"receivedAt,omitempty"`
	SentAt         string                `json:"sentAt,omitempty"`
	CreatedAt      string                `json:"created_at"`
	UpdatedAt      string                `json:"updated_at"`
}

// MailFolder is a locally indexed mail folder. An empty ParentID
// means a root folder.
type MailFolder struct {
	FolderID    string `json:"folderId"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	ParentID    string `json:"parentId,omitempty"`
	ChildCount  int    `json:"childFolderCount"`
	TotalCount  int    `json:"totalItemCount"`
	UnreadCount int    `json:"unreadItemCount"`
	IsHidden    bool   `json:"isHidden"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// SyncTask records one mailbox synchronization run.
type SyncTask struct {
	SyncID      string `json:"syncId"`
	UserID      string `json:"userId"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
	EmailCount  int    `json:"emailCount"`
	FolderCount int    `json:"folderCount"`
	StartedAt   string `json:"startedAt"`
	CompletedAt string `json:"completedAt,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// Terminal reports whether the task has finished, successfully or not.
func (t SyncTask) Terminal() bool {
	return t.Status == SyncStatusCompleted || t.Status == SyncStatusFailed
}

// Page describes a listing window for local queries.
type Page struct {
	Size   int
	Offset int
}

// normalize applies the default size and caps requests at it.
func (p Page) normalize(maxSize int) Page {
	if p.Size <= 0 || p.Size > maxSize {
		p.Size = maxSize
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// SearchResult is the outcome of a local email search. Total counts
// every match, not just the returned page.
type SearchResult struct {
	Results    []Email `json:"results"`
	Total      int     `json:"total"`
	SearchTerm string  `json:"searchTerm"`
}

// now returns the current UTC time as an RFC 3339 string, the format
// used for every stored timestamp.
func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
