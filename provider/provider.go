// Package provider defines the remote mailbox abstraction. A Provider
// mints per-user clients; a Client exposes the message and folder
// operations the sync engine needs. Implementations live in
// subpackages (outlook).
package provider

import (
	"context"
	"time"
)

// DefaultPageSize is the page size used when a listing does not
// specify one.
const DefaultPageSize = 50

// Provider mints clients bound to a single user's mailbox.
type Provider interface {
	// Name identifies the provider, e.g. "outlook".
	Name() string

	// Client returns a client for the given user. The token is the
	// user's delegated access token.
	Client(userID, token string) (Client, error)
}

// Client is a connection to one user's remote mailbox.
type Client interface {
	// ListFolders returns all mail folders.
	ListFolders(ctx context.Context) ([]Folder, error)

	// ListMessages returns one page of messages from a folder.
	// An empty folderID means the whole mailbox.
	ListMessages(ctx context.Context, folderID string, page Page) ([]Message, error)

	// GetMessage returns a single message with its full body.
	GetMessage(ctx context.Context, messageID string) (Message, error)

	// SearchMessages returns messages matching the free-text query.
	SearchMessages(ctx context.Context, query string, page Page) ([]Message, error)

	// SendMessage submits an outgoing message.
	SendMessage(ctx context.Context, msg Outgoing) error

	// SetRead marks a message read or unread.
	SetRead(ctx context.Context, messageID string, read bool) error

	// Move moves a message to another folder and returns the message
	// id in the destination folder, which may differ from the source.
	Move(ctx context.Context, messageID, folderID string) (string, error)

	// Delete removes a message. Deleting an absent message is
	// reported as ErrNotFound; callers decide whether that matters.
	Delete(ctx context.Context, messageID string) error
}

// Page describes a listing window.
type Page struct {
	Size   int
	Offset int
}

// Normalize returns the page with defaults applied.
func (p Page) Normalize() Page {
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// Address is a mailbox participant.
type Address struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// Attachment describes a mail attachment. Synced messages carry
// metadata only; Content is populated solely on outgoing attachments
// and is never stored.
type Attachment struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	Content     []byte `json:"contentBytes,omitempty"`
}

// Message is a provider-neutral mail message.
type Message struct {
	ID             string       `json:"id"`
	FolderID       string       `json:"folderId,omitempty"`
	Subject        string       `json:"subject"`
	From           Address      `json:"from"`
	To             []Address    `json:"to,omitempty"`
	Cc             []Address    `json:"cc,omitempty"`
	Preview        string       `json:"preview,omitempty"`
	Body           string       `json:"body,omitempty"`
	BodyType       string       `json:"bodyType,omitempty"`
	IsRead         bool         `json:"isRead"`
	HasAttachments bool         `json:"hasAttachments"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	ReceivedAt     time.Time    `json:"receivedAt"`
}

// Outgoing is a message to be sent.
type Outgoing struct {
	Subject     string       `json:"subject"`
	Body        string       `json:"body"`
	BodyType    string       `json:"bodyType,omitempty"`
	To          []Address    `json:"to"`
	Cc          []Address    `json:"cc,omitempty"`
	Bcc         []Address    `json:"bcc,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Folder is a provider-neutral mail folder.
type Folder struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	ParentID    string `json:"parentId,omitempty"`
	ChildCount  int    `json:"childCount"`
	TotalCount  int    `json:"totalCount"`
	UnreadCount int    `json:"unreadCount"`
	IsHidden    bool   `json:"isHidden"`
}
