// Package outlook implements provider.Provider over the Microsoft
// Graph SDK using delegated access tokens.
package outlook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	abstractions "github.com/microsoft/kiota-abstractions-go"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"github.com/microsoftgraph/msgraph-sdk-go/models/odataerrors"
	"github.com/microsoftgraph/msgraph-sdk-go/users"

	"github.com/rbaliyan/mailsync/provider"
)

var messageSelect = []string{
	"id", "subject", "bodyPreview", "from", "toRecipients", "ccRecipients",
	"isRead", "hasAttachments", "receivedDateTime", "parentFolderId",
}

var messageDetailSelect = []string{
	"id", "subject", "bodyPreview", "body", "from", "toRecipients", "ccRecipients",
	"isRead", "hasAttachments", "attachments", "receivedDateTime", "parentFolderId",
}

// Outlook is a provider.Provider for Microsoft Graph.
type Outlook struct {
	opts options
}

// New returns an Outlook provider.
func New(opts ...Option) *Outlook {
	return &Outlook{opts: newOptions(opts...)}
}

func (p *Outlook) Name() string { return "outlook" }

// Client returns a client bound to the user's access token.
func (p *Outlook) Client(userID, token string) (provider.Client, error) {
	if token == "" {
		return nil, fmt.Errorf("outlook: client for %q: %w", userID, provider.ErrAuth)
	}
	graph, err := p.newGraphClient(token)
	if err != nil {
		return nil, fmt.Errorf("outlook: client for %q: %w", userID, err)
	}
	return &client{graph: graph, userID: userID}, nil
}

func (p *Outlook) newGraphClient(token string) (*msgraphsdk.GraphServiceClient, error) {
	if p.opts.httpClient == nil && p.opts.baseURL == "" {
		return msgraphsdk.NewGraphServiceClientWithCredentials(
			&staticTokenCredential{token: token}, nil)
	}

	// Custom endpoint or transport, used mainly against test servers.
	adapter, err := msgraphsdk.NewGraphRequestAdapterWithParseNodeFactoryAndSerializationWriterFactoryAndHttpClient(
		&bearerTokenProvider{token: token}, nil, nil, p.opts.httpClient)
	if err != nil {
		return nil, err
	}
	if p.opts.baseURL != "" {
		adapter.SetBaseUrl(p.opts.baseURL)
	}
	return msgraphsdk.NewGraphServiceClient(adapter), nil
}

// staticTokenCredential presents an already-resolved delegated token
// as an azcore credential.
type staticTokenCredential struct {
	token string
}

func (c *staticTokenCredential) GetToken(ctx context.Context, options policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{
		Token:     c.token,
		ExpiresOn: time.Now().Add(time.Hour),
	}, nil
}

// bearerTokenProvider attaches the token directly, bypassing the azure
// host allow-list so requests can target a local test endpoint.
type bearerTokenProvider struct {
	token string
}

func (p *bearerTokenProvider) AuthenticateRequest(ctx context.Context, request *abstractions.RequestInformation, additionalAuthenticationContext map[string]interface{}) error {
	request.Headers.Add("Authorization", "Bearer "+p.token)
	return nil
}

type client struct {
	graph  *msgraphsdk.GraphServiceClient
	userID string
}

func (c *client) ListFolders(ctx context.Context) ([]provider.Folder, error) {
	includeHidden := "true"
	cfg := &users.ItemMailFoldersRequestBuilderGetRequestConfiguration{
		QueryParameters: &users.ItemMailFoldersRequestBuilderGetQueryParameters{
			Top:                  int32Ptr(100),
			IncludeHiddenFolders: &includeHidden,
		},
	}
	res, err := c.graph.Users().ByUserId(c.userID).MailFolders().Get(ctx, cfg)
	if err != nil {
		return nil, graphError("list folders", err)
	}
	value := res.GetValue()
	out := make([]provider.Folder, 0, len(value))
	for _, f := range value {
		out = append(out, toFolder(f))
	}
	return out, nil
}

func (c *client) ListMessages(ctx context.Context, folderID string, page provider.Page) ([]provider.Message, error) {
	page = page.Normalize()

	var res models.MessageCollectionResponseable
	var err error
	if folderID == "" {
		cfg := &users.ItemMessagesRequestBuilderGetRequestConfiguration{
			QueryParameters: &users.ItemMessagesRequestBuilderGetQueryParameters{
				Top:     int32Ptr(int32(page.Size)),
				Skip:    int32Ptr(int32(page.Offset)),
				Orderby: []string{"receivedDateTime desc"},
				Select:  messageSelect,
			},
		}
		res, err = c.graph.Users().ByUserId(c.userID).Messages().Get(ctx, cfg)
	} else {
		cfg := &users.ItemMailFoldersItemMessagesRequestBuilderGetRequestConfiguration{
			QueryParameters: &users.ItemMailFoldersItemMessagesRequestBuilderGetQueryParameters{
				Top:     int32Ptr(int32(page.Size)),
				Skip:    int32Ptr(int32(page.Offset)),
				Orderby: []string{"receivedDateTime desc"},
				Select:  messageSelect,
			},
		}
		res, err = c.graph.Users().ByUserId(c.userID).MailFolders().ByMailFolderId(folderID).Messages().Get(ctx, cfg)
	}
	if err != nil {
		return nil, graphError("list messages", err)
	}
	return toMessages(res.GetValue()), nil
}

func (c *client) GetMessage(ctx context.Context, messageID string) (provider.Message, error) {
	cfg := &users.ItemMessagesMessageItemRequestBuilderGetRequestConfiguration{
		QueryParameters: &users.ItemMessagesMessageItemRequestBuilderGetQueryParameters{
			Select: messageDetailSelect,
		},
	}
	msg, err := c.graph.Users().ByUserId(c.userID).Messages().ByMessageId(messageID).Get(ctx, cfg)
	if err != nil {
		return provider.Message{}, graphError("get message", err)
	}
	return toMessage(msg), nil
}

func (c *client) SearchMessages(ctx context.Context, query string, page provider.Page) ([]provider.Message, error) {
	page = page.Normalize()

	// Graph rejects $skip and $orderby alongside $search; results
	// come back ranked by relevance.
	search := strconv.Quote(query)
	cfg := &users.ItemMessagesRequestBuilderGetRequestConfiguration{
		QueryParameters: &users.ItemMessagesRequestBuilderGetQueryParameters{
			Search: &search,
			Top:    int32Ptr(int32(page.Size)),
			Select: messageSelect,
		},
	}
	res, err := c.graph.Users().ByUserId(c.userID).Messages().Get(ctx, cfg)
	if err != nil {
		return nil, graphError("search messages", err)
	}
	return toMessages(res.GetValue()), nil
}

func (c *client) SendMessage(ctx context.Context, msg provider.Outgoing) error {
	m := models.NewMessage()
	m.SetSubject(&msg.Subject)

	body := models.NewItemBody()
	contentType := models.TEXT_BODYTYPE
	if strings.EqualFold(msg.BodyType, "html") {
		contentType = models.HTML_BODYTYPE
	}
	body.SetContentType(&contentType)
	body.SetContent(&msg.Body)
	m.SetBody(body)

	m.SetToRecipients(toRecipients(msg.To))
	if len(msg.Cc) > 0 {
		m.SetCcRecipients(toRecipients(msg.Cc))
	}
	if len(msg.Bcc) > 0 {
		m.SetBccRecipients(toRecipients(msg.Bcc))
	}
	if len(msg.Attachments) > 0 {
		m.SetAttachments(toFileAttachments(msg.Attachments))
	}

	req := users.NewItemSendMailPostRequestBody()
	req.SetMessage(m)
	save := true
	req.SetSaveToSentItems(&save)

	if err := c.graph.Users().ByUserId(c.userID).SendMail().Post(ctx, req, nil); err != nil {
		return graphError("send message", err)
	}
	return nil
}

func (c *client) SetRead(ctx context.Context, messageID string, read bool) error {
	patch := models.NewMessage()
	patch.SetIsRead(&read)
	if _, err := c.graph.Users().ByUserId(c.userID).Messages().ByMessageId(messageID).Patch(ctx, patch, nil); err != nil {
		return graphError("set read", err)
	}
	return nil
}

func (c *client) Move(ctx context.Context, messageID, folderID string) (string, error) {
	body := users.NewItemMessagesItemMovePostRequestBody()
	body.SetDestinationId(&folderID)
	moved, err := c.graph.Users().ByUserId(c.userID).Messages().ByMessageId(messageID).Move().Post(ctx, body, nil)
	if err != nil {
		return "", graphError("move message", err)
	}
	if moved == nil || moved.GetId() == nil {
		return "", nil
	}
	return *moved.GetId(), nil
}

func (c *client) Delete(ctx context.Context, messageID string) error {
	if err := c.graph.Users().ByUserId(c.userID).Messages().ByMessageId(messageID).Delete(ctx, nil); err != nil {
		return graphError("delete message", err)
	}
	return nil
}

// graphError translates SDK failures to provider sentinels. Transport
// failures keep their text so timeouts stay diagnosable.
func graphError(op string, err error) error {
	var oe *odataerrors.ODataError
	if errors.As(err, &oe) {
		return fmt.Errorf("outlook: %s: %w", op, statusError(oe.ResponseStatusCode, oe.ResponseHeaders))
	}
	var ae *abstractions.ApiError
	if errors.As(err, &ae) {
		return fmt.Errorf("outlook: %s: %w", op, statusError(ae.ResponseStatusCode, ae.ResponseHeaders))
	}
	return fmt.Errorf("outlook: %s: %v: %w", op, err, provider.ErrUnavailable)
}

func statusError(status int, headers *abstractions.ResponseHeaders) error {
	switch status {
	case http.StatusUnauthorized:
		return provider.ErrAuth
	case http.StatusForbidden:
		return provider.ErrPermission
	case http.StatusNotFound:
		return provider.ErrNotFound
	case http.StatusTooManyRequests:
		return &provider.RateLimitedError{Delay: retryAfter(headers)}
	case http.StatusBadRequest:
		return provider.ErrInvalidRequest
	default:
		if status >= 500 {
			return provider.ErrUnavailable
		}
		return fmt.Errorf("%w: status %d", provider.ErrInvalidRequest, status)
	}
}

func retryAfter(headers *abstractions.ResponseHeaders) time.Duration {
	if headers == nil {
		return 0
	}
	for _, v := range headers.Get("Retry-After") {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}

func toMessages(in []models.Messageable) []provider.Message {
	out := make([]provider.Message, 0, len(in))
	for _, m := range in {
		out = append(out, toMessage(m))
	}
	return out
}

func toMessage(m models.Messageable) provider.Message {
	var msg provider.Message
	if v := m.GetId(); v != nil {
		msg.ID = *v
	}
	if v := m.GetParentFolderId(); v != nil {
		msg.FolderID = *v
	}
	if v := m.GetSubject(); v != nil {
		msg.Subject = *v
	}
	if v := m.GetBodyPreview(); v != nil {
		msg.Preview = *v
	}
	if v := m.GetIsRead(); v != nil {
		msg.IsRead = *v
	}
	if v := m.GetHasAttachments(); v != nil {
		msg.HasAttachments = *v
	}
	if v := m.GetReceivedDateTime(); v != nil {
		msg.ReceivedAt = *v
	}
	if from := m.GetFrom(); from != nil {
		msg.From = toAddress(from)
	}
	msg.To = toAddresses(m.GetToRecipients())
	msg.Cc = toAddresses(m.GetCcRecipients())
	if body := m.GetBody(); body != nil {
		if v := body.GetContent(); v != nil {
			msg.Body = *v
		}
		if v := body.GetContentType(); v != nil {
			msg.BodyType = v.String()
		}
	}
	msg.Attachments = toAttachmentMeta(m.GetAttachments())
	return msg
}

func toFolder(f models.MailFolderable) provider.Folder {
	var out provider.Folder
	if v := f.GetId(); v != nil {
		out.ID = *v
	}
	if v := f.GetDisplayName(); v != nil {
		out.DisplayName = *v
	}
	if v := f.GetParentFolderId(); v != nil {
		out.ParentID = *v
	}
	if v := f.GetChildFolderCount(); v != nil {
		out.ChildCount = int(*v)
	}
	if v := f.GetTotalItemCount(); v != nil {
		out.TotalCount = int(*v)
	}
	if v := f.GetUnreadItemCount(); v != nil {
		out.UnreadCount = int(*v)
	}
	if v := f.GetIsHidden(); v != nil {
		out.IsHidden = *v
	}
	return out
}

func toAddress(r models.Recipientable) provider.Address {
	var out provider.Address
	if ea := r.GetEmailAddress(); ea != nil {
		if v := ea.GetName(); v != nil {
			out.Name = *v
		}
		if v := ea.GetAddress(); v != nil {
			out.Email = *v
		}
	}
	return out
}

func toAddresses(in []models.Recipientable) []provider.Address {
	if len(in) == 0 {
		return nil
	}
	out := make([]provider.Address, 0, len(in))
	for _, r := range in {
		out = append(out, toAddress(r))
	}
	return out
}

func toRecipients(in []provider.Address) []models.Recipientable {
	out := make([]models.Recipientable, 0, len(in))
	for i := range in {
		ea := models.NewEmailAddress()
		ea.SetAddress(&in[i].Email)
		if in[i].Name != "" {
			ea.SetName(&in[i].Name)
		}
		r := models.NewRecipient()
		r.SetEmailAddress(ea)
		out = append(out, r)
	}
	return out
}

func toAttachmentMeta(in []models.Attachmentable) []provider.Attachment {
	if len(in) == 0 {
		return nil
	}
	out := make([]provider.Attachment, 0, len(in))
	for _, a := range in {
		var att provider.Attachment
		if v := a.GetId(); v != nil {
			att.ID = *v
		}
		if v := a.GetName(); v != nil {
			att.Name = *v
		}
		if v := a.GetContentType(); v != nil {
			att.ContentType = *v
		}
		if v := a.GetSize(); v != nil {
			att.Size = int64(*v)
		}
		out = append(out, att)
	}
	return out
}

func toFileAttachments(in []provider.Attachment) []models.Attachmentable {
	out := make([]models.Attachmentable, 0, len(in))
	for i := range in {
		fa := models.NewFileAttachment()
		fa.SetName(&in[i].Name)
		if in[i].ContentType != "" {
			fa.SetContentType(&in[i].ContentType)
		}
		fa.SetContentBytes(in[i].Content)
		out = append(out, fa)
	}
	return out
}

func int32Ptr(i int32) *int32 {
	return &i
}
