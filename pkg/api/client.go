// Package api is the REST client for the chat backend. Every call carries
// the anonymous session id and, when signed in, the bearer token.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/juicebox/juicechat/pkg/chat"
	"github.com/juicebox/juicechat/pkg/client"
)

const (
	defaultTimeout        = 30 * time.Second
	defaultConnectTimeout = 5 * time.Second
	defaultTLSTimeout     = 5 * time.Second

	// SessionHeader carries the anonymous session id
	SessionHeader = "X-Session-ID"
)

// ErrNotFound matches an *Error with status 404
var ErrNotFound = errors.New("not found")

// Error is a failed request. Message comes from the response envelope when
// the backend sent one.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// Is reports whether target is ErrNotFound and this is a 404
func (e *Error) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// envelope is the backend's response wrapper
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   json.RawMessage `json:"error"`
}

// Client talks to one backend. It is safe for concurrent use.
type Client struct {
	base     *url.URL
	auth     client.AuthSource
	http     *http.Client
	validate *validator.Validate
}

func defaultHTTPClient() *http.Client {
	dialer := &net.Dialer{Timeout: defaultConnectTimeout}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultTLSTimeout,
	}
	return &http.Client{Transport: transport, Timeout: defaultTimeout}
}

// New creates a client for apiBase, e.g. "https://api.example.com"
func New(apiBase string, auth client.AuthSource) (*Client, error) {
	u, err := url.Parse(apiBase)
	if err != nil {
		return nil, fmt.Errorf("parse api base: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api base %q: scheme must be http or https", apiBase)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawPath = ""
	return &Client{
		base:     u,
		auth:     auth,
		http:     defaultHTTPClient(),
		validate: validator.New(),
	}, nil
}

// SetHTTPClient replaces the underlying HTTP client
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.http = hc
}

func (c *Client) endpoint(segments ...string) string {
	u := *c.base
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	u.Path = c.base.Path + "/" + strings.Join(segments, "/")
	u.RawPath = c.base.EscapedPath() + "/" + strings.Join(escaped, "/")
	return u.String()
}

func do[R any](ctx context.Context, c *Client, method, endpoint string, body any) (R, error) {
	var result R

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return result, fmt.Errorf("encode %s request: %w", method, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return result, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.auth != nil {
		req.Header.Set(SessionHeader, c.auth.SessionID())
		if token := c.auth.BearerToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return result, fmt.Errorf("%s %s: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return result, fmt.Errorf("read response: %w", err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 || (decodeErr == nil && !env.Success) {
		return result, &Error{Status: resp.StatusCode, Message: failureMessage(resp, raw, env, decodeErr)}
	}
	if decodeErr != nil {
		return result, fmt.Errorf("decode response envelope: %w", decodeErr)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return result, nil
	}
	if err := json.Unmarshal(env.Data, &result); err != nil {
		return result, fmt.Errorf("decode response data: %w", err)
	}
	return result, nil
}

// failureMessage prefers the envelope's error, which may be a string or an
// object with a message field, then the raw body, then the status text
func failureMessage(resp *http.Response, raw []byte, env envelope, decodeErr error) string {
	if decodeErr == nil && len(env.Error) > 0 {
		var s string
		if json.Unmarshal(env.Error, &s) == nil && s != "" {
			return s
		}
		var obj struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(env.Error, &obj) == nil && obj.Message != "" {
			return obj.Message
		}
	}
	if decodeErr != nil {
		if text := strings.TrimSpace(string(raw)); text != "" {
			return text
		}
	}
	if text := http.StatusText(resp.StatusCode); text != "" {
		return text
	}
	return "request failed"
}

// GetChat fetches a chat's metadata
func (c *Client) GetChat(ctx context.Context, chatID string) (chat.Chat, error) {
	return do[chat.Chat](ctx, c, http.MethodGet, c.endpoint("chat", chatID), nil)
}

// GetMessages fetches a chat's history in order
func (c *Client) GetMessages(ctx context.Context, chatID string) ([]chat.Message, error) {
	return do[[]chat.Message](ctx, c, http.MethodGet, c.endpoint("chat", chatID, "messages"), nil)
}

// GetMembers fetches a chat's members
func (c *Client) GetMembers(ctx context.Context, chatID string) ([]chat.Member, error) {
	return do[[]chat.Member](ctx, c, http.MethodGet, c.endpoint("chat", chatID, "members"), nil)
}

type sendMessageRequest struct {
	Content string `json:"content" validate:"required"`
}

// SendMessage posts a message and returns the server's copy
func (c *Client) SendMessage(ctx context.Context, chatID, content string) (chat.Message, error) {
	req := sendMessageRequest{Content: content}
	if err := c.check(req); err != nil {
		return chat.Message{}, err
	}
	return do[chat.Message](ctx, c, http.MethodPost, c.endpoint("chat", chatID, "messages"), req)
}

// CreateChatRequest describes a new chat
type CreateChatRequest struct {
	Name        string          `json:"name" validate:"required,max=100"`
	Description string          `json:"description,omitempty" validate:"max=500"`
	Visibility  chat.Visibility `json:"visibility" validate:"required,oneof=public private"`
	IsEncrypted bool            `json:"isEncrypted"`
}

// CreateChat creates a chat owned by the current session
func (c *Client) CreateChat(ctx context.Context, req CreateChatRequest) (chat.Chat, error) {
	if err := c.check(req); err != nil {
		return chat.Chat{}, err
	}
	return do[chat.Chat](ctx, c, http.MethodPost, c.endpoint("chat"), req)
}

// Invite grants access to a chat
type Invite struct {
	ID        string     `json:"id"`
	ChatID    string     `json:"chatId"`
	Code      string     `json:"code"`
	CreatedBy string     `json:"createdBy"`
	MaxUses   int        `json:"maxUses,omitempty"`
	Uses      int        `json:"uses"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// CreateInviteRequest limits a new invite; zero values mean unlimited
type CreateInviteRequest struct {
	MaxUses        int `json:"maxUses,omitempty" validate:"gte=0"`
	ExpiresInHours int `json:"expiresInHours,omitempty" validate:"gte=0,lte=8760"`
}

// ListInvites lists a chat's invites
func (c *Client) ListInvites(ctx context.Context, chatID string) ([]Invite, error) {
	return do[[]Invite](ctx, c, http.MethodGet, c.endpoint("chat", chatID, "invites"), nil)
}

// CreateInvite creates an invite for a chat
func (c *Client) CreateInvite(ctx context.Context, chatID string, req CreateInviteRequest) (Invite, error) {
	if err := c.check(req); err != nil {
		return Invite{}, err
	}
	return do[Invite](ctx, c, http.MethodPost, c.endpoint("chat", chatID, "invites"), req)
}

// DeleteInvite revokes an invite
func (c *Client) DeleteInvite(ctx context.Context, chatID, inviteID string) error {
	_, err := do[json.RawMessage](ctx, c, http.MethodDelete, c.endpoint("chat", chatID, "invites", inviteID), nil)
	return err
}

// InvokeAIRequest asks the assistant to respond in a chat
type InvokeAIRequest struct {
	Prompt     string   `json:"prompt" validate:"required"`
	MessageIDs []string `json:"messageIds,omitempty"`
}

// InvokeAI starts an assistant response. The reply streams in over the
// channel as ai_response frames; the returned message is the placeholder.
func (c *Client) InvokeAI(ctx context.Context, chatID string, req InvokeAIRequest) (chat.Message, error) {
	if err := c.check(req); err != nil {
		return chat.Message{}, err
	}
	return do[chat.Message](ctx, c, http.MethodPost, c.endpoint("chat", chatID, "ai", "invoke"), req)
}

// check validates a request body before it is sent
func (c *Client) check(req any) error {
	err := c.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.ActualTag()))
		}
		return fmt.Errorf("invalid request: %s", strings.Join(fields, ", "))
	}
	return err
}
