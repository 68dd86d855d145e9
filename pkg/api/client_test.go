package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/juicebox/juicechat/pkg/chat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAuth struct {
	session string
	token   string
}

func (a testAuth) SessionID() string   { return a.session }
func (a testAuth) BearerToken() string { return a.token }

type recorded struct {
	method  string
	path    string
	rawPath string
	session string
	auth    string
	body    string
}

func newTestClient(t *testing.T, auth testAuth, handler func(w http.ResponseWriter, r *http.Request)) (*Client, *[]recorded) {
	t.Helper()
	var reqs []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		reqs = append(reqs, recorded{
			method:  r.Method,
			path:    r.URL.Path,
			rawPath: r.URL.EscapedPath(),
			session: r.Header.Get(SessionHeader),
			auth:    r.Header.Get("Authorization"),
			body:    string(body),
		})
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	c, err := New(srv.URL+"/api/", auth)
	require.NoError(t, err)
	c.SetHTTPClient(srv.Client())
	return c, &reqs
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ok(data any) map[string]any {
	return map[string]any{"success": true, "data": data}
}

func TestNewRejectsBadBase(t *testing.T) {
	for _, base := range []string{"ftp://example.com", "://bad", "example.com"} {
		_, err := New(base, nil)
		assert.Error(t, err, base)
	}
}

func TestHeaders(t *testing.T) {
	tests := []struct {
		name     string
		auth     testAuth
		wantAuth string
	}{
		{"anonymous", testAuth{session: "sess-1"}, ""},
		{"signed in", testAuth{session: "sess-1", token: "tok"}, "Bearer tok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, reqs := newTestClient(t, tt.auth, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, ok(map[string]any{"id": "c1", "name": "general"}))
			})

			got, err := c.GetChat(context.Background(), "c1")
			require.NoError(t, err)
			assert.Equal(t, "general", got.Name)

			require.Len(t, *reqs, 1)
			r := (*reqs)[0]
			assert.Equal(t, http.MethodGet, r.method)
			assert.Equal(t, "/api/chat/c1", r.path)
			assert.Equal(t, "sess-1", r.session)
			assert.Equal(t, tt.wantAuth, r.auth)
		})
	}
}

func TestEndpoints(t *testing.T) {
	c, reqs := newTestClient(t, testAuth{session: "s"}, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/chat/c1/messages":
			if r.Method == http.MethodPost {
				writeJSON(w, http.StatusCreated, ok(map[string]any{"id": "m9", "content": "hi"}))
				return
			}
			writeJSON(w, http.StatusOK, ok([]map[string]any{{"id": "m1"}, {"id": "m2"}}))
		case "/api/chat/c1/members":
			writeJSON(w, http.StatusOK, ok([]map[string]any{{"address": "0x1", "role": "founder"}}))
		case "/api/chat":
			writeJSON(w, http.StatusOK, ok(map[string]any{"id": "new", "name": "room"}))
		case "/api/chat/c1/invites":
			if r.Method == http.MethodPost {
				writeJSON(w, http.StatusOK, ok(map[string]any{"id": "i1", "code": "abc"}))
				return
			}
			writeJSON(w, http.StatusOK, ok([]map[string]any{{"id": "i1"}}))
		case "/api/chat/c1/invites/i1":
			writeJSON(w, http.StatusOK, map[string]any{"success": true})
		case "/api/chat/c1/ai/invoke":
			writeJSON(w, http.StatusOK, ok(map[string]any{"id": "ai1", "role": "assistant", "isStreaming": true}))
		default:
			writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": "no route"})
		}
	})
	ctx := context.Background()

	messages, err := c.GetMessages(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, messages, 2)

	members, err := c.GetMembers(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, chat.MemberFounder, members[0].Role)

	sent, err := c.SendMessage(ctx, "c1", "hi")
	require.NoError(t, err)
	assert.Equal(t, "m9", sent.ID)

	created, err := c.CreateChat(ctx, CreateChatRequest{Name: "room", Visibility: chat.VisibilityPrivate})
	require.NoError(t, err)
	assert.Equal(t, "new", created.ID)

	invites, err := c.ListInvites(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, invites, 1)

	invite, err := c.CreateInvite(ctx, "c1", CreateInviteRequest{MaxUses: 5})
	require.NoError(t, err)
	assert.Equal(t, "abc", invite.Code)

	require.NoError(t, c.DeleteInvite(ctx, "c1", "i1"))

	ai, err := c.InvokeAI(ctx, "c1", InvokeAIRequest{Prompt: "summarize"})
	require.NoError(t, err)
	assert.True(t, ai.IsStreaming)

	methods := make([]string, len(*reqs))
	for i, r := range *reqs {
		methods[i] = r.method + " " + r.path
	}
	assert.Equal(t, []string{
		"GET /api/chat/c1/messages",
		"GET /api/chat/c1/members",
		"POST /api/chat/c1/messages",
		"POST /api/chat",
		"GET /api/chat/c1/invites",
		"POST /api/chat/c1/invites",
		"DELETE /api/chat/c1/invites/i1",
		"POST /api/chat/c1/ai/invoke",
	}, methods)
	assert.JSONEq(t, `{"content":"hi"}`, (*reqs)[2].body)
	assert.JSONEq(t, `{"name":"room","visibility":"private","isEncrypted":false}`, (*reqs)[3].body)
}

func TestPathEscaping(t *testing.T) {
	c, reqs := newTestClient(t, testAuth{}, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, ok([]any{}))
	})

	_, err := c.GetMessages(context.Background(), "a/b c")
	require.NoError(t, err)
	assert.Equal(t, "/api/chat/a%2Fb%20c/messages", (*reqs)[0].rawPath)
}

func TestErrors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantStatus  int
		wantMessage string
		notFound    bool
	}{
		{"string error", http.StatusForbidden, `{"success":false,"error":"not a member"}`, 403, "not a member", false},
		{"object error", http.StatusBadRequest, `{"success":false,"error":{"message":"bad name"}}`, 400, "bad name", false},
		{"not found", http.StatusNotFound, `{"success":false,"error":"chat not found"}`, 404, "chat not found", true},
		{"plain text", http.StatusBadGateway, "upstream down\n", 502, "upstream down", false},
		{"empty body", http.StatusInternalServerError, "", 500, "Internal Server Error", false},
		{"success false on 200", http.StatusOK, `{"success":false,"error":"quota exceeded"}`, 200, "quota exceeded", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, testAuth{}, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			_, err := c.GetChat(context.Background(), "c1")
			var apiErr *Error
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.wantStatus, apiErr.Status)
			assert.Equal(t, tt.wantMessage, apiErr.Message)
			assert.Equal(t, tt.notFound, errors.Is(err, ErrNotFound))
		})
	}
}

func TestMalformedSuccessBody(t *testing.T) {
	c, _ := newTestClient(t, testAuth{}, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<html>")
	})

	_, err := c.GetChat(context.Background(), "c1")
	require.Error(t, err)
	var apiErr *Error
	assert.False(t, errors.As(err, &apiErr))
}

func TestRequestValidation(t *testing.T) {
	c, reqs := newTestClient(t, testAuth{}, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, ok(nil))
	})
	ctx := context.Background()

	_, err := c.SendMessage(ctx, "c1", "")
	assert.ErrorContains(t, err, "Content failed required")

	_, err = c.CreateChat(ctx, CreateChatRequest{Name: "x", Visibility: "secret"})
	assert.ErrorContains(t, err, "Visibility failed oneof")

	_, err = c.CreateInvite(ctx, "c1", CreateInviteRequest{MaxUses: -1})
	assert.ErrorContains(t, err, "MaxUses failed gte")

	_, err = c.InvokeAI(ctx, "c1", InvokeAIRequest{})
	assert.Error(t, err)

	assert.Empty(t, *reqs)
}

func TestContextCancel(t *testing.T) {
	c, _ := newTestClient(t, testAuth{}, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, ok(nil))
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.GetChat(ctx, "c1")
	assert.ErrorIs(t, err, context.Canceled)
}
