package client

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ChannelURL builds {wsBase}/api/chat/{chatId}/ws?session={token}&sessionId={id}.
// The session parameter is only present when auth carries a bearer token;
// sessionId is always present.
func ChannelURL(wsBase, chatID string, auth AuthSource) (string, error) {
	if strings.TrimSpace(chatID) == "" {
		return "", errors.New("chat id is empty")
	}

	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(wsBase), "/"))
	if err != nil {
		return "", fmt.Errorf("invalid websocket base %q: %w", wsBase, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported websocket scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("missing host in websocket base %q", wsBase)
	}

	base := u.EscapedPath()
	u.Path = u.Path + "/api/chat/" + chatID + "/ws"
	u.RawPath = base + "/api/chat/" + url.PathEscape(chatID) + "/ws"

	q := url.Values{}
	if auth != nil {
		if token := auth.BearerToken(); token != "" {
			q.Set("session", token)
		}
		q.Set("sessionId", auth.SessionID())
	} else {
		q.Set("sessionId", "")
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// WebSocketBase converts an http(s) API base into the matching ws(s) base
func WebSocketBase(apiBase string) (string, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(apiBase), "/"))
	if err != nil {
		return "", fmt.Errorf("invalid api base %q: %w", apiBase, err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported api scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("missing host in api base %q", apiBase)
	}

	return u.String(), nil
}

// ProbeAddress returns host:port for the network monitor's reachability probe
func ProbeAddress(wsBase string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(wsBase))
	if err != nil {
		return "", fmt.Errorf("invalid websocket base %q: %w", wsBase, err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("missing host in websocket base %q", wsBase)
	}

	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "wss", "https":
			port = "443"
		default:
			port = "80"
		}
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}

// redactURL hides query credentials before a URL reaches the logs
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	if u.RawQuery != "" {
		u.RawQuery = "<redacted>"
	}
	return u.String()
}
