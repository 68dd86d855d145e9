package identity

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/juicebox/juicechat/pkg/client"
)

// Provider owns the local session identity and the optional authenticated
// session. It satisfies client.AuthSource.
type Provider struct {
	state client.StateInterface

	mu        sync.Mutex
	sessionID string
	auth      client.AuthState
	now       func() time.Time
	logger    *log.Logger
}

// NewProvider loads the persisted session id, generating and storing a new
// one on first run, and loads any persisted auth blob.
func NewProvider(state client.StateInterface) (*Provider, error) {
	sessionID := state.GetSessionID()
	if sessionID == "" {
		sessionID = uuid.NewString()
		if err := state.SetSessionID(sessionID); err != nil {
			return nil, fmt.Errorf("failed to persist session id: %w", err)
		}
	}

	auth, err := state.LoadAuth()
	if err != nil {
		return nil, fmt.Errorf("failed to load auth: %w", err)
	}

	return &Provider{
		state:     state,
		sessionID: sessionID,
		auth:      auth,
		now:       time.Now,
	}, nil
}

// SetLogger sets a logger for auth events
func (p *Provider) SetLogger(logger *log.Logger) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logger = logger
}

// SetClock replaces the clock used for token expiry checks
func (p *Provider) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// SessionID returns the anonymous per-install session id
func (p *Provider) SessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionID
}

// BearerToken returns the authenticated session token, or "" when anonymous.
// An expired token is discarded and the persisted auth cleared.
func (p *Provider) BearerToken() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.auth.Token == "" {
		return ""
	}
	if TokenExpired(p.auth.Token, p.now()) {
		if p.logger != nil {
			p.logger.Printf("Session token expired, continuing anonymously")
		}
		p.auth = client.AuthState{}
		if err := p.state.ClearAuth(); err != nil && p.logger != nil {
			p.logger.Printf("Failed to clear expired auth: %v", err)
		}
		return ""
	}
	return p.auth.Token
}

// IsAuthenticated reports whether a usable bearer token is held
func (p *Provider) IsAuthenticated() bool {
	return p.BearerToken() != ""
}

// Login stores an authenticated session. address is the wallet address and
// may be empty.
func (p *Provider) Login(token, address string) error {
	auth := client.AuthState{Token: token, Address: address}
	if err := p.state.SaveAuth(auth); err != nil {
		return fmt.Errorf("failed to save auth: %w", err)
	}

	p.mu.Lock()
	p.auth = auth
	p.mu.Unlock()
	return nil
}

// Logout drops the authenticated session; the anonymous session id is kept
func (p *Provider) Logout() error {
	if err := p.state.ClearAuth(); err != nil {
		return fmt.Errorf("failed to clear auth: %w", err)
	}

	p.mu.Lock()
	p.auth = client.AuthState{}
	p.mu.Unlock()
	return nil
}

// Reload re-reads the persisted auth blob, e.g. after another process
// logged in or out
func (p *Provider) Reload() error {
	auth, err := p.state.LoadAuth()
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.auth = auth
	p.mu.Unlock()
	return nil
}

// CurrentUserAddress returns the wallet address when one is known and the
// session-derived pseudo address otherwise
func (p *Provider) CurrentUserAddress() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if wallet := strings.ToLower(p.auth.Address); IsAddress(wallet) {
		return wallet
	}
	return AddressFromSessionID(p.sessionID)
}

// TokenExpired reports whether a JWT's exp claim is at or before now.
// The signature is not checked; the backend remains the authority. Tokens
// that are not JWTs or carry no exp never expire locally.
func TokenExpired(token string, now time.Time) bool {
	parsed, _, err := gojwt.NewParser().ParseUnverified(token, gojwt.MapClaims{})
	if err != nil {
		return false
	}

	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !now.Before(exp.Time)
}
