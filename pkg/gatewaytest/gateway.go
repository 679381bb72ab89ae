// Package gatewaytest runs an in-process chat gateway for tests and local
// development.
//
// The fake gateway issues ES256 access tokens, keeps a rotating renewal
// cookie per login, and serves an echoing chat API behind bearer
// authentication. Knobs let tests expire every access token, refuse
// renewals, and count calls per path.
//
//	gw, server := gatewaytest.NewServer(t, gatewaytest.Config{})
//	client, _ := gateway.New(gateway.Config{
//	    GatewayURL: server.URL,
//	    Store:      credentials.NewMemoryStore(""),
//	})
//	_ = client.Login(ctx, gatewaytest.DefaultUsername, gatewaytest.DefaultPassword)
//	gw.ExpireAccessTokens()
package gatewaytest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultUsername        = "admin"
	DefaultPassword        = "admin"
	DefaultIssuer          = "chat-gateway"
	DefaultAccessLifetime  = 15 * time.Minute
	DefaultRefreshLifetime = 7 * 24 * time.Hour

	RefreshCookieName = "refresh_token"
)

// User is an account the gateway accepts at login.
type User struct {
	Username string
	Password string
	Roles    []string
}

// Config configures a Gateway. The zero value serves the admin/admin user
// with the gateway's standard lifetimes.
type Config struct {
	Users           []User
	Issuer          string
	AccessLifetime  time.Duration
	RefreshLifetime time.Duration
	SigningKey      *ecdsa.PrivateKey

	// Now replaces the clock, for expiry tests.
	Now func() time.Time
}

type account struct {
	hash  []byte
	roles []string
}

type refreshRecord struct {
	subject    string
	expiration time.Time
}

type message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type session struct {
	userID  string
	history []message
}

// Gateway is the fake gateway's state. It is safe for concurrent use.
type Gateway struct {
	issuer          string
	accessLifetime  time.Duration
	refreshLifetime time.Duration
	signingKey      *ecdsa.PrivateKey
	now             func() time.Time

	mu             sync.Mutex
	accounts       map[string]account
	refresh        map[string]refreshRecord
	sessions       map[string]*session
	generation     int
	rejectRenewals bool
	hits           map[string]int
}

func New(cfg Config) (*Gateway, error) {
	g := &Gateway{
		issuer:          cfg.Issuer,
		accessLifetime:  cfg.AccessLifetime,
		refreshLifetime: cfg.RefreshLifetime,
		signingKey:      cfg.SigningKey,
		now:             cfg.Now,
		accounts:        map[string]account{},
		refresh:         map[string]refreshRecord{},
		sessions:        map[string]*session{},
		hits:            map[string]int{},
	}
	if g.issuer == "" {
		g.issuer = DefaultIssuer
	}
	if g.accessLifetime == 0 {
		g.accessLifetime = DefaultAccessLifetime
	}
	if g.refreshLifetime == 0 {
		g.refreshLifetime = DefaultRefreshLifetime
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.signingKey == nil {
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate key: %w", err)
		}
		g.signingKey = key
	}

	users := cfg.Users
	if len(users) == 0 {
		users = []User{{Username: DefaultUsername, Password: DefaultPassword}}
	}
	for _, user := range users {
		if err := g.AddUser(user); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// NewServer starts g on an httptest server that closes with the test.
func NewServer(t *testing.T, cfg Config) (*Gateway, *httptest.Server) {
	t.Helper()
	g, err := New(cfg)
	if err != nil {
		t.Fatalf("gatewaytest.New failed: %v", err)
	}
	server := httptest.NewServer(g.Router())
	t.Cleanup(server.Close)
	return g, server
}

// AddUser hashes the password and adds or replaces the account. Roles
// default to USER.
func (g *Gateway) AddUser(user User) error {
	// test accounts only
	hash, err := bcrypt.GenerateFromPassword([]byte(user.Password), bcrypt.MinCost)
	if err != nil {
		return fmt.Errorf("hash password for %s: %w", user.Username, err)
	}
	roles := user.Roles
	if len(roles) == 0 {
		roles = []string{"USER"}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.accounts[user.Username] = account{hash: hash, roles: roles}
	return nil
}

// ExpireAccessTokens invalidates every access token issued so far. Renewal
// cookies stay valid.
func (g *Gateway) ExpireAccessTokens() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.generation++
}

// SetRejectRenewals makes the refresh endpoint answer 401 while set.
func (g *Gateway) SetRejectRenewals(reject bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rejectRenewals = reject
}

// Hits reports how many requests reached path.
func (g *Gateway) Hits(path string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.hits[path]
}

// VerificationKey is the public half of the signing key.
func (g *Gateway) VerificationKey() *ecdsa.PublicKey {
	return &g.signingKey.PublicKey
}

// Sessions reports how many chat sessions exist.
func (g *Gateway) Sessions() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}
