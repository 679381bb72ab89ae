package chat_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"git.sr.ht/~jakintosh/chatgate/pkg/chat"
	"git.sr.ht/~jakintosh/chatgate/pkg/credentials"
	"git.sr.ht/~jakintosh/chatgate/pkg/gateway"
	"git.sr.ht/~jakintosh/chatgate/pkg/gatewaytest"
)

func setupChat(t *testing.T) (*chat.Client, *gatewaytest.Gateway, credentials.Store) {
	t.Helper()
	g, server := gatewaytest.NewServer(t, gatewaytest.Config{})

	store := credentials.NewMemoryStore("")
	gw, err := gateway.New(gateway.Config{GatewayURL: server.URL, Store: store})
	if err != nil {
		t.Fatalf("gateway.New failed: %v", err)
	}
	return chat.New(gw), g, store
}

func newLoggedIn(t *testing.T) (*chat.Client, *gatewaytest.Gateway, *gateway.Client) {
	t.Helper()
	g, server := gatewaytest.NewServer(t, gatewaytest.Config{})

	gw, err := gateway.New(gateway.Config{GatewayURL: server.URL, Store: credentials.NewMemoryStore("")})
	if err != nil {
		t.Fatalf("gateway.New failed: %v", err)
	}
	if err := gw.Login(context.Background(), gatewaytest.DefaultUsername, gatewaytest.DefaultPassword); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	return chat.New(gw), g, gw
}

func TestRequireLogin(t *testing.T) {
	t.Parallel()
	c, _, store := setupChat(t)

	// empty store refuses
	if err := c.RequireLogin(); !errors.Is(err, chat.ErrNotLoggedIn) {
		t.Errorf("expected ErrNotLoggedIn, got %v", err)
	}

	// any stored token passes
	_ = store.Set("something")
	if err := c.RequireLogin(); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestConversation(t *testing.T) {
	t.Parallel()
	c, _, _ := newLoggedIn(t)
	ctx := context.Background()

	sessionID, err := c.CreateSession(ctx, chat.DefaultUserID)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	reply, err := c.SendMessage(ctx, sessionID, "  hello  ")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	// message is trimmed before sending
	if reply.Text() != "You said: 'hello'. (turn 1)" {
		t.Errorf("unexpected reply: %q", reply.Text())
	}

	history, err := c.History(ctx, sessionID)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}

	// history holds both sides in order
	if len(history) != 2 || history[0].Role != "user" || history[1].Role != "assistant" {
		t.Fatalf("unexpected history: %+v", history)
	}
	if history[0].Timestamp.IsZero() {
		t.Error("history entry has no timestamp")
	}
}

func TestCreateSession_NoUserID(t *testing.T) {
	t.Parallel()
	c, g, _ := newLoggedIn(t)

	// the gateway accepts a bodyless create
	if _, err := c.CreateSession(context.Background(), ""); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if g.Sessions() != 1 {
		t.Errorf("expected 1 session, got %d", g.Sessions())
	}
}

func TestRenewalIsTransparent(t *testing.T) {
	t.Parallel()
	c, g, gw := newLoggedIn(t)
	ctx := context.Background()
	before, _ := gw.Store().Get()

	g.ExpireAccessTokens()
	sessionID, err := c.CreateSession(ctx, chat.DefaultUserID)
	if err != nil {
		t.Fatalf("CreateSession failed after expiry: %v", err)
	}
	if sessionID == "" {
		t.Fatal("no session id")
	}

	// one renewal and one replay
	if g.Hits(gateway.RefreshPath) != 1 {
		t.Errorf("expected 1 refresh, got %d", g.Hits(gateway.RefreshPath))
	}
	if g.Hits(chat.SessionPath) != 2 {
		t.Errorf("expected 2 session calls, got %d", g.Hits(chat.SessionPath))
	}

	// the renewed token replaced the old one
	after, _ := gw.Store().Get()
	if after == "" || after == before {
		t.Error("stored token was not replaced")
	}
}

func TestRenewalRejected(t *testing.T) {
	t.Parallel()
	c, g, gw := newLoggedIn(t)
	before, _ := gw.Store().Get()

	g.ExpireAccessTokens()
	g.SetRejectRenewals(true)
	_, err := c.Me(context.Background())

	// the original 401 surfaces
	var respErr *gateway.ResponseError
	if !errors.As(err, &respErr) || respErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 ResponseError, got %v", err)
	}
	if !strings.Contains(err.Error(), "invalid_token") {
		t.Errorf("expected gateway error text, got %q", err.Error())
	}

	// store untouched, no replay
	if after, _ := gw.Store().Get(); after != before {
		t.Error("stored token changed after failed renewal")
	}
	if g.Hits(chat.MePath) != 1 {
		t.Errorf("expected 1 call to /me, got %d", g.Hits(chat.MePath))
	}
}

func TestMeAndIdentity(t *testing.T) {
	t.Parallel()
	c, _, _ := newLoggedIn(t)

	me, err := c.Me(context.Background())
	if err != nil {
		t.Fatalf("Me failed: %v", err)
	}
	if me.Name != "admin" {
		t.Errorf("unexpected name: %q", me.Name)
	}

	// identity is read from the token locally
	identity, err := c.Identity()
	if err != nil {
		t.Fatalf("Identity failed: %v", err)
	}
	if !strings.HasPrefix(identity, "sub: admin, exp: ") || strings.HasSuffix(identity, "-") {
		t.Errorf("unexpected identity: %q", identity)
	}
}

func TestValidation(t *testing.T) {
	t.Parallel()
	c, g, _ := newLoggedIn(t)
	ctx := context.Background()

	// blank session id is caught before any call
	if _, err := c.SendMessage(ctx, "  ", "hi"); !errors.Is(err, chat.ErrSessionRequired) {
		t.Errorf("expected ErrSessionRequired, got %v", err)
	}
	if _, err := c.History(ctx, ""); !errors.Is(err, chat.ErrSessionRequired) {
		t.Errorf("expected ErrSessionRequired, got %v", err)
	}

	// blank message too
	if _, err := c.SendMessage(ctx, "abc", " "); !errors.Is(err, chat.ErrEmptyMessage) {
		t.Errorf("expected ErrEmptyMessage, got %v", err)
	}
	if g.Hits(chat.MessagePath) != 0 {
		t.Errorf("expected no message calls, got %d", g.Hits(chat.MessagePath))
	}

	// unknown session is the gateway's 404
	_, err := c.History(ctx, "missing")
	var respErr *gateway.ResponseError
	if !errors.As(err, &respErr) || respErr.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()
	c, _, _ := setupChat(t)

	// health needs no login
	text, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if !strings.Contains(text, `"status":"UP"`) {
		t.Errorf("unexpected health text: %q", text)
	}
}

func TestReplyText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		reply chat.Reply
		want  string
	}{
		{chat.Reply{Reply: "r"}, "r"},
		{chat.Reply{Response: "p", Reply: "r"}, "p"},
		{chat.Reply{}, chat.NoReply},
	}

	for _, tt := range tests {
		if got := tt.reply.Text(); got != tt.want {
			t.Errorf("Text() = %q, want %q", got, tt.want)
		}
	}
}
