// Package chat implements the chat actions a user performs against the
// gateway: creating a session, sending a message, reading history, and
// checking who is logged in. Every call except Health goes through the
// gateway executor and so benefits from transparent token renewal.
package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"git.sr.ht/~jakintosh/chatgate/pkg/claims"
	"git.sr.ht/~jakintosh/chatgate/pkg/gateway"
)

const (
	SessionPath = "/api/chat/session"
	MessagePath = "/api/chat/message"
	HistoryPath = "/api/chat/history/"
	MePath      = "/me"
	HealthPath  = "/health"

	DefaultUserID = "demo-user"
	NoReply       = "[no reply]"
)

var (
	ErrNotLoggedIn     = errors.New("not logged in")
	ErrSessionRequired = errors.New("session ID is required")
	ErrEmptyMessage    = errors.New("message is empty")
)

type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Reply is the gateway's answer to a message. Some chat backends name the
// text "response" instead of "reply"; Text prefers "response".
type Reply struct {
	SessionID string `json:"sessionId"`
	Reply     string `json:"reply"`
	Response  string `json:"response"`
}

// Text is the reply to show, falling back to NoReply.
func (r *Reply) Text() string {
	switch {
	case r.Response != "":
		return r.Response
	case r.Reply != "":
		return r.Reply
	default:
		return NoReply
	}
}

type Me struct {
	Name        string   `json:"name"`
	Authorities []string `json:"authorities"`
}

type Client struct {
	gw *gateway.Client
}

func New(gw *gateway.Client) *Client {
	return &Client{gw: gw}
}

// RequireLogin returns ErrNotLoggedIn when no access token is stored.
func (c *Client) RequireLogin() error {
	token, err := c.gw.Store().Get()
	if err != nil {
		return fmt.Errorf("failed to read token: %w", err)
	}
	if token == "" {
		return ErrNotLoggedIn
	}
	return nil
}

// Identity renders the stored token's subject and expiry without calling
// the gateway.
func (c *Client) Identity() (string, error) {
	token, err := c.gw.Store().Get()
	if err != nil {
		return "", fmt.Errorf("failed to read token: %w", err)
	}
	return claims.Summary(token), nil
}

// CreateSession opens a chat session. An empty userID sends no body and
// leaves the choice to the gateway.
func (c *Client) CreateSession(ctx context.Context, userID string) (string, error) {
	req := gateway.Request{Path: SessionPath, Method: http.MethodPost}
	if userID != "" {
		req.Body = map[string]string{"userId": userID}
	}

	res, err := c.gw.Execute(ctx, req)
	if err != nil {
		return "", err
	}

	var out struct {
		SessionID string `json:"sessionId"`
	}
	if err := res.Decode(&out); err != nil {
		return "", err
	}
	if out.SessionID == "" {
		return "", fmt.Errorf("%w: no sessionId", gateway.ErrMalformedResponse)
	}
	return out.SessionID, nil
}

func (c *Client) SendMessage(ctx context.Context, sessionID string, message string) (*Reply, error) {
	sessionID = strings.TrimSpace(sessionID)
	message = strings.TrimSpace(message)
	if sessionID == "" {
		return nil, ErrSessionRequired
	}
	if message == "" {
		return nil, ErrEmptyMessage
	}

	res, err := c.gw.Execute(ctx, gateway.Request{
		Path:   MessagePath,
		Method: http.MethodPost,
		Body:   map[string]string{"sessionId": sessionID, "message": message},
	})
	if err != nil {
		return nil, err
	}

	reply := &Reply{}
	if err := res.Decode(reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (c *Client) History(ctx context.Context, sessionID string) ([]Message, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, ErrSessionRequired
	}

	res, err := c.gw.Execute(ctx, gateway.Request{Path: HistoryPath + url.PathEscape(sessionID)})
	if err != nil {
		return nil, err
	}

	var history []Message
	if err := res.Decode(&history); err != nil {
		return nil, err
	}
	return history, nil
}

// Me asks the gateway who the current token belongs to.
func (c *Client) Me(ctx context.Context) (*Me, error) {
	res, err := c.gw.Execute(ctx, gateway.Request{Path: MePath})
	if err != nil {
		return nil, err
	}

	me := &Me{}
	if err := res.Decode(me); err != nil {
		return nil, err
	}
	return me, nil
}

// Health fetches the gateway's health text as is, whatever the status.
func (c *Client) Health(ctx context.Context) (string, error) {
	res, err := c.gw.Fetch(ctx, HealthPath)
	if err != nil {
		return "", err
	}
	return string(res.Body), nil
}
