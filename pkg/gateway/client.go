package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"git.sr.ht/~jakintosh/chatgate/pkg/credentials"
)

// Config configures a Client.
type Config struct {
	// GatewayURL is the gateway's base URL, e.g. "http://localhost:18081".
	GatewayURL string

	// Store holds the access token. Required.
	Store credentials.Store

	// HTTPClient supplies the transport, timeout and redirect policy. Its
	// cookie jar is ignored. Defaults to http.DefaultClient.
	HTTPClient *http.Client

	// CookieJar holds the renewal cookie for credential exchange. Defaults
	// to an in-memory jar.
	CookieJar http.CookieJar

	// Renewer replaces the gateway's refresh endpoint, mainly for tests.
	Renewer RenewalClient

	// Metrics is optional.
	Metrics *Metrics

	// MaxResponseSize bounds a response body in bytes. A larger body fails
	// the call with ErrResponseTooLarge. Defaults to DefaultMaxResponseSize.
	MaxResponseSize int64
}

// Client bundles the executor, the renewer and login/logout for one
// gateway. Login, refresh and logout share one cookie jar.
type Client struct {
	transport *transport
	store     credentials.Store
	executor  *Executor
	auth      *Auth
	renewer   RenewalClient
}

func New(cfg Config) (*Client, error) {
	if cfg.Store == nil {
		return nil, errors.New("gateway: Store is required")
	}

	t, err := newTransport(cfg.GatewayURL, cfg.HTTPClient, cfg.CookieJar)
	if err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	}
	if cfg.MaxResponseSize > 0 {
		t.maxBody = cfg.MaxResponseSize
	}

	renewer := cfg.Renewer
	if renewer == nil {
		renewer = &Renewer{transport: t, metrics: cfg.Metrics}
	}

	return &Client{
		transport: t,
		store:     cfg.Store,
		renewer:   renewer,
		executor: &Executor{
			transport: t,
			store:     cfg.Store,
			renewer:   renewer,
			metrics:   cfg.Metrics,
		},
		auth: &Auth{transport: t, store: cfg.Store},
	}, nil
}

func (c *Client) BaseURL() string          { return c.transport.baseURL }
func (c *Client) Store() credentials.Store { return c.store }
func (c *Client) Executor() *Executor      { return c.executor }
func (c *Client) Renewer() RenewalClient   { return c.renewer }
func (c *Client) Auth() *Auth              { return c.auth }

func (c *Client) Execute(ctx context.Context, req Request) (*Response, error) {
	return c.executor.Execute(ctx, req)
}

func (c *Client) Login(ctx context.Context, username string, password string) error {
	return c.auth.Login(ctx, username, password)
}

func (c *Client) Logout(ctx context.Context) error {
	return c.auth.Logout(ctx)
}

// Fetch performs a plain GET with no token, no cookies and no renewal. The
// response is returned whatever its status.
func (c *Client) Fetch(ctx context.Context, path string) (*Response, error) {
	res, err := c.transport.do(ctx, http.MethodGet, path, false, http.Header{}, nil)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	return newResponse(res, c.transport.maxBody)
}
