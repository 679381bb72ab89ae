package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"git.sr.ht/~jakintosh/chatgate/pkg/credentials"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Auth performs login and logout. Neither goes through the Executor.
type Auth struct {
	transport *transport
	store     credentials.Store
}

// Login posts the credentials and stores the returned access token. The
// gateway answers with the renewal cookie, which the transport keeps.
// A rejected login is a *[ResponseError] with the gateway's error text.
func (a *Auth) Login(ctx context.Context, username string, password string) error {
	body, err := json.Marshal(LoginRequest{Username: username, Password: password})
	if err != nil {
		return fmt.Errorf("json marshal failure: %v", err)
	}

	res, err := a.transport.do(ctx, http.MethodPost, LoginPath, true, requestHeader(""), body)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer res.Body.Close()

	data, err := readBody(res.Body, a.transport.maxBody)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if !succeeded(res.StatusCode) {
		return &ResponseError{StatusCode: res.StatusCode, Body: string(data)}
	}

	var tokenResponse TokenResponse
	if err := json.Unmarshal(data, &tokenResponse); err != nil {
		return fmt.Errorf("login: %w: %v", ErrMalformedResponse, err)
	}
	if tokenResponse.AccessToken == "" {
		return fmt.Errorf("login: %w", ErrNoAccessToken)
	}

	if err := a.store.Set(tokenResponse.AccessToken); err != nil {
		return fmt.Errorf("login: failed to store token: %w", err)
	}
	_log(LogLevelInfo, "logged in as %q\n", username)
	return nil
}

// Logout tells the gateway to drop the renewal cookie, then clears the
// stored token. The gateway call is best effort: its failure is logged and
// discarded. Only a failure to clear the store is returned.
func (a *Auth) Logout(ctx context.Context) error {
	if err := a.logout(ctx); err != nil {
		_log(LogLevelDebug, "logout request failed, clearing anyway: %v\n", err)
	}
	if err := a.store.Clear(); err != nil {
		return fmt.Errorf("logout: failed to clear token: %w", err)
	}
	return nil
}

func (a *Auth) logout(ctx context.Context) error {
	res, err := a.transport.do(ctx, http.MethodPost, LogoutPath, true, http.Header{}, nil)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if !succeeded(res.StatusCode) {
		data, _ := readBody(res.Body, a.transport.maxBody)
		return &ResponseError{StatusCode: res.StatusCode, Body: string(data)}
	}
	return nil
}
