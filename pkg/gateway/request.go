package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const (
	AuthPrefix  = "/auth/"
	LoginPath   = "/auth/login"
	RefreshPath = "/auth/refresh"
	LogoutPath  = "/auth/logout"
)

// Request describes one call to the gateway. Body, when non-nil, is sent as
// JSON.
type Request struct {
	Path   string
	Method string
	Body   any
}

// CredentialExchange reports whether the call carries the renewal cookie.
// Only paths under the auth namespace do, so the answer depends on Path
// alone and is the same for a call and its replay.
func (r Request) CredentialExchange() bool {
	return strings.HasPrefix(r.Path, AuthPrefix)
}

func (r Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(r.Method)
}

func (r Request) encodeBody() ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := json.Marshal(r.Body)
	if err != nil {
		return nil, fmt.Errorf("json marshal failure: %v", err)
	}
	return body, nil
}

func requestHeader(token string) http.Header {
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return header
}
