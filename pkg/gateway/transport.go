package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"git.sr.ht/~jakintosh/chatgate/pkg/credentials"
)

// transport issues calls against one gateway. Calls with credential
// exchange go through a client with a cookie jar, so the renewal cookie set
// by login is sent back on refresh and logout. All other calls use a client
// with no jar and never carry cookies.
type transport struct {
	baseURL  string
	plain    *http.Client
	exchange *http.Client
	maxBody  int64
}

func newTransport(gatewayURL string, template *http.Client, jar http.CookieJar) (*transport, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(gatewayURL), "/")
	if _, err := credentials.Origin(baseURL); err != nil {
		return nil, err
	}

	if template == nil {
		template = http.DefaultClient
	}

	if jar == nil {
		memoryJar, err := credentials.NewCookieJar()
		if err != nil {
			return nil, err
		}
		jar = memoryJar
	}

	return &transport{
		baseURL: baseURL,
		maxBody: DefaultMaxResponseSize,
		plain: &http.Client{
			Transport:     template.Transport,
			CheckRedirect: template.CheckRedirect,
			Timeout:       template.Timeout,
		},
		exchange: &http.Client{
			Transport:     template.Transport,
			CheckRedirect: template.CheckRedirect,
			Timeout:       template.Timeout,
			Jar:           jar,
		},
	}, nil
}

func (t *transport) client(exchange bool) *http.Client {
	if exchange {
		return t.exchange
	}
	return t.plain
}

func (t *transport) do(
	ctx context.Context,
	method string,
	path string,
	exchange bool,
	header http.Header,
	body []byte,
) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	url := t.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %v", err)
	}
	for key, values := range header {
		req.Header[key] = append([]string(nil), values...)
	}

	_log(LogLevelDebug, "%s %s (credential exchange: %v)\n", method, url, exchange)
	return t.client(exchange).Do(req)
}
