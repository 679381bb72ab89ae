package gateway

import (
	"context"
	"fmt"
	"net/http"

	"git.sr.ht/~jakintosh/chatgate/pkg/credentials"
)

// Executor sends authenticated calls. A call that comes back 401 triggers
// one renewal; if that succeeds the new token is stored and the call is
// replayed once. The replay's outcome is final.
type Executor struct {
	transport *transport
	store     credentials.Store
	renewer   RenewalClient
	metrics   *Metrics
}

/*
Execute sends req with the current access token attached.

Per call it makes one or two requests to req.Path, at most one renewal, and
at most one write to the credential store. A non-2xx final status returns a
*[ResponseError] carrying the status and body text. A 401 whose renewal
fails is returned as that 401.
*/
func (e *Executor) Execute(ctx context.Context, req Request) (*Response, error) {
	method := req.method()
	exchange := req.CredentialExchange()
	body, err := req.encodeBody()
	if err != nil {
		return nil, err
	}

	res, err := e.attempt(ctx, method, req.Path, exchange, body)
	if err != nil {
		e.metrics.request("error")
		return nil, err
	}

	if res.StatusCode == http.StatusUnauthorized {
		res, err = e.renewAndReplay(ctx, res, method, req.Path, exchange, body)
		if err != nil {
			e.metrics.request("error")
			return nil, err
		}
	}
	defer res.Body.Close()

	response, err := finish(res, e.transport.maxBody)
	if err != nil {
		e.metrics.request("error")
		return nil, err
	}
	e.metrics.request("ok")
	return response, nil
}

// renewAndReplay takes the unauthorized response and returns the response
// that is final for the call: the replay, or the original when renewal
// fails.
func (e *Executor) renewAndReplay(
	ctx context.Context,
	unauthorized *http.Response,
	method string,
	path string,
	exchange bool,
	body []byte,
) (*http.Response, error) {
	token, err := e.renewer.Renew(ctx)
	if err != nil {
		_log(LogLevelDebug, "%s %s: unauthorized and renewal failed: %v\n", method, path, err)
		return unauthorized, nil
	}
	unauthorized.Body.Close()

	if err := e.store.Set(token); err != nil {
		return nil, fmt.Errorf("failed to store renewed token: %w", err)
	}

	_log(LogLevelDebug, "%s %s: replaying with renewed token\n", method, path)
	e.metrics.replay()
	return e.attempt(ctx, method, path, exchange, body)
}

func (e *Executor) attempt(
	ctx context.Context,
	method string,
	path string,
	exchange bool,
	body []byte,
) (*http.Response, error) {
	token, err := e.store.Get()
	if err != nil {
		return nil, fmt.Errorf("failed to read token: %w", err)
	}
	return e.transport.do(ctx, method, path, exchange, requestHeader(token), body)
}
