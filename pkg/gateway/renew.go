package gateway

import (
	"context"
	"encoding/json"
	"net/http"
)

// RenewalClient obtains a fresh access token. It does not store it.
type RenewalClient interface {
	Renew(ctx context.Context) (string, error)
}

// TokenResponse is the body returned by login and refresh.
type TokenResponse struct {
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType,omitempty"`
	ExpiresIn   int64  `json:"expiresIn,omitempty"`
	Subject     string `json:"sub,omitempty"`
}

// Renewer calls the gateway's refresh endpoint with the renewal cookie the
// gateway set at login.
type Renewer struct {
	transport *transport
	metrics   *Metrics
}

/*
Renew exchanges the renewal cookie for a new access token.

Every failure wraps [ErrRenewalFailed]. The additional cause
([ErrRenewalRejected], [ErrRenewalTransport], [ErrRenewalMalformed]) is for
logs only; callers should treat all of them as "cannot renew now".
*/
func (r *Renewer) Renew(ctx context.Context) (string, error) {
	token, err := r.renew(ctx)
	if err != nil {
		_log(LogLevelInfo, "renewal: %v\n", err)
		r.metrics.renewal(renewalReason(err))
		return "", err
	}
	r.metrics.renewal("ok")
	return token, nil
}

func (r *Renewer) renew(ctx context.Context) (string, error) {
	res, err := r.transport.do(ctx, http.MethodPost, RefreshPath, true, http.Header{}, nil)
	if err != nil {
		return "", renewalError(ErrRenewalTransport, "%v", err)
	}
	defer res.Body.Close()

	if !succeeded(res.StatusCode) {
		return "", renewalError(ErrRenewalRejected, "HTTP %d", res.StatusCode)
	}

	data, err := readBody(res.Body, r.transport.maxBody)
	if err != nil {
		return "", renewalError(ErrRenewalTransport, "%v", err)
	}

	var tokenResponse TokenResponse
	if err := json.Unmarshal(data, &tokenResponse); err != nil {
		return "", renewalError(ErrRenewalMalformed, "%v", err)
	}
	if tokenResponse.AccessToken == "" {
		return "", renewalError(ErrRenewalMalformed, "%v", ErrNoAccessToken)
	}
	return tokenResponse.AccessToken, nil
}
