// Package gateway provides authenticated access to a chat gateway.
//
// The gateway issues short-lived access tokens and keeps a long-lived
// renewal cookie on the client. This package attaches the current access
// token to each call, renews it once when a call comes back 401, and replays
// the call with the new token.
//
// # Quick Start
//
// Create a client with a credential store and log in:
//
//	store := credentials.NewMemoryStore("")
//	gw, err := gateway.New(gateway.Config{
//	    GatewayURL: "http://localhost:18081",
//	    Store:      store,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := gw.Login(ctx, "admin", "admin"); err != nil {
//	    log.Fatal(err)
//	}
//
// # Authenticated Calls
//
// Execute sends a Request with the stored token attached:
//
//	res, err := gw.Execute(ctx, gateway.Request{
//	    Path:   "/api/chat/session",
//	    Method: http.MethodPost,
//	    Body:   map[string]string{"userId": "demo-user"},
//	})
//
// If the gateway answers 401, Execute calls the refresh endpoint once. When
// that yields a new token, the token is written to the store and the call is
// replayed once; the replay's result is final, even if it is another 401.
// When renewal fails, the original 401 is returned.
//
// A JSON response is decoded into Response.JSON; anything else is kept as
// Response.Text. Use Response.Decode to unmarshal into a typed value.
//
// # Credential Exchange
//
// Only paths under /auth/ carry cookies. Login, refresh and logout share a
// cookie jar, so the renewal cookie set at login is presented on refresh and
// logout. API calls never send it. Set Config.CookieJar to keep the cookie
// across processes, for example with credentials.SQLiteStore.Jar.
//
// # Error Handling
//
//	res, err := gw.Execute(ctx, req)
//	var respErr *gateway.ResponseError
//	switch {
//	case errors.As(err, &respErr):
//	    // non-2xx from the gateway; respErr.Error() is "HTTP <status>: <body>"
//	case errors.Is(err, gateway.ErrMalformedResponse):
//	    // a JSON content type with a body that is not JSON
//	case err != nil:
//	    // network or credential store failure
//	}
//
// Renewal errors all wrap ErrRenewalFailed. They are never returned from
// Execute; a failed renewal leaves the original 401 as the result.
//
// # Logout
//
// Logout is best effort towards the gateway and always clears the stored
// token:
//
//	_ = gw.Logout(ctx)
package gateway
