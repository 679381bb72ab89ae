package gateway_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"git.sr.ht/~jakintosh/chatgate/pkg/credentials"
	"git.sr.ht/~jakintosh/chatgate/pkg/gateway"
)

// call is one request seen by the test gateway.
type call struct {
	Method        string
	Path          string
	Authorization string
	ContentType   string
	Cookies       []*http.Cookie
	Body          string
}

// recorder is an httptest handler that records each request and answers
// with the responder for that request's index on its path.
type recorder struct {
	mu        sync.Mutex
	calls     []call
	responder func(w http.ResponseWriter, r *http.Request, n int)
	perPath   map[string]int
}

func (rec *recorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	r.Body = io.NopCloser(bytes.NewReader(body))

	rec.mu.Lock()
	rec.calls = append(rec.calls, call{
		Method:        r.Method,
		Path:          r.URL.Path,
		Authorization: r.Header.Get("Authorization"),
		ContentType:   r.Header.Get("Content-Type"),
		Cookies:       r.Cookies(),
		Body:          string(body),
	})
	if rec.perPath == nil {
		rec.perPath = map[string]int{}
	}
	n := rec.perPath[r.URL.Path]
	rec.perPath[r.URL.Path] = n + 1
	rec.mu.Unlock()

	rec.responder(w, r, n)
}

func (rec *recorder) callsTo(path string) []call {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	var out []call
	for _, c := range rec.calls {
		if c.Path == path {
			out = append(out, c)
		}
	}
	return out
}

// fakeRenewer returns a fixed outcome and counts calls.
type fakeRenewer struct {
	token string
	err   error
	calls atomic.Int32
}

func (f *fakeRenewer) Renew(ctx context.Context) (string, error) {
	f.calls.Add(1)
	return f.token, f.err
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

func setupExecutor(
	t *testing.T,
	token string,
	renewer gateway.RenewalClient,
	responder func(w http.ResponseWriter, r *http.Request, n int),
) (*gateway.Client, *credentials.MemoryStore, *recorder) {
	t.Helper()
	rec := &recorder{responder: responder}
	server := httptest.NewServer(rec)
	t.Cleanup(server.Close)

	store := credentials.NewMemoryStore(token)
	client, err := gateway.New(gateway.Config{
		GatewayURL: server.URL,
		Store:      store,
		Renewer:    renewer,
	})
	if err != nil {
		t.Fatalf("gateway.New failed: %v", err)
	}
	return client, store, rec
}

func TestExecute_NoCredential(t *testing.T) {
	t.Parallel()
	renewer := &fakeRenewer{}
	client, _, rec := setupExecutor(t, "", renewer, func(w http.ResponseWriter, r *http.Request, n int) {
		writeJSON(w, http.StatusOK, `{}`)
	})

	if _, err := client.Execute(context.Background(), gateway.Request{Path: "/api/chat/session", Method: "POST"}); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	calls := rec.callsTo("/api/chat/session")
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}

	// no Authorization header without a token
	if calls[0].Authorization != "" {
		t.Errorf("expected no Authorization header, got %q", calls[0].Authorization)
	}

	// content type is always JSON
	if calls[0].ContentType != "application/json" {
		t.Errorf("expected JSON content type, got %q", calls[0].ContentType)
	}

	// no cookies on API paths
	if len(calls[0].Cookies) != 0 {
		t.Errorf("expected no cookies, got %v", calls[0].Cookies)
	}

	// nil body sends nothing
	if calls[0].Body != "" {
		t.Errorf("expected empty body, got %q", calls[0].Body)
	}
}

func TestExecute_ValidCredential_JSON(t *testing.T) {
	t.Parallel()
	renewer := &fakeRenewer{}
	client, _, rec := setupExecutor(t, "valid", renewer, func(w http.ResponseWriter, r *http.Request, n int) {
		writeJSON(w, http.StatusOK, `{"sessionId":"abc"}`)
	})

	res, err := client.Execute(context.Background(), gateway.Request{
		Path:   "/api/chat/session",
		Method: http.MethodPost,
		Body:   map[string]string{"userId": "demo-user"},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	// JSON response is decoded
	obj, ok := res.JSON.(map[string]any)
	if !ok || obj["sessionId"] != "abc" {
		t.Errorf("unexpected decoded body: %#v", res.JSON)
	}

	// typed decoding works on the same response
	var typed struct {
		SessionID string `json:"sessionId"`
	}
	if err := res.Decode(&typed); err != nil || typed.SessionID != "abc" {
		t.Errorf("Decode failed: %v, %+v", err, typed)
	}

	// bearer header carries the stored token
	calls := rec.callsTo("/api/chat/session")
	if calls[0].Authorization != "Bearer valid" {
		t.Errorf("unexpected Authorization header: %q", calls[0].Authorization)
	}

	// body is JSON encoded
	if calls[0].Body != `{"userId":"demo-user"}` {
		t.Errorf("unexpected body: %q", calls[0].Body)
	}

	// no renewal on success
	if renewer.calls.Load() != 0 {
		t.Errorf("expected no renewal, got %d", renewer.calls.Load())
	}
}

func TestExecute_TextResponse(t *testing.T) {
	t.Parallel()
	client, _, _ := setupExecutor(t, "valid", &fakeRenewer{}, func(w http.ResponseWriter, r *http.Request, n int) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, "pong")
	})

	res, err := client.Execute(context.Background(), gateway.Request{Path: "/api/ping"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	// non-JSON body is returned as text
	if res.IsJSON() || res.Text != "pong" || res.JSON != nil {
		t.Errorf("unexpected response: %+v", res)
	}
}

func TestExecute_MalformedJSON(t *testing.T) {
	t.Parallel()
	client, _, _ := setupExecutor(t, "valid", &fakeRenewer{}, func(w http.ResponseWriter, r *http.Request, n int) {
		writeJSON(w, http.StatusOK, `not json`)
	})

	// a JSON content type with a non-JSON body fails
	_, err := client.Execute(context.Background(), gateway.Request{Path: "/api/x"})
	if !errors.Is(err, gateway.ErrMalformedResponse) {
		t.Errorf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestExecute_RenewAndReplay(t *testing.T) {
	t.Parallel()
	renewer := &fakeRenewer{token: "new123"}
	client, store, rec := setupExecutor(t, "expired", renewer, func(w http.ResponseWriter, r *http.Request, n int) {
		if r.Header.Get("Authorization") != "Bearer new123" {
			writeJSON(w, http.StatusUnauthorized, `{"error":"invalid_token"}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"sessionId":"s1","reply":"hi"}`)
	})

	res, err := client.Execute(context.Background(), gateway.Request{
		Path:   "/api/chat/message",
		Method: "post",
		Body:   map[string]string{"sessionId": "s1", "message": "hello"},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	// result is the replay's decoded body
	obj, _ := res.JSON.(map[string]any)
	if obj["reply"] != "hi" {
		t.Errorf("unexpected result: %#v", res.JSON)
	}

	// store holds the renewed token
	if got, _ := store.Get(); got != "new123" {
		t.Errorf("expected store to hold new123, got %q", got)
	}

	// exactly one renewal
	if renewer.calls.Load() != 1 {
		t.Errorf("expected 1 renewal, got %d", renewer.calls.Load())
	}

	// exactly one replay, with the new header and the same request
	calls := rec.callsTo("/api/chat/message")
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[0].Authorization != "Bearer expired" {
		t.Errorf("first attempt used %q", calls[0].Authorization)
	}
	if calls[1].Authorization != "Bearer new123" {
		t.Errorf("replay used %q", calls[1].Authorization)
	}
	if calls[0].Method != http.MethodPost || calls[1].Method != http.MethodPost {
		t.Errorf("methods differ: %s / %s", calls[0].Method, calls[1].Method)
	}
	if calls[0].Body != calls[1].Body {
		t.Errorf("bodies differ: %q / %q", calls[0].Body, calls[1].Body)
	}
	if len(calls[1].Cookies) != 0 {
		t.Errorf("replay on API path carried cookies: %v", calls[1].Cookies)
	}
}

func TestExecute_RenewalFails(t *testing.T) {
	t.Parallel()
	renewer := &fakeRenewer{err: errors.New("network unreachable")}
	client, store, rec := setupExecutor(t, "expired", renewer, func(w http.ResponseWriter, r *http.Request, n int) {
		writeJSON(w, http.StatusUnauthorized, `{"error":"token expired"}`)
	})

	_, err := client.Execute(context.Background(), gateway.Request{Path: "/api/chat/history/abc"})

	// the original 401 is the result
	var respErr *gateway.ResponseError
	if !errors.As(err, &respErr) {
		t.Fatalf("expected ResponseError, got %v", err)
	}
	if respErr.StatusCode != http.StatusUnauthorized || respErr.Body != `{"error":"token expired"}` {
		t.Errorf("unexpected error: %+v", respErr)
	}
	if err.Error() != `HTTP 401: {"error":"token expired"}` {
		t.Errorf("unexpected message: %q", err.Error())
	}

	// no replay
	if n := len(rec.callsTo("/api/chat/history/abc")); n != 1 {
		t.Errorf("expected 1 call, got %d", n)
	}

	// store unchanged
	if got, _ := store.Get(); got != "expired" {
		t.Errorf("expected store unchanged, got %q", got)
	}
}

func TestExecute_ReplayUnauthorized_NoSecondRenewal(t *testing.T) {
	t.Parallel()
	renewer := &fakeRenewer{token: "still-bad"}
	client, store, rec := setupExecutor(t, "expired", renewer, func(w http.ResponseWriter, r *http.Request, n int) {
		writeJSON(w, http.StatusUnauthorized, `{"error":"attempt"}`)
	})

	_, err := client.Execute(context.Background(), gateway.Request{Path: "/api/x"})

	// replay's 401 is final
	var respErr *gateway.ResponseError
	if !errors.As(err, &respErr) || respErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 ResponseError, got %v", err)
	}

	// bounded: one renewal, two target calls
	if renewer.calls.Load() != 1 {
		t.Errorf("expected 1 renewal, got %d", renewer.calls.Load())
	}
	if n := len(rec.callsTo("/api/x")); n != 2 {
		t.Errorf("expected 2 calls, got %d", n)
	}

	// the renewed token was still stored
	if got, _ := store.Get(); got != "still-bad" {
		t.Errorf("expected renewed token in store, got %q", got)
	}
}

func TestExecute_OtherFailures_NotRenewed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
	}{
		{"forbidden", http.StatusForbidden},
		{"not found", http.StatusNotFound},
		{"server error", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			renewer := &fakeRenewer{token: "new"}
			client, _, _ := setupExecutor(t, "valid", renewer, func(w http.ResponseWriter, r *http.Request, n int) {
				w.Header().Set("Content-Type", "text/plain")
				w.WriteHeader(tt.status)
				io.WriteString(w, "boom")
			})

			_, err := client.Execute(context.Background(), gateway.Request{Path: "/api/x"})

			// status and body are surfaced verbatim
			var respErr *gateway.ResponseError
			if !errors.As(err, &respErr) || respErr.StatusCode != tt.status || respErr.Body != "boom" {
				t.Errorf("unexpected error: %v", err)
			}

			// only 401 triggers renewal
			if renewer.calls.Load() != 0 {
				t.Errorf("expected no renewal, got %d", renewer.calls.Load())
			}
		})
	}
}

func TestExecute_StoreWriteFailure(t *testing.T) {
	t.Parallel()
	rec := &recorder{responder: func(w http.ResponseWriter, r *http.Request, n int) {
		writeJSON(w, http.StatusUnauthorized, `{}`)
	}}
	server := httptest.NewServer(rec)
	t.Cleanup(server.Close)

	client, err := gateway.New(gateway.Config{
		GatewayURL: server.URL,
		Store:      &failingStore{token: "expired"},
		Renewer:    &fakeRenewer{token: "new"},
	})
	if err != nil {
		t.Fatalf("gateway.New failed: %v", err)
	}

	// a store that cannot be written aborts the call before replay
	_, err = client.Execute(context.Background(), gateway.Request{Path: "/api/x"})
	if !errors.Is(err, errStoreFull) {
		t.Errorf("expected store error, got %v", err)
	}
	if n := len(rec.callsTo("/api/x")); n != 1 {
		t.Errorf("expected 1 call, got %d", n)
	}
}

func TestExecute_ResponseSizeLimit(t *testing.T) {
	t.Parallel()
	body := "0123456789abcdef"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		if r.URL.Path == "/over" {
			io.WriteString(w, body+"!")
			return
		}
		io.WriteString(w, body)
	}))
	t.Cleanup(server.Close)

	client, err := gateway.New(gateway.Config{
		GatewayURL:      server.URL,
		Store:           credentials.NewMemoryStore("valid"),
		Renewer:         &fakeRenewer{},
		MaxResponseSize: int64(len(body)),
	})
	if err != nil {
		t.Fatalf("gateway.New failed: %v", err)
	}

	// a body at the limit is returned whole
	res, err := client.Execute(context.Background(), gateway.Request{Path: "/exact"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if res.Text != body {
		t.Errorf("expected %q, got %q", body, res.Text)
	}

	// one byte more is an error, not a truncated body
	if _, err := client.Execute(context.Background(), gateway.Request{Path: "/over"}); !errors.Is(err, gateway.ErrResponseTooLarge) {
		t.Errorf("expected ErrResponseTooLarge, got %v", err)
	}
	if _, err := client.Fetch(context.Background(), "/over"); !errors.Is(err, gateway.ErrResponseTooLarge) {
		t.Errorf("expected ErrResponseTooLarge from Fetch, got %v", err)
	}
}

func TestExecute_UnencodableBody(t *testing.T) {
	t.Parallel()
	client, _, rec := setupExecutor(t, "", &fakeRenewer{}, func(w http.ResponseWriter, r *http.Request, n int) {
		writeJSON(w, http.StatusOK, `{}`)
	})

	// a body that cannot be marshalled is rejected before any request
	_, err := client.Execute(context.Background(), gateway.Request{Path: "/api/x", Method: "POST", Body: make(chan int)})
	if err == nil {
		t.Fatal("expected marshal error")
	}
	if n := len(rec.callsTo("/api/x")); n != 0 {
		t.Errorf("expected no calls, got %d", n)
	}
}

func TestRequest_CredentialExchange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want bool
	}{
		{"/auth/login", true},
		{"/auth/refresh", true},
		{"/auth/", true},
		{"/auth", false},
		{"/api/chat/session", false},
		{"/api/auth/login", false},
		{"/health", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := gateway.Request{Path: tt.path}
			if got := req.CredentialExchange(); got != tt.want {
				t.Errorf("CredentialExchange(%q) = %v, want %v", tt.path, got, tt.want)
			}
			// same answer for the replay
			if req.CredentialExchange() != req.CredentialExchange() {
				t.Errorf("CredentialExchange(%q) is not stable", tt.path)
			}
		})
	}
}

func TestResponseError_Message(t *testing.T) {
	t.Parallel()
	err := &gateway.ResponseError{StatusCode: 404, Body: "Not Found"}
	if err.Error() != "HTTP 404: Not Found" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

var errStoreFull = errors.New("store full")

type failingStore struct {
	token string
}

func (s *failingStore) Get() (string, error) { return s.token, nil }
func (s *failingStore) Set(string) error     { return errStoreFull }
func (s *failingStore) Clear() error         { return errStoreFull }
