package gatewaytest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"
)

type contextKey struct{}

// Router builds the gateway's routes.
func (g *Gateway) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(g.count)

	r.HandleFunc("/health", g.health).Methods(http.MethodGet)

	auth := r.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/login", g.login).Methods(http.MethodPost)
	auth.HandleFunc("/refresh", g.renew).Methods(http.MethodPost)
	auth.HandleFunc("/logout", g.logout).Methods(http.MethodPost)

	r.Handle("/me", g.requireToken(http.HandlerFunc(g.me))).Methods(http.MethodGet)

	chat := r.PathPrefix("/api/chat").Subrouter()
	chat.Use(g.requireToken)
	chat.HandleFunc("/session", g.createSession).Methods(http.MethodPost)
	chat.HandleFunc("/message", g.sendMessage).Methods(http.MethodPost)
	chat.HandleFunc("/history/{sessionId}", g.history).Methods(http.MethodGet)

	return r
}

type TokenResponse struct {
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType"`
	ExpiresIn   int64  `json:"expiresIn"`
	Subject     string `json:"sub"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CreateSessionRequest struct {
	UserID string `json:"userId"`
}

type CreateSessionResponse struct {
	SessionID string `json:"sessionId"`
}

type MessageRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

type MessageResponse struct {
	SessionID string `json:"sessionId"`
	Reply     string `json:"reply"`
}

type MeResponse struct {
	Name        string   `json:"name"`
	Authorities []string `json:"authorities"`
}

func (g *Gateway) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		g.hits[r.URL.Path]++
		g.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (g *Gateway) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			logApiErr(r, "missing bearer token")
			returnError(w, http.StatusUnauthorized, "invalid_token")
			return
		}

		g.mu.Lock()
		generation := g.generation
		g.mu.Unlock()

		claims, err := parseAccessToken(g.VerificationKey(), token, g.now(), generation)
		if err != nil {
			logApiErr(r, err.Error())
			returnError(w, http.StatusUnauthorized, "invalid_token")
			return
		}

		ctx := context.WithValue(r.Context(), contextKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (g *Gateway) health(w http.ResponseWriter, r *http.Request) {
	returnJson(map[string]string{"status": "UP"}, w)
}

func (g *Gateway) login(w http.ResponseWriter, r *http.Request) {
	req := LoginRequest{}
	if ok := decodeRequest(&req, w, r); !ok {
		return
	}

	g.mu.Lock()
	acct, found := g.accounts[req.Username]
	g.mu.Unlock()
	if !found || bcrypt.CompareHashAndPassword(acct.hash, []byte(req.Password)) != nil {
		logApiErr(r, "password check failed")
		returnError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}

	g.issueTokens(w, r, req.Username)
}

func (g *Gateway) renew(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(RefreshCookieName)
	if err != nil || cookie.Value == "" {
		logApiErr(r, "no refresh cookie")
		returnError(w, http.StatusUnauthorized, "missing_refresh_token")
		return
	}

	// consume the cookie's record; renewal always rotates
	g.mu.Lock()
	record, found := g.refresh[cookie.Value]
	delete(g.refresh, cookie.Value)
	reject := g.rejectRenewals
	g.mu.Unlock()

	switch {
	case reject:
		logApiErr(r, "renewals rejected")
		returnError(w, http.StatusUnauthorized, "invalid_refresh_token")
		return
	case !found || !g.now().Before(record.expiration):
		logApiErr(r, "refresh token unknown or expired")
		returnError(w, http.StatusUnauthorized, "invalid_refresh_token")
		return
	}

	g.issueTokens(w, r, record.subject)
}

func (g *Gateway) logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(RefreshCookieName); err == nil {
		g.mu.Lock()
		delete(g.refresh, cookie.Value)
		g.mu.Unlock()
	}
	http.SetCookie(w, g.refreshCookie("", -1))
	returnJson(map[string]bool{"ok": true}, w)
}

func (g *Gateway) me(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(contextKey{}).(*accessClaims)
	authorities := make([]string, len(claims.Roles))
	for i, role := range claims.Roles {
		authorities[i] = "ROLE_" + role
	}
	returnJson(MeResponse{Name: claims.Subject, Authorities: authorities}, w)
}

func (g *Gateway) createSession(w http.ResponseWriter, r *http.Request) {
	req := CreateSessionRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		logApiErr(r, "bad json request")
		returnError(w, http.StatusBadRequest, "bad_request")
		return
	}
	if req.UserID == "" {
		req.UserID = "anonymous"
	}

	id := uuid.NewString()
	g.mu.Lock()
	g.sessions[id] = &session{userID: req.UserID}
	g.mu.Unlock()

	returnJson(CreateSessionResponse{SessionID: id}, w)
}

func (g *Gateway) sendMessage(w http.ResponseWriter, r *http.Request) {
	req := MessageRequest{}
	if ok := decodeRequest(&req, w, r); !ok {
		return
	}
	if len(req.SessionID) == 0 || len(req.SessionID) > 64 ||
		len(req.Message) == 0 || len(req.Message) > 5000 {
		logApiErr(r, "validation failed")
		returnError(w, http.StatusBadRequest, "validation_failed")
		return
	}

	g.mu.Lock()
	s, found := g.sessions[req.SessionID]
	if !found {
		g.mu.Unlock()
		logApiErr(r, "unknown session")
		returnError(w, http.StatusNotFound, "session_not_found")
		return
	}
	now := g.now()
	s.history = append(s.history, message{Role: "user", Content: req.Message, Timestamp: now})
	reply := echoReply(s.history)
	s.history = append(s.history, message{Role: "assistant", Content: reply, Timestamp: now})
	g.mu.Unlock()

	returnJson(MessageResponse{SessionID: req.SessionID, Reply: reply}, w)
}

func (g *Gateway) history(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["sessionId"]

	g.mu.Lock()
	s, found := g.sessions[id]
	var history []message
	if found {
		history = append([]message{}, s.history...)
	}
	g.mu.Unlock()

	if !found {
		logApiErr(r, "unknown session")
		returnError(w, http.StatusNotFound, "session_not_found")
		return
	}
	returnJson(history, w)
}

func (g *Gateway) issueTokens(w http.ResponseWriter, r *http.Request, subject string) {
	now := g.now()

	g.mu.Lock()
	roles := g.accounts[subject].roles
	generation := g.generation
	g.mu.Unlock()

	accessToken, err := issueAccessToken(g.signingKey, accessClaims{
		Issuer:     g.issuer,
		Subject:    subject,
		IssuedAt:   now.Unix(),
		Expiration: now.Add(g.accessLifetime).Unix(),
		Roles:      roles,
		Generation: generation,
	})
	if err != nil {
		logApiErr(r, err.Error())
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	refreshID := uuid.NewString()
	g.mu.Lock()
	g.refresh[refreshID] = refreshRecord{subject: subject, expiration: now.Add(g.refreshLifetime)}
	g.mu.Unlock()

	http.SetCookie(w, g.refreshCookie(refreshID, int(g.refreshLifetime.Seconds())))
	returnJson(TokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(g.accessLifetime.Seconds()),
		Subject:     subject,
	}, w)
}

func (g *Gateway) refreshCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     RefreshCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// echoReply is the dummy model: it repeats the latest user message and
// numbers the user's turns.
func echoReply(history []message) string {
	turns := 0
	last := ""
	for _, m := range history {
		if m.Role == "user" {
			turns++
			last = m.Content
		}
	}
	return fmt.Sprintf("You said: '%s'. (turn %d)", last, turns)
}

func decodeRequest[T any](req *T, w http.ResponseWriter, r *http.Request) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		logApiErr(r, "bad json request")
		returnError(w, http.StatusBadRequest, "bad_request")
		return false
	}
	return true
}

func returnJson(data any, w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func returnError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: code})
}

func logApiErr(r *http.Request, msg string) {
	log.Printf("%s %s: %s\n", r.Method, r.RequestURI, msg)
}
