package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"supportchat/internal/auth"
	"supportchat/internal/config"
	"supportchat/internal/service/chat"
	"supportchat/internal/service/responder"
	"supportchat/internal/storage"
)

type mockCompletion struct {
	reply string
	err   error
	calls int
}

func (m *mockCompletion) Complete(ctx context.Context, prompt string) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	return m.reply, nil
}

func newTestServer(t *testing.T) (*gin.Engine, *sql.DB, *mockCompletion) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}

	completion := &mockCompletion{reply: "Mock completion reply"}
	chatService := chat.NewService(db, responder.New(completion))
	authService := auth.NewService(db, nil, time.Hour)
	handler := NewHandler(chatService, authService)

	router := gin.New()
	handler.RegisterRoutes(router)
	return router, db, completion
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func doFormRequest(t *testing.T, router *gin.Engine, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v", err)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status %d (want %d), body: %s", rec.Code, want, rec.Body.String())
	}
}

// signupAndLogin registers a fresh user through the HTML forms and returns
// the session token as a Bearer header (bearer requests are CSRF-exempt).
func signupAndLogin(t *testing.T, router *gin.Engine, username string) (string, map[string]string) {
	t.Helper()
	email := username + "@example.com"
	password := "pass123"

	signupResp := doFormRequest(t, router, "/signup", url.Values{
		"username": {username},
		"email":    {email},
		"password": {password},
	})
	assertStatus(t, signupResp, http.StatusSeeOther)
	if loc := signupResp.Header().Get("Location"); loc != "/login" {
		t.Fatalf("expected signup redirect to /login, got %q", loc)
	}

	loginResp := doFormRequest(t, router, "/login", url.Values{
		"email":    {email},
		"password": {password},
	})
	assertStatus(t, loginResp, http.StatusSeeOther)
	if loc := loginResp.Header().Get("Location"); loc != "/dashboard" {
		t.Fatalf("expected login redirect to /dashboard, got %q", loc)
	}

	var token string
	for _, ck := range loginResp.Result().Cookies() {
		if ck.Name == "session_token" {
			token = ck.Value
		}
	}
	if token == "" {
		t.Fatalf("login did not set a session cookie")
	}
	return token, map[string]string{"Authorization": "Bearer " + token}
}

func TestSignupLoginFlow(t *testing.T) {
	router, db, _ := newTestServer(t)
	defer db.Close()

	homeResp := doJSONRequest(t, router, http.MethodGet, "/", nil, nil)
	assertStatus(t, homeResp, http.StatusOK)

	token, _ := signupAndLogin(t, router, "alice")

	// Duplicate signup re-renders the form with a flash message.
	dupResp := doFormRequest(t, router, "/signup", url.Values{
		"username": {"alice"},
		"email":    {"fresh@example.com"},
		"password": {"pw"},
	})
	assertStatus(t, dupResp, http.StatusConflict)
	if !strings.Contains(dupResp.Body.String(), "already exists") {
		t.Fatalf("missing conflict flash: %s", dupResp.Body.String())
	}

	// Bad credentials re-render the login form.
	badLogin := doFormRequest(t, router, "/login", url.Values{
		"email":    {"alice@example.com"},
		"password": {"wrong"},
	})
	assertStatus(t, badLogin, http.StatusUnauthorized)
	if !strings.Contains(badLogin.Body.String(), "Invalid email or password") {
		t.Fatalf("missing auth flash: %s", badLogin.Body.String())
	}

	// Dashboard renders for the session cookie, redirects without it.
	dashReq := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	dashReq.AddCookie(&http.Cookie{Name: "session_token", Value: token})
	dashRec := httptest.NewRecorder()
	router.ServeHTTP(dashRec, dashReq)
	assertStatus(t, dashRec, http.StatusOK)
	if !strings.Contains(dashRec.Body.String(), "alice") {
		t.Fatalf("dashboard missing username: %s", dashRec.Body.String())
	}

	anonDash := doJSONRequest(t, router, http.MethodGet, "/dashboard", nil, nil)
	assertStatus(t, anonDash, http.StatusSeeOther)
	if loc := anonDash.Header().Get("Location"); loc != "/login" {
		t.Fatalf("expected redirect to /login, got %q", loc)
	}
}

func TestChatFAQEscalationAndHistory(t *testing.T) {
	router, db, completion := newTestServer(t)
	defer db.Close()

	_, authHeader := signupAndLogin(t, router, "bob")

	// FAQ keyword answered verbatim, no escalation row.
	faqResp := doJSONRequest(t, router, http.MethodPost, "/chat",
		map[string]string{"message": "What are your hours?"}, authHeader)
	assertStatus(t, faqResp, http.StatusOK)
	var faqBody struct {
		Status string `json:"status"`
		Reply  string `json:"reply"`
	}
	decodeJSON(t, faqResp.Body.Bytes(), &faqBody)
	if faqBody.Status != "done" {
		t.Fatalf("expected status done, got %q", faqBody.Status)
	}
	if faqBody.Reply != "Our support is available 9am–5pm Monday–Friday." {
		t.Fatalf("unexpected FAQ reply: %q", faqBody.Reply)
	}
	if completion.calls != 0 {
		t.Fatalf("completion called for an FAQ message")
	}

	// Escalation trigger flags the stored user row.
	escResp := doJSONRequest(t, router, http.MethodPost, "/chat",
		map[string]string{"message": "I need help"}, authHeader)
	assertStatus(t, escResp, http.StatusOK)
	var escBody struct {
		Reply string `json:"reply"`
	}
	decodeJSON(t, escResp.Body.Bytes(), &escBody)
	if escBody.Reply != responder.EscalationReply {
		t.Fatalf("unexpected escalation reply: %q", escBody.Reply)
	}
	var flagged int
	if err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE request_human = 1 AND handled = 0`).Scan(&flagged); err != nil {
		t.Fatalf("count escalations: %v", err)
	}
	if flagged != 1 {
		t.Fatalf("expected 1 flagged row, got %d", flagged)
	}

	// Anything else goes to the completion client.
	aiResp := doJSONRequest(t, router, http.MethodPost, "/chat",
		map[string]string{"message": "tell me a joke"}, authHeader)
	assertStatus(t, aiResp, http.StatusOK)
	var aiBody struct {
		Reply string `json:"reply"`
	}
	decodeJSON(t, aiResp.Body.Bytes(), &aiBody)
	if aiBody.Reply != "Mock completion reply" {
		t.Fatalf("unexpected fallback reply: %q", aiBody.Reply)
	}
	if completion.calls != 1 {
		t.Fatalf("expected one completion call, got %d", completion.calls)
	}

	// History interleaves user and bot turns in ascending order.
	histResp := doJSONRequest(t, router, http.MethodGet, "/chat/history", nil, authHeader)
	assertStatus(t, histResp, http.StatusOK)
	var entries []struct {
		Sender    string    `json:"sender"`
		Text      string    `json:"text"`
		Timestamp time.Time `json:"timestamp"`
	}
	decodeJSON(t, histResp.Body.Bytes(), &entries)
	if len(entries) != 6 {
		t.Fatalf("expected 6 history rows, got %d", len(entries))
	}
	for i, e := range entries {
		wantSender := "user"
		if i%2 == 1 {
			wantSender = "bot"
		}
		if e.Sender != wantSender {
			t.Fatalf("row %d: expected sender %s, got %s", i, wantSender, e.Sender)
		}
		if i > 0 && entries[i-1].Timestamp.After(e.Timestamp) {
			t.Fatalf("history not ascending at row %d", i)
		}
	}
	if entries[0].Text != "What are your hours?" {
		t.Fatalf("unexpected first row: %+v", entries[0])
	}

	// Blank message is rejected and writes nothing.
	blankResp := doJSONRequest(t, router, http.MethodPost, "/chat",
		map[string]string{"message": "   "}, authHeader)
	assertStatus(t, blankResp, http.StatusBadRequest)
	if !strings.Contains(blankResp.Body.String(), "Empty message") {
		t.Fatalf("missing empty-message error: %s", blankResp.Body.String())
	}
	var total int
	if err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&total); err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if total != 6 {
		t.Fatalf("expected 6 rows after rejected message, got %d", total)
	}
}

func TestChatUpstreamFailureStaysInBand(t *testing.T) {
	router, db, completion := newTestServer(t)
	defer db.Close()

	_, authHeader := signupAndLogin(t, router, "carol")
	completion.err = errors.New("completion down")

	resp := doJSONRequest(t, router, http.MethodPost, "/chat",
		map[string]string{"message": "tell me a joke"}, authHeader)
	assertStatus(t, resp, http.StatusOK)
	var body struct {
		Status string `json:"status"`
		Reply  string `json:"reply"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	if body.Status != "done" {
		t.Fatalf("upstream failure must not break the contract, got status %q", body.Status)
	}
	if !strings.HasPrefix(body.Reply, "[Error] ") || !strings.Contains(body.Reply, "completion down") {
		t.Fatalf("expected in-band error reply, got %q", body.Reply)
	}
}

// Cookie-authenticated mutations must present the double-submit CSRF pair.
// Bearer requests bypass the check, so the cookie path needs its own coverage.
func TestChatCSRFCookieEnforcement(t *testing.T) {
	router, db, _ := newTestServer(t)
	defer db.Close()

	signupResp := doFormRequest(t, router, "/signup", url.Values{
		"username": {"henry"},
		"email":    {"henry@example.com"},
		"password": {"pass123"},
	})
	assertStatus(t, signupResp, http.StatusSeeOther)
	loginResp := doFormRequest(t, router, "/login", url.Values{
		"email":    {"henry@example.com"},
		"password": {"pass123"},
	})
	assertStatus(t, loginResp, http.StatusSeeOther)

	var sessionCookie, csrfCookie *http.Cookie
	for _, ck := range loginResp.Result().Cookies() {
		switch ck.Name {
		case "session_token":
			sessionCookie = ck
		case "csrf_token":
			csrfCookie = ck
		}
	}
	if sessionCookie == nil || csrfCookie == nil {
		t.Fatalf("login did not set both session and csrf cookies")
	}

	post := func(csrfHeader string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/chat",
			strings.NewReader(`{"message": "What are your hours?"}`))
		req.Header.Set("Content-Type", "application/json")
		req.AddCookie(sessionCookie)
		req.AddCookie(csrfCookie)
		if csrfHeader != "" {
			req.Header.Set("X-CSRF-Token", csrfHeader)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	// Missing or mismatched header is rejected before the handler runs.
	assertStatus(t, post(""), http.StatusForbidden)
	assertStatus(t, post("not-the-cookie-value"), http.StatusForbidden)
	var total int
	if err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&total); err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if total != 0 {
		t.Fatalf("rejected requests wrote %d rows", total)
	}

	// Header matching the cookie goes through.
	okResp := post(csrfCookie.Value)
	assertStatus(t, okResp, http.StatusOK)
	var body struct {
		Status string `json:"status"`
	}
	decodeJSON(t, okResp.Body.Bytes(), &body)
	if body.Status != "done" {
		t.Fatalf("expected status done, got %q", body.Status)
	}
}

func TestChatRequiresSession(t *testing.T) {
	router, db, _ := newTestServer(t)
	defer db.Close()

	resp := doJSONRequest(t, router, http.MethodPost, "/chat",
		map[string]string{"message": "hi"}, nil)
	assertStatus(t, resp, http.StatusUnauthorized)

	resp = doJSONRequest(t, router, http.MethodGet, "/chat/history", nil, nil)
	assertStatus(t, resp, http.StatusUnauthorized)
}

func TestAdminRoutesForbiddenForNonAdmin(t *testing.T) {
	router, db, _ := newTestServer(t)
	defer db.Close()

	_, authHeader := signupAndLogin(t, router, "dave")

	resp := doJSONRequest(t, router, http.MethodGet, "/admin/requests", nil, authHeader)
	assertStatus(t, resp, http.StatusForbidden)

	resp = doJSONRequest(t, router, http.MethodPost, "/admin/requests/1/handle", nil, authHeader)
	assertStatus(t, resp, http.StatusForbidden)

	// The HTML dashboard answers with a plain body, not the JSON error.
	resp = doJSONRequest(t, router, http.MethodGet, "/admin-dashboard", nil, authHeader)
	assertStatus(t, resp, http.StatusForbidden)
	if got := resp.Body.String(); got != "Unauthorized" {
		t.Fatalf("expected plain Unauthorized body, got %q", got)
	}

	// Without any session the admin API is unauthorized, not forbidden.
	resp = doJSONRequest(t, router, http.MethodGet, "/admin/requests", nil, nil)
	assertStatus(t, resp, http.StatusUnauthorized)
}

func TestAdminReviewFlow(t *testing.T) {
	router, db, _ := newTestServer(t)
	defer db.Close()

	_, userHeader := signupAndLogin(t, router, "erin")
	escResp := doJSONRequest(t, router, http.MethodPost, "/chat",
		map[string]string{"message": "I want to talk to a human"}, userHeader)
	assertStatus(t, escResp, http.StatusOK)

	_, adminHeader := signupAndLogin(t, router, "frank")
	if _, err := db.Exec(`UPDATE users SET is_admin = 1 WHERE username = ?`, "frank"); err != nil {
		t.Fatalf("promote admin: %v", err)
	}

	listResp := doJSONRequest(t, router, http.MethodGet, "/admin/requests", nil, adminHeader)
	assertStatus(t, listResp, http.StatusOK)
	var pending []struct {
		ID        int64     `json:"id"`
		User      string    `json:"user"`
		Text      string    `json:"text"`
		Timestamp time.Time `json:"timestamp"`
	}
	decodeJSON(t, listResp.Body.Bytes(), &pending)
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending request, got %d", len(pending))
	}
	if pending[0].User != "erin" || pending[0].Text != "I want to talk to a human" {
		t.Fatalf("unexpected pending entry: %+v", pending[0])
	}

	handleResp := doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/admin/requests/%d/handle", pending[0].ID), nil, adminHeader)
	assertStatus(t, handleResp, http.StatusOK)
	if !strings.Contains(handleResp.Body.String(), "success") {
		t.Fatalf("missing success status: %s", handleResp.Body.String())
	}

	listResp = doJSONRequest(t, router, http.MethodGet, "/admin/requests", nil, adminHeader)
	assertStatus(t, listResp, http.StatusOK)
	pending = pending[:0]
	decodeJSON(t, listResp.Body.Bytes(), &pending)
	if len(pending) != 0 {
		t.Fatalf("expected no pending requests after resolve, got %d", len(pending))
	}

	// Re-resolving is accepted; unknown ids are not found.
	handleResp = doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/admin/requests/%d/handle", 1), nil, adminHeader)
	assertStatus(t, handleResp, http.StatusOK)

	missingResp := doJSONRequest(t, router, http.MethodPost, "/admin/requests/9999/handle", nil, adminHeader)
	assertStatus(t, missingResp, http.StatusNotFound)

	// Ids that cannot name a message are not found either.
	badIDResp := doJSONRequest(t, router, http.MethodPost, "/admin/requests/abc/handle", nil, adminHeader)
	assertStatus(t, badIDResp, http.StatusNotFound)

	negIDResp := doJSONRequest(t, router, http.MethodPost, "/admin/requests/-1/handle", nil, adminHeader)
	assertStatus(t, negIDResp, http.StatusNotFound)
}

func TestLogoutRevokesSession(t *testing.T) {
	router, db, _ := newTestServer(t)
	defer db.Close()

	token, authHeader := signupAndLogin(t, router, "grace")

	logoutReq := httptest.NewRequest(http.MethodGet, "/logout", nil)
	logoutReq.AddCookie(&http.Cookie{Name: "session_token", Value: token})
	logoutRec := httptest.NewRecorder()
	router.ServeHTTP(logoutRec, logoutReq)
	assertStatus(t, logoutRec, http.StatusSeeOther)
	if loc := logoutRec.Header().Get("Location"); loc != "/" {
		t.Fatalf("expected redirect to /, got %q", loc)
	}

	resp := doJSONRequest(t, router, http.MethodGet, "/chat/history", nil, authHeader)
	assertStatus(t, resp, http.StatusUnauthorized)
}
