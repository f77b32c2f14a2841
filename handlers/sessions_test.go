package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"postdeck/gateway"
	"postdeck/models"
	"postdeck/tabs"
	"postdeck/utils"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type testBrowser struct {
	t       *testing.T
	handler http.Handler
	cookies map[string]*http.Cookie
}

func newTestEnv(t *testing.T) (*miniredis.Miniredis, *Env) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return mr, &Env{
		Redis:  client,
		Mailer: utils.LogMailer{},
		Config: utils.Config{SessionTTL: time.Hour},
	}
}

// newBrowser loads the index page once so the browser holds session cookies.
func newBrowser(t *testing.T, env *Env) *testBrowser {
	t.Helper()
	b := &testBrowser{t: t, handler: NewRouter(env), cookies: map[string]*http.Cookie{}}
	rec := b.do(http.MethodGet, "/", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET / status = %d", rec.Code)
	}
	if b.cookies[utils.SessionCookie] == nil || b.cookies[utils.CSRFCookie] == nil || b.cookies[utils.TabScopeCookie] == nil {
		t.Fatalf("GET / did not set session cookies")
	}
	return b
}

func (b *testBrowser) do(method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	b.t.Helper()
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for _, c := range b.cookies {
		req.AddCookie(c)
	}
	if c := b.cookies[utils.CSRFCookie]; c != nil {
		req.Header.Set(utils.CSRFHeader, c.Value)
	}

	rec := httptest.NewRecorder()
	b.handler.ServeHTTP(rec, req)
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 {
			delete(b.cookies, c.Name)
			continue
		}
		b.cookies[c.Name] = c
	}
	return rec
}

func (b *testBrowser) form(method, target string, values url.Values) *httptest.ResponseRecorder {
	b.t.Helper()
	return b.do(method, target, strings.NewReader(values.Encode()), "application/x-www-form-urlencoded")
}

func (b *testBrowser) token() string {
	return b.cookies[utils.SessionCookie].Value
}

// namespace is where the tab state of this browser run lives.
func (b *testBrowser) namespace() string {
	return b.token() + ":" + b.cookies[utils.TabScopeCookie].Value
}

// restart drops the cookies that end with the browser.
func (b *testBrowser) restart() {
	for name, c := range b.cookies {
		if c.MaxAge <= 0 {
			delete(b.cookies, name)
		}
	}
}

func (b *testBrowser) state(env *Env) ([]models.Session, string) {
	b.t.Helper()
	store := tabs.NewStore(tabs.NewRedisStorage(env.Redis, b.namespace(), time.Hour))
	return store.Load(context.Background())
}

func toasts(t *testing.T, rec *httptest.ResponseRecorder) []models.Notice {
	t.Helper()
	header := rec.Header().Get("HX-Trigger")
	if header == "" {
		return nil
	}
	var events struct {
		ShowToast []models.Notice `json:"showToast"`
	}
	if err := json.Unmarshal([]byte(header), &events); err != nil {
		t.Fatalf("invalid HX-Trigger %q: %v", header, err)
	}
	return events.ShowToast
}

func hasToast(notices []models.Notice, title string) bool {
	for _, n := range notices {
		if n.Title == title {
			return true
		}
	}
	return false
}

func TestIndexCreatesDefaultSession(t *testing.T) {
	_, env := newTestEnv(t)
	b := &testBrowser{t: t, handler: NewRouter(env), cookies: map[string]*http.Cookie{}}

	rec := b.do(http.MethodGet, "/", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Session 1") {
		t.Errorf("body does not show the default session")
	}
	if !strings.Contains(body, "Active Session") {
		t.Errorf("body does not show the active session panel")
	}

	sessions, activeID := b.state(env)
	if len(sessions) != 1 || sessions[0].Name != "Session 1" || activeID != sessions[0].ID {
		t.Errorf("persisted state = %+v, active %q", sessions, activeID)
	}

	// Reloading keeps the same state.
	b.do(http.MethodGet, "/", nil, "")
	again, _ := b.state(env)
	if len(again) != 1 || again[0].ID != sessions[0].ID {
		t.Errorf("reload changed state: %+v -> %+v", sessions, again)
	}
}

func TestMutationsRequireCSRF(t *testing.T) {
	_, env := newTestEnv(t)
	b := newBrowser(t, env)

	req := httptest.NewRequest(http.MethodPost, "/sessions", nil)
	req.AddCookie(b.cookies[utils.SessionCookie])
	rec := httptest.NewRecorder()
	b.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}

	sessions, _ := b.state(env)
	if len(sessions) != 1 {
		t.Errorf("unauthorized request changed state: %+v", sessions)
	}
}

func TestAddSelectRemoveSessions(t *testing.T) {
	_, env := newTestEnv(t)
	b := newBrowser(t, env)

	rec := b.do(http.MethodPost, "/sessions", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /sessions status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Session 2") {
		t.Errorf("workspace does not show Session 2")
	}
	notices := toasts(t, rec)
	if len(notices) != 1 || notices[0].Title != "New session created" || notices[0].Description != "Session 2 has been added." {
		t.Errorf("toasts = %+v", notices)
	}

	sessions, activeID := b.state(env)
	if len(sessions) != 2 || activeID != sessions[1].ID {
		t.Fatalf("state after add = %+v, active %q", sessions, activeID)
	}
	first, second := sessions[0].ID, sessions[1].ID

	rec = b.do(http.MethodPost, "/sessions/"+first+"/select", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("select status = %d", rec.Code)
	}
	if _, activeID = b.state(env); activeID != first {
		t.Errorf("active after select = %q, want %q", activeID, first)
	}

	rec = b.do(http.MethodDelete, "/sessions/"+first, nil, "")
	if !hasToast(toasts(t, rec), "Session closed") {
		t.Errorf("toasts = %+v, want Session closed", toasts(t, rec))
	}
	sessions, activeID = b.state(env)
	if len(sessions) != 1 || activeID != second {
		t.Errorf("state after remove = %+v, active %q; want active %q", sessions, activeID, second)
	}

	rec = b.do(http.MethodDelete, "/sessions/"+second, nil, "")
	if !strings.Contains(rec.Body.String(), "No active session") {
		t.Errorf("empty workspace does not show the placeholder")
	}
	if sessions, _ = b.state(env); len(sessions) != 0 {
		t.Errorf("sessions after removing all = %+v", sessions)
	}
}

func TestUpdateToken(t *testing.T) {
	_, env := newTestEnv(t)
	b := newBrowser(t, env)
	sessions, _ := b.state(env)
	id := sessions[0].ID

	rec := b.form(http.MethodPut, "/sessions/"+id+"/token", url.Values{"token": {"  EAAB-token  "}})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Token set") {
		t.Errorf("token status = %q", rec.Body.String())
	}

	sessions, _ = b.state(env)
	if sessions[0].Token != "  EAAB-token  " {
		t.Errorf("token = %q, want it stored as typed", sessions[0].Token)
	}

	rec = b.form(http.MethodPut, "/sessions/"+id+"/token", url.Values{"token": {"   "}})
	if !strings.Contains(rec.Body.String(), "No token") {
		t.Errorf("blank token status = %q", rec.Body.String())
	}
}

func TestLoginLogoutSimulated(t *testing.T) {
	_, env := newTestEnv(t)
	b := newBrowser(t, env)
	sessions, _ := b.state(env)
	id := sessions[0].ID

	rec := b.do(http.MethodPost, "/sessions/"+id+"/login", nil, "")
	if !hasToast(toasts(t, rec), "Login successful") {
		t.Errorf("toasts = %+v, want Login successful", toasts(t, rec))
	}
	if !strings.Contains(rec.Body.String(), "John Doe") {
		t.Errorf("workspace does not show the profile")
	}
	sessions, _ = b.state(env)
	if !sessions[0].IsLoggedIn || sessions[0].ProfileData == nil ||
		sessions[0].ProfileData.ProfilePicture != "https://i.pravatar.cc/300?u="+id {
		t.Errorf("session after login = %+v", sessions[0])
	}

	rec = b.do(http.MethodPost, "/sessions/"+id+"/logout", nil, "")
	if !hasToast(toasts(t, rec), "Logout successful") {
		t.Errorf("toasts = %+v, want Logout successful", toasts(t, rec))
	}
	sessions, _ = b.state(env)
	if sessions[0].IsLoggedIn || sessions[0].ProfileData != nil {
		t.Errorf("session after logout = %+v", sessions[0])
	}

	rec = b.do(http.MethodPost, "/sessions/missing/login", nil, "")
	if !hasToast(toasts(t, rec), "Session not found") {
		t.Errorf("toasts = %+v, want Session not found", toasts(t, rec))
	}
}

func TestLoginWithGateway(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		wantLoggedIn bool
		wantToast    string
		wantName     string
	}{
		{name: "Profile fetched", status: http.StatusOK, wantLoggedIn: true, wantToast: "Login successful", wantName: "Jane Page"},
		{name: "Token rejected", status: http.StatusUnauthorized, wantLoggedIn: false, wantToast: "Login failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotAuth string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotAuth = r.Header.Get("Authorization")
				w.WriteHeader(tt.status)
				if tt.status == http.StatusOK {
					fmt.Fprint(w, `{"name":"Jane Page","email":"jane@example.com","picture":"https://img/jane.png"}`)
				} else {
					fmt.Fprint(w, `{"detail":"invalid token"}`)
				}
			}))
			defer srv.Close()

			_, env := newTestEnv(t)
			env.Gateway = gateway.New(gateway.DefaultEndpoints(srv.URL), srv.Client())
			b := newBrowser(t, env)
			sessions, _ := b.state(env)
			id := sessions[0].ID

			b.form(http.MethodPut, "/sessions/"+id+"/token", url.Values{"token": {" EAAB\n"}})
			rec := b.do(http.MethodPost, "/sessions/"+id+"/login", nil, "")

			if gotAuth != "Bearer EAAB" {
				t.Errorf("gateway Authorization = %q", gotAuth)
			}
			notices := toasts(t, rec)
			if !hasToast(notices, tt.wantToast) {
				t.Errorf("toasts = %+v, want %q", notices, tt.wantToast)
			}
			sessions, _ = b.state(env)
			if sessions[0].IsLoggedIn != tt.wantLoggedIn {
				t.Errorf("IsLoggedIn = %v, want %v", sessions[0].IsLoggedIn, tt.wantLoggedIn)
			}
			if tt.wantName != "" && (sessions[0].ProfileData == nil || sessions[0].ProfileData.Name != tt.wantName) {
				t.Errorf("profile = %+v, want name %q", sessions[0].ProfileData, tt.wantName)
			}
		})
	}
}

func uploadBody(t *testing.T, contentType string, size int, hashtag string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file_upload"; filename="post.png"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("CreatePart() error = %v", err)
	}
	part.Write(bytes.Repeat([]byte{0}, size))

	if err := mw.WriteField("hashtag", hashtag); err != nil {
		t.Fatalf("WriteField() error = %v", err)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestUpload(t *testing.T) {
	_, env := newTestEnv(t)
	b := newBrowser(t, env)
	sessions, _ := b.state(env)
	id := sessions[0].ID
	target := "/sessions/" + id + "/upload"

	body, ct := uploadBody(t, "image/png", 64, "launch")
	rec := b.do(http.MethodPost, target, body, ct)
	if !hasToast(toasts(t, rec), "Login required") {
		t.Errorf("logged out upload toasts = %+v", toasts(t, rec))
	}

	b.do(http.MethodPost, "/sessions/"+id+"/login", nil, "")

	tests := []struct {
		name        string
		contentType string
		hashtag     string
		wantToast   string
	}{
		{name: "Image with hashtag", contentType: "image/png", hashtag: "launch", wantToast: "Post uploaded"},
		{name: "Video without hashtag", contentType: "video/mp4", hashtag: "", wantToast: "Post uploaded"},
		{name: "Document rejected", contentType: "application/pdf", hashtag: "launch", wantToast: "Invalid file"},
		{name: "Hashtag with symbol", contentType: "image/png", hashtag: "#launch", wantToast: "Invalid hashtag"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ct := uploadBody(t, tt.contentType, 64, tt.hashtag)
			rec := b.do(http.MethodPost, target, body, ct)
			if !hasToast(toasts(t, rec), tt.wantToast) {
				t.Errorf("toasts = %+v, want %q", toasts(t, rec), tt.wantToast)
			}
		})
	}
}

func TestVisitPage(t *testing.T) {
	_, env := newTestEnv(t)
	b := newBrowser(t, env)
	sessions, _ := b.state(env)
	id := sessions[0].ID

	rec := b.do(http.MethodPost, "/sessions/"+id+"/visit", nil, "")
	if !hasToast(toasts(t, rec), "Login required") {
		t.Errorf("toasts = %+v, want Login required", toasts(t, rec))
	}

	b.do(http.MethodPost, "/sessions/"+id+"/login", nil, "")
	rec = b.do(http.MethodPost, "/sessions/"+id+"/visit", nil, "")
	if !hasToast(toasts(t, rec), "Opening page") {
		t.Errorf("toasts = %+v, want Opening page", toasts(t, rec))
	}
}

func TestToggleDarkMode(t *testing.T) {
	_, env := newTestEnv(t)
	b := newBrowser(t, env)

	rec := b.do(http.MethodPost, "/darkmode", nil, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := b.cookies["darkmode"]; got == nil || got.Value != "dark" {
		t.Errorf("darkmode cookie = %+v, want dark", got)
	}
	if !strings.Contains(rec.Header().Get("HX-Trigger"), `"themeChanged":"dark"`) {
		t.Errorf("HX-Trigger = %q", rec.Header().Get("HX-Trigger"))
	}

	rec = b.do(http.MethodGet, "/", nil, "")
	if !strings.Contains(rec.Body.String(), `class="dark"`) {
		t.Errorf("page is not rendered dark")
	}

	b.do(http.MethodPost, "/darkmode", nil, "")
	if got := b.cookies["darkmode"]; got == nil || got.Value != "light" {
		t.Errorf("darkmode cookie = %+v, want light", got)
	}
}

func TestTabStateIsPerBrowser(t *testing.T) {
	_, env := newTestEnv(t)
	first := newBrowser(t, env)
	second := newBrowser(t, env)

	first.do(http.MethodPost, "/sessions", nil, "")

	a, _ := first.state(env)
	b, _ := second.state(env)
	if len(a) != 2 || len(b) != 1 {
		t.Errorf("first browser has %d sessions, second %d; want 2 and 1", len(a), len(b))
	}
}

func TestTabStateExpires(t *testing.T) {
	mr, env := newTestEnv(t)
	b := newBrowser(t, env)
	key := "tabs:" + b.namespace() + ":sessions"

	if !mr.Exists(key) {
		t.Fatalf("tab state not stored under the browser session")
	}
	mr.FastForward(2 * time.Hour)
	if mr.Exists(key) {
		t.Errorf("tab state outlived the session ttl")
	}
}

func TestTabStateEndsWithBrowser(t *testing.T) {
	_, env := newTestEnv(t)
	b := newBrowser(t, env)
	b.do(http.MethodPost, "/sessions", nil, "")

	// A persistent session cookie outlives the browser.
	b.cookies[utils.SessionCookie].MaxAge = int(utils.RememberMeTTL.Seconds())
	b.cookies[utils.CSRFCookie].MaxAge = int(utils.RememberMeTTL.Seconds())
	token := b.token()
	b.restart()
	if b.cookies[utils.TabScopeCookie] != nil {
		t.Fatal("tab scope cookie survived the restart")
	}

	rec := b.do(http.MethodGet, "/", nil, "")
	if b.token() != token {
		t.Fatalf("session token changed across restart")
	}
	if strings.Contains(rec.Body.String(), "Session 2") {
		t.Errorf("page restored tabs of the closed browser")
	}
	sessions, _ := b.state(env)
	if len(sessions) != 1 || sessions[0].Name != "Session 1" {
		t.Errorf("state after restart = %+v, want the default session", sessions)
	}
}

func TestConcurrentAddSessionsKeepsEveryTab(t *testing.T) {
	_, env := newTestEnv(t)
	b := newBrowser(t, env)

	cookies := make([]*http.Cookie, 0, len(b.cookies))
	for _, c := range b.cookies {
		cookies = append(cookies, c)
	}
	csrf := b.cookies[utils.CSRFCookie].Value

	const clicks = 10
	var wg sync.WaitGroup
	codes := make(chan int, clicks)
	for range clicks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, "/sessions", nil)
			for _, c := range cookies {
				req.AddCookie(c)
			}
			req.Header.Set(utils.CSRFHeader, csrf)
			rec := httptest.NewRecorder()
			b.handler.ServeHTTP(rec, req)
			codes <- rec.Code
		}()
	}
	wg.Wait()
	close(codes)

	for code := range codes {
		if code != http.StatusOK {
			t.Errorf("POST /sessions status = %d", code)
		}
	}
	sessions, _ := b.state(env)
	if len(sessions) != clicks+1 {
		t.Errorf("sessions = %d, want %d", len(sessions), clicks+1)
	}
}
