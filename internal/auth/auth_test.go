package auth

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lox/planti/internal/store"
)

var testSecret = []byte("test-secret")

type captureMailer struct {
	email string
	link  string
	err   error
}

func (m *captureMailer) SendMagicLink(ctx context.Context, email, link string) error {
	m.email = email
	m.link = link
	return m.err
}

func setupService(t *testing.T) (*Service, *captureMailer) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s := store.New(db)
	if err := s.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	mailer := &captureMailer{}
	return NewService(s, mailer, testSecret, "http://localhost:3000/"), mailer
}

func tokenFromLink(t *testing.T, link string) string {
	t.Helper()
	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("parse link %q: %v", link, err)
	}
	if u.Path != "/auth/verify" {
		t.Errorf("link path = %q, want /auth/verify", u.Path)
	}
	return u.Query().Get("token")
}

func TestGenerateAndParseToken(t *testing.T) {
	tok, err := GenerateToken(42, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	id, err := UserIDFromToken(tok, testSecret)
	if err != nil {
		t.Fatalf("UserIDFromToken: %v", err)
	}
	if id != 42 {
		t.Errorf("user id = %d, want 42", id)
	}
}

func TestUserIDFromToken_Rejects(t *testing.T) {
	expired, err := GenerateToken(1, testSecret, -time.Second)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	valid, err := GenerateToken(1, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	tests := []struct {
		name   string
		token  string
		secret []byte
	}{
		{"expired", expired, testSecret},
		{"wrong secret", valid, []byte("other")},
		{"garbage", "not-a-jwt", testSecret},
		{"empty", "", testSecret},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := UserIDFromToken(tt.token, tt.secret); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("err = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestMagicLinkFlow(t *testing.T) {
	svc, mailer := setupService(t)
	ctx := context.Background()

	if err := svc.RequestMagicLink(ctx, "Grower@Example.com"); err != nil {
		t.Fatalf("RequestMagicLink: %v", err)
	}
	if mailer.email != "grower@example.com" {
		t.Errorf("mailed to %q, want grower@example.com", mailer.email)
	}
	if !strings.Contains(mailer.link, "http://localhost:3000/auth/verify?token=") {
		t.Errorf("link = %q, want the frontend verify URL", mailer.link)
	}

	token := tokenFromLink(t, mailer.link)
	session, user, err := svc.Verify(ctx, token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if user.Email != "grower@example.com" {
		t.Errorf("user email = %q, want grower@example.com", user.Email)
	}

	id, err := svc.Authenticate(session)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if id != user.ID {
		t.Errorf("session user = %d, want %d", id, user.ID)
	}

	// single use
	if _, _, err := svc.Verify(ctx, token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("second Verify err = %v, want ErrInvalidToken", err)
	}
}

func TestMagicLink_SameUserOnRepeatRequests(t *testing.T) {
	svc, mailer := setupService(t)
	ctx := context.Background()

	if err := svc.RequestMagicLink(ctx, "grower@example.com"); err != nil {
		t.Fatalf("RequestMagicLink: %v", err)
	}
	_, first, err := svc.Verify(ctx, tokenFromLink(t, mailer.link))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}

	if err := svc.RequestMagicLink(ctx, "grower@example.com"); err != nil {
		t.Fatalf("RequestMagicLink: %v", err)
	}
	_, second, err := svc.Verify(ctx, tokenFromLink(t, mailer.link))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("user ids differ: %d vs %d", first.ID, second.ID)
	}
}

func TestMagicLink_Expired(t *testing.T) {
	svc, mailer := setupService(t)
	ctx := context.Background()
	svc.now = func() time.Time { return time.Now().Add(-MagicLinkTTL - time.Minute) }

	if err := svc.RequestMagicLink(ctx, "grower@example.com"); err != nil {
		t.Fatalf("RequestMagicLink: %v", err)
	}

	if _, _, err := svc.Verify(ctx, tokenFromLink(t, mailer.link)); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestMagicLink_UnknownToken(t *testing.T) {
	svc, _ := setupService(t)

	_, _, err := svc.Verify(context.Background(), "2f5b8f0e-9c44-4d8a-a8c6-1d1c3e2a7f90")
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestMagicLink_MailFailure(t *testing.T) {
	svc, mailer := setupService(t)
	mailer.err = errors.New("relay down")

	err := svc.RequestMagicLink(context.Background(), "grower@example.com")
	if !errors.Is(err, mailer.err) {
		t.Errorf("err = %v, want %v", err, mailer.err)
	}
}

func TestRequireUser(t *testing.T) {
	svc, _ := setupService(t)
	valid, err := GenerateToken(7, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	var seen int64
	handler := svc.RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		setup  func(r *http.Request)
		status int
	}{
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: CookieName, Value: valid}) }, http.StatusNoContent},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+valid) }, http.StatusNoContent},
		{"missing", func(r *http.Request) {}, http.StatusUnauthorized},
		{"invalid", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = 0
			req := httptest.NewRequest(http.MethodGet, "/api/plants", nil)
			tt.setup(req)
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			if tt.status == http.StatusNoContent {
				if seen != 7 {
					t.Errorf("user id = %d, want 7", seen)
				}
				return
			}
			if seen != 0 {
				t.Errorf("handler ran with user %d", seen)
			}
			if !strings.Contains(w.Body.String(), "Unauthorized") {
				t.Errorf("body = %q, want Unauthorized", w.Body.String())
			}
		})
	}
}

func TestSessionCookies(t *testing.T) {
	w := httptest.NewRecorder()
	SetSessionCookie(w, "abc", false)
	c := w.Result().Cookies()
	if len(c) != 1 {
		t.Fatalf("got %d cookies, want 1", len(c))
	}
	if c[0].Name != CookieName || c[0].Value != "abc" {
		t.Errorf("cookie = %s=%s, want %s=abc", c[0].Name, c[0].Value, CookieName)
	}
	if !c[0].HttpOnly {
		t.Error("session cookie should be HttpOnly")
	}

	w = httptest.NewRecorder()
	ClearSessionCookie(w, false)
	c = w.Result().Cookies()
	if len(c) != 1 {
		t.Fatalf("got %d cookies, want 1", len(c))
	}
	if c[0].MaxAge != -1 {
		t.Errorf("MaxAge = %d, want -1", c[0].MaxAge)
	}
}
