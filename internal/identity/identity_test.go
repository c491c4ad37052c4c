package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/cluehunt/internal/domain"
	"github.com/ashureev/cluehunt/internal/store"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestRepo(t *testing.T) store.Repository {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "id.db"), store.DefaultRetryPolicy)
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestIssueAndVerify(t *testing.T) {
	issuer := NewIssuer(testSecret, time.Hour)

	token, expires, err := issuer.Issue(42, domain.RoleLearner)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if time.Until(expires) <= 0 {
		t.Errorf("Expected expiry in the future, got %v", expires)
	}

	user, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if user.ID != 42 || user.Role != domain.RoleLearner {
		t.Errorf("Unexpected user: %+v", user)
	}
}

func TestVerifyRejects(t *testing.T) {
	issuer := NewIssuer(testSecret, time.Hour)
	token, _, err := issuer.Issue(42, domain.RoleTeacher)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	other := NewIssuer("another-secret-another-secret-xx", time.Hour)
	if _, err := other.Verify(token); err == nil {
		t.Error("Expected signature mismatch to fail")
	}

	expired := NewIssuer(testSecret, time.Hour)
	expired.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := expired.Verify(token); err == nil {
		t.Error("Expected expired token to fail")
	}

	if _, err := issuer.Verify("not.a.token"); err == nil {
		t.Error("Expected garbage to fail")
	}
	if _, _, err := issuer.Issue(0, domain.RoleLearner); err == nil {
		t.Error("Expected invalid user id to fail")
	}
}

func TestMiddleware(t *testing.T) {
	repo := newTestRepo(t)
	issuer := NewIssuer(testSecret, time.Hour)
	token, _, err := issuer.Issue(7, domain.RoleTeacher)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	var seen *domain.User
	var sid string
	h := Middleware(issuer, repo)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserFromContext(r.Context())
		sid = SessionIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		setup  func(r *http.Request)
		status int
	}{
		{"missing", func(*http.Request) {}, http.StatusUnauthorized},
		{"bad bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized},
		{"bad scheme", func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") }, http.StatusUnauthorized},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, http.StatusNoContent},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: CookieName, Value: token}) }, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/me?session_id=tab-1", nil)
			tt.setup(req)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			if w.Code != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, w.Code)
			}
		})
	}

	if seen == nil || seen.ID != 7 || seen.Role != domain.RoleTeacher {
		t.Errorf("Expected user 7 in context, got %+v", seen)
	}
	if sid != "tab-1" {
		t.Errorf("Expected session id tab-1, got %q", sid)
	}

	stored, err := repo.GetUser(context.Background(), 7)
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if stored.Role != domain.RoleTeacher {
		t.Errorf("Expected stored teacher role, got %s", stored.Role)
	}
}

func TestRequireRole(t *testing.T) {
	h := RequireRole(domain.RoleTeacher)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		user   *domain.User
		status int
	}{
		{nil, http.StatusUnauthorized},
		{&domain.User{ID: 1, Role: domain.RoleLearner}, http.StatusForbidden},
		{&domain.User{ID: 1, Role: domain.RoleTeacher}, http.StatusNoContent},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/api/activities", nil)
		if tt.user != nil {
			req = req.WithContext(WithUser(req.Context(), tt.user))
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != tt.status {
			t.Errorf("user %+v: expected %d, got %d", tt.user, tt.status, w.Code)
		}
	}
}

func TestSanitizeSessionID(t *testing.T) {
	if got := sanitizeSessionID("  "); got != DefaultSessionIDValue {
		t.Errorf("Expected default, got %q", got)
	}
	if got := sanitizeSessionID("bad id!"); got != DefaultSessionIDValue {
		t.Errorf("Expected default for invalid id, got %q", got)
	}
	if got := sanitizeSessionID("tab-9"); got != "tab-9" {
		t.Errorf("Expected tab-9, got %q", got)
	}
}
