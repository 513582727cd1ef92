package identity

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"
)

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// mockIdentity — in-memory имитация auth API.
type mockIdentity struct {
	mu sync.Mutex

	// grant_type → количество вызовов /token
	tokenCalls  map[string]int
	logoutErr   bool
	refreshOK   bool
	autoconfirm bool

	lastBody    map[string]any
	lastQuery   url.Values
	lastHeaders http.Header
}

func (m *mockIdentity) session(expiresIn int) Session {
	return Session{
		AccessToken:  "access-" + time.Now().Format("150405.000000000"),
		TokenType:    "bearer",
		ExpiresIn:    expiresIn,
		RefreshToken: "refresh-token",
		User: User{
			ID:           "11111111-1111-1111-1111-111111111111",
			Email:        "anna@example.com",
			UserMetadata: map[string]any{"full_name": "Анна", "role": "instructor"},
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// setupMockIdentity создаёт mock HTTP-сервер Identity Service и клиент к нему.
func setupMockIdentity(t *testing.T) (*mockIdentity, *Client) {
	t.Helper()

	m := &mockIdentity{tokenCalls: make(map[string]int), refreshOK: true}
	mux := http.NewServeMux()

	record := func(r *http.Request) {
		m.lastQuery = r.URL.Query()
		m.lastHeaders = r.Header.Clone()
		m.lastBody = nil
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&m.lastBody)
		}
	}

	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()
		record(r)
		grant := r.URL.Query().Get("grant_type")
		m.tokenCalls[grant]++

		switch grant {
		case "password":
			if m.lastBody["password"] != "secret" {
				writeJSON(w, http.StatusBadRequest, map[string]any{
					"code": 400, "error_code": "invalid_credentials", "msg": "Invalid login credentials",
				})
				return
			}
			writeJSON(w, http.StatusOK, m.session(3600))
		case "refresh_token":
			if !m.refreshOK {
				writeJSON(w, http.StatusBadRequest, map[string]any{
					"error": "invalid_grant", "error_description": "Invalid Refresh Token",
				})
				return
			}
			writeJSON(w, http.StatusOK, m.session(3600))
		case "pkce":
			if m.lastBody["code_verifier"] == "" || m.lastBody["auth_code"] != "good-code" {
				writeJSON(w, http.StatusBadRequest, map[string]any{"error_code": "flow_state_not_found", "msg": "invalid flow state"})
				return
			}
			writeJSON(w, http.StatusOK, m.session(3600))
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})

	mux.HandleFunc("/signup", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()
		record(r)
		if m.autoconfirm {
			writeJSON(w, http.StatusOK, m.session(3600))
			return
		}
		writeJSON(w, http.StatusOK, User{ID: "22222222-2222-2222-2222-222222222222", Email: "new@example.com"})
	})

	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer access-") {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"msg": "invalid JWT"})
			return
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		writeJSON(w, http.StatusOK, m.session(3600).User)
	})

	mux.HandleFunc("/logout", func(w http.ResponseWriter, _ *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.logoutErr {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"msg": "boom"})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/resend", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()
		record(r)
		writeJSON(w, http.StatusOK, map[string]any{})
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"name": "GoTrue"})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return m, New(server.URL, "anon-key", server.Client(), testLogger())
}

// --- Client ---

func TestClient_SignInWithPassword(t *testing.T) {
	m, client := setupMockIdentity(t)
	ctx := context.Background()

	s, err := client.SignInWithPassword(ctx, "anna@example.com", "secret")
	if err != nil {
		t.Fatalf("SignInWithPassword() ошибка: %v", err)
	}
	if s.ExpiresAt == 0 {
		t.Error("ExpiresAt не вычислен из expires_in")
	}
	if got := m.lastHeaders.Get("apikey"); got != "anon-key" {
		t.Errorf("apikey = %q, ожидался anon-key", got)
	}

	_, err = client.SignInWithPassword(ctx, "anna@example.com", "wrong")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("ожидалась APIError, получено %v", err)
	}
	if apiErr.Status != http.StatusBadRequest || apiErr.Code != "invalid_credentials" || apiErr.Message != "Invalid login credentials" {
		t.Errorf("неожиданная APIError: %+v", apiErr)
	}
	if !IsRejection(err) {
		t.Error("IsRejection() = false для 400")
	}
}

func TestClient_TransportError(t *testing.T) {
	client := New("http://127.0.0.1:1", "anon", &http.Client{Timeout: time.Second}, testLogger())

	_, err := client.GetUser(context.Background(), "token")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("ожидалась ErrUnavailable, получено %v", err)
	}
	if IsRejection(err) {
		t.Error("транспортная ошибка не должна считаться отказом")
	}
	if status, _ := client.CheckReady(); status != "fail" {
		t.Errorf("CheckReady() = %q, ожидался fail", status)
	}
}

func TestClient_AuthorizeURL(t *testing.T) {
	client := New("https://id.example.com/auth/v1/", "anon", nil, testLogger())

	raw := client.AuthorizeURL("google", "https://app.example.com/auth/callback?next=/dashboard", "chal")
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("некорректный URL: %v", err)
	}
	if u.Path != "/auth/v1/authorize" {
		t.Errorf("path = %q", u.Path)
	}
	q := u.Query()
	if q.Get("provider") != "google" || q.Get("code_challenge") != "chal" || q.Get("code_challenge_method") != "s256" {
		t.Errorf("неожиданные параметры: %v", q)
	}
	if q.Get("redirect_to") != "https://app.example.com/auth/callback?next=/dashboard" {
		t.Errorf("redirect_to = %q", q.Get("redirect_to"))
	}
}

func TestClient_SignUp(t *testing.T) {
	m, client := setupMockIdentity(t)
	ctx := context.Background()

	res, err := client.SignUp(ctx, SignUpRequest{
		Email:      "new@example.com",
		Password:   "secret",
		Metadata:   map[string]any{"full_name": "Новый", "role": "learner"},
		RedirectTo: "https://app/auth/callback",
	})
	if err != nil {
		t.Fatalf("SignUp() ошибка: %v", err)
	}
	if res.Session != nil {
		t.Error("без автоподтверждения сессии быть не должно")
	}
	if res.User.ID == "" {
		t.Error("пользователь не разобран")
	}
	if m.lastQuery.Get("redirect_to") != "https://app/auth/callback" {
		t.Errorf("redirect_to = %q", m.lastQuery.Get("redirect_to"))
	}
	data, _ := m.lastBody["data"].(map[string]any)
	if data["role"] != "learner" {
		t.Errorf("метаданные не переданы: %v", m.lastBody)
	}

	m.mu.Lock()
	m.autoconfirm = true
	m.mu.Unlock()
	res, err = client.SignUp(ctx, SignUpRequest{Email: "a@b.c", Password: "secret"})
	if err != nil {
		t.Fatalf("SignUp() ошибка: %v", err)
	}
	if res.Session == nil || res.Session.AccessToken == "" {
		t.Error("при автоподтверждении ожидалась сессия")
	}
}

func TestClient_CheckReady(t *testing.T) {
	_, client := setupMockIdentity(t)
	if status, msg := client.CheckReady(); status != "ok" {
		t.Errorf("CheckReady() = %q (%s), ожидался ok", status, msg)
	}
}

func TestUser_Identity(t *testing.T) {
	u := User{
		ID:    "u1",
		Email: "a@b.c",
		UserMetadata: map[string]any{
			"full_name": "Анна", "role": "instructor", "avatar_url": "https://cdn/a.png", "points": 5,
		},
	}
	ident := u.Identity()
	if ident.Metadata.FullName != "Анна" || ident.Metadata.Role != "instructor" || ident.Metadata.AvatarURL != "https://cdn/a.png" {
		t.Errorf("неожиданные метаданные: %+v", ident.Metadata)
	}
}

func TestSession_IsExpired(t *testing.T) {
	tests := []struct {
		name      string
		expiresAt int64
		want      bool
	}{
		{"без срока", 0, false},
		{"в будущем", time.Now().Add(time.Hour).Unix(), false},
		{"в пределах запаса", time.Now().Add(10 * time.Second).Unix(), true},
		{"в прошлом", time.Now().Add(-time.Minute).Unix(), true},
	}
	for _, tt := range tests {
		s := &Session{ExpiresAt: tt.expiresAt}
		if got := s.IsExpired(); got != tt.want {
			t.Errorf("%s: IsExpired() = %v, ожидалось %v", tt.name, got, tt.want)
		}
	}
}
