package sessions

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/J-Shotayo/skill-Forge/internal/domain/model"
	"github.com/J-Shotayo/skill-Forge/internal/domain/phase"
	"github.com/J-Shotayo/skill-Forge/internal/identity"
	"github.com/J-Shotayo/skill-Forge/internal/reconciler"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- CookieManager ---

func TestCookie_RoundTrip(t *testing.T) {
	cm, err := NewCookieManager("", false, time.Hour)
	if err != nil {
		t.Fatalf("NewCookieManager() ошибка: %v", err)
	}

	id, err := GenerateID()
	if err != nil {
		t.Fatalf("GenerateID() ошибка: %v", err)
	}
	original := &CookieData{ID: id, IssuedAt: time.Now().Unix()}

	encrypted, err := cm.Encrypt(original)
	if err != nil {
		t.Fatalf("Encrypt() ошибка: %v", err)
	}
	if strings.Contains(encrypted, id) {
		t.Error("идентификатор сессии виден в cookie")
	}

	decrypted, err := cm.Decrypt(encrypted)
	if err != nil {
		t.Fatalf("Decrypt() ошибка: %v", err)
	}
	if *decrypted != *original {
		t.Errorf("Decrypt() = %+v, ожидалось %+v", decrypted, original)
	}
}

func TestCookie_StringKeyIsStable(t *testing.T) {
	a, _ := NewCookieManager("my-secret", false, time.Hour)
	b, _ := NewCookieManager("my-secret", false, time.Hour)
	other, _ := NewCookieManager("other-secret", false, time.Hour)

	encrypted, err := a.Encrypt(&CookieData{ID: "s1"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Decrypt(encrypted); err != nil {
		t.Errorf("тот же ключ должен расшифровывать: %v", err)
	}
	if _, err := other.Decrypt(encrypted); err == nil {
		t.Error("чужой ключ не должен расшифровывать")
	}
}

func TestCookie_InvalidInput(t *testing.T) {
	cm, _ := NewCookieManager("", false, time.Hour)

	tests := []struct {
		name  string
		input string
	}{
		{"не base64", "%%%"},
		{"слишком короткие данные", "YWJj"},
		{"подделка", "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := cm.Decrypt(tt.input); err == nil {
				t.Errorf("Decrypt(%q) должен вернуть ошибку", tt.input)
			}
		})
	}

	empty, _ := cm.Encrypt(&CookieData{})
	if _, err := cm.Decrypt(empty); err == nil {
		t.Error("cookie без идентификатора должен отвергаться")
	}
}

func TestCookie_SetFromRequestClear(t *testing.T) {
	cm, _ := NewCookieManager("", true, 2*time.Hour)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	data, err := cm.FromRequest(req)
	if data != nil || err != nil {
		t.Fatalf("без cookie: получено %+v, %v", data, err)
	}

	rec := httptest.NewRecorder()
	if err := cm.Set(rec, &CookieData{ID: "s1"}); err != nil {
		t.Fatal(err)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("ожидался 1 cookie, получено %d", len(cookies))
	}
	c := cookies[0]
	if c.Name != CookieName || !c.HttpOnly || !c.Secure || c.MaxAge != 7200 || c.Path != "/" {
		t.Errorf("атрибуты cookie = %+v", c)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(c)
	data, err = cm.FromRequest(req)
	if err != nil || data.ID != "s1" {
		t.Errorf("FromRequest() = %+v, %v", data, err)
	}

	rec = httptest.NewRecorder()
	cm.Clear(rec)
	if cleared := rec.Result().Cookies(); len(cleared) != 1 || cleared[0].MaxAge != -1 {
		t.Errorf("Clear() cookie = %+v", cleared)
	}
}

func TestGenerateID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := GenerateID()
		if err != nil {
			t.Fatal(err)
		}
		if len(id) != 43 {
			t.Errorf("длина id = %d, ожидалось 43", len(id))
		}
		if seen[id] {
			t.Fatalf("повтор id %q", id)
		}
		seen[id] = true
	}
}

// --- Registry ---

type noProfiles struct{}

func (noProfiles) ListByUserID(context.Context, string) ([]model.Profile, error) { return nil, nil }
func (noProfiles) Create(context.Context, *model.Profile) error                  { return nil }

func newTestRegistry(t *testing.T, size int, ttl time.Duration) *Registry {
	t.Helper()
	// Без сохранённых токенов Identity Service не вызывается.
	client := identity.New("http://127.0.0.1:1", "anon", &http.Client{Timeout: time.Second}, testLogger())
	deps := Deps{
		Client:   client,
		Store:    identity.NewMemoryStore(100, time.Hour),
		Profiles: noProfiles{},
		Policy:   reconciler.Policy{MaxAttempts: 1},
		TokenTTL: time.Hour,
	}
	r := NewRegistry(deps, size, ttl, testLogger())
	t.Cleanup(r.Close)
	return r
}

func waitPhase(t *testing.T, rec *reconciler.Reconciler, want phase.Phase) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rec.State().Phase == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("фаза %s не достигнута, текущая %s", want, rec.State().Phase)
}

// waitClosed ждёт закрытия канала подписки (согласователь закрыт).
func waitClosed(t *testing.T, ch <-chan reconciler.State) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("согласователь не закрыт")
		}
	}
}

func TestRegistry_AcquireReusesEntry(t *testing.T) {
	r := newTestRegistry(t, 10, time.Hour)

	a := r.Acquire("s1")
	b := r.Acquire("s1")
	if a != b {
		t.Error("повторный Acquire должен вернуть ту же сессию")
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, ожидалось 1", r.Len())
	}
	waitPhase(t, a.Reconciler, phase.Unauthenticated)
}

func TestRegistry_RemoveClosesReconciler(t *testing.T) {
	r := newTestRegistry(t, 10, time.Hour)

	e := r.Acquire("s1")
	ch, _ := e.Reconciler.Subscribe()
	r.Remove("s1")

	waitClosed(t, ch)
	if r.Len() != 0 {
		t.Errorf("Len() = %d, ожидалось 0", r.Len())
	}
	if again := r.Acquire("s1"); again == e {
		t.Error("после Remove должна создаваться новая сессия")
	}
}

func TestRegistry_EvictsOldest(t *testing.T) {
	r := newTestRegistry(t, 1, time.Hour)

	first := r.Acquire("s1")
	ch, _ := first.Reconciler.Subscribe()
	r.Acquire("s2")

	waitClosed(t, ch)
	if r.Len() != 1 {
		t.Errorf("Len() = %d, ожидалось 1", r.Len())
	}
	if again := r.Acquire("s1"); again == first {
		t.Error("s1 должна быть вытеснена")
	}
}

func TestRegistry_Close(t *testing.T) {
	r := newTestRegistry(t, 10, time.Hour)

	var chans []<-chan reconciler.State
	for _, id := range []string{"a", "b", "c"} {
		ch, _ := r.Acquire(id).Reconciler.Subscribe()
		chans = append(chans, ch)
	}
	r.Close()

	for _, ch := range chans {
		waitClosed(t, ch)
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d после Close", r.Len())
	}
}
