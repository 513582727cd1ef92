package service

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/J-Shotayo/skill-Forge/internal/config"
	"github.com/J-Shotayo/skill-Forge/internal/domain/model"
	"github.com/J-Shotayo/skill-Forge/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- fakes ---

// memProfiles — профили в памяти с порядком строк как в репозитории.
type memProfiles struct {
	mu       sync.Mutex
	rows     map[string][]model.Profile
	listErr  error
	deleteFn func(userID string, keep int64) (int64, error)
	deletes  int
}

func newMemProfiles() *memProfiles {
	return &memProfiles{rows: make(map[string][]model.Profile)}
}

func (m *memProfiles) ListByUserID(_ context.Context, userID string) ([]model.Profile, error) {
	if userID == "bad" {
		return nil, repository.ErrInvalidID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return append([]model.Profile(nil), m.rows[userID]...), nil
}

func (m *memProfiles) DeleteDuplicates(_ context.Context, userID string, keep int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	if m.deleteFn != nil {
		return m.deleteFn(userID, keep)
	}
	var kept []model.Profile
	var deleted int64
	found := false
	for _, p := range m.rows[userID] {
		if p.RowID == keep {
			kept = append(kept, p)
			found = true
			continue
		}
		deleted++
	}
	if !found {
		return 0, repository.ErrNotFound
	}
	m.rows[userID] = kept
	return deleted, nil
}

func (m *memProfiles) FindDuplicates(_ context.Context, limit int) ([]model.DuplicateGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var groups []model.DuplicateGroup
	for id, rows := range m.rows {
		if len(rows) > 1 {
			groups = append(groups, model.DuplicateGroup{UserID: id, Count: len(rows)})
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].UserID < groups[j].UserID })
	if len(groups) > limit {
		groups = groups[:limit]
	}
	return groups, nil
}

// --- ProfileMaintenance ---

func TestDeduplicate_KeepsFirstRow(t *testing.T) {
	store := newMemProfiles()
	store.rows["u1"] = []model.Profile{{RowID: 5, ID: "u1"}, {RowID: 2, ID: "u1"}, {RowID: 8, ID: "u1"}}
	svc := NewProfileMaintenance(store, testLogger())

	res, err := svc.Deduplicate(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Deduplicate() ошибка: %v", err)
	}
	if res.KeptRowID != 5 || res.Found != 3 || res.Deleted != 2 {
		t.Errorf("результат = %+v, ожидалось kept=5 found=3 deleted=2", res)
	}
	if rows := store.rows["u1"]; len(rows) != 1 || rows[0].RowID != 5 {
		t.Errorf("осталось %+v", rows)
	}
}

func TestDeduplicate_Idempotent(t *testing.T) {
	store := newMemProfiles()
	store.rows["u1"] = []model.Profile{{RowID: 1, ID: "u1"}, {RowID: 2, ID: "u1"}}
	svc := NewProfileMaintenance(store, testLogger())

	if _, err := svc.Deduplicate(context.Background(), "u1"); err != nil {
		t.Fatal(err)
	}
	res, err := svc.Deduplicate(context.Background(), "u1")
	if err != nil {
		t.Fatalf("повторный Deduplicate() ошибка: %v", err)
	}
	if res.Deleted != 0 || res.Found != 1 || res.KeptRowID != 1 {
		t.Errorf("повторный результат = %+v", res)
	}
	if store.deletes != 1 {
		t.Errorf("удаление вызвано %d раз, ожидалось 1", store.deletes)
	}
}

func TestDeduplicate_Errors(t *testing.T) {
	store := newMemProfiles()
	svc := NewProfileMaintenance(store, testLogger())

	if _, err := svc.Deduplicate(context.Background(), "bad"); !errors.Is(err, ErrValidation) {
		t.Errorf("некорректный id: ожидалась ErrValidation, получено %v", err)
	}
	if _, err := svc.Deduplicate(context.Background(), "nobody"); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("нет профиля: ожидалась ErrProfileNotFound, получено %v", err)
	}

	store.rows["u1"] = []model.Profile{{RowID: 1, ID: "u1"}, {RowID: 2, ID: "u1"}}
	store.deleteFn = func(string, int64) (int64, error) { return 0, repository.ErrNotFound }
	if _, err := svc.Deduplicate(context.Background(), "u1"); !errors.Is(err, ErrConflict) {
		t.Errorf("строка исчезла: ожидалась ErrConflict, получено %v", err)
	}

	store.listErr = errors.New("connection reset")
	if _, err := svc.Deduplicate(context.Background(), "u1"); err == nil || errors.Is(err, ErrValidation) {
		t.Errorf("сбой чтения: получено %v", err)
	}
}

func TestDeduplicateAll(t *testing.T) {
	store := newMemProfiles()
	store.rows["a"] = []model.Profile{{RowID: 1, ID: "a"}, {RowID: 2, ID: "a"}}
	store.rows["b"] = []model.Profile{{RowID: 3, ID: "b"}, {RowID: 4, ID: "b"}, {RowID: 5, ID: "b"}}
	store.rows["c"] = []model.Profile{{RowID: 6, ID: "c"}}
	svc := NewProfileMaintenance(store, testLogger())

	batch, err := svc.DeduplicateAll(context.Background(), 10)
	if err != nil {
		t.Fatalf("DeduplicateAll() ошибка: %v", err)
	}
	if batch.Groups != 2 || batch.Deleted != 3 || batch.Failed != 0 {
		t.Errorf("итог = %+v, ожидалось groups=2 deleted=3", batch)
	}

	groups, err := svc.FindDuplicates(context.Background(), 10)
	if err != nil || len(groups) != 0 {
		t.Errorf("после обхода остались группы: %+v, %v", groups, err)
	}
}

func TestDeduplicateAll_PartialFailure(t *testing.T) {
	store := newMemProfiles()
	store.rows["a"] = []model.Profile{{RowID: 1, ID: "a"}, {RowID: 2, ID: "a"}}
	store.rows["b"] = []model.Profile{{RowID: 3, ID: "b"}, {RowID: 4, ID: "b"}}
	store.deleteFn = func(userID string, _ int64) (int64, error) {
		if userID == "a" {
			return 0, errors.New("deadlock detected")
		}
		return 1, nil
	}
	svc := NewProfileMaintenance(store, testLogger())

	batch, err := svc.DeduplicateAll(context.Background(), 10)
	if err != nil {
		t.Fatalf("DeduplicateAll() ошибка: %v", err)
	}
	if batch.Failed != 1 || batch.Deleted != 1 || len(batch.Results) != 1 {
		t.Errorf("итог = %+v, ожидалось failed=1 deleted=1", batch)
	}
}

// --- EnrollmentService ---

type memEnrollments struct {
	mu   sync.Mutex
	rows map[string]*model.Enrollment
}

func (m *memEnrollments) key(learner, course string) string { return learner + "/" + course }

func (m *memEnrollments) Create(_ context.Context, learnerID, courseID string) (*model.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch courseID {
	case "missing":
		return nil, repository.ErrNotFound
	case "bad":
		return nil, repository.ErrInvalidID
	}
	k := m.key(learnerID, courseID)
	if _, ok := m.rows[k]; ok {
		return nil, repository.ErrConflict
	}
	e := &model.Enrollment{
		ID:         k,
		LearnerID:  learnerID,
		CourseID:   courseID,
		Status:     model.EnrollmentActive,
		EnrolledAt: time.Now(),
	}
	m.rows[k] = e
	return e, nil
}

func (m *memEnrollments) GetByLearnerAndCourse(_ context.Context, learnerID, courseID string) (*model.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.rows[m.key(learnerID, courseID)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return e, nil
}

func (m *memEnrollments) ListByLearner(_ context.Context, learnerID string, _, _ int) ([]*model.Enrollment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Enrollment
	for _, e := range m.rows {
		if e.LearnerID == learnerID {
			out = append(out, e)
		}
	}
	return out, len(out), nil
}

func (m *memEnrollments) Probe(context.Context) error { return nil }

func TestEnroll(t *testing.T) {
	repo := &memEnrollments{rows: make(map[string]*model.Enrollment)}
	svc := NewEnrollmentService(repo, testLogger())
	profile := &model.Profile{ID: "u1", Role: model.RoleLearner}
	ctx := context.Background()

	e, created, err := svc.Enroll(ctx, profile, "c1")
	if err != nil || !created {
		t.Fatalf("первая запись: created=%v, err=%v", created, err)
	}

	again, created, err := svc.Enroll(ctx, profile, "c1")
	if err != nil {
		t.Fatalf("повторная запись ошибка: %v", err)
	}
	if created || again.ID != e.ID {
		t.Errorf("повторная запись: created=%v id=%s, ожидалась существующая %s", created, again.ID, e.ID)
	}

	if _, _, err := svc.Enroll(ctx, profile, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("нет курса: ожидалась ErrNotFound, получено %v", err)
	}
	if _, _, err := svc.Enroll(ctx, profile, "bad"); !errors.Is(err, ErrValidation) {
		t.Errorf("некорректный id: ожидалась ErrValidation, получено %v", err)
	}
	if _, _, err := svc.Enroll(ctx, nil, "c1"); !errors.Is(err, ErrProfileNotReady) {
		t.Errorf("без профиля: ожидалась ErrProfileNotReady, получено %v", err)
	}

	list, total, err := svc.List(ctx, profile, 20, 0)
	if err != nil || total != 1 || len(list) != 1 {
		t.Errorf("List() = %d/%d, %v", len(list), total, err)
	}
	if _, _, err := svc.List(ctx, nil, 20, 0); !errors.Is(err, ErrProfileNotReady) {
		t.Errorf("List без профиля: получено %v", err)
	}
}

// --- DiagnosticsService ---

type proberFunc func(ctx context.Context) error

func (f proberFunc) Probe(ctx context.Context) error { return f(ctx) }

func TestDiagnostics_Run(t *testing.T) {
	cfg := &config.Config{
		IdentityURL:     "http://idp.local/auth/v1",
		IdentityAnonKey: "anon",
	}
	store := newMemProfiles()
	store.rows["u1"] = []model.Profile{{RowID: 1, ID: "u1"}, {RowID: 2, ID: "u1"}}

	svc := NewDiagnosticsService(cfg,
		[]NamedProber{
			{Name: "profiles", Prober: proberFunc(func(context.Context) error { return nil })},
			{Name: "enrollments", Prober: proberFunc(func(context.Context) error {
				return errors.New(`relation "enrollments" does not exist`)
			})},
		},
		store,
		func() map[string]bool { return map[string]bool{"postgresql": true} },
		testLogger(),
	)

	report := svc.Run(context.Background())
	if len(report.Tables) != 2 || !report.Tables[0].OK || report.Tables[1].OK {
		t.Errorf("таблицы = %+v", report.Tables)
	}
	if report.Tables[1].Error == "" {
		t.Error("ошибка таблицы должна попасть в отчёт")
	}
	if len(report.Duplicates) != 1 || report.Duplicates[0].UserID != "u1" {
		t.Errorf("дубликаты = %+v", report.Duplicates)
	}
	if !report.Dependencies["postgresql"] {
		t.Errorf("зависимости = %+v", report.Dependencies)
	}
	if report.Version != config.Version {
		t.Errorf("Version = %q", report.Version)
	}

	present := map[string]bool{}
	for _, c := range report.Config {
		present[c.Name] = c.Present
	}
	if !present["SF_IDENTITY_URL"] || !present["SF_IDENTITY_ANON_KEY"] || present["SF_REDIS_ADDR"] {
		t.Errorf("наличие настроек = %+v", present)
	}
}

func TestDiagnostics_DuplicatesError(t *testing.T) {
	svc := NewDiagnosticsService(&config.Config{}, nil, failingFinder{}, nil, testLogger())

	report := svc.Run(context.Background())
	if report.DuplicatesError == "" {
		t.Error("ошибка поиска дубликатов должна попасть в отчёт")
	}
	if report.Duplicates == nil || report.Dependencies != nil || report.SessionsActive != nil {
		t.Errorf("отчёт = %+v", report)
	}
}

func TestDiagnostics_SessionCounter(t *testing.T) {
	active := 3
	svc := NewDiagnosticsService(&config.Config{}, nil, newMemProfiles(), nil, testLogger()).
		WithSessionCounter(func() int { return active })

	report := svc.Run(context.Background())
	if report.SessionsActive == nil || *report.SessionsActive != 3 {
		t.Errorf("SessionsActive = %v, ожидалось 3", report.SessionsActive)
	}

	active = 0
	if report := svc.Run(context.Background()); report.SessionsActive == nil || *report.SessionsActive != 0 {
		t.Error("ноль сессий тоже должен попадать в отчёт")
	}
}

type failingFinder struct{}

func (failingFinder) FindDuplicates(context.Context, int) ([]model.DuplicateGroup, error) {
	return nil, errors.New("timeout")
}

// --- Dephealth ---

func TestIdentityHealthPath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"https://project.example.co/auth/v1", "/auth/v1/health"},
		{"https://project.example.co/auth/v1/", "/auth/v1/health"},
		{"http://localhost:9999", "/health"},
		{"://bad", "/health"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := identityHealthPath(tt.input); got != tt.expected {
				t.Errorf("identityHealthPath(%q) = %q, ожидалось %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestNewDephealthService_IsolatedRegistry(t *testing.T) {
	// sql.Open не подключается к базе до первого запроса
	db, err := sql.Open("pgx", "postgres://sf@localhost:5432/skillforge")
	if err != nil {
		t.Fatalf("sql.Open() ошибка: %v", err)
	}
	defer db.Close()

	cfg := DephealthConfig{
		ServiceID:     "skillforge",
		Group:         "skillforge",
		DB:            db,
		PostgresURL:   "postgres://sf@localhost:5432/skillforge",
		IdentityURL:   "http://localhost:9999/auth/v1",
		CheckInterval: time.Minute,
	}
	ds, err := NewDephealthServiceWithRegisterer(cfg, testLogger(), prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewDephealthServiceWithRegisterer() ошибка: %v", err)
	}
	if ds == nil {
		t.Fatal("DephealthService nil")
	}
}
