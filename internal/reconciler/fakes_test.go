package reconciler

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/J-Shotayo/skill-Forge/internal/domain/model"
	"github.com/J-Shotayo/skill-Forge/internal/identity"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testPolicy — политика без пауз.
func testPolicy() Policy {
	return Policy{MaxAttempts: 3}
}

func sessionFor(id string, meta map[string]any) *identity.Session {
	return &identity.Session{
		AccessToken: "token-" + id,
		User: identity.User{
			ID:           id,
			Email:        id + "@example.com",
			UserMetadata: meta,
		},
	}
}

// --- fakeAuth ---

type fakeAuth struct {
	mu           sync.Mutex
	session      *identity.Session
	sessionErr   error
	user         *identity.User
	userErr      error
	signOutErr   error
	signOutCalls int
	handlers     map[int]func(identity.AuthEvent)
	nextID       int
}

func newFakeAuth(s *identity.Session) *fakeAuth {
	return &fakeAuth{session: s, handlers: make(map[int]func(identity.AuthEvent))}
}

func (f *fakeAuth) GetSession(_ context.Context) (*identity.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session, f.sessionErr
}

func (f *fakeAuth) GetUser(_ context.Context) (*identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.userErr != nil {
		return nil, f.userErr
	}
	if f.user != nil {
		return f.user, nil
	}
	if f.session == nil {
		return nil, identity.ErrNoSession
	}
	u := f.session.User
	return &u, nil
}

func (f *fakeAuth) SignOut(_ context.Context) error {
	f.mu.Lock()
	f.signOutCalls++
	f.session = nil
	err := f.signOutErr
	f.mu.Unlock()

	f.emit(identity.AuthEvent{Type: identity.EventSignedOut})
	return err
}

func (f *fakeAuth) OnAuthStateChange(h func(identity.AuthEvent)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.handlers[id] = h
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers, id)
	}
}

func (f *fakeAuth) emit(ev identity.AuthEvent) {
	f.mu.Lock()
	hs := make([]func(identity.AuthEvent), 0, len(f.handlers))
	for _, h := range f.handlers {
		hs = append(hs, h)
	}
	f.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

func (f *fakeAuth) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

// --- fakeStore ---

// fakeStore — Record Store в памяти. Порядок строк = порядок выдачи.
type fakeStore struct {
	mu   sync.Mutex
	rows map[string][]model.Profile

	listErr   error
	createErr error
	deleteErr error
	// appearAfter — сколько первых чтений возвращают пустой результат
	appearAfter int

	// block — если не nil, ListByUserID ждёт его закрытия
	block chan struct{}
	// entered — сигнал о входе в ListByUserID
	entered chan struct{}

	listCalls   int
	createCalls int
	deleteCalls int
	created     []model.Profile
	nextRowID   int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string][]model.Profile), nextRowID: 100}
}

func (s *fakeStore) ListByUserID(ctx context.Context, userID string) ([]model.Profile, error) {
	s.mu.Lock()
	s.listCalls++
	call := s.listCalls
	block, entered := s.block, s.entered
	s.mu.Unlock()

	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	if call <= s.appearAfter {
		return nil, nil
	}
	rows := s.rows[userID]
	return append([]model.Profile(nil), rows...), nil
}

func (s *fakeStore) Create(_ context.Context, p *model.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createCalls++
	if s.createErr != nil {
		return s.createErr
	}
	s.nextRowID++
	p.RowID = s.nextRowID
	s.rows[p.ID] = append(s.rows[p.ID], *p)
	s.created = append(s.created, *p)
	return nil
}

func (s *fakeStore) DeleteDuplicates(_ context.Context, userID string, keepRowID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteCalls++
	if s.deleteErr != nil {
		return 0, s.deleteErr
	}
	var kept []model.Profile
	var deleted int64
	for _, p := range s.rows[userID] {
		if p.RowID == keepRowID {
			kept = append(kept, p)
			continue
		}
		deleted++
	}
	s.rows[userID] = kept
	return deleted, nil
}

func (s *fakeStore) counts() (list, create, del int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listCalls, s.createCalls, s.deleteCalls
}
