// authclient.go — клиент одной клиентской сессии.
// Хранит токены и PKCE verifier в Store под ключом сессии, обновляет
// истёкший access token и рассылает события изменения аутентификации.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// flowTTL — время жизни PKCE verifier между началом входа и callback.
const flowTTL = time.Hour

// AuthClient — stateful-клиент Identity Service для одной сессии.
// События рассылаются синхронно, в горутине вызывающего метода.
type AuthClient struct {
	client *Client
	store  Store
	key    string
	ttl    time.Duration
	logger *slog.Logger

	// refreshMu сериализует чтение и обновление сессии.
	refreshMu sync.Mutex

	subMu    sync.Mutex
	handlers map[int]func(AuthEvent)
	nextSub  int
}

// NewAuthClient создаёт клиент сессии key.
// ttl — время хранения токенов в store.
func NewAuthClient(client *Client, store Store, key string, ttl time.Duration, logger *slog.Logger) *AuthClient {
	return &AuthClient{
		client:   client,
		store:    store,
		key:      key,
		ttl:      ttl,
		logger:   logger.With(slog.String("component", "auth_client")),
		handlers: make(map[int]func(AuthEvent)),
	}
}

func (a *AuthClient) sessionKey() string { return sessionKeyPrefix + a.key }
func (a *AuthClient) flowKey() string    { return flowKeyPrefix + a.key }

// --- Сессия ---

// GetSession возвращает текущую сессию или nil, если её нет.
// Истёкший access token обновляется через refresh token. Если сервис
// отклоняет refresh token, сессия удаляется и рассылается SIGNED_OUT.
func (a *AuthClient) GetSession(ctx context.Context) (*Session, error) {
	a.refreshMu.Lock()
	s, err := a.loadSession(ctx)
	if err != nil || s == nil || !s.IsExpired() {
		a.refreshMu.Unlock()
		return s, err
	}

	refreshed, err := a.client.RefreshSession(ctx, s.RefreshToken)
	if err != nil {
		if IsRejection(err) {
			a.logger.Info("Refresh token отклонён, сессия сброшена",
				slog.String("user_id", s.User.ID),
				slog.String("error", err.Error()),
			)
			_ = a.store.Delete(ctx, a.sessionKey())
			a.refreshMu.Unlock()
			a.emit(AuthEvent{Type: EventSignedOut})
			return nil, nil
		}
		a.refreshMu.Unlock()
		return nil, fmt.Errorf("обновление сессии: %w", err)
	}

	if err := a.saveSession(ctx, refreshed); err != nil {
		a.refreshMu.Unlock()
		return nil, err
	}
	a.refreshMu.Unlock()

	a.emit(AuthEvent{Type: EventTokenRefreshed, Session: refreshed})
	return refreshed, nil
}

// GetUser запрашивает актуального пользователя текущей сессии.
func (a *AuthClient) GetUser(ctx context.Context) (*User, error) {
	s, err := a.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrNoSession
	}
	return a.client.GetUser(ctx, s.AccessToken)
}

// --- Вход и регистрация ---

// SignInWithPassword выполняет вход и сохраняет сессию.
func (a *AuthClient) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	s, err := a.client.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if err := a.establish(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// SignUp регистрирует пользователя с метаданными.
// Ссылка подтверждения ведёт на redirectTo с одноразовым кодом (PKCE).
func (a *AuthClient) SignUp(ctx context.Context, email, password string, metadata map[string]any, redirectTo string) (*SignUpResult, error) {
	challenge, err := a.beginFlow(ctx)
	if err != nil {
		return nil, err
	}

	res, err := a.client.SignUp(ctx, SignUpRequest{
		Email:         email,
		Password:      password,
		Metadata:      metadata,
		RedirectTo:    redirectTo,
		CodeChallenge: challenge,
	})
	if err != nil {
		return nil, err
	}

	if res.Session != nil {
		if err := a.establish(ctx, res.Session); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// SignInWithOAuth начинает вход через OAuth-провайдера.
// Возвращает URL, на который нужно перенаправить пользователя.
func (a *AuthClient) SignInWithOAuth(ctx context.Context, provider, redirectTo string) (string, error) {
	challenge, err := a.beginFlow(ctx)
	if err != nil {
		return "", err
	}
	return a.client.AuthorizeURL(provider, redirectTo, challenge), nil
}

// ExchangeCodeForSession обменивает одноразовый код на сессию.
// Verifier берётся из хранилища и удаляется после обмена.
func (a *AuthClient) ExchangeCodeForSession(ctx context.Context, code string) (*Session, error) {
	verifier, err := a.store.Get(ctx, a.flowKey())
	if err != nil {
		if errors.Is(err, ErrStoreMiss) {
			return nil, ErrNoCodeVerifier
		}
		return nil, err
	}

	s, err := a.client.ExchangeCode(ctx, code, string(verifier))
	if err != nil {
		return nil, err
	}
	_ = a.store.Delete(ctx, a.flowKey())

	if err := a.establish(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Resend повторно отправляет письмо подтверждения регистрации.
func (a *AuthClient) Resend(ctx context.Context, email, redirectTo string) error {
	return a.client.Resend(ctx, "signup", email, redirectTo)
}

// SignOut завершает сессию. Локальная сессия удаляется и SIGNED_OUT
// рассылается всегда; ошибка сервиса возвращается вызывающему.
func (a *AuthClient) SignOut(ctx context.Context) error {
	a.refreshMu.Lock()
	s, loadErr := a.loadSession(ctx)

	var logoutErr error
	if s != nil {
		logoutErr = a.client.Logout(ctx, s.AccessToken)
	}
	delErr := a.store.Delete(ctx, a.sessionKey())
	a.refreshMu.Unlock()

	a.emit(AuthEvent{Type: EventSignedOut})

	return errors.Join(loadErr, logoutErr, delErr)
}

// --- Подписки ---

// OnAuthStateChange подписывает handler на события.
// Возвращает функцию отписки.
func (a *AuthClient) OnAuthStateChange(handler func(AuthEvent)) func() {
	a.subMu.Lock()
	id := a.nextSub
	a.nextSub++
	a.handlers[id] = handler
	a.subMu.Unlock()

	return func() {
		a.subMu.Lock()
		delete(a.handlers, id)
		a.subMu.Unlock()
	}
}

func (a *AuthClient) emit(ev AuthEvent) {
	a.subMu.Lock()
	handlers := make([]func(AuthEvent), 0, len(a.handlers))
	for _, h := range a.handlers {
		handlers = append(handlers, h)
	}
	a.subMu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

// --- Хранилище ---

// establish сохраняет новую сессию и рассылает SIGNED_IN.
func (a *AuthClient) establish(ctx context.Context, s *Session) error {
	a.refreshMu.Lock()
	err := a.saveSession(ctx, s)
	a.refreshMu.Unlock()
	if err != nil {
		return err
	}

	a.logger.Info("Пользователь вошёл", slog.String("user_id", s.User.ID))
	a.emit(AuthEvent{Type: EventSignedIn, Session: s})
	return nil
}

// beginFlow создаёт PKCE verifier, сохраняет его и возвращает challenge.
func (a *AuthClient) beginFlow(ctx context.Context) (string, error) {
	verifier := oauth2.GenerateVerifier()
	if err := a.store.Set(ctx, a.flowKey(), []byte(verifier), flowTTL); err != nil {
		return "", fmt.Errorf("сохранение PKCE verifier: %w", err)
	}
	return oauth2.S256ChallengeFromVerifier(verifier), nil
}

func (a *AuthClient) loadSession(ctx context.Context) (*Session, error) {
	data, err := a.store.Get(ctx, a.sessionKey())
	if err != nil {
		if errors.Is(err, ErrStoreMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("чтение сессии: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		// Повреждённая запись равносильна отсутствию сессии.
		a.logger.Warn("Повреждённая запись сессии удалена", slog.String("error", err.Error()))
		_ = a.store.Delete(ctx, a.sessionKey())
		return nil, nil
	}
	return &s, nil
}

func (a *AuthClient) saveSession(ctx context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("сериализация сессии: %w", err)
	}
	if err := a.store.Set(ctx, a.sessionKey(), data, a.ttl); err != nil {
		return fmt.Errorf("сохранение сессии: %w", err)
	}
	return nil
}
