// client.go — HTTP-клиент к auth API Identity Service.
// Без состояния: токены передаются явно. Каждый запрос несёт заголовок apikey.
// Операции: SignInWithPassword, RefreshSession, ExchangeCode, SignUp,
// AuthorizeURL, Resend, GetUser, Logout, CheckReady.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// pkceMethod — метод PKCE challenge в терминах GoTrue.
const pkceMethod = "s256"

// Client — HTTP-клиент к Identity Service.
type Client struct {
	baseURL string // Базовый URL auth API (без trailing slash)
	anonKey string // Публичный ключ проекта

	httpClient *http.Client
	logger     *slog.Logger
}

// New создаёт клиент к Identity Service.
// baseURL — базовый URL auth API (например, https://project.example.co/auth/v1).
// httpClient — HTTP-клиент (может быть nil); транспорт оборачивается otelhttp.
func New(baseURL, anonKey string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	transport := httpClient.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	instrumented := *httpClient
	instrumented.Transport = otelhttp.NewTransport(transport)

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		anonKey:    anonKey,
		httpClient: &instrumented,
		logger:     logger.With(slog.String("component", "identity_client")),
	}
}

// --- Токены ---

// SignInWithPassword выполняет вход по email и паролю.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	body := map[string]string{"email": email, "password": password}
	return c.token(ctx, "password", body)
}

// RefreshSession обменивает refresh token на новую сессию.
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*Session, error) {
	return c.token(ctx, "refresh_token", map[string]string{"refresh_token": refreshToken})
}

// ExchangeCode обменивает одноразовый код (PKCE) на сессию.
func (c *Client) ExchangeCode(ctx context.Context, authCode, codeVerifier string) (*Session, error) {
	body := map[string]string{"auth_code": authCode, "code_verifier": codeVerifier}
	return c.token(ctx, "pkce", body)
}

// token выполняет POST /token с указанным grant_type.
func (c *Client) token(ctx context.Context, grantType string, body any) (*Session, error) {
	resp, err := c.do(ctx, http.MethodPost, "/token?grant_type="+grantType, "", body)
	if err != nil {
		return nil, err
	}

	var s Session
	if err := decodeResponse(resp, &s); err != nil {
		return nil, err
	}
	s.fillExpiry()

	c.logger.Debug("Сессия получена",
		slog.String("grant_type", grantType),
		slog.String("user_id", s.User.ID),
	)
	return &s, nil
}

// --- Регистрация и подтверждение ---

// SignUpRequest — параметры регистрации.
type SignUpRequest struct {
	Email    string
	Password string
	// Metadata — сохраняется в user_metadata (full_name, role)
	Metadata map[string]any
	// RedirectTo — куда ведёт ссылка подтверждения email
	RedirectTo string
	// CodeChallenge — PKCE challenge (S256), пустой — без PKCE
	CodeChallenge string
}

// SignUp регистрирует пользователя.
// При автоподтверждении email сервис сразу возвращает сессию.
func (c *Client) SignUp(ctx context.Context, req SignUpRequest) (*SignUpResult, error) {
	body := map[string]any{
		"email":    req.Email,
		"password": req.Password,
	}
	if len(req.Metadata) > 0 {
		body["data"] = req.Metadata
	}
	if req.CodeChallenge != "" {
		body["code_challenge"] = req.CodeChallenge
		body["code_challenge_method"] = pkceMethod
	}

	path := "/signup"
	if req.RedirectTo != "" {
		path += "?redirect_to=" + url.QueryEscape(req.RedirectTo)
	}

	resp, err := c.do(ctx, http.MethodPost, path, "", body)
	if err != nil {
		return nil, err
	}

	var raw json.RawMessage
	if err := decodeResponse(resp, &raw); err != nil {
		return nil, err
	}

	// Ответ — либо сессия (с access_token), либо сам пользователь.
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("декодирование ответа signup: %w", err)
	}
	if s.AccessToken != "" {
		s.fillExpiry()
		return &SignUpResult{User: s.User, Session: &s}, nil
	}

	var u User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, fmt.Errorf("декодирование пользователя signup: %w", err)
	}
	return &SignUpResult{User: u}, nil
}

// AuthorizeURL возвращает URL начала OAuth-входа через провайдера.
func (c *Client) AuthorizeURL(provider, redirectTo, codeChallenge string) string {
	params := url.Values{"provider": {provider}}
	if redirectTo != "" {
		params.Set("redirect_to", redirectTo)
	}
	if codeChallenge != "" {
		params.Set("code_challenge", codeChallenge)
		params.Set("code_challenge_method", pkceMethod)
	}
	return c.baseURL + "/authorize?" + params.Encode()
}

// Resend повторно отправляет письмо указанного типа (например, signup).
func (c *Client) Resend(ctx context.Context, kind, email, redirectTo string) error {
	path := "/resend"
	if redirectTo != "" {
		path += "?redirect_to=" + url.QueryEscape(redirectTo)
	}

	resp, err := c.do(ctx, http.MethodPost, path, "", map[string]string{"type": kind, "email": email})
	if err != nil {
		return err
	}
	return decodeResponse(resp, nil)
}

// --- Пользователь ---

// GetUser возвращает пользователя по access token.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*User, error) {
	resp, err := c.do(ctx, http.MethodGet, "/user", accessToken, nil)
	if err != nil {
		return nil, err
	}

	var u User
	if err := decodeResponse(resp, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Logout завершает сессию на стороне Identity Service.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	resp, err := c.do(ctx, http.MethodPost, "/logout", accessToken, nil)
	if err != nil {
		return err
	}
	return decodeResponse(resp, nil)
}

// CheckReady проверяет доступность Identity Service (GET /health).
// Возвращает статус ("ok", "fail") и сообщение.
func (c *Client) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	resp, err := c.do(ctx, http.MethodGet, "/health", "", nil)
	if err != nil {
		return "fail", err.Error()
	}
	if err := decodeResponse(resp, nil); err != nil {
		return "fail", err.Error()
	}
	return "ok", "Identity Service доступен"
}

// --- HTTP helpers ---

// do выполняет запрос к auth API.
// accessToken — токен пользователя; пустой — используется anon key.
// Транспортные ошибки оборачиваются в ErrUnavailable.
func (c *Client) do(ctx context.Context, method, path, accessToken string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("сериализация тела запроса: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("создание запроса: %w", err)
	}

	bearer := accessToken
	if bearer == "" {
		bearer = c.anonKey
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, path, err)
	}
	return resp, nil
}

// decodeResponse декодирует JSON ответ в target.
// Статус не 2xx превращается в *APIError.
func decodeResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseAPIError(resp)
	}

	if target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return fmt.Errorf("декодирование ответа Identity Service: %w", err)
		}
	}
	return nil
}

// parseAPIError разбирает тело ошибки GoTrue (несколько известных форматов).
func parseAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{Status: resp.StatusCode}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body errorBody
	if err := json.Unmarshal(data, &body); err != nil {
		apiErr.Message = strings.TrimSpace(string(data))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	apiErr.Code = firstNonEmpty(body.ErrorCode, body.Error)
	apiErr.Message = firstNonEmpty(body.Msg, body.ErrorDescription, body.Message, body.Error, http.StatusText(resp.StatusCode))
	return apiErr
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// IsRejection сообщает, что ошибка — отказ сервиса (4xx), а не сбой.
func IsRejection(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status < 500
}
