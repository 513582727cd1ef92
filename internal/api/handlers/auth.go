// auth.go — вход, регистрация, OAuth и callback с одноразовым кодом.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/J-Shotayo/skill-Forge/internal/api/errors"
	"github.com/J-Shotayo/skill-Forge/internal/api/middleware"
	"github.com/J-Shotayo/skill-Forge/internal/domain/model"
	"github.com/J-Shotayo/skill-Forge/internal/identity"
	"github.com/J-Shotayo/skill-Forge/internal/reconciler"
	"github.com/J-Shotayo/skill-Forge/internal/sessions"
)

const (
	defaultNext    = "/dashboard"
	signInPath     = "/auth/signin"
	callbackPath   = "/auth/callback"
	unexpectedCode = "unexpected_error"
)

// AuthHandler — обработчики /auth/*.
type AuthHandler struct {
	callback  *reconciler.CallbackService
	cookies   *sessions.CookieManager
	registry  *sessions.Registry
	providers []string
	publicURL string
	logger    *slog.Logger
}

// NewAuthHandler создаёт обработчик аутентификации.
// publicURL — базовый URL для redirect-адресов; пустой — берётся из запроса.
func NewAuthHandler(
	callback *reconciler.CallbackService,
	cookies *sessions.CookieManager,
	registry *sessions.Registry,
	providers []string,
	publicURL string,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		callback:  callback,
		cookies:   cookies,
		registry:  registry,
		providers: providers,
		publicURL: strings.TrimRight(publicURL, "/"),
		logger:    logger.With(slog.String("component", "auth_handler")),
	}
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"fullName"`
	Role     string `json:"role"`
}

type resendRequest struct {
	Email string `json:"email"`
}

type authResponse struct {
	User *model.Identity `json:"user"`
	// ConfirmationRequired — сессии ещё нет, ждём подтверждения email
	ConfirmationRequired bool   `json:"confirmationRequired"`
	Redirect             string `json:"redirect,omitempty"`
}

// SignIn — POST /auth/signin.
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	entry := middleware.SessionFromContext(r.Context())

	var req signInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		apierrors.ValidationError(w, "Укажите email и пароль")
		return
	}

	s, err := entry.Auth.SignInWithPassword(r.Context(), req.Email, req.Password)
	if err != nil {
		h.logger.Info("Вход отклонён",
			slog.String("email", req.Email),
			slog.String("error", err.Error()),
		)
		writeIdentityError(w, err, http.StatusUnauthorized)
		return
	}

	ident := s.User.Identity()
	writeJSON(w, http.StatusOK, authResponse{User: &ident, Redirect: defaultNext})
}

// SignUp — POST /auth/signup. Письмо подтверждения ведёт на callback.
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	entry := middleware.SessionFromContext(r.Context())

	var req signUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		apierrors.ValidationError(w, "Укажите email и пароль")
		return
	}
	role := model.RoleLearner
	if req.Role != "" {
		parsed, err := model.ParseRole(req.Role)
		if err != nil {
			apierrors.ValidationError(w, err.Error())
			return
		}
		role = parsed
	}

	metadata := map[string]any{
		"full_name": strings.TrimSpace(req.FullName),
		"role":      string(role),
	}
	redirectTo := h.callbackURL(r, url.Values{"next": {defaultNext}})

	res, err := entry.Auth.SignUp(r.Context(), req.Email, req.Password, metadata, redirectTo)
	if err != nil {
		h.logger.Info("Регистрация отклонена",
			slog.String("email", req.Email),
			slog.String("error", err.Error()),
		)
		writeIdentityError(w, err, http.StatusBadRequest)
		return
	}

	ident := res.User.Identity()
	resp := authResponse{User: &ident, ConfirmationRequired: res.Session == nil}
	if res.Session != nil {
		resp.Redirect = defaultNext
	}
	h.logger.Info("Пользователь зарегистрирован",
		slog.String("user_id", ident.ID),
		slog.String("role", string(role)),
		slog.Bool("confirmation_required", resp.ConfirmationRequired),
	)
	writeJSON(w, http.StatusCreated, resp)
}

// OAuth — GET /auth/oauth/{provider}?role=&next=. Перенаправляет к провайдеру.
func (h *AuthHandler) OAuth(w http.ResponseWriter, r *http.Request) {
	entry := middleware.SessionFromContext(r.Context())
	provider := chi.URLParam(r, "provider")

	if !slices.Contains(h.providers, provider) {
		apierrors.ValidationError(w, "Неподдерживаемый OAuth-провайдер: "+provider)
		return
	}

	params := url.Values{"next": {sanitizeNext(r.URL.Query().Get("next"))}}
	if role, err := model.ParseRole(r.URL.Query().Get("role")); err == nil {
		params.Set("role", string(role))
	}

	authURL, err := entry.Auth.SignInWithOAuth(r.Context(), provider, h.callbackURL(r, params))
	if err != nil {
		h.logger.Error("Не удалось начать OAuth-вход",
			slog.String("provider", provider),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Не удалось начать вход")
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback — GET /auth/callback?code&next&role.
// Без кода сразу ведёт на next; ошибки уходят на страницу входа.
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	entry := middleware.SessionFromContext(r.Context())
	q := r.URL.Query()
	next := sanitizeNext(q.Get("next"))

	if desc := q.Get("error_description"); desc != "" {
		h.logger.Info("Провайдер вернул ошибку", slog.String("error", desc))
		redirectSignIn(w, r, desc)
		return
	}

	code := q.Get("code")
	if code == "" {
		http.Redirect(w, r, next, http.StatusFound)
		return
	}

	role, err := model.ParseRole(q.Get("role"))
	if err != nil {
		role = model.RoleLearner
	}

	res, err := h.callback.Complete(r.Context(), entry.Auth, reconciler.CallbackRequest{Code: code, Role: role})
	if err != nil {
		var apiErr *identity.APIError
		switch {
		case errors.Is(err, reconciler.ErrCodeExchange) && errors.As(err, &apiErr) && identity.IsRejection(err):
			h.logger.Info("Код отклонён Identity Service", slog.String("error", apiErr.Message))
			redirectSignIn(w, r, apiErr.Message)
		default:
			h.logger.Error("Ошибка обработки callback", slog.String("error", err.Error()))
			redirectSignIn(w, r, unexpectedCode)
		}
		return
	}

	h.logger.Info("Callback обработан",
		slog.String("user_id", res.Identity.ID),
		slog.String("outcome", res.Outcome),
		slog.Int64("deleted", res.Deleted),
		slog.Bool("email_confirmed", res.Identity.EmailConfirmed()),
	)
	http.Redirect(w, r, next, http.StatusFound)
}

// Resend — POST /auth/resend. Email из тела или из текущей сессии.
func (h *AuthHandler) Resend(w http.ResponseWriter, r *http.Request) {
	entry := middleware.SessionFromContext(r.Context())

	var req resendRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			apierrors.ValidationError(w, err.Error())
			return
		}
	}

	email := strings.TrimSpace(req.Email)
	if email == "" {
		if user, err := entry.Auth.GetUser(r.Context()); err == nil {
			email = user.Email
		}
	}
	if email == "" {
		apierrors.ValidationError(w, "Email не найден, зарегистрируйтесь заново")
		return
	}

	redirectTo := h.callbackURL(r, url.Values{"next": {defaultNext}})
	if err := entry.Auth.Resend(r.Context(), email, redirectTo); err != nil {
		writeIdentityError(w, err, http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Статусы подтверждения email.
const (
	confirmNoSession = "no_session"
	confirmPending   = "pending"
	confirmConfirmed = "confirmed"
)

type confirmResponse struct {
	Status   string `json:"status"`
	Redirect string `json:"redirect,omitempty"`
}

// Confirm — GET /auth/confirm: подтверждён ли email текущей сессии.
func (h *AuthHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	entry := middleware.SessionFromContext(r.Context())

	s, err := entry.Auth.GetSession(r.Context())
	if err != nil {
		writeIdentityError(w, err, http.StatusBadRequest)
		return
	}

	switch {
	case s == nil:
		writeJSON(w, http.StatusOK, confirmResponse{Status: confirmNoSession})
	case s.User.Identity().EmailConfirmed():
		writeJSON(w, http.StatusOK, confirmResponse{Status: confirmConfirmed, Redirect: defaultNext})
	default:
		writeJSON(w, http.StatusOK, confirmResponse{Status: confirmPending})
	}
}

// SignOut — POST /auth/signout. Сессия сбрасывается при любом исходе.
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	entry := middleware.SessionFromContext(r.Context())

	if err := entry.Reconciler.SignOut(r.Context()); err != nil {
		h.logger.Warn("Выход завершён с ошибкой Identity Service",
			slog.String("error", err.Error()),
		)
	}
	h.registry.Remove(entry.ID)
	h.cookies.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

// --- Вспомогательные функции ---

// baseURL — публичный адрес сервиса.
func (h *AuthHandler) baseURL(r *http.Request) string {
	if h.publicURL != "" {
		return h.publicURL
	}
	scheme := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func (h *AuthHandler) callbackURL(r *http.Request, params url.Values) string {
	return h.baseURL(r) + callbackPath + "?" + params.Encode()
}

// sanitizeNext допускает только локальный путь: "/x", но не "//x",
// "/\x" или абсолютный URL.
func sanitizeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") ||
		strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return defaultNext
	}
	u, err := url.Parse(next)
	if err != nil || u.IsAbs() || u.Host != "" {
		return defaultNext
	}
	return next
}

func redirectSignIn(w http.ResponseWriter, r *http.Request, msg string) {
	http.Redirect(w, r, signInPath+"?error="+url.QueryEscape(msg), http.StatusFound)
}
