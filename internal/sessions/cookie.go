// Пакет sessions — браузерные сессии SkillForge: зашифрованный cookie
// с идентификатором сессии и реестр согласователей по этому идентификатору.
package sessions

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// CookieName — имя cookie сессии.
const CookieName = "sf_session"

// idBytes — длина случайного идентификатора сессии.
const idBytes = 32

// CookieData — содержимое cookie. Токены в cookie не попадают,
// они лежат в хранилище токенов под ключом ID.
type CookieData struct {
	// ID — идентификатор сессии
	ID string `json:"id"`
	// IssuedAt — время выдачи (Unix timestamp)
	IssuedAt int64 `json:"iat"`
}

// CookieManager шифрует CookieData через AES-256-GCM.
type CookieManager struct {
	gcm    cipher.AEAD
	secure bool
	maxAge time.Duration
}

// NewCookieManager создаёт менеджер cookie.
// key — base64 32-байтовый ключ или произвольная строка (хешируется SHA-256).
// Пустой key — случайный ключ: сессии не переживают рестарт.
func NewCookieManager(key string, secure bool, maxAge time.Duration) (*CookieManager, error) {
	var keyBytes []byte

	if key == "" {
		keyBytes = make([]byte, 32)
		if _, err := io.ReadFull(rand.Reader, keyBytes); err != nil {
			return nil, fmt.Errorf("ошибка генерации ключа сессии: %w", err)
		}
	} else {
		var err error
		keyBytes, err = base64.StdEncoding.DecodeString(key)
		if err != nil || len(keyBytes) != 32 {
			h := sha256.Sum256([]byte(key))
			keyBytes = h[:]
		}
	}

	block, err := aes.NewCipher(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания GCM: %w", err)
	}

	return &CookieManager{gcm: gcm, secure: secure, maxAge: maxAge}, nil
}

// GenerateID возвращает новый случайный идентификатор сессии (base64url).
func GenerateID() (string, error) {
	b := make([]byte, idBytes)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("ошибка генерации идентификатора сессии: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Encrypt шифрует CookieData и возвращает base64-строку.
func (cm *CookieManager) Encrypt(data *CookieData) (string, error) {
	plaintext, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("ошибка сериализации сессии: %w", err)
	}

	nonce := make([]byte, cm.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("ошибка генерации nonce: %w", err)
	}

	ciphertext := cm.gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.URLEncoding.EncodeToString(ciphertext), nil
}

// Decrypt дешифрует base64-строку обратно в CookieData.
func (cm *CookieManager) Decrypt(encrypted string) (*CookieData, error) {
	ciphertext, err := base64.URLEncoding.DecodeString(encrypted)
	if err != nil {
		return nil, fmt.Errorf("ошибка декодирования base64: %w", err)
	}

	nonceSize := cm.gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, errors.New("зашифрованные данные слишком короткие")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := cm.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка дешифрования сессии: %w", err)
	}

	var data CookieData
	if err := json.Unmarshal(plaintext, &data); err != nil {
		return nil, fmt.Errorf("ошибка десериализации сессии: %w", err)
	}
	if data.ID == "" {
		return nil, errors.New("в cookie нет идентификатора сессии")
	}
	return &data, nil
}

// Set устанавливает cookie сессии в ответ.
func (cm *CookieManager) Set(w http.ResponseWriter, data *CookieData) error {
	encrypted, err := cm.Encrypt(data)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    encrypted,
		Path:     "/",
		MaxAge:   int(cm.maxAge / time.Second),
		HttpOnly: true,
		Secure:   cm.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// FromRequest извлекает CookieData из запроса.
// Возвращает nil, nil если cookie отсутствует.
func (cm *CookieManager) FromRequest(r *http.Request) (*CookieData, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return nil, nil
		}
		return nil, err
	}
	return cm.Decrypt(cookie.Value)
}

// Clear удаляет cookie сессии.
func (cm *CookieManager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cm.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
