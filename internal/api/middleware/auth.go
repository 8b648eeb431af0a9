package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"ocobot/pkg/crypto"
)

// Ошибки аутентификации
var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// tokenIssuer - значение iss во всех токенах API
const tokenIssuer = "ocobot"

type contextKey string

const subjectKey contextKey = "auth_subject"

// IssueToken подписывает HS256 токен для subject со сроком жизни ttl
//
// Используется командой `ocobot token`: оператор выпускает токен для
// стратегии или UI и передаёт его в заголовке Authorization.
func IssueToken(secret, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is empty")
	}
	if subject == "" {
		return "", errors.New("token subject is empty")
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken проверяет подпись, алгоритм, издателя и срок действия
func ParseToken(secret, raw string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// Subject возвращает subject токена, прошедшего Auth
func Subject(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey).(string)
	return s
}

// bearerToken достаёт токен из Authorization или, для WebSocket, из
// query параметра access_token: браузер не даёт задать заголовок при
// открытии сокета.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
			return strings.TrimSpace(h[7:])
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}

// Auth - middleware проверки JWT токенов API
//
// Токен: HS256, подписан JWT_SECRET, iss=ocobot. Без токена или с
// невалидным токеном запрос получает 401, subject валидного токена
// кладётся в context (Subject).
func Auth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				unauthorized(w, `Bearer realm="ocobot"`, ErrMissingToken.Error())
				return
			}

			claims, err := ParseToken(secret, raw)
			if err != nil {
				unauthorized(w, `Bearer realm="ocobot", error="invalid_token"`, ErrInvalidToken.Error())
				return
			}

			ctx := context.WithValue(r.Context(), subjectKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// MetricsAuth - HTTP Basic для /metrics
//
// Пароль хранится только как bcrypt хеш (DEBUG_PASSWORD_HASH). Пустой хеш
// означает, что защита не настроена, и запросы проходят как есть.
func MetricsAuth(username, passwordHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if passwordHash == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok {
				unauthorized(w, `Basic realm="metrics"`, "unauthorized")
				return
			}

			// constant-time сравнение имени, bcrypt для пароля
			userMatch := subtle.ConstantTimeCompare([]byte(user), []byte(username)) == 1
			passMatch := crypto.CheckPasswordMatch(pass, passwordHash)
			if !userMatch || !passMatch {
				unauthorized(w, `Basic realm="metrics"`, "unauthorized")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, challenge, message string) {
	w.Header().Set("WWW-Authenticate", challenge)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = fmt.Fprintf(w, `{"error":%q,"code":"UNAUTHORIZED"}`, message)
}
