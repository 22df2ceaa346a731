// auth.go — JWT middleware для аутентификации и изоляции владельцев.
// Использует HS256 с общим секретом. Владелец файлов — claim sub;
// авторизация за пределами скоупинга по владельцу остаётся на стороне
// внешнего identity provider.
// Публичные endpoints (health, metrics) — без аутентификации.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/filevault/internal/api/errors"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

// ContextKeyOwner — ключ для sub из JWT в контексте запроса.
const ContextKeyOwner contextKey = "jwt_owner"

// JWTAuth — middleware для JWT-аутентификации по общему секрету.
type JWTAuth struct {
	secret []byte
	leeway time.Duration
	logger *slog.Logger
}

// NewJWTAuth создаёт JWT middleware с указанным HMAC-секретом.
func NewJWTAuth(secret string, leeway time.Duration, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{
		secret: []byte(secret),
		leeway: leeway,
		logger: logger.With(slog.String("component", "jwt_auth")),
	}
}

// Middleware возвращает HTTP middleware для JWT-аутентификации.
// Извлекает Bearer token из заголовка Authorization, валидирует подпись (HS256),
// проверяет exp/nbf, помещает sub (владельца) в контекст запроса.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Извлекаем Bearer token
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apierrors.Unauthorized(w, "Отсутствует заголовок Authorization")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				apierrors.Unauthorized(w, "Неверный формат Authorization: ожидается Bearer <token>")
				return
			}

			tokenString := parts[1]
			if tokenString == "" {
				apierrors.Unauthorized(w, "Пустой Bearer token")
				return
			}

			// Парсинг и валидация JWT
			claims := &jwt.RegisteredClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims,
				func(_ *jwt.Token) (any, error) { return j.secret, nil },
				jwt.WithValidMethods([]string{"HS256"}),
				jwt.WithExpirationRequired(),
				jwt.WithLeeway(j.leeway),
			)
			if err != nil {
				j.logger.Debug("JWT валидация не пройдена",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			if !token.Valid {
				apierrors.Unauthorized(w, "Невалидный токен")
				return
			}

			// Извлекаем sub — идентификатор владельца
			owner, err := claims.GetSubject()
			if err != nil || owner == "" {
				apierrors.Unauthorized(w, "Отсутствует sub в токене")
				return
			}

			// Отдаём владельца логгеру запросов
			if ref, ok := r.Context().Value(contextKeyOwnerRef).(*ownerRef); ok {
				ref.owner = owner
			}

			ctx := context.WithValue(r.Context(), ContextKeyOwner, owner)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OwnerFromContext извлекает владельца (sub) из контекста запроса.
// Возвращает пустую строку, если владелец не найден.
func OwnerFromContext(ctx context.Context) string {
	owner, _ := ctx.Value(ContextKeyOwner).(string)
	return owner
}
