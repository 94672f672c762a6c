package auth

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-guardian-prototype/internal/domain"
)

type claimsKey struct{}

// ClaimsFromContext достает проверенные клеймы (nil, если запрос шел мимо auth)
func ClaimsFromContext(ctx context.Context) *domain.CustomClaims {
	claims, _ := ctx.Value(claimsKey{}).(*domain.CustomClaims)
	return claims
}

// NewMiddleware проверяет токен и прокидывает клеймы в контекст запроса.
// user_role для ValidationContext берется отсюда — из подписанного токена,
// а не из тела запроса.
func NewMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := v.VerifyToken(authHeader)
			if err != nil {
				logger.Warn("auth failure", zap.Error(err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
