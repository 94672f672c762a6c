package domain

import (
	"github.com/golang-jwt/jwt/v5"
)

// CustomClaims — полезная нагрузка JWT serving loop'а. Роль из токена
// становится user_role в ValidationContext — правила вроде
// financial_data_approval опираются именно на нее, не на payload.
type CustomClaims struct {
	UserID string          `json:"user_id"`
	Role   string          `json:"role"`   // e.g. "cfo", "analyst", "operator"
	Scopes map[string]bool `json:"scopes"` // "guardian.evaluate": true
	jwt.RegisteredClaims
}
