// Package jwtmw guards operator endpoints with HMAC-signed JWTs.
package jwtmw

import (
	"net/http"
	"os"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// EnvKeyJWTSecret is the environment variable holding the signing secret.
	EnvKeyJWTSecret = "JWT_SECRET"

	ContextSubject = "subject"
	ContextScopes  = "scopes"

	// ScopeSync allows triggering sync runs.
	ScopeSync = "sync:run"
)

// AuthRequired returns a Gin middleware function that validates JWT tokens
// and restricts access to operators holding every scope in required.
func AuthRequired(required ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 1. Authorizationヘッダーを取得
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimPrefix(auth, "Bearer ")

		// 2. 環境変数から秘密鍵を読み込む
		secret := os.Getenv(EnvKeyJWTSecret)
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "server misconfigured"})
			return
		}

		// 3. 署名を検証（HMACのみ許可）
		claims := &OperatorClaims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(secret), nil
		}, jwt.WithExpirationRequired())
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		// 4. スコープを確認
		for _, s := range required {
			if !slices.Contains(claims.Scopes, s) {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient scope"})
				return
			}
		}

		c.Set(ContextSubject, claims.Subject)
		c.Set(ContextScopes, claims.Scopes)
		c.Next()
	}
}
