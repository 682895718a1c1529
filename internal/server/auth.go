package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/vesaa/ipslamon/internal/config"
)

// tokenTTL is the lifetime of a control-plane JWT.
const tokenTTL = 24 * time.Hour

// Auth holds the credentials of both planes: JWTs for the control plane
// (port 6677) and the pre-shared agent token for the data plane (port 1616).
type Auth struct {
	secret     []byte
	agentToken string
	adminUser  string
	adminPass  string
	now        func() time.Time
}

// NewAuth reads the secrets from cfg.
func NewAuth(cfg *config.Config) *Auth {
	return &Auth{
		secret:     []byte(cfg.JWTSecret),
		agentToken: cfg.AgentToken,
		adminUser:  cfg.AdminUser,
		adminPass:  cfg.AdminPass,
		now:        time.Now,
	}
}

// Claims is the payload embedded in every JWT issued by /api/login.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// CheckCredentials reports whether user/pass are the admin login.
func (a *Auth) CheckCredentials(user, pass string) bool {
	u := subtle.ConstantTimeCompare([]byte(user), []byte(a.adminUser))
	p := subtle.ConstantTimeCompare([]byte(pass), []byte(a.adminPass))
	return u&p == 1
}

// GenerateJWT creates a signed HS256 JWT valid for tokenTTL.
func (a *Auth) GenerateJWT(username string) (string, error) {
	now := a.now()
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "ipslamon",
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *Auth) parseJWT(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// bearer extracts the token of an "Authorization: Bearer <token>" header.
func bearer(c *gin.Context) (string, bool) {
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// JWTMiddleware validates control-plane JWTs and stores the username in the
// gin context as "username".
func (a *Auth) JWTMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing Authorization header",
			})
			return
		}
		tok, ok := bearer(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid Authorization format, expected: Bearer <token>",
			})
			return
		}
		claims, err := a.parseJWT(tok)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired token",
			})
			return
		}
		c.Set("username", claims.Username)
		c.Next()
	}
}

// AgentTokenMiddleware checks the data-plane pre-shared token.
func (a *Auth) AgentTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, ok := bearer(c)
		if !ok || subtle.ConstantTimeCompare([]byte(tok), []byte(a.agentToken)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or missing agent token",
			})
			return
		}
		c.Next()
	}
}
