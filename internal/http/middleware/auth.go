package middleware

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/bradb345/t3test-sub001/internal/shared/apperr"
)

const (
	CtxKeyUserID   = "user_id"
	CtxKeyUserRole = "user_role"

	RoleTenant   = "tenant"
	RoleLandlord = "landlord"
	RoleAdmin    = "admin"
)

// Identity is the caller as asserted by the bearer token.
type Identity struct {
	ID   string
	Role string
}

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type AuthConfig struct {
	Secret []byte
	Issuer string
	Leeway time.Duration
}

// Authenticate parses an HS256 bearer token when present. Requests without
// one continue anonymously; RequireAuth decides whether that is allowed.
func Authenticate(cfg AuthConfig) gin.HandlerFunc {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	parser := jwt.NewParser(opts...)

	return func(c *gin.Context) {
		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.Next()
			return
		}

		var claims Claims
		_, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
			return cfg.Secret, nil
		})
		if err != nil || claims.Subject == "" {
			if err == nil {
				err = errors.New("token has no subject")
			}
			Fail(c, apperr.UnauthorizedErr("Invalid or expired token.").WithCause(err))
			return
		}

		c.Set(CtxKeyUserID, claims.Subject)
		c.Set(CtxKeyUserRole, claims.Role)
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func CurrentUser(c *gin.Context) (Identity, bool) {
	id := c.GetString(CtxKeyUserID)
	if id == "" {
		return Identity{}, false
	}
	return Identity{ID: id, Role: c.GetString(CtxKeyUserRole)}, true
}

// IssueToken signs a token for id/role. Used by tooling and tests; the
// identity service issues real ones.
func IssueToken(cfg AuthConfig, id, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id,
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(cfg.Secret)
}
