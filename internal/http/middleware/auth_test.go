package middleware

import (
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

var cfg = AuthConfig{Secret: []byte("mw-secret"), Issuer: "rentals"}

func newEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), ErrorHandler(discard()))
	r.GET("/", append(handlers, func(c *gin.Context) {
		u, _ := CurrentUser(c)
		c.String(http.StatusOK, u.ID+"|"+u.Role)
	})...)
	return r
}

func get(r http.Handler, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthenticateAcceptsValidToken(t *testing.T) {
	tok, err := IssueToken(cfg, "user-1", RoleTenant, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	w := get(newEngine(Authenticate(cfg), RequireAuth()), tok)
	if w.Code != http.StatusOK || w.Body.String() != "user-1|tenant" {
		t.Fatalf("got %d %q", w.Code, w.Body.String())
	}
}

func TestAuthenticateRejects(t *testing.T) {
	expired, _ := IssueToken(cfg, "user-1", RoleTenant, -time.Minute)
	otherKey, _ := IssueToken(AuthConfig{Secret: []byte("other"), Issuer: cfg.Issuer}, "user-1", RoleTenant, time.Minute)
	otherIssuer, _ := IssueToken(AuthConfig{Secret: cfg.Secret, Issuer: "elsewhere"}, "user-1", RoleTenant, time.Minute)
	noSub, _ := IssueToken(cfg, "", RoleTenant, time.Minute)
	unsigned, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "user-1", "exp": time.Now().Add(time.Minute).Unix(), "iss": cfg.Issuer,
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	cases := map[string]string{
		"expired":      expired,
		"other key":    otherKey,
		"other issuer": otherIssuer,
		"no subject":   noSub,
		"alg none":     unsigned,
	}
	r := newEngine(Authenticate(cfg))
	for name, tok := range cases {
		if w := get(r, tok); w.Code != http.StatusUnauthorized {
			t.Fatalf("%s: status = %d", name, w.Code)
		}
	}
}

func TestRequireAuthAnonymous(t *testing.T) {
	w := get(newEngine(Authenticate(cfg), RequireAuth()), "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Header().Get(HeaderRequestID) == "" {
		t.Fatalf("request id missing on error response")
	}
}

func TestRequireRole(t *testing.T) {
	r := newEngine(Authenticate(cfg), RequireRole(RoleLandlord, RoleAdmin))
	landlord, _ := IssueToken(cfg, "l-1", RoleLandlord, time.Minute)
	tenant, _ := IssueToken(cfg, "t-1", RoleTenant, time.Minute)

	if w := get(r, landlord); w.Code != http.StatusOK {
		t.Fatalf("landlord status = %d", w.Code)
	}
	if w := get(r, tenant); w.Code != http.StatusForbidden {
		t.Fatalf("tenant status = %d", w.Code)
	}
}

func TestRecoveryRendersJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), ErrorHandler(discard()), Recovery(discard()))
	r.GET("/", func(*gin.Context) { panic("boom") })

	w := get(r, "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("content type = %q", ct)
	}
}

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}
