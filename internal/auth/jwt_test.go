package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"voiceline/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func sign(t *testing.T, secret string, c Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func claimsAt(now time.Time) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "issuer",
			Audience:  jwt.ClaimStrings{"aud"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(15 * time.Minute)),
		},
		UserID:    "user-1",
		AccountID: "acct-1",
		Role:      "owner",
		TokenType: TokenTypeAccess,
	}
}

func TestVerify_AcceptsValidToken(t *testing.T) {
	v, err := NewVerifier(config.AuthConfig{JWTSecret: "secret", JWTIssuer: "issuer", JWTAudience: "aud"})
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	now := time.Unix(1700000000, 0).UTC()
	claims, err := v.Verify(sign(t, "secret", claimsAt(now)), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "user-1" || claims.AccountID != "acct-1" || claims.Role != "owner" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerify_RejectsBadTokens(t *testing.T) {
	v, _ := NewVerifier(config.AuthConfig{JWTSecret: "secret", JWTIssuer: "issuer", JWTAudience: "aud"})
	now := time.Unix(1700000000, 0).UTC()

	if _, err := v.Verify(sign(t, "other", claimsAt(now)), now); err == nil {
		t.Fatalf("expected signature failure")
	}
	if _, err := v.Verify(sign(t, "secret", claimsAt(now)), now.Add(time.Hour)); err == nil {
		t.Fatalf("expected expiry failure")
	}
	c := claimsAt(now)
	c.TokenType = "refresh"
	if _, err := v.Verify(sign(t, "secret", c), now); err == nil {
		t.Fatalf("expected token_type mismatch")
	}
	c = claimsAt(now)
	c.AccountID = ""
	if _, err := v.Verify(sign(t, "secret", c), now); err == nil {
		t.Fatalf("expected account_id missing")
	}
	c = claimsAt(now)
	c.Audience = jwt.ClaimStrings{"someone-else"}
	if _, err := v.Verify(sign(t, "secret", c), now); err == nil {
		t.Fatalf("expected audience failure")
	}
}

func TestRequireAccessToken_InjectsIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)
	v, _ := NewVerifier(config.AuthConfig{JWTSecret: "secret"})
	c := claimsAt(time.Now())
	c.Issuer = ""
	c.Audience = nil
	tok := sign(t, "secret", c)

	r := gin.New()
	r.GET("/x", RequireAccessToken(v), func(c *gin.Context) {
		acct, err := AccountID(c.Request.Context())
		if err != nil {
			c.Status(500)
			return
		}
		c.String(200, acct)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	r.ServeHTTP(w, req)
	if w.Code != 200 || w.Body.String() != "acct-1" {
		t.Fatalf("expected identity injected, got %d %q", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Code != 401 {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
}

func TestVerify_AppliesValidatorOptions(t *testing.T) {
	v, _ := NewVerifier(config.AuthConfig{JWTSecret: "secret", JWTIssuer: "issuer", JWTAudience: "aud"})
	now := time.Unix(1700000000, 0).UTC()

	c := claimsAt(now)
	c.ExpiresAt = nil
	if _, err := v.Verify(sign(t, "secret", c), now); err == nil {
		t.Fatalf("expected missing exp to be rejected")
	}
	c = claimsAt(now)
	c.Issuer = "elsewhere"
	if _, err := v.Verify(sign(t, "secret", c), now); err == nil {
		t.Fatalf("expected issuer mismatch")
	}
	// Leeway tolerates small clock skew past expiry.
	if _, err := v.Verify(sign(t, "secret", claimsAt(now)), now.Add(15*time.Minute+10*time.Second)); err != nil {
		t.Fatalf("expected leeway to accept skew: %v", err)
	}
}
