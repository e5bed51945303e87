package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func protectedRouter(audience string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", JWTMiddleware(testSecret, audience), func(c *gin.Context) {
		id, _ := GetUserID(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"user": id, "method": GetAuthMethod(c.Request.Context())})
	})
	return r
}

func call(r *gin.Engine, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestIssuedTokenPassesMiddleware(t *testing.T) {
	issuer, err := NewIssuer(testSecret, "faceid", time.Minute)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	token, expires, err := issuer.Issue("maitri", MethodFace)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if time.Until(expires) > time.Minute || time.Until(expires) <= 0 {
		t.Fatalf("unexpected expiry %v", expires)
	}

	resp := call(protectedRouter("faceid"), "Bearer "+token)
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.Code, resp.Body.String())
	}
	if body := resp.Body.String(); body != `{"method":"face","user":"maitri"}` {
		t.Fatalf("unexpected body %s", body)
	}
}

func TestMiddlewareRejections(t *testing.T) {
	issuer, _ := NewIssuer(testSecret, "other", time.Minute)
	wrongAudience, _, _ := issuer.Issue("maitri", MethodPassword)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "maitri",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	})
	expiredToken, _ := expired.SignedString([]byte(testSecret))

	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "maitri"})
	foreignToken, _ := foreign.SignedString([]byte("another-secret"))

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic abc"},
		{"empty token", "Bearer  "},
		{"expired", "Bearer " + expiredToken},
		{"wrong secret", "Bearer " + foreignToken},
		{"wrong audience", "Bearer " + wrongAudience},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if resp := call(protectedRouter("faceid"), tt.header); resp.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", resp.Code)
			}
		})
	}
}

func TestIssuerValidation(t *testing.T) {
	if _, err := NewIssuer("  ", "", time.Minute); err == nil {
		t.Fatal("expected error for empty secret")
	}
	issuer, _ := NewIssuer(testSecret, "", 0)
	if _, _, err := issuer.Issue("", MethodPassword); err == nil {
		t.Fatal("expected error for empty subject")
	}
}
