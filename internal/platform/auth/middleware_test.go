package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var testSecret = []byte("unit-test-secret")

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireAuthAcceptsValidToken(t *testing.T) {
	authn := NewAuthenticator(testSecret)
	tokenStr := signToken(t, jwt.MapClaims{
		"sub":   "user_1",
		"email": "user@example.com",
		"role":  "customer",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	var called bool
	var captured *Identity
	handler := authn.RequireAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		captured, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !called {
		t.Fatalf("handler not invoked, status %d", rec.Code)
	}
	if captured == nil {
		t.Fatal("identity missing from context")
	}
	if captured.UID != "user_1" {
		t.Fatalf("uid = %q, want user_1", captured.UID)
	}
	if captured.Email != "user@example.com" {
		t.Fatalf("email = %q", captured.Email)
	}
	if !captured.HasRole(RoleCustomer) {
		t.Fatalf("roles = %v, want customer", captured.Roles)
	}
}

func TestRequireAuthRejectsMissingHeader(t *testing.T) {
	authn := NewAuthenticator(testSecret)

	var called bool
	handler := authn.RequireAuth()(okHandler(&called))

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if called {
		t.Fatal("handler should not run without a token")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestRequireAuthRejectsExpiredToken(t *testing.T) {
	authn := NewAuthenticator(testSecret)
	tokenStr := signToken(t, jwt.MapClaims{
		"sub": "user_1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	var called bool
	handler := authn.RequireAuth()(okHandler(&called))

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if called {
		t.Fatal("handler should not run with an expired token")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestRequireAuthRejectsWrongSecret(t *testing.T) {
	authn := NewAuthenticator(testSecret)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user_1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("some-other-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	var called bool
	handler := authn.RequireAuth()(okHandler(&called))

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if called {
		t.Fatal("handler should not run with a forged token")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestRequireAuthEnforcesRoles(t *testing.T) {
	authn := NewAuthenticator(testSecret)
	tokenStr := signToken(t, jwt.MapClaims{
		"sub":  "user_1",
		"role": "customer",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	var called bool
	handler := authn.RequireAuth(RoleStaff, RoleAdmin)(okHandler(&called))

	req := httptest.NewRequest(http.MethodPut, "/orders/ord_1/status", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if called {
		t.Fatal("customer should not pass a staff-only gate")
	}
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestVerifyDefaultsRole(t *testing.T) {
	authn := NewAuthenticator(testSecret)
	tokenStr := signToken(t, jwt.MapClaims{
		"sub": "user_1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	identity, err := authn.Verify(tokenStr)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if identity.PrimaryRole() != RoleCustomer {
		t.Fatalf("role = %q, want customer", identity.PrimaryRole())
	}
}

func TestVerifyChecksIssuerAndAudience(t *testing.T) {
	authn := NewAuthenticator(testSecret, WithIssuer("feastline"), WithAudience("api"))

	tokenStr := signToken(t, jwt.MapClaims{
		"sub": "user_1",
		"iss": "someone-else",
		"aud": "api",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	if _, err := authn.Verify(tokenStr); err == nil {
		t.Fatal("expected issuer mismatch to fail")
	}

	tokenStr = signToken(t, jwt.MapClaims{
		"sub": "user_1",
		"iss": "feastline",
		"aud": "api",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	if _, err := authn.Verify(tokenStr); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyAppliesLeewayToTimeClaims(t *testing.T) {
	authn := NewAuthenticator(testSecret, WithLeeway(30*time.Second))

	justExpired := signToken(t, jwt.MapClaims{
		"sub": "user_1",
		"exp": time.Now().Add(-10 * time.Second).Unix(),
	})
	if _, err := authn.Verify(justExpired); err != nil {
		t.Fatalf("token expired within leeway rejected: %v", err)
	}

	notYetValid := signToken(t, jwt.MapClaims{
		"sub": "user_1",
		"nbf": time.Now().Add(10 * time.Second).Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	if _, err := authn.Verify(notYetValid); err != nil {
		t.Fatalf("nbf within leeway rejected: %v", err)
	}

	longExpired := signToken(t, jwt.MapClaims{
		"sub": "user_1",
		"exp": time.Now().Add(-5 * time.Minute).Unix(),
	})
	if _, err := authn.Verify(longExpired); err != ErrTokenExpired {
		t.Fatalf("err = %v, want ErrTokenExpired", err)
	}
}

func TestVerifyRejectsExpiredWithoutLeeway(t *testing.T) {
	authn := NewAuthenticator(testSecret)
	expired := signToken(t, jwt.MapClaims{
		"sub": "user_1",
		"exp": time.Now().Add(-time.Minute).Unix(),
	})
	if _, err := authn.Verify(expired); err != ErrTokenExpired {
		t.Fatalf("err = %v, want ErrTokenExpired", err)
	}
}
