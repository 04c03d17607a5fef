package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

const secret = "test-secret"

func sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func serve(r *http.Request) (*httptest.ResponseRecorder, string, string) {
	var gotID, gotHeader string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID, _ = AccountIDFromContext(r.Context())
		gotHeader = r.Header.Get(AccountIDHeader)
		w.WriteHeader(http.StatusNoContent)
	})
	w := httptest.NewRecorder()
	AuthMiddleware(secret)(next).ServeHTTP(w, r)
	return w, gotID, gotHeader
}

func TestAuthMiddlewareAcceptsBearer(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/balance", nil)
	req.Header.Set("Authorization", "Bearer "+sign(t, jwt.MapClaims{"account_id": "acct-1"}))
	req.Header.Set(AccountIDHeader, "spoofed")

	w, id, header := serve(req)
	if w.Code != http.StatusNoContent || id != "acct-1" {
		t.Fatalf("unexpected %d %q", w.Code, id)
	}
	if header != "" {
		t.Fatalf("caller supplied account header leaked: %q", header)
	}
}

func TestAuthMiddlewareNumericUserID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/balance", nil)
	req.Header.Set("Authorization", "bearer "+sign(t, jwt.MapClaims{"user_id": float64(42)}))

	if w, id, _ := serve(req); w.Code != http.StatusNoContent || id != "42" {
		t.Fatalf("unexpected %d %q", w.Code, id)
	}
}

func TestAuthMiddlewareQueryToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/balance/stream?access_token="+sign(t, jwt.MapClaims{"sub": "acct-7"}), nil)

	if w, id, _ := serve(req); w.Code != http.StatusNoContent || id != "acct-7" {
		t.Fatalf("unexpected %d %q", w.Code, id)
	}
}

func TestAuthMiddlewareRejects(t *testing.T) {
	wrongKey, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"account_id": "a"}).SignedString([]byte("other"))
	unsigned, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"account_id": "a"}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	cases := map[string]string{
		"missing":    "",
		"scheme":     "Basic abc",
		"wrong key":  "Bearer " + wrongKey,
		"alg none":   "Bearer " + unsigned,
		"no account": "Bearer " + sign(t, jwt.MapClaims{"role": "user"}),
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/balance", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			if w, _, _ := serve(req); w.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", w.Code)
			}
		})
	}
}
