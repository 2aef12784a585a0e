package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type stubVerifier struct{ accept string }

func (s stubVerifier) Verify(plain string) bool { return plain == s.accept }

func newProtectedRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(TokenRequired(stubVerifier{accept: "good-token"}))
	r.GET("/protected", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	return r
}

func TestTokenRequired(t *testing.T) {
	r := newProtectedRouter()

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic good-token", http.StatusUnauthorized},
		{"wrong token", "Bearer bad-token", http.StatusUnauthorized},
		{"valid token", "Bearer good-token", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(3, time.Minute)

	r := gin.New()
	r.Use(rl.Middleware())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, "request %d within burst", i+1)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)

	run := func(origins []string, origin, method string) *httptest.ResponseRecorder {
		r := gin.New()
		r.Use(CORS(origins))
		r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
		req := httptest.NewRequest(method, "/", nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	// no configured origins echoes any origin
	w := run(nil, "http://localhost:5173", http.MethodGet)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))

	// allow-listed origin passes, others get no CORS header
	w = run([]string{"http://app.local"}, "http://app.local", http.MethodGet)
	assert.Equal(t, "http://app.local", w.Header().Get("Access-Control-Allow-Origin"))

	w = run([]string{"http://app.local"}, "http://evil.example", http.MethodGet)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	// preflight short-circuits
	w = run(nil, "http://app.local", http.MethodOptions)
	assert.Equal(t, http.StatusNoContent, w.Code)
}
