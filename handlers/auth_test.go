package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clicast/config"
	"clicast/services"
)

func newAuthTestRouter(t *testing.T) (*gin.Engine, *services.TokenStore, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	path := filepath.Join(t.TempDir(), "config.json")
	store, err := config.NewStore(path, &config.Config{})
	require.NoError(t, err)
	t.Cleanup(store.Close)

	tokens := services.NewTokenStore(store)
	h := NewAuthHandler(tokens)

	r := gin.New()
	r.GET("/api/auth/status", h.Status)
	r.POST("/api/auth/init", h.Init)
	r.POST("/api/auth/verify", h.Verify)
	r.PUT("/api/auth", h.Rotate)
	r.DELETE("/api/auth", h.Clear)
	return r, tokens, path
}

func doJSON(t *testing.T, r *gin.Engine, method, url string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var env struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env.Data
}

func TestAuthBootstrapFlow(t *testing.T) {
	r, _, path := newAuthTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/api/auth/status", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decodeEnvelope(t, w)["hasToken"])

	w = doJSON(t, r, http.MethodPost, "/api/auth/init", gin.H{"token": "hunter22secret"})
	assert.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/auth/status", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeEnvelope(t, w)["hasToken"])

	// only the SHA-256 digest lands on disk
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk config.FileConfig
	require.NoError(t, json.Unmarshal(data, &onDisk))
	require.NotNil(t, onDisk.Auth)
	assert.Equal(t, services.HashToken("hunter22secret"), onDisk.Auth.TokenHash)
	assert.NotContains(t, string(data), "hunter22secret")
}

func TestAuthInitRejectsWeakToken(t *testing.T) {
	r, _, _ := newAuthTestRouter(t)
	w := doJSON(t, r, http.MethodPost, "/api/auth/init", gin.H{"token": "short"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthInitConflictsWhenTokenExists(t *testing.T) {
	r, _, _ := newAuthTestRouter(t)
	w := doJSON(t, r, http.MethodPost, "/api/auth/init", gin.H{"token": "hunter22secret"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/auth/init", gin.H{"token": "another-token"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAuthVerify(t *testing.T) {
	r, _, _ := newAuthTestRouter(t)

	// no token configured yet
	w := doJSON(t, r, http.MethodPost, "/api/auth/verify", gin.H{"token": "hunter22secret"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	doJSON(t, r, http.MethodPost, "/api/auth/init", gin.H{"token": "hunter22secret"})

	w = doJSON(t, r, http.MethodPost, "/api/auth/verify", gin.H{"token": "hunter22secret"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeEnvelope(t, w)["valid"])

	w = doJSON(t, r, http.MethodPost, "/api/auth/verify", gin.H{"token": "wrong-token"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthRotate(t *testing.T) {
	r, tokens, _ := newAuthTestRouter(t)
	doJSON(t, r, http.MethodPost, "/api/auth/init", gin.H{"token": "hunter22secret"})

	w := doJSON(t, r, http.MethodPut, "/api/auth", gin.H{
		"currentToken": "wrong-token",
		"newToken":     "replacement-token",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, r, http.MethodPut, "/api/auth", gin.H{
		"currentToken": "hunter22secret",
		"newToken":     "tiny",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodPut, "/api/auth", gin.H{
		"currentToken": "hunter22secret",
		"newToken":     "replacement-token",
	})
	assert.Equal(t, http.StatusOK, w.Code)

	// old token is dead, new one verifies
	assert.False(t, tokens.Verify("hunter22secret"))
	assert.True(t, tokens.Verify("replacement-token"))
}

func TestAuthClear(t *testing.T) {
	r, tokens, _ := newAuthTestRouter(t)
	doJSON(t, r, http.MethodPost, "/api/auth/init", gin.H{"token": "hunter22secret"})

	w := doJSON(t, r, http.MethodDelete, "/api/auth", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, tokens.HasToken())
}
