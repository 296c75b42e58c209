package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func setupRouter(p Pinger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(p)
	r := gin.New()
	r.GET("/health/live", h.Liveness)
	r.GET("/health/ready", h.Readiness)
	return r
}

func get(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestLivenessAlwaysOK(t *testing.T) {
	r := setupRouter(pingerFunc(func(context.Context) error {
		return errors.New("directory down")
	}))

	w := get(r, "/health/live")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReadinessOKWhenDirectoryHealthy(t *testing.T) {
	r := setupRouter(pingerFunc(func(context.Context) error { return nil }))

	w := get(r, "/health/ready")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ready")
}

func TestReadinessDegradedWhenDirectoryDown(t *testing.T) {
	r := setupRouter(pingerFunc(func(context.Context) error {
		return errors.New("connection refused")
	}))

	w := get(r, "/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "degraded")
}

func TestReadinessOKWithoutDirectory(t *testing.T) {
	r := setupRouter(nil)

	w := get(r, "/health/ready")
	assert.Equal(t, http.StatusOK, w.Code)
}
