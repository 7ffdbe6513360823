package logger

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/noah-isme/demande-api/pkg/config"
)

func TestGinMiddlewareTagsRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.DebugLevel)
	r := gin.New()
	r.Use(GinMiddleware(zap.New(core)))
	r.POST("/demandes/:id/approve", func(c *gin.Context) {
		c.Set(UserIDKey, "u-chef")
		c.Status(http.StatusConflict)
	})
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/demandes/d-1/approve", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	entries := logs.All()
	require.Len(t, entries, 2)

	approve := entries[0]
	assert.Equal(t, zapcore.WarnLevel, approve.Level)
	fields := approve.ContextMap()
	assert.Equal(t, "/demandes/:id/approve", fields["route"])
	assert.Equal(t, "d-1", fields["resource_id"])
	assert.Equal(t, "u-chef", fields["user_id"])

	assert.Equal(t, zapcore.DebugLevel, entries[1].Level)
}

func TestNewFallsBackToInfoOnBadLevel(t *testing.T) {
	l, err := New(&config.Config{Env: config.EnvProduction, Log: config.LogConfig{Level: "loud", Format: "console"}})
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
}
