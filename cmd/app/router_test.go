package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raffle-ledger-backend/internal/common/config"
	"raffle-ledger-backend/internal/common/logger"
)

func newTestSrv(t *testing.T) *srv {
	gin.SetMode(gin.TestMode)
	logger.Disable()

	cfg := &config.Config{Debug: true, Storage: config.StorageMemory}
	cfg.Server.Origin = "http://localhost:3000"
	cfg.Ledger.HoldWindow = 10 * time.Minute
	cfg.Ledger.MaxTicketsPerPurchase = 100
	cfg.Payment.Timeout = time.Second
	cfg.Payment.MaxRetries = 1
	cfg.Loyalty.ReferralBonus = 100
	cfg.Events.BufferSize = 8
	cfg.Cache.TTL = time.Second
	cfg.Cache.LocalSize = 64

	s := &srv{cfg: cfg}
	require.NoError(t, s.loadStorage(context.Background()))
	require.NoError(t, s.loadCache())
	s.loadEvents()
	s.loadServices()
	t.Cleanup(s.close)
	return s
}

func TestProbes(t *testing.T) {
	router := newTestSrv(t).router()

	for _, path := range []string{"/health", "/live", "/ready"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestAPIMounted(t *testing.T) {
	router := newTestSrv(t).router()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/raffles", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/loyalty/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUnknownStorageDriver(t *testing.T) {
	s := &srv{cfg: &config.Config{Storage: "postgres"}}
	assert.Error(t, s.loadStorage(context.Background()))
}
