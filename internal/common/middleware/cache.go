package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"raffle-ledger-backend/internal/common/cache"
)

// ResponseCacheKeyPrefix prefixes every cached response key. Writers drop
// the prefix after mutations so readers see fresh state.
const ResponseCacheKeyPrefix = "httpcache:"

type cachedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

type bodyRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *bodyRecorder) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyRecorder) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// ResponseCache caches successful GET responses for ttl, keyed by full URL.
// Cache failures never fail the request.
func ResponseCache(store cache.Cache, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet || ttl <= 0 {
			c.Next()
			return
		}

		key := ResponseCacheKeyPrefix + c.Request.URL.RequestURI()
		if bs, ok, err := store.Get(c.Request.Context(), key); err == nil && ok {
			var entry cachedResponse
			if json.Unmarshal(bs, &entry) == nil {
				c.Header("X-Cache", "HIT")
				c.Data(entry.Status, entry.ContentType, entry.Body)
				c.Abort()
				return
			}
		}

		rec := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = rec
		c.Header("X-Cache", "MISS")
		c.Next()

		status := rec.Status()
		if status < 200 || status >= 300 {
			return
		}
		entry := cachedResponse{
			Status:      status,
			ContentType: rec.Header().Get("Content-Type"),
			Body:        rec.body.Bytes(),
		}
		if payload, err := json.Marshal(entry); err == nil {
			_ = store.Set(context.WithoutCancel(c.Request.Context()), key, payload, ttl)
		}
	}
}

// InvalidateResponses drops cached responses after a successful mutation.
func InvalidateResponses(store cache.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if c.Request.Method == http.MethodGet || c.Writer.Status() >= 400 {
			return
		}
		_ = store.DeletePrefix(context.WithoutCancel(c.Request.Context()), ResponseCacheKeyPrefix)
	}
}
