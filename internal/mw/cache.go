package mw

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
)

type cachedResponse struct {
	status  int
	headers http.Header
	body    []byte
}

type bodyCacheWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w bodyCacheWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w bodyCacheWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// ResponseCache caches successful GET responses of public read endpoints.
// Writes to the underlying data call Flush so readers never see stale lists
// for longer than a write.
type ResponseCache struct {
	store *cache.Cache
	ttl   time.Duration
}

// NewResponseCache creates a cache whose entries live for ttl.
func NewResponseCache(ttl time.Duration) *ResponseCache {
	return &ResponseCache{store: cache.New(ttl, 2*ttl), ttl: ttl}
}

// Flush drops every cached response.
func (rc *ResponseCache) Flush() { rc.store.Flush() }

// Handler serves GET requests from the cache. Requests carrying credentials
// are never cached.
func (rc *ResponseCache) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet || c.GetHeader("Authorization") != "" {
			c.Next()
			return
		}

		key := c.Request.URL.RequestURI()
		if resp, found := rc.store.Get(key); found {
			cached := resp.(cachedResponse)
			for k, v := range cached.headers {
				c.Writer.Header()[k] = v
			}
			c.Header("X-Cache", "HIT")
			c.Writer.WriteHeader(cached.status)
			c.Writer.Write(cached.body)
			c.Abort()
			return
		}

		c.Header("X-Cache", "MISS")
		blw := &bodyCacheWriter{body: bytes.NewBuffer(nil), ResponseWriter: c.Writer}
		c.Writer = blw

		c.Next()

		if blw.Status() >= 200 && blw.Status() < 300 {
			headers := blw.Header().Clone()
			headers.Del("X-Cache")
			rc.store.Set(key, cachedResponse{
				status:  blw.Status(),
				headers: headers,
				body:    blw.body.Bytes(),
			}, rc.ttl)
		}
	}
}

// Invalidate flushes the cache after any successful write request.
func (rc *ResponseCache) Invalidate() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if c.Request.Method != http.MethodGet && c.Writer.Status() < 400 {
			rc.Flush()
		}
	}
}
