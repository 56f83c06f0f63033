// ABOUTME: Gin engine construction: middleware chain and route table
// ABOUTME: Request ids, access logging, CORS, body limits, recovery and optional JWT auth

package gateway

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/MuhtaT/famlogger-server/internal/auth"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"

	maxBodyBytes = 1 << 20
)

// routes builds the HTTP handler for the gateway.
func (g *Gateway) routes() http.Handler {
	engine := gin.New()
	engine.HandleMethodNotAllowed = false
	engine.Use(
		requestID(),
		accessLog(g.logger.With("component", "http")),
		recovery(g.logger.With("component", "http")),
		cors(),
		limitBody(maxBodyBytes),
	)

	engine.GET("/health", g.handleHealth)

	api := engine.Group("/api")
	if g.verifier != nil {
		api.Use(auth.Middleware(g.verifier))
	}

	v1 := api.Group("/v1")
	tg := v1.Group("/telegram")
	tg.GET("/getDuplicates", g.handleGetDuplicates)
	tg.POST("/sendMessage", g.handleSendMessage)
	v1.GET("/dispatches", g.handleDispatches)

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"message": fmt.Sprintf("Route %s %s not found.", c.Request.Method, c.Request.URL.Path),
		})
	})

	return engine
}

// requestID propagates or generates an X-Request-ID.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// accessLog writes one debug line per request.
func accessLog(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"request_id", c.GetString(requestIDKey),
			"subject", auth.SubjectFromContext(c.Request.Context()),
		)
	}
}

// recovery turns panics into the standard 500 body.
func recovery(logger *slog.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, err any) {
		logger.Error("panic while handling request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"error", err,
			"request_id", c.GetString(requestIDKey),
		)
		internalError(c)
	})
}

// cors allows any origin.
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// limitBody caps request bodies.
func limitBody(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}
