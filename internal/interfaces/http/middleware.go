package http

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"autodm/internal/infrastructure"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const ownerIDKey = "owner_id"

type Middleware struct {
	jwtSecret     []byte
	webhookSecret []byte
	intake        *infrastructure.KeyedRateLimiter
	log           *zap.Logger
}

func NewMiddleware(jwtSecret, webhookSecret string, intake *infrastructure.KeyedRateLimiter, log *zap.Logger) *Middleware {
	return &Middleware{
		jwtSecret:     []byte(jwtSecret),
		webhookSecret: []byte(webhookSecret),
		intake:        intake,
		log:           log,
	}
}

// AuthRequired accepts an HS256 bearer token and exposes its subject as the
// calling owner.
func (m *Middleware) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "bearer token required"})
			return
		}

		var claims jwt.RegisteredClaims
		token, err := jwt.ParseWithClaims(strings.TrimPrefix(authHeader, "Bearer "), &claims,
			func(token *jwt.Token) (any, error) {
				return m.jwtSecret, nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid || claims.Subject == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "invalid token"})
			return
		}

		c.Set(ownerIDKey, claims.Subject)
		c.Next()
	}
}

// OwnerScope rejects requests for an owner other than the authenticated one.
func (m *Middleware) OwnerScope() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Param("owner_id") != c.GetString(ownerIDKey) {
			c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{Error: "forbidden", Message: "owner mismatch"})
			return
		}
		c.Next()
	}
}

// RateLimitPerIP throttles webhook intake per client address.
func (m *Middleware) RateLimitPerIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.intake.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate_limited", Message: "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// WebhookSignature verifies the X-Hub-Signature-256 header the platform
// attaches to deliveries. It is a no-op when no secret is configured.
func (m *Middleware) WebhookSignature() gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(m.webhookSecret) == 0 {
			c.Next()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "invalid_body", Message: err.Error()})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		if !validSignature(m.webhookSecret, body, c.GetHeader("X-Hub-Signature-256")) {
			m.log.Warn("Rejected webhook with bad signature", zap.String("ip", c.ClientIP()))
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "invalid signature"})
			return
		}
		c.Next()
	}
}

func validSignature(secret, body []byte, header string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// SignBody returns the X-Hub-Signature-256 header value for body.
func SignBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return fmt.Sprintf("sha256=%x", mac.Sum(nil))
}

// RequestLogger logs one line per request.
func (m *Middleware) RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		m.log.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}

// SecurityHeaders adds security headers to prevent common attacks
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("X-Content-Type-Options", "nosniff")
		c.Writer.Header().Set("X-Frame-Options", "DENY")
		c.Writer.Header().Set("Referrer-Policy", "no-referrer")
		c.Next()
	}
}

// RequestSizeLimiter limits request body size to prevent DoS
func RequestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
