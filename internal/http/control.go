package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/saker-ai/openclaw-gateway/internal/control"
	"github.com/saker-ai/openclaw-gateway/internal/gateway"
	"github.com/saker-ai/openclaw-gateway/internal/ratelimit"
	"github.com/saker-ai/openclaw-gateway/internal/security"
)

const (
	errTooManyRequests  = "Too many requests"
	errUnauthorized     = "Unauthorized"
	errOriginNotAllowed = "Origin not allowed"
	errPayloadTooLarge  = "Payload too large"
	errInvalidBody      = "Invalid request body"
	errUnavailable      = "Service unavailable"
)

type controlHandler struct {
	gateway  *gateway.Gateway
	limiter  *ratelimit.Limiter
	origins  security.OriginPolicy
	token    string
	maxBytes int64
	logger   *zap.Logger
}

func (h *controlHandler) setCORS(c *gin.Context) {
	if allowed := h.origins.Resolve(c.GetHeader("Origin")); allowed != "" {
		c.Header("Access-Control-Allow-Origin", allowed)
	}
	c.Header("Vary", "Origin")
}

func (h *controlHandler) preflight(c *gin.Context) {
	h.setCORS(c)
	c.Header("Access-Control-Allow-Methods", "POST")
	c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
	c.AbortWithStatus(http.StatusNoContent)
}

// submit checks, in order: rate limit, bearer token, origin, size, then
// hands the body to the gateway.
func (h *controlHandler) submit(c *gin.Context) {
	h.setCORS(c)
	clientIP := c.RemoteIP()

	if h.limiter != nil && !h.limiter.Allow(clientIP) {
		h.reject(c, http.StatusTooManyRequests, errTooManyRequests)
		return
	}

	token := security.BearerToken(c.GetHeader("Authorization"))
	if !security.TokenMatches(token, h.token) {
		h.reject(c, http.StatusUnauthorized, errUnauthorized)
		return
	}

	if origin := c.GetHeader("Origin"); origin != "" && !h.origins.Allowed(origin) {
		h.reject(c, http.StatusForbidden, errOriginNotAllowed)
		return
	}

	if c.Request.ContentLength > h.maxBytes {
		h.reject(c, http.StatusRequestEntityTooLarge, errPayloadTooLarge)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.reject(c, http.StatusRequestEntityTooLarge, errPayloadTooLarge)
			return
		}
		h.reject(c, http.StatusBadRequest, errInvalidBody)
		return
	}

	res, err := h.gateway.Submit(c.Request.Context(), body, "http")
	if err != nil {
		if reason, ok := control.ReasonOf(err); ok {
			h.reject(c, http.StatusBadRequest, string(reason))
			return
		}
		h.reject(c, http.StatusServiceUnavailable, errUnavailable)
		return
	}

	h.logger.Debug("control command accepted",
		zap.String("client_ip", clientIP),
		zap.String("command", string(res.Command.Name)),
		zap.Bool("duplicate", res.Duplicate),
	)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *controlHandler) reject(c *gin.Context, status int, message string) {
	h.logger.Info("control request rejected",
		zap.String("client_ip", c.RemoteIP()),
		zap.Int("status", status),
		zap.String("reason", message),
	)
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}
