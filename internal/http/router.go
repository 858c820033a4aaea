package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appconfig "github.com/saker-ai/openclaw-gateway/internal/config"
	"github.com/saker-ai/openclaw-gateway/internal/gateway"
	"github.com/saker-ai/openclaw-gateway/internal/ratelimit"
	"github.com/saker-ai/openclaw-gateway/internal/security"
	"github.com/saker-ai/openclaw-gateway/internal/storage"
	"github.com/saker-ai/openclaw-gateway/internal/ws"
)

// Deps are the collaborators the router mounts.
type Deps struct {
	Gateway     *gateway.Gateway
	Hub         *ws.Handler
	Limiter     *ratelimit.Limiter
	ControlFile *storage.ControlFile
	Characters  []appconfig.Character
}

// NewRouter executes the newRouter function.
func NewRouter(cfg appconfig.Config, deps Deps, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	router := gin.New()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	// Rate limiting keys on the socket peer, never on forwarded headers.
	_ = router.SetTrustedProxies(nil)
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "clients": deps.Hub.Count()})
	})

	router.GET("/client-ws", func(c *gin.Context) {
		deps.Hub.Handle(c.Writer, c.Request)
	})

	origins := security.NewOriginPolicy(cfg.Control.AllowedOrigins)
	control := &controlHandler{
		gateway:  deps.Gateway,
		limiter:  deps.Limiter,
		origins:  origins,
		token:    cfg.Control.Token,
		maxBytes: cfg.Control.MaxBodyBytes,
		logger:   logger,
	}
	router.OPTIONS("/api/control", control.preflight)
	router.POST("/api/control", control.submit)

	if deps.ControlFile != nil {
		router.GET("/"+deps.ControlFile.Name(), serveControlFile(deps.ControlFile))
	}

	characters := deps.Characters
	router.GET("/api/characters", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"characters": characters})
	})

	if cfg.Proxy.Enabled {
		proxy, err := newUpstreamProxy(cfg.Proxy, logger)
		if err != nil {
			logger.Warn("chat upstream proxy disabled", zap.String("target", cfg.Proxy.Target), zap.Error(err))
		} else {
			router.Any("/v1/*path", proxy.handle)
			logger.Info("chat upstream proxy mounted",
				zap.String("target", cfg.Proxy.Target),
				zap.Strings("allowed_paths", proxy.allowed),
			)
		}
	}

	return router
}

func serveControlFile(file *storage.ControlFile) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		data, err := file.Read()
		if err != nil {
			c.Status(http.StatusNotFound)
			return
		}
		c.Data(http.StatusOK, "application/json", data)
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		// Front-ends poll the control document every second.
		log := logger.Info
		if c.Request.Method == http.MethodGet && c.Writer.Status() < http.StatusBadRequest {
			log = logger.Debug
		}
		log("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("query", c.Request.URL.RawQuery),
			zap.String("client_ip", c.ClientIP()),
			zap.Int("status", c.Writer.Status()),
			zap.Int("bytes", c.Writer.Size()),
			zap.Duration("latency", latency),
			zap.String("user_agent", c.Request.UserAgent()),
		)
	}
}
