package http

import (
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appconfig "github.com/saker-ai/openclaw-gateway/internal/config"
)

// upstreamProxy forwards a fixed set of /v1 paths to the chat backend so the
// browser never talks to it cross-origin. Anything else under /v1 is 404.
type upstreamProxy struct {
	proxy   *httputil.ReverseProxy
	allowed []string
	logger  *zap.Logger
}

func newUpstreamProxy(cfg appconfig.ProxyConfig, logger *zap.Logger) (*upstreamProxy, error) {
	target, err := url.Parse(strings.TrimSpace(cfg.Target))
	if err != nil {
		return nil, err
	}
	if (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return nil, errors.New("proxy target must be an absolute http(s) url")
	}

	allowed := make([]string, 0, len(cfg.AllowedPaths))
	for _, allowedPath := range cfg.AllowedPaths {
		if allowedPath = strings.TrimSpace(allowedPath); allowedPath != "" {
			allowed = append(allowed, allowedPath)
		}
	}

	p := &upstreamProxy{allowed: allowed, logger: logger}
	p.proxy = &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(target)
			r.Out.Host = target.Host
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Warn("chat upstream unreachable", zap.String("path", r.URL.Path), zap.Error(err))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":"Upstream unavailable"}`))
		},
	}
	return p, nil
}

func (p *upstreamProxy) permits(reqPath string) bool {
	if path.Clean(reqPath) != reqPath {
		return false
	}
	for _, allowed := range p.allowed {
		if reqPath == allowed || strings.HasPrefix(reqPath, allowed+"/") {
			return true
		}
	}
	return false
}

func (p *upstreamProxy) handle(c *gin.Context) {
	if !p.permits(c.Request.URL.Path) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}
	p.proxy.ServeHTTP(c.Writer, c.Request)
}
