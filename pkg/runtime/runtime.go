package runtime

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	appconfig "github.com/saker-ai/openclaw-gateway/internal/config"
	"github.com/saker-ai/openclaw-gateway/internal/gateway"
	apphttp "github.com/saker-ai/openclaw-gateway/internal/http"
	applogger "github.com/saker-ai/openclaw-gateway/internal/logger"
	"github.com/saker-ai/openclaw-gateway/internal/ratelimit"
	"github.com/saker-ai/openclaw-gateway/internal/security"
	"github.com/saker-ai/openclaw-gateway/internal/storage"
	"github.com/saker-ai/openclaw-gateway/internal/watch"
	"github.com/saker-ai/openclaw-gateway/internal/ws"
)

// Server is an assembled gateway: HTTP router, push hub and control file
// watcher.
type Server struct {
	cfg     appconfig.Config
	logger  *zap.Logger
	server  *http.Server
	hub     *ws.Handler
	gateway *gateway.Gateway
	file    *storage.ControlFile

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	closed   bool
	watchers sync.WaitGroup
}

// New loads configPath (or conf.yaml discovered from the working directory
// when empty) and assembles a server.
func New(configPath string) (*Server, error) {
	cfg, err := appconfig.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load gateway config: %w", err)
	}

	logger, err := applogger.New(cfg.Log)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	logger.Info("gateway logger configured",
		zap.String("level", cfg.Log.Level),
		zap.Bool("stdout", cfg.Log.Stdout),
		zap.Bool("file_enabled", cfg.Log.File.Enabled),
		zap.String("file_path", cfg.Log.File.Path),
		zap.String("file_name", cfg.Log.File.Name),
	)
	logger.Info("gateway config loaded",
		zap.String("config_path", configPath),
		zap.String("root_dir", cfg.RootDir),
		zap.String("http_addr", cfg.HTTPAddr),
	)
	return NewWithConfig(cfg, logger)
}

// NewWithConfig assembles a server from an already loaded config.
func NewWithConfig(cfg appconfig.Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Control.TokenGenerated {
		// The generated token is deliberately not logged.
		logger.Warn("control token not configured; generated a random token, set CONTROL_API_TOKEN to post commands")
	}

	file, err := storage.NewControlFile(cfg.Control.FilePath)
	if err != nil {
		return nil, fmt.Errorf("control file: %w", err)
	}
	characters, err := appconfig.LoadCharacters(cfg.CharactersPath)
	if err != nil {
		return nil, fmt.Errorf("load characters: %w", err)
	}

	hub := ws.NewHandler(applogger.Component(logger, applogger.ComponentPush), security.NewOriginPolicy(cfg.Control.AllowedOrigins))
	gw := gateway.New(hub, applogger.Component(logger, applogger.ComponentGateway))
	router := apphttp.NewRouter(cfg, apphttp.Deps{
		Gateway:     gw,
		Hub:         hub,
		Limiter:     ratelimit.New(cfg.Control.RateLimit, cfg.Control.RateWindow),
		ControlFile: file,
		Characters:  characters,
	}, applogger.Component(logger, applogger.ComponentHTTP))

	return &Server{
		cfg:     cfg,
		logger:  logger,
		hub:     hub,
		gateway: gw,
		file:    file,
		server: &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Handler returns the HTTP handler without starting a listener.
func (s *Server) Handler() http.Handler {
	if s == nil || s.server == nil {
		return nil
	}
	return s.server.Handler
}

// Run starts the control file watcher and serves until Shutdown. A server
// that was already shut down returns nil without listening. The watcher
// never outlives Run.
func (s *Server) Run() error {
	if s == nil || s.server == nil {
		return nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	ln, err := net.Listen("tcp", s.cfg.HTTPAddr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	if s.cfg.Control.Watch {
		s.startWatcher(ctx)
	}

	err = serve(s.server, ln, s.cfg, s.logger)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) startWatcher(ctx context.Context) {
	if err := os.MkdirAll(s.file.Dir(), 0o755); err != nil {
		s.logger.Warn("control file watcher disabled", zap.String("dir", s.file.Dir()), zap.Error(err))
		return
	}
	// Registering under mu orders the Add before Shutdown's Wait.
	s.mu.Lock()
	if s.closed || ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.watchers.Add(1)
	s.mu.Unlock()

	src := watch.NewFileSource(s.file.Path(), s.cfg.Control.WatchDebounce, applogger.Component(s.logger, applogger.ComponentWatch))
	go func() {
		defer s.watchers.Done()
		if err := s.gateway.Run(ctx, src, "file"); err != nil {
			s.logger.Warn("control file watcher stopped", zap.Error(err))
		}
	}()
}

// Addr returns the bound listen address once Run has started, otherwise the
// configured one.
func (s *Server) Addr() string {
	if s == nil || s.server == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.server.Addr
}

// Shutdown stops the watcher, closes push sessions and drains HTTP.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}
	s.mu.Lock()
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.watchers.Wait()
	s.hub.Close()
	return ignoreServerClosed(s.server.Shutdown(ctx))
}

func ignoreServerClosed(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func serve(server *http.Server, ln net.Listener, cfg appconfig.Config, logger *zap.Logger) error {
	addr := ln.Addr().String()
	if cfg.TLSDisable {
		logger.Info("starting http server", zap.String("addr", addr))
		return server.Serve(ln)
	}

	certPath := filepath.Clean(cfg.TLSCertPath)
	keyPath := filepath.Clean(cfg.TLSKeyPath)
	certExists := fileExists(certPath)
	keyExists := fileExists(keyPath)

	if certExists && keyExists {
		logger.Info("starting https server", zap.String("addr", addr))
		return server.ServeTLS(ln, certPath, keyPath)
	}

	if cfg.TLSRequired {
		missing := []string{}
		if !certExists {
			missing = append(missing, certPath)
		}
		if !keyExists {
			missing = append(missing, keyPath)
		}
		logger.Warn("tls required but certs missing; using in-memory cert", zap.Strings("missing", missing))
	}

	cert, err := generateSelfSignedCert(cfg.SystemConfig.Host)
	if err != nil {
		return fmt.Errorf("failed to generate tls cert: %w", err)
	}
	server.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	logger.Info("starting https server with in-memory cert", zap.String("addr", addr))
	return server.ServeTLS(ln, "", "")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func generateSelfSignedCert(host string) (tls.Certificate, error) {
	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, err
	}

	notBefore := time.Now().Add(-time.Minute)
	notAfter := notBefore.Add(365 * 24 * time.Hour)

	dnsNames := []string{"localhost"}
	ipAddresses := []net.IP{
		net.ParseIP("127.0.0.1"),
		net.ParseIP("::1"),
	}

	if host != "" && host != "0.0.0.0" && host != "::" {
		if ip := net.ParseIP(host); ip != nil {
			ipAddresses = appendIP(ipAddresses, ip)
		} else {
			dnsNames = append(dnsNames, host)
		}
	}

	ifaces, _ := net.InterfaceAddrs()
	for _, addr := range ifaces {
		var ip net.IP
		switch v := addr.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip == nil || ip.IsUnspecified() {
			continue
		}
		ipAddresses = appendIP(ipAddresses, ip)
	}

	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}

	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject:      pkixName("openclaw-gateway-local"),
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     uniqueStrings(dnsNames),
		IPAddresses:  uniqueIPs(ipAddresses),
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return tls.Certificate{}, err
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes})
	keyBytes, err := x509.MarshalECPrivateKey(privateKey)
	if err != nil {
		return tls.Certificate{}, err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes})

	return tls.X509KeyPair(certPEM, keyPEM)
}

func pkixName(commonName string) pkix.Name {
	return pkix.Name{
		CommonName:   commonName,
		Organization: []string{"openclaw"},
	}
}

func appendIP(list []net.IP, ip net.IP) []net.IP {
	for _, existing := range list {
		if existing.Equal(ip) {
			return list
		}
	}
	return append(list, ip)
}

func uniqueIPs(list []net.IP) []net.IP {
	unique := make([]net.IP, 0, len(list))
	for _, ip := range list {
		if ip == nil {
			continue
		}
		unique = appendIP(unique, ip)
	}
	return unique
}

func uniqueStrings(list []string) []string {
	unique := make([]string, 0, len(list))
	seen := make(map[string]struct{}, len(list))
	for _, item := range list {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		unique = append(unique, item)
	}
	return unique
}
