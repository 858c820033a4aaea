package config

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	appdefaults "github.com/saker-ai/openclaw-gateway/config"
	"github.com/saker-ai/openclaw-gateway/internal/logger"
)

const (
	envPrefix   = "openclaw"
	rootDirEnv  = "OPENCLAW_ROOT_DIR"
	tokenEnv    = "CONTROL_API_TOKEN"
	defaultPort = 5173
)

// SystemConfig represents a systemConfig.
type SystemConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// ControlConfig configures the control channel.
type ControlConfig struct {
	Token          string        `mapstructure:"token"`
	TokenGenerated bool          `mapstructure:"-"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	RateLimit      int           `mapstructure:"rate_limit"`
	RateWindow     time.Duration `mapstructure:"rate_window"`
	MaxBodyBytes   int64         `mapstructure:"max_body_bytes"`
	FilePath       string        `mapstructure:"file_path"`
	Watch          bool          `mapstructure:"watch"`
	WatchDebounce  time.Duration `mapstructure:"watch_debounce"`
}

// ProxyConfig configures the chat upstream proxy.
type ProxyConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	Target       string   `mapstructure:"target"`
	AllowedPaths []string `mapstructure:"allowed_paths"`
}

// Config represents a config.
type Config struct {
	RootDir        string        `mapstructure:"-"`
	HTTPAddr       string        `mapstructure:"http_addr"`
	CharactersPath string        `mapstructure:"characters_path"`
	TLSCertPath    string        `mapstructure:"tls_cert_path"`
	TLSKeyPath     string        `mapstructure:"tls_key_path"`
	TLSRequired    bool          `mapstructure:"tls_required"`
	TLSDisable     bool          `mapstructure:"tls_disable"`
	SystemConfig   SystemConfig  `mapstructure:"system_config"`
	Control        ControlConfig `mapstructure:"control"`
	Proxy          ProxyConfig   `mapstructure:"proxy"`
	Log            logger.Config `mapstructure:"log"`
}

// Load reads conf.yaml from the resolved root directory when present.
func Load() (Config, error) {
	rootDir, err := resolveRootDir()
	if err != nil {
		return Config{}, err
	}

	v, err := newViper()
	if err != nil {
		return Config{}, err
	}
	v.SetConfigName("conf")
	v.SetConfigType("yaml")
	v.AddConfigPath(rootDir)

	if err := v.MergeInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, err
		}
	}

	return finish(v, rootDir)
}

// LoadConfig reads an explicit config file; an empty path falls back to Load.
func LoadConfig(configPath string) (Config, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		return Load()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, err
	}

	rootDir := strings.TrimSpace(os.Getenv(rootDirEnv))
	if rootDir == "" {
		rootDir = filepath.Dir(absPath)
		if filepath.Base(rootDir) == "config" {
			rootDir = filepath.Dir(rootDir)
		}
	}

	v, err := newViper()
	if err != nil {
		return Config{}, err
	}
	v.SetConfigFile(absPath)
	if err := v.MergeInConfig(); err != nil {
		return Config{}, err
	}

	return finish(v, rootDir)
}

func newViper() (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if err := v.ReadConfig(bytes.NewReader(appdefaults.Default)); err != nil {
		return nil, fmt.Errorf("load embedded config: %w", err)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("control.token", "OPENCLAW_CONTROL_TOKEN", tokenEnv); err != nil {
		return nil, err
	}
	return v, nil
}

func finish(v *viper.Viper, rootDir string) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	cfg.RootDir = rootDir
	deriveHTTPAddr(&cfg)
	derivePaths(&cfg)
	deriveControl(&cfg)

	return cfg, nil
}

func deriveHTTPAddr(cfg *Config) {
	if cfg.HTTPAddr != "" {
		return
	}
	host := cfg.SystemConfig.Host
	port := cfg.SystemConfig.Port
	if port == 0 {
		port = defaultPort
	}
	if host == "" {
		cfg.HTTPAddr = fmt.Sprintf(":%d", port)
		return
	}
	cfg.HTTPAddr = net.JoinHostPort(host, strconv.Itoa(port))
}

func derivePaths(cfg *Config) {
	cfg.Control.FilePath = resolvePath(cfg.RootDir, cfg.Control.FilePath, "openclaw-control.json")
	if strings.TrimSpace(cfg.CharactersPath) != "" {
		cfg.CharactersPath = resolvePath(cfg.RootDir, cfg.CharactersPath, "")
	}
	cfg.TLSCertPath = resolvePath(cfg.RootDir, cfg.TLSCertPath, filepath.Join("certs", "server.crt"))
	cfg.TLSKeyPath = resolvePath(cfg.RootDir, cfg.TLSKeyPath, filepath.Join("certs", "server.key"))
}

func deriveControl(cfg *Config) {
	control := &cfg.Control
	control.Token = strings.TrimSpace(control.Token)
	if control.Token == "" {
		control.Token = strings.ReplaceAll(uuid.NewString(), "-", "")
		control.TokenGenerated = true
	}
	if control.MaxBodyBytes <= 0 {
		control.MaxBodyBytes = 4096
	}
	origins := control.AllowedOrigins[:0]
	for _, origin := range control.AllowedOrigins {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	control.AllowedOrigins = origins
}

func resolveRootDir() (string, error) {
	if root := strings.TrimSpace(os.Getenv(rootDirEnv)); root != "" {
		return filepath.Abs(root)
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	dir := wd
	for i := 0; i < 6; i++ {
		if fileExists(filepath.Join(dir, "conf.yaml")) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return wd, nil
}

func resolvePath(rootDir string, configured string, fallback string) string {
	path := strings.TrimSpace(configured)
	if path == "" {
		path = fallback
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(rootDir, path)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
