package config

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTP         HTTPConfig
	DatabaseURL  string
	SQLitePath   string
	Auth         AuthConfig
	Convert      ConvertConfig
	StaticDir    string
	AuditLogFile string
	LogLevel     string
}

type HTTPConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// TrustedProxies lists proxy addresses or CIDRs whose X-Forwarded-For
	// header is honoured when keying login throttling.
	TrustedProxies []string
}

type AuthConfig struct {
	SessionTTL      time.Duration
	CookieSecure    bool
	BcryptCost      int
	LoginRatePerMin int
	LoginBurst      int
}

type ConvertConfig struct {
	UploadDir      string
	ConvertedDir   string
	MaxUploadBytes int64
	Timeout        time.Duration
	SofficePath    string
}

func Load() (Config, error) {
	cfg := Config{
		HTTP: HTTPConfig{
			Addr:            getEnv("HTTP_ADDR", ":8080"),
			ReadTimeout:     time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SEC", 30)) * time.Second,
			WriteTimeout:    time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SEC", 300)) * time.Second,
			ShutdownTimeout: time.Duration(getEnvInt("HTTP_SHUTDOWN_TIMEOUT_SEC", 20)) * time.Second,
			TrustedProxies:  getEnvList("TRUSTED_PROXIES"),
		},
		DatabaseURL: getEnv("DATABASE_URL", ""),
		SQLitePath:  getEnv("SQLITE_PATH", ""),
		Auth: AuthConfig{
			SessionTTL:      time.Duration(getEnvInt("AUTH_SESSION_TTL_SEC", 86400)) * time.Second,
			CookieSecure:    getEnvBool("AUTH_COOKIE_SECURE", false),
			BcryptCost:      getEnvInt("AUTH_BCRYPT_COST", 10),
			LoginRatePerMin: getEnvInt("AUTH_LOGIN_RATE_PER_MIN", 20),
			LoginBurst:      getEnvInt("AUTH_LOGIN_BURST", 5),
		},
		Convert: ConvertConfig{
			UploadDir:      getEnv("UPLOAD_DIR", "./uploads"),
			ConvertedDir:   getEnv("CONVERTED_DIR", "./converted"),
			MaxUploadBytes: getEnvInt64("CONVERT_MAX_UPLOAD_BYTES", 50<<20),
			Timeout:        time.Duration(getEnvInt("CONVERT_TIMEOUT_SEC", 120)) * time.Second,
			SofficePath:    getEnv("SOFFICE_PATH", "soffice"),
		},
		StaticDir:    getEnv("STATIC_DIR", "./web/static"),
		AuditLogFile: getEnv("AUDIT_LOG_FILE", "./data/audit.log"),
		LogLevel:     strings.ToLower(getEnv("LOG_LEVEL", "info")),
	}

	if cfg.HTTP.Addr == "" {
		return Config{}, fmt.Errorf("HTTP_ADDR must not be empty")
	}
	for _, p := range cfg.HTTP.TrustedProxies {
		if !validProxy(p) {
			return Config{}, fmt.Errorf("TRUSTED_PROXIES entry %q is not an IP address or CIDR", p)
		}
	}
	if cfg.Auth.SessionTTL <= 0 {
		return Config{}, fmt.Errorf("AUTH_SESSION_TTL_SEC must be > 0")
	}
	if cfg.Auth.BcryptCost < 4 || cfg.Auth.BcryptCost > 31 {
		return Config{}, fmt.Errorf("AUTH_BCRYPT_COST must be between 4 and 31")
	}
	if cfg.Auth.LoginRatePerMin <= 0 {
		return Config{}, fmt.Errorf("AUTH_LOGIN_RATE_PER_MIN must be > 0")
	}
	if cfg.Auth.LoginBurst <= 0 {
		return Config{}, fmt.Errorf("AUTH_LOGIN_BURST must be > 0")
	}
	if cfg.Convert.UploadDir == "" {
		return Config{}, fmt.Errorf("UPLOAD_DIR must not be empty")
	}
	if cfg.Convert.ConvertedDir == "" {
		return Config{}, fmt.Errorf("CONVERTED_DIR must not be empty")
	}
	if cfg.Convert.MaxUploadBytes <= 0 {
		return Config{}, fmt.Errorf("CONVERT_MAX_UPLOAD_BYTES must be > 0")
	}
	if cfg.Convert.Timeout <= 0 {
		return Config{}, fmt.Errorf("CONVERT_TIMEOUT_SEC must be > 0")
	}
	if cfg.Convert.SofficePath == "" {
		return Config{}, fmt.Errorf("SOFFICE_PATH must not be empty")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return Config{}, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	return val
}

func getEnvInt(key string, fallback int) int {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvInt64(key string, fallback int64) int64 {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func validProxy(s string) bool {
	if _, err := netip.ParsePrefix(s); err == nil {
		return true
	}
	_, err := netip.ParseAddr(s)
	return err == nil
}
