// Package config reads the server configuration from the environment and the
// optional portal profiles file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the resolved server configuration.
type Config struct {
	ListenAddr string

	BrowserEngine string // rod | chromedp
	BrowserMode   string // local | container
	ChromePath    string
	AutoDownload  bool
	NoSandbox     bool
	Stealth       bool
	BrowserImage  string
	MaxSessions   int64

	FetchTimeout   time.Duration
	FetchMaxBytes  int64
	FetchUserAgent string

	QRDPI     float64
	RenderDPI float64
	StrictPDF bool

	MaxUploadBytes int64
	RequestTimeout time.Duration

	PortalsFile string
	Portals     Portals

	LogLevel  slog.Level
	LogFormat string // json | text
}

// Default returns the configuration used when no variables are set.
func Default() Config {
	return Config{
		ListenAddr:     ":8227",
		BrowserEngine:  "rod",
		BrowserMode:    "local",
		AutoDownload:   true,
		BrowserImage:   "browserless/chrome:latest",
		FetchTimeout:   30 * time.Second,
		FetchMaxBytes:  50 << 20,
		QRDPI:          300,
		RenderDPI:      150,
		MaxUploadBytes: 32 << 20,
		RequestTimeout: 120 * time.Second,
		Portals:        DefaultPortals(),
		LogLevel:       slog.LevelInfo,
		LogFormat:      "text",
	}
}

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	return LoadFrom(os.LookupEnv)
}

// LoadFrom reads the configuration through lookup, which has the signature
// of os.LookupEnv.
func LoadFrom(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	r := reader{lookup: lookup}

	r.str("LISTEN_ADDR", &cfg.ListenAddr)
	r.str("BROWSER_ENGINE", &cfg.BrowserEngine)
	r.str("BROWSER_MODE", &cfg.BrowserMode)
	r.str("CHROME_PATH", &cfg.ChromePath)
	r.boolean("BROWSER_AUTO_DOWNLOAD", &cfg.AutoDownload)
	r.boolean("BROWSER_NO_SANDBOX", &cfg.NoSandbox)
	r.boolean("BROWSER_STEALTH", &cfg.Stealth)
	r.str("BROWSER_IMAGE", &cfg.BrowserImage)
	r.int64("MAX_BROWSER_SESSIONS", &cfg.MaxSessions)
	r.duration("FETCH_TIMEOUT", &cfg.FetchTimeout)
	r.int64("FETCH_MAX_BYTES", &cfg.FetchMaxBytes)
	r.str("FETCH_USER_AGENT", &cfg.FetchUserAgent)
	r.float("QR_DPI", &cfg.QRDPI)
	r.float("RENDER_DPI", &cfg.RenderDPI)
	r.boolean("STRICT_PDF", &cfg.StrictPDF)
	r.int64("MAX_UPLOAD_BYTES", &cfg.MaxUploadBytes)
	r.duration("REQUEST_TIMEOUT", &cfg.RequestTimeout)
	r.str("PORTALS_FILE", &cfg.PortalsFile)
	r.str("LOG_FORMAT", &cfg.LogFormat)
	if v, ok := r.get("LOG_LEVEL"); ok {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			r.fail("LOG_LEVEL", err)
		}
	}

	if r.err != nil {
		return Config{}, r.err
	}

	if cfg.PortalsFile != "" {
		p, err := LoadPortals(cfg.PortalsFile, cfg.Portals)
		if err != nil {
			return Config{}, err
		}
		cfg.Portals = p
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects combinations the server cannot run with.
func (c Config) Validate() error {
	switch c.BrowserEngine {
	case "rod", "chromedp":
	default:
		return fmt.Errorf("BROWSER_ENGINE must be rod or chromedp, got %q", c.BrowserEngine)
	}
	switch c.BrowserMode {
	case "local", "container":
	default:
		return fmt.Errorf("BROWSER_MODE must be local or container, got %q", c.BrowserMode)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}
	if c.MaxSessions < 0 {
		return fmt.Errorf("MAX_BROWSER_SESSIONS must not be negative")
	}
	if c.QRDPI <= 0 || c.RenderDPI <= 0 {
		return fmt.Errorf("QR_DPI and RENDER_DPI must be positive")
	}
	return c.Portals.Validate()
}

// reader parses typed variables, keeping the first error.
type reader struct {
	lookup func(string) (string, bool)
	err    error
}

func (r *reader) get(key string) (string, bool) {
	v, ok := r.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (r *reader) fail(key string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}

func (r *reader) str(key string, dst *string) {
	if v, ok := r.get(key); ok {
		*dst = v
	}
}

func (r *reader) boolean(key string, dst *bool) {
	if v, ok := r.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			r.fail(key, err)
			return
		}
		*dst = b
	}
}

func (r *reader) int64(key string, dst *int64) {
	if v, ok := r.get(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			r.fail(key, err)
			return
		}
		*dst = n
	}
}

func (r *reader) float(key string, dst *float64) {
	if v, ok := r.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			r.fail(key, err)
			return
		}
		*dst = f
	}
}

func (r *reader) duration(key string, dst *time.Duration) {
	if v, ok := r.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			r.fail(key, err)
			return
		}
		*dst = d
	}
}
