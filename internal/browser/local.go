package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/go-rod/rod/lib/launcher"
)

// LocalConfig configures a LocalLauncher.
type LocalConfig struct {
	// ChromePath is the Chrome executable. Empty = rod's lookup of the
	// standard install locations.
	ChromePath string

	// AutoDownload fetches a compatible Chromium into the rod cache when
	// ChromePath is empty.
	AutoDownload bool

	// NoSandbox is required when running as root, e.g. inside Docker.
	NoSandbox bool

	Logger *slog.Logger
}

// LocalLauncher runs headless Chrome as a child process.
type LocalLauncher struct {
	cfg LocalConfig
}

// NewLocalLauncher returns a launcher for local Chrome processes.
func NewLocalLauncher(cfg LocalConfig) *LocalLauncher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &LocalLauncher{cfg: cfg}
}

func (l *LocalLauncher) Launch(ctx context.Context) (*Instance, error) {
	bin := l.cfg.ChromePath
	if bin == "" && l.cfg.AutoDownload {
		path, err := resolveBrowser()
		if err != nil {
			return nil, err
		}
		bin = path
	}

	ln := launcher.New().
		Context(ctx).
		Headless(true).
		Leakless(true).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("disable-extensions").
		Set("no-first-run").
		Set("disable-blink-features", "AutomationControlled")
	if bin != "" {
		ln = ln.Bin(bin)
	}
	if l.cfg.NoSandbox {
		ln = ln.NoSandbox(true)
	}

	u, err := ln.Launch()
	if err != nil {
		ln.Kill()
		return nil, fmt.Errorf("browser: launch: %w", err)
	}

	id := strconv.Itoa(ln.PID())
	l.cfg.Logger.Debug("browser: launched local chrome", "pid", id)

	return NewInstance(id, u, func(context.Context) error {
		ln.Kill()
		ln.Cleanup()
		l.cfg.Logger.Debug("browser: local chrome released", "pid", id)
		return nil
	}), nil
}

// resolveBrowser downloads a compatible Chromium binary if one is not
// already cached and returns the path to the executable.
func resolveBrowser() (string, error) {
	path, err := launcher.NewBrowser().Get()
	if err != nil {
		return "", fmt.Errorf("browser: downloading chromium: %w", err)
	}
	return path, nil
}
