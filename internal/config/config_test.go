package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/certfetch/internal/config"
)

func env(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := config.LoadFrom(env(nil))
	require.NoError(t, err)

	assert.Equal(t, ":8227", cfg.ListenAddr)
	assert.Equal(t, "rod", cfg.BrowserEngine)
	assert.Equal(t, "local", cfg.BrowserMode)
	assert.Equal(t, 30*time.Second, cfg.FetchTimeout)
	assert.Equal(t, float64(300), cfg.QRDPI)
	assert.Equal(t, "#viewerFrame", cfg.Portals.Fiti.ViewerFrame)
	assert.Equal(t, 5*time.Second, cfg.Portals.Fiti.WindowTimeout)
	assert.Equal(t, 15*time.Second, cfg.Portals.Katri.LandingTimeout)
}

func TestOverrides(t *testing.T) {
	cfg, err := config.LoadFrom(env(map[string]string{
		"LISTEN_ADDR":          ":9000",
		"BROWSER_ENGINE":       "chromedp",
		"BROWSER_MODE":         "container",
		"BROWSER_NO_SANDBOX":   "true",
		"MAX_BROWSER_SESSIONS": "4",
		"FETCH_TIMEOUT":        "5s",
		"RENDER_DPI":           "96",
		"STRICT_PDF":           "1",
		"LOG_LEVEL":            "debug",
		"LOG_FORMAT":           "json",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, "chromedp", cfg.BrowserEngine)
	assert.Equal(t, "container", cfg.BrowserMode)
	assert.True(t, cfg.NoSandbox)
	assert.Equal(t, int64(4), cfg.MaxSessions)
	assert.Equal(t, 5*time.Second, cfg.FetchTimeout)
	assert.Equal(t, float64(96), cfg.RenderDPI)
	assert.True(t, cfg.StrictPDF)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestInvalidValues(t *testing.T) {
	tests := map[string]map[string]string{
		"bad duration": {"FETCH_TIMEOUT": "soon"},
		"bad bool":     {"STRICT_PDF": "perhaps"},
		"bad engine":   {"BROWSER_ENGINE": "selenium"},
		"bad mode":     {"BROWSER_MODE": "cloud"},
		"bad level":    {"LOG_LEVEL": "loud"},
		"negative max": {"MAX_BROWSER_SESSIONS": "-1"},
		"zero dpi":     {"QR_DPI": "0"},
	}
	for name, vars := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := config.LoadFrom(env(vars))
			assert.Error(t, err)
		})
	}
}

func TestPortalsFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portals.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
fiti:
  url: https://staging.fiti.example/form.do
  window_timeout: 8s
katri:
  ready_selector: "#reportArea"
`), 0o644))

	cfg, err := config.LoadFrom(env(map[string]string{"PORTALS_FILE": path}))
	require.NoError(t, err)

	assert.Equal(t, "https://staging.fiti.example/form.do", cfg.Portals.Fiti.URL)
	assert.Equal(t, 8*time.Second, cfg.Portals.Fiti.WindowTimeout)
	assert.Equal(t, "div.btn_wrap a", cfg.Portals.Fiti.Submit)
	assert.Equal(t, "#reportArea", cfg.Portals.Katri.ReadySelector)
	assert.Equal(t, 15*time.Second, cfg.Portals.Katri.LandingTimeout)
}

func TestPortalsFileErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := config.LoadPortals(filepath.Join(dir, "missing.yaml"), config.DefaultPortals())
	assert.Error(t, err)

	unknown := filepath.Join(dir, "unknown.yaml")
	require.NoError(t, os.WriteFile(unknown, []byte("kotiti:\n  url: x\n"), 0o644))
	_, err = config.LoadPortals(unknown, config.DefaultPortals())
	assert.Error(t, err)

	short := filepath.Join(dir, "short.yaml")
	require.NoError(t, os.WriteFile(short, []byte("fiti:\n  receipt_fields: [\"#a\"]\n"), 0o644))
	_, err = config.LoadFrom(env(map[string]string{"PORTALS_FILE": short}))
	assert.Error(t, err)
}
