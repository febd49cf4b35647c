package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Portals holds the per-site profiles. They are data rather than code so a
// portal redesign only needs a profiles file.
type Portals struct {
	Fiti  FormPortal `yaml:"fiti"`
	Katri QRPortal   `yaml:"katri"`
}

// FormPortal describes a form that opens its results in a viewer window.
type FormPortal struct {
	URL            string        `yaml:"url"`
	ReceiptFields  []string      `yaml:"receipt_fields"`
	DocumentFields []string      `yaml:"document_fields"`
	Submit         string        `yaml:"submit"`
	ViewerFrame    string        `yaml:"viewer_frame"`
	PageSelector   string        `yaml:"page_selector"`
	FormTimeout    time.Duration `yaml:"form_timeout"`
	WindowTimeout  time.Duration `yaml:"window_timeout"`
	FrameTimeout   time.Duration `yaml:"frame_timeout"`
	PagesTimeout   time.Duration `yaml:"pages_timeout"`
	Settle         time.Duration `yaml:"settle"`
}

// QRPortal describes a landing page reached from a QR code.
type QRPortal struct {
	LandingTimeout time.Duration `yaml:"landing_timeout"`
	// ReadySelector, when set, must appear before the page is parsed.
	ReadySelector string `yaml:"ready_selector"`
}

// DefaultPortals returns the built-in profiles.
func DefaultPortals() Portals {
	return Portals{
		Fiti: FormPortal{
			URL:            "https://www.fiti.re.kr/cs/contents/CS0401010000.do",
			ReceiptFields:  []string{"#receptionNumber_1", "#receptionNumber_2", "#receptionNumber_3"},
			DocumentFields: []string{"#dcmntIdntyNumber_1", "#dcmntIdntyNumber_2", "#dcmntIdntyNumber_3"},
			Submit:         "div.btn_wrap a",
			ViewerFrame:    "#viewerFrame",
			PageSelector:   "[id^='pageContainer']",
			FormTimeout:    10 * time.Second,
			WindowTimeout:  5 * time.Second,
			FrameTimeout:   15 * time.Second,
			PagesTimeout:   10 * time.Second,
			Settle:         300 * time.Millisecond,
		},
		Katri: QRPortal{
			LandingTimeout: 15 * time.Second,
		},
	}
}

// LoadPortals overlays the YAML file at path onto base. Keys absent from the
// file keep their base value.
func LoadPortals(path string, base Portals) (Portals, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Portals{}, fmt.Errorf("failed to read portals file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&base); err != nil {
		return Portals{}, fmt.Errorf("failed to parse portals file %s: %w", path, err)
	}
	return base, nil
}

// Validate checks the profiles are usable.
func (p Portals) Validate() error {
	f := p.Fiti
	if f.URL == "" || f.Submit == "" || f.ViewerFrame == "" || f.PageSelector == "" {
		return fmt.Errorf("fiti portal: url, submit, viewer_frame and page_selector are required")
	}
	if len(f.ReceiptFields) != 3 || len(f.DocumentFields) != 3 {
		return fmt.Errorf("fiti portal: exactly three receipt_fields and three document_fields are required")
	}
	if f.FormTimeout <= 0 || f.WindowTimeout <= 0 || f.FrameTimeout <= 0 || f.PagesTimeout <= 0 {
		return fmt.Errorf("fiti portal: timeouts must be positive")
	}
	if p.Katri.LandingTimeout <= 0 {
		return fmt.Errorf("katri portal: landing_timeout must be positive")
	}
	return nil
}
