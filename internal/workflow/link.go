package workflow

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// goPDFCall matches goPDF('<path>') or goPDF("<path>").
var goPDFCall = regexp.MustCompile(`goPDF\(\s*(?:'([^']*)'|"([^"]*)")\s*\)`)

// FindDownloadPath returns the argument of the first goPDF call on the page.
// Anchors are checked first, then onclick handlers, then the raw markup so
// that calls inside inline scripts are still found.
func FindDownloadPath(html string) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err == nil {
		var found string
		doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			href, _ := sel.Attr("href")
			found = matchGoPDF(href)
			return found == ""
		})
		if found != "" {
			return found, true
		}
		doc.Find("[onclick]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			onclick, _ := sel.Attr("onclick")
			found = matchGoPDF(onclick)
			return found == ""
		})
		if found != "" {
			return found, true
		}
	}
	if p := matchGoPDF(html); p != "" {
		return p, true
	}
	return "", false
}

func matchGoPDF(s string) string {
	m := goPDFCall.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	if m[1] != "" {
		return m[1]
	}
	return m[2]
}

// ResolveAgainstOrigin resolves ref against the scheme and host of landing,
// ignoring the landing page's own path. The result always stays on the
// landing origin: an absolute or scheme-relative ref keeps only its path,
// query and fragment, so session cookies are never sent to another host.
func ResolveAgainstOrigin(landing, ref string) (string, error) {
	base, err := url.Parse(landing)
	if err != nil {
		return "", fmt.Errorf("invalid landing url %q: %w", landing, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("landing url %q has no origin", landing)
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("invalid download path %q: %w", ref, err)
	}
	origin := &url.URL{Scheme: base.Scheme, Host: base.Host, Path: "/"}
	u := origin.ResolveReference(r)
	u.Scheme, u.Host, u.User = base.Scheme, base.Host, nil
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

// validateQRURL accepts absolute http and https URLs only.
func validateQRURL(text string) (*url.URL, bool) {
	u, err := url.Parse(strings.TrimSpace(text))
	if err != nil || u.Host == "" {
		return nil, false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return u, true
	default:
		return nil, false
	}
}
