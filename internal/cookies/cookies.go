// Package cookies copies the authentication state of a browser session into
// a form a plain HTTP client can carry.
package cookies

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/shehryarbajwa/certfetch/internal/apperr"
	"github.com/shehryarbajwa/certfetch/internal/session"
)

// Source is anything that can report browser cookies. *session.Session
// satisfies it.
type Source interface {
	Cookies(ctx context.Context) ([]session.Cookie, error)
}

// Cookie is one cookie owned by an AuthContext.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Secure   bool
	HTTPOnly bool
}

// AuthContext is a snapshot of a session's cookies. It holds copies only and
// stays valid after the session is released.
type AuthContext struct {
	Cookies []Cookie
}

// Len returns the number of cookies.
func (a *AuthContext) Len() int {
	if a == nil {
		return 0
	}
	return len(a.Cookies)
}

// Bridge snapshots every cookie src currently holds. It must be called while
// the session is still alive.
func Bridge(ctx context.Context, src Source) (AuthContext, error) {
	cs, err := src.Cookies(ctx)
	if err != nil {
		return AuthContext{}, apperr.E(apperr.KindOf(err), "cookies.bridge", fmt.Errorf("failed to read session cookies: %w", err))
	}
	out := make([]Cookie, 0, len(cs))
	for _, c := range cs {
		out = append(out, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		})
	}
	return AuthContext{Cookies: out}, nil
}

// Jar builds a cookie jar holding every cookie. A Domain starting with a dot
// becomes a domain cookie; any other Domain stays host-only.
func (a *AuthContext) Jar() (http.CookieJar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	if a == nil {
		return jar, nil
	}

	byOrigin := make(map[string][]*http.Cookie)
	origins := make(map[string]*url.URL)
	for _, c := range a.Cookies {
		host := strings.TrimPrefix(c.Domain, ".")
		if host == "" {
			continue
		}
		scheme := "http"
		if c.Secure {
			scheme = "https"
		}
		path := c.Path
		if path == "" {
			path = "/"
		}

		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if strings.HasPrefix(c.Domain, ".") {
			hc.Domain = host
		}

		key := scheme + "://" + host
		if _, ok := origins[key]; !ok {
			origins[key] = &url.URL{Scheme: scheme, Host: host, Path: "/"}
		}
		byOrigin[key] = append(byOrigin[key], hc)
	}
	for key, cs := range byOrigin {
		jar.SetCookies(origins[key], cs)
	}
	return jar, nil
}
