package cookies

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// NewJar returns an empty public-suffix aware cookie jar.
func NewJar() (*cookiejar.Jar, error) {
	return cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
}

// Seed stores cookies in jar. A cookie with a Domain is stored for that
// domain; one without is stored for every site in sites.
func Seed(jar http.CookieJar, cookies []*http.Cookie, sites ...*url.URL) {
	for _, c := range cookies {
		if c.Domain == "" {
			for _, site := range sites {
				if site == nil || site.Host == "" {
					continue
				}
				jar.SetCookies(site, []*http.Cookie{c})
			}
			continue
		}
		jar.SetCookies(domainURL(c), []*http.Cookie{c})
	}
}

func domainURL(c *http.Cookie) *url.URL {
	scheme := "http"
	if c.Secure {
		scheme = "https"
	}
	path := c.Path
	if path == "" {
		path = "/"
	}
	return &url.URL{Scheme: scheme, Host: strings.TrimPrefix(c.Domain, "."), Path: path}
}
