package client

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/notruri/pahe/internal/cookies"
)

func defaultHTTPClient(proxyURL string) *http.Client {
	baseTransport, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return &http.Client{}
	}
	transport := baseTransport.Clone()
	if strings.TrimSpace(proxyURL) != "" {
		if parsed, err := url.Parse(proxyURL); err == nil && parsed.Scheme != "" && parsed.Host != "" {
			transport.Proxy = http.ProxyURL(parsed)
		}
	}
	return &http.Client{Transport: transport}
}

// buildHTTPClient returns a copy of the configured client with a cookie
// jar attached. The caller's client is never modified.
func buildHTTPClient(cfg Config, logger Logger) *http.Client {
	var hc http.Client
	if cfg.HTTPClient != nil {
		hc = *cfg.HTTPClient
	} else {
		hc = *defaultHTTPClient(cfg.ProxyURL)
	}
	switch {
	case cfg.CookieJar != nil:
		hc.Jar = cfg.CookieJar
	case hc.Jar == nil:
		jar, err := cookies.NewJar()
		if err != nil {
			logger.Warnf("cookie jar: %v", err)
			break
		}
		hc.Jar = jar
	}
	return &hc
}
