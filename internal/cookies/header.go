package cookies

import (
	"fmt"
	"net/http"
	"strings"
)

// ParseHeader parses a Cookie header value such as "a=b; c=d". The
// returned cookies carry no domain; Seed scopes them to a site.
func ParseHeader(raw string) ([]*http.Cookie, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "Cookie:"))
	if raw == "" {
		return nil, nil
	}
	cookies, err := http.ParseCookie(raw)
	if err != nil {
		return nil, fmt.Errorf("parse cookie header: %w", err)
	}
	return cookies, nil
}
