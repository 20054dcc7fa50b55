package mirror

import (
	"context"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/notruri/pahe/internal/types"
)

const maxPageBytes = 16 << 20

type response struct {
	status   int
	header   http.Header
	finalURL string
	html     bool
	body     string
}

// fetch performs one request under its own timeout. The body is read only
// for HTML responses and for the mirror page itself; media bodies are
// closed unread.
func (r *defaultResolver) fetch(ctx context.Context, client *http.Client, h hop) (*response, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.RequestTimeout)
	defer cancel()

	var body io.Reader
	if h.form != nil {
		body = strings.NewReader(h.form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, h.method, h.url, body)
	if err != nil {
		return nil, &types.PageFetchError{Stage: types.StageResolve, URL: h.url, Err: err}
	}
	req.Header.Set("User-Agent", r.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	if h.referer != "" {
		req.Header.Set("Referer", h.referer)
	}
	if h.form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if origin := originOf(h.url); origin != "" {
			req.Header.Set("Origin", origin)
		}
	}
	for k, values := range r.config.Headers {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &types.PageFetchError{Stage: types.StageResolve, URL: h.url, Err: err}
	}
	defer resp.Body.Close()

	out := &response{
		status:   resp.StatusCode,
		header:   resp.Header,
		finalURL: resp.Request.URL.String(),
		html:     isHTML(resp.Header.Get("Content-Type")),
	}
	if client == r.client || out.html {
		b, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
		if err != nil {
			return nil, &types.PageFetchError{Stage: types.StageResolve, URL: h.url, Err: err}
		}
		out.body = string(b)
	}
	return out, nil
}

func isHTML(contentType string) bool {
	if contentType == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "html")
	}
	return mt == "text/html" || mt == "application/xhtml+xml"
}

func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
