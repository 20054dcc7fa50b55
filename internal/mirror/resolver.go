// Package mirror resolves a mirror page into the direct media link behind it.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/notruri/pahe/internal/packer"
	"github.com/notruri/pahe/internal/policy"
	"github.com/notruri/pahe/internal/types"
	"github.com/notruri/pahe/internal/variant"
)

const (
	DefaultMaxRedirects   = 10
	DefaultRequestTimeout = 30 * time.Second
	DefaultUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36"
)

// DefaultLinkPattern matches a quoted mirror host link inside page or script text.
var DefaultLinkPattern = regexp.MustCompile(`"(https?://kwik\.[^/\s"]+/[^/\s"]+/[^"\s]*)"`)

// Config contains externally tunable settings for resolution.
type Config struct {
	UserAgent string
	// Headers are added to every request.
	Headers http.Header
	// MaxRedirects bounds the hops followed after the variant link.
	MaxRedirects int
	// RequestTimeout bounds each individual request, body included.
	RequestTimeout time.Duration
	// LinkPattern finds a mirror link in HTML hops. Group 1 is the URL.
	LinkPattern *regexp.Regexp
	// DefaultLanguage is assumed for variants that name no language.
	DefaultLanguage string
	Logger          types.Logger
}

// Resolver turns a mirror page URL into a direct media link.
type Resolver interface {
	Resolve(ctx context.Context, pageURL string, p types.SelectionPolicy) (types.ResolvedMedia, error)
}

type defaultResolver struct {
	client     *http.Client
	noRedirect *http.Client
	config     Config
	logger     types.Logger
	extractor  *variant.Extractor
	selector   policy.Selector
}

// NewResolver returns a Resolver issuing requests through client. Only the
// first cfg is used.
func NewResolver(client *http.Client, cfg ...Config) Resolver {
	config := Config{}
	if len(cfg) > 0 {
		config = cfg[0]
	}
	config = normalizeConfig(config)
	if client == nil {
		client = http.DefaultClient
	}
	noRedirect := *client
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	logger := types.OrNop(config.Logger)
	extractor := variant.New(logger)
	if config.DefaultLanguage != "" {
		extractor.DefaultLanguage = variant.NormalizeLanguage(config.DefaultLanguage)
	}
	return &defaultResolver{
		client:     client,
		noRedirect: &noRedirect,
		config:     config,
		logger:     logger,
		extractor:  extractor,
		selector:   policy.NewSelector(logger),
	}
}

func normalizeConfig(cfg Config) Config {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = DefaultMaxRedirects
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.LinkPattern == nil {
		cfg.LinkPattern = DefaultLinkPattern
	}
	return cfg
}

// hop is one request in the chain after the mirror page.
type hop struct {
	url     string
	method  string
	form    url.Values
	referer string
}

func (r *defaultResolver) Resolve(ctx context.Context, pageURL string, p types.SelectionPolicy) (types.ResolvedMedia, error) {
	page, err := r.fetch(ctx, r.client, hop{url: pageURL, method: http.MethodGet})
	if err != nil {
		return types.ResolvedMedia{}, err
	}
	if page.status < 200 || page.status > 299 {
		return types.ResolvedMedia{}, &types.PageFetchError{Stage: types.StageResolve, URL: pageURL, StatusCode: page.status}
	}
	base := page.finalURL

	decoded, unpackErr := packer.Unpack(page.body)
	if unpackErr != nil {
		r.logger.Warnf("mirror page %s: packed blocks failed (%d decoded): %v", pageURL, len(decoded), unpackErr)
	}

	set, err := r.extractor.Extract(page.body, decoded)
	if err != nil {
		if !errors.Is(err, types.ErrNoVariantsFound) {
			return types.ResolvedMedia{}, err
		}
		next, ok := r.nextFromHTML(page.body, decoded, base, "")
		if !ok {
			if unpackErr != nil && len(decoded) == 0 {
				return types.ResolvedMedia{}, errors.Join(err, unpackErr)
			}
			return types.ResolvedMedia{}, err
		}
		r.logger.Debugf("mirror page %s links directly to %s", pageURL, next.url)
		next.referer = base
		chosen := types.StreamVariant{Language: types.DefaultLanguage, SourceURL: next.url, Label: "direct"}
		return r.follow(ctx, next, chosen)
	}

	chosen, err := r.selector.Select(set, p)
	if err != nil {
		return types.ResolvedMedia{}, err
	}
	start := hop{
		url:     resolveURL(base, chosen.SourceURL),
		method:  http.MethodGet,
		referer: base,
	}
	return r.follow(ctx, start, chosen)
}

// follow walks redirects and HTML hops from start until a response that is
// neither, or until the hop ceiling is exceeded.
func (r *defaultResolver) follow(ctx context.Context, start hop, chosen types.StreamVariant) (types.ResolvedMedia, error) {
	current := start
	hops := 0
	for {
		resp, err := r.fetch(ctx, r.noRedirect, current)
		if err != nil {
			return types.ResolvedMedia{}, err
		}

		var next hop
		switch {
		case isRedirect(resp.status):
			loc := resp.header.Get("Location")
			if loc == "" {
				return types.ResolvedMedia{}, &types.PageFetchError{
					Stage:      types.StageResolve,
					URL:        current.url,
					StatusCode: resp.status,
				}
			}
			next = hop{url: resolveURL(current.url, loc), method: http.MethodGet, referer: current.referer}
		case resp.status >= 400:
			return types.ResolvedMedia{}, &types.PageFetchError{Stage: types.StageResolve, URL: current.url, StatusCode: resp.status}
		case resp.html:
			decoded, err := packer.Unpack(resp.body)
			if err != nil {
				r.logger.Warnf("hop %s: packed blocks failed: %v", current.url, err)
			}
			n, ok := r.nextFromHTML(resp.body, decoded, current.url, current.url)
			if !ok {
				return types.ResolvedMedia{}, fmt.Errorf("%s: %w: %s", types.StageResolve, types.ErrNoMediaLink, current.url)
			}
			n.referer = current.url
			next = n
		default:
			r.logger.Debugf("resolved %s after %d hop(s)", current.url, hops)
			return types.ResolvedMedia{
				URL:     current.url,
				Headers: r.mediaHeaders(current.referer),
				Variant: chosen,
			}, nil
		}

		hops++
		if hops > r.config.MaxRedirects {
			return types.ResolvedMedia{}, &types.RedirectError{URL: next.url, Hops: hops}
		}
		r.logger.Debugf("hop %d: %s %s -> %s", hops, current.method, current.url, next.url)
		current = next
	}
}

// nextFromHTML finds the next hop revealed by an HTML page: a form carrying
// a _token is preferred over a plain mirror link. Links equal to self are
// ignored.
func (r *defaultResolver) nextFromHTML(body string, decoded []string, base, self string) (hop, bool) {
	texts := append(append([]string{}, decoded...), body)
	for _, text := range texts {
		if f, ok := findTokenForm(text); ok {
			return hop{
				url:    resolveURL(base, f.action),
				method: http.MethodPost,
				form:   f.values,
			}, true
		}
	}
	for _, text := range texts {
		for _, m := range r.config.LinkPattern.FindAllStringSubmatch(text, -1) {
			link := strings.Replace(m[1], "/d/", "/f/", 1)
			if link == self {
				continue
			}
			return hop{url: link, method: http.MethodGet}, true
		}
	}
	return hop{}, false
}

func (r *defaultResolver) mediaHeaders(referer string) http.Header {
	h := http.Header{}
	h.Set("User-Agent", r.config.UserAgent)
	if referer != "" {
		h.Set("Referer", referer)
	}
	return h
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func resolveURL(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(u).String()
}
