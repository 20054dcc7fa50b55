package client

import (
	"net/http"
	"time"

	"github.com/notruri/pahe/internal/downloader"
	"github.com/notruri/pahe/internal/mirror"
)

// DownloadTransportConfig controls retry, backoff and timeouts for media
// requests.
type DownloadTransportConfig = downloader.TransportConfig

// ProgressReporter receives byte counts while a file downloads.
// Implementations must be safe for concurrent use.
type ProgressReporter = downloader.ProgressReporter

// ProgressFunc adapts a function to ProgressReporter.
type ProgressFunc = downloader.ProgressFunc

// Config holds configuration for the client.
type Config struct {
	// HTTPClient is the client used for making requests.
	// If nil, a client honouring ProxyURL is created.
	HTTPClient *http.Client

	// ProxyURL is the optional proxy URL to use for requests.
	// If HTTPClient is provided, this field is ignored.
	ProxyURL string

	// CookieJar replaces the HTTP client's jar. When neither is set an
	// empty public-suffix aware jar is used so session cookies set by the
	// mirror hosts survive across hops.
	CookieJar http.CookieJar

	// UserAgent is sent on every page and media request.
	UserAgent string

	// RequestHeaders are added to every page and media request.
	RequestHeaders http.Header

	// RequestTimeout bounds each page request of the resolver.
	RequestTimeout time.Duration

	// MaxRedirects bounds the hops followed after the variant link.
	MaxRedirects int

	// Concurrency is the number of segments fetched in parallel.
	Concurrency int

	// DownloadTransport controls retries for media requests.
	DownloadTransport DownloadTransportConfig

	// DefaultLanguage is assumed for variants that do not name one.
	DefaultLanguage string

	Logger          Logger
	OnDownloadEvent func(DownloadEvent)
	Progress        ProgressReporter
}

func (c Config) toMirrorConfig() mirror.Config {
	return mirror.Config{
		UserAgent:       c.UserAgent,
		Headers:         c.RequestHeaders,
		MaxRedirects:    c.MaxRedirects,
		RequestTimeout:  c.RequestTimeout,
		DefaultLanguage: c.DefaultLanguage,
		Logger:          c.Logger,
	}
}
