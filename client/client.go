// Package client is the public entry point: it resolves a mirror page to a
// direct media link and downloads that link into a local file.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/notruri/pahe/internal/downloader"
	"github.com/notruri/pahe/internal/mirror"
	"github.com/notruri/pahe/internal/types"
)

// Client resolves mirror pages and downloads media.
type Client struct {
	config     Config
	httpClient *http.Client
	resolver   mirror.Resolver
	downloader downloader.Downloader
	logger     Logger
}

// New creates a new client.
func New(config Config) *Client {
	logger := types.OrNop(config.Logger)
	config.Logger = logger
	httpClient := buildHTTPClient(config, logger)

	c := &Client{
		config:     config,
		httpClient: httpClient,
		resolver:   mirror.NewResolver(httpClient, config.toMirrorConfig()),
		logger:     logger,
	}
	c.downloader = downloader.New(httpClient, downloader.Config{
		Transport:   config.DownloadTransport,
		Concurrency: config.Concurrency,
		Progress:    config.Progress,
		OnEvent:     c.forwardDownloaderEvent,
		Logger:      logger,
	})
	return c
}

// HTTPClient returns the client used for every request, cookie jar included.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// Resolve fetches pageURL, picks a variant by policy and follows the mirror
// chain to the direct media link.
func (c *Client) Resolve(ctx context.Context, pageURL string, policy SelectionPolicy) (*ResolvedMedia, error) {
	pageURL = strings.TrimSpace(pageURL)
	if pageURL == "" {
		return nil, fmt.Errorf("%s: empty page url", types.StageResolve)
	}
	c.emitDownloadEvent("resolve", "start", pageURL, "", "")
	media, err := c.resolver.Resolve(ctx, pageURL, policy)
	if err != nil {
		c.emitDownloadEvent("resolve", "failed", pageURL, "", err.Error())
		return nil, err
	}
	c.emitDownloadEvent("resolve", "done", media.URL, "", media.Variant.String())
	return &media, nil
}

// ResolveAndDownload resolves pageURL and downloads the chosen variant.
func (c *Client) ResolveAndDownload(ctx context.Context, pageURL string, policy SelectionPolicy, options DownloadOptions) (*DownloadResult, error) {
	media, err := c.Resolve(ctx, pageURL, policy)
	if err != nil {
		return nil, err
	}
	return c.Download(ctx, *media, options)
}

// Download retrieves a resolved media link with the headers it requires.
func (c *Client) Download(ctx context.Context, media ResolvedMedia, options DownloadOptions) (*DownloadResult, error) {
	headers := mergeHeaders(c.config.RequestHeaders, media.Headers, options.Headers)
	if headers.Get("User-Agent") == "" {
		ua := c.config.UserAgent
		if ua == "" {
			ua = mirror.DefaultUserAgent
		}
		headers.Set("User-Agent", ua)
	}
	res, err := c.download(ctx, media.URL, headers, options)
	if err != nil {
		return nil, err
	}
	if media.Variant.SourceURL != "" || media.Variant.Resolution > 0 {
		v := media.Variant
		res.Variant = &v
	}
	return res, nil
}

// DownloadURL retrieves a direct link that needs no resolution.
func (c *Client) DownloadURL(ctx context.Context, rawURL string, options DownloadOptions) (*DownloadResult, error) {
	return c.Download(ctx, ResolvedMedia{URL: strings.TrimSpace(rawURL)}, options)
}

func (c *Client) download(ctx context.Context, rawURL string, headers http.Header, options DownloadOptions) (*DownloadResult, error) {
	res, err := c.downloader.Download(ctx, downloader.Request{
		URL:            rawURL,
		Headers:        headers,
		OutputPath:     options.OutputPath,
		OutputDir:      options.OutputDir,
		Concurrency:    options.Concurrency,
		NoResume:       options.NoResume,
		ExpectedSHA256: options.ExpectedSHA256,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			c.logger.Debugf("download of %s canceled; plan kept for resume", rawURL)
		}
		return nil, err
	}
	return &DownloadResult{
		OutputPath:     res.Path,
		URL:            rawURL,
		Bytes:          res.BytesWritten,
		TotalSize:      res.TotalSize,
		Segments:       res.Segments,
		RangeSupported: res.RangeSupported,
		Resumed:        res.Resumed,
		SizeVerified:   res.SizeVerified,
		SHA256:         res.SHA256,
	}, nil
}

func (c *Client) forwardDownloaderEvent(ev downloader.Event) {
	c.emitDownloadEvent(ev.Stage, ev.Phase, "", ev.Path, ev.Detail)
}

func (c *Client) emitDownloadEvent(stage, phase, rawURL, path, detail string) {
	if c == nil || c.config.OnDownloadEvent == nil {
		return
	}
	c.config.OnDownloadEvent(DownloadEvent{
		Stage:  stage,
		Phase:  phase,
		URL:    rawURL,
		Path:   path,
		Detail: detail,
	})
}
