package client

import (
	"net/http"

	"github.com/notruri/pahe/internal/types"
)

type (
	// StreamVariant is one downloadable rendition offered by a mirror page.
	StreamVariant = types.StreamVariant
	// SelectionPolicy states which variant the caller prefers.
	SelectionPolicy = types.SelectionPolicy
	// FallbackOrder picks among candidates when no exact match exists.
	FallbackOrder = types.FallbackOrder
	// ResolvedMedia is a direct media link and the headers it must be
	// fetched with.
	ResolvedMedia = types.ResolvedMedia
)

const (
	FallbackHighest = types.FallbackHighest
	FallbackFirst   = types.FallbackFirst
	FallbackLowest  = types.FallbackLowest
)

// DownloadOptions controls one download.
type DownloadOptions struct {
	// OutputPath is used as-is when set.
	OutputPath string
	// OutputDir receives the file when OutputPath is empty. The name comes
	// from the server or the URL.
	OutputDir string
	// Concurrency overrides Config.Concurrency when positive.
	Concurrency int
	// NoResume ignores any saved plan and starts over.
	NoResume bool
	// ExpectedSHA256 is checked against the finished file when set.
	ExpectedSHA256 string
	// Headers are added to the media requests.
	Headers http.Header
}

// DownloadResult describes a finished download.
type DownloadResult struct {
	OutputPath     string
	URL            string
	Variant        *StreamVariant
	Bytes          int64
	TotalSize      int64
	Segments       int
	RangeSupported bool
	Resumed        bool
	SizeVerified   bool
	SHA256         string
}

// DownloadEvent is a lifecycle notification. Stage is one of resolve,
// probe, segment, stream, verify or complete.
type DownloadEvent struct {
	Stage  string
	Phase  string
	URL    string
	Path   string
	Detail string
}
