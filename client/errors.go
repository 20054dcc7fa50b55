package client

import (
	"context"
	"errors"

	"github.com/notruri/pahe/internal/types"
)

var (
	// ErrMalformedPackedScript indicates a packed script block that could not be decoded.
	ErrMalformedPackedScript = types.ErrMalformedPackedScript
	// ErrNoVariantsFound indicates the mirror page offered nothing to download.
	ErrNoVariantsFound = types.ErrNoVariantsFound
	// ErrNoMatchingVariant indicates no variant satisfies the selection policy.
	ErrNoMatchingVariant = types.ErrNoMatchingVariant
	// ErrPageFetchFailed indicates a page or probe request failed.
	ErrPageFetchFailed = types.ErrPageFetchFailed
	// ErrTooManyRedirects indicates the hop ceiling was exceeded.
	ErrTooManyRedirects = types.ErrTooManyRedirects
	// ErrNoMediaLink indicates a mirror hop revealed no further link.
	ErrNoMediaLink = types.ErrNoMediaLink
	// ErrSegmentDownloadFailed indicates a segment exhausted its retries.
	ErrSegmentDownloadFailed = types.ErrSegmentDownloadFailed
	// ErrOutputWriteFailed indicates the local file could not be written or verified.
	ErrOutputWriteFailed = types.ErrOutputWriteFailed
)

type (
	PackedScriptError = types.PackedScriptError
	ExtractError      = types.ExtractError
	PageFetchError    = types.PageFetchError
	RedirectError     = types.RedirectError
	SegmentError      = types.SegmentError
	OutputError       = types.OutputError
)

// Kind is a stable, coarse classification of errors returned by Client.
type Kind string

const (
	KindUnknown               Kind = "unknown"
	KindCanceled              Kind = "canceled"
	KindMalformedPackedScript Kind = "malformed_packed_script"
	KindNoVariantsFound       Kind = "no_variants_found"
	KindNoMatchingVariant     Kind = "no_matching_variant"
	KindPageFetchFailed       Kind = "page_fetch_failed"
	KindTooManyRedirects      Kind = "too_many_redirects"
	KindNoMediaLink           Kind = "no_media_link"
	KindSegmentDownloadFailed Kind = "segment_download_failed"
	KindOutputWriteFailed     Kind = "output_write_failed"
)

var kindOrder = []struct {
	err  error
	kind Kind
}{
	{ErrMalformedPackedScript, KindMalformedPackedScript},
	{ErrNoVariantsFound, KindNoVariantsFound},
	{ErrNoMatchingVariant, KindNoMatchingVariant},
	{ErrTooManyRedirects, KindTooManyRedirects},
	{ErrNoMediaLink, KindNoMediaLink},
	{ErrOutputWriteFailed, KindOutputWriteFailed},
	{ErrSegmentDownloadFailed, KindSegmentDownloadFailed},
	{ErrPageFetchFailed, KindPageFetchFailed},
}

// KindOf classifies err. Cancellation wins over any other classification.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	for _, k := range kindOrder {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindUnknown
}
