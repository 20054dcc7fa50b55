package types

import (
	"fmt"
	"net/http"
)

// DefaultLanguage is assumed for variants whose label carries no audio tag.
const DefaultLanguage = "jp"

// StreamVariant is one candidate stream discovered on a mirror page.
type StreamVariant struct {
	Language   string
	Resolution int
	SourceURL  string
	Label      string
	Key        string
	BluRay     bool
	// Order is the discovery position on the page.
	Order int
}

func (v StreamVariant) String() string {
	s := fmt.Sprintf("%s/%dp", v.Language, v.Resolution)
	if v.BluRay {
		s += " BD"
	}
	return s
}

// VariantSet is an ordered, non-empty collection with unique (language, resolution) pairs.
type VariantSet []StreamVariant

// FallbackOrder decides the pick when no resolution preference is given.
type FallbackOrder string

const (
	FallbackHighest FallbackOrder = "highest"
	FallbackFirst   FallbackOrder = "first"
	FallbackLowest  FallbackOrder = "lowest"
)

// SelectionPolicy describes the caller's preference.
// Empty PreferredLanguage and zero PreferredResolution mean "no preference".
type SelectionPolicy struct {
	PreferredLanguage   string
	PreferredResolution int
	Fallback            FallbackOrder
}

// ResolvedMedia is the terminal direct link plus the headers it must be fetched with.
type ResolvedMedia struct {
	URL     string
	Headers http.Header
	Variant StreamVariant
}
