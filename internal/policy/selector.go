package policy

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/notruri/pahe/internal/types"
	"github.com/notruri/pahe/internal/variant"
)

// AnyLanguage disables language filtering.
const AnyLanguage = "any"

// Selector picks one variant from a set according to a policy.
type Selector interface {
	Select(set types.VariantSet, p types.SelectionPolicy) (types.StreamVariant, error)
}

type defaultSelector struct {
	logger types.Logger
}

// NewSelector returns a Selector that reports degraded choices to logger.
func NewSelector(logger types.Logger) Selector {
	return &defaultSelector{logger: types.OrNop(logger)}
}

// Select runs a selector that does not log.
func Select(set types.VariantSet, p types.SelectionPolicy) (types.StreamVariant, error) {
	return NewSelector(nil).Select(set, p)
}

func (s *defaultSelector) Select(set types.VariantSet, p types.SelectionPolicy) (types.StreamVariant, error) {
	if len(set) == 0 {
		return types.StreamVariant{}, fmt.Errorf("%s: %w", types.StageSelect, types.ErrNoMatchingVariant)
	}

	candidates := []types.StreamVariant(set)
	if lang := normalizeLanguage(p.PreferredLanguage); lang != "" {
		var matched []types.StreamVariant
		for _, v := range set {
			if v.Language == lang {
				matched = append(matched, v)
			}
		}
		if len(matched) > 0 {
			candidates = matched
		} else {
			s.logger.Warnf("no variant in language %q, choosing among all %d", lang, len(set))
		}
	}

	var picked types.StreamVariant
	switch {
	case p.PreferredResolution > 0:
		picked = pickAtLeast(candidates, p.PreferredResolution)
	default:
		switch normalizeFallback(p.Fallback) {
		case types.FallbackFirst:
			picked = candidates[0]
		case types.FallbackLowest:
			picked = pick(candidates, func(a, b types.StreamVariant) bool { return a.Resolution < b.Resolution })
		default:
			picked = pick(candidates, func(a, b types.StreamVariant) bool { return a.Resolution > b.Resolution })
		}
	}
	s.logger.Debugf("selected %s from %d candidate(s)", picked, len(candidates))
	return picked, nil
}

// pickAtLeast returns the smallest resolution not below want, or the largest
// available when every candidate is below it.
func pickAtLeast(candidates []types.StreamVariant, want int) types.StreamVariant {
	var above []types.StreamVariant
	for _, v := range candidates {
		if v.Resolution >= want {
			above = append(above, v)
		}
	}
	if len(above) > 0 {
		return pick(above, func(a, b types.StreamVariant) bool { return a.Resolution < b.Resolution })
	}
	return pick(candidates, func(a, b types.StreamVariant) bool { return a.Resolution > b.Resolution })
}

// pick returns the first candidate for which no other is better. Equal
// resolutions prefer BluRay, then discovery order.
func pick(candidates []types.StreamVariant, better func(a, b types.StreamVariant) bool) types.StreamVariant {
	best := candidates[0]
	for _, v := range candidates[1:] {
		if better(v, best) {
			best = v
			continue
		}
		if v.Resolution == best.Resolution && v.BluRay && !best.BluRay {
			best = v
		}
	}
	return best
}

func normalizeLanguage(lang string) string {
	lang = variant.NormalizeLanguage(lang)
	if lang == AnyLanguage {
		return ""
	}
	return lang
}

func normalizeFallback(f types.FallbackOrder) types.FallbackOrder {
	switch types.FallbackOrder(strings.ToLower(strings.TrimSpace(string(f)))) {
	case types.FallbackFirst:
		return types.FallbackFirst
	case types.FallbackLowest:
		return types.FallbackLowest
	default:
		return types.FallbackHighest
	}
}

// Parse builds a policy from user-facing values. quality accepts
// "highest", "lowest", "first", or a resolution such as "720p" or "720".
func Parse(language, quality string) (types.SelectionPolicy, error) {
	p := types.SelectionPolicy{
		PreferredLanguage: normalizeLanguage(language),
		Fallback:          types.FallbackHighest,
	}
	q := strings.ToLower(strings.TrimSpace(quality))
	switch q {
	case "", "highest", "best":
		return p, nil
	case "lowest", "worst":
		p.Fallback = types.FallbackLowest
		return p, nil
	case "first":
		p.Fallback = types.FallbackFirst
		return p, nil
	}
	n, err := strconv.Atoi(strings.TrimSuffix(q, "p"))
	if err != nil || n <= 0 {
		return types.SelectionPolicy{}, fmt.Errorf("invalid quality %q: want highest, lowest, first or a resolution like 720p", quality)
	}
	p.PreferredResolution = n
	return p, nil
}
