// Package variant turns mirror page markup and decoded script text into
// candidate stream variants.
package variant

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/notruri/pahe/internal/types"
)

// DefaultItemSelector matches the entries a mirror page lists per stream.
const DefaultItemSelector = "[data-key], [data-src], #pickDownload a[href], #resolutionMenu a[href]"

var keyAttributes = []string{"data-key", "data-src", "href"}

var (
	resolutionRe = regexp.MustCompile(`(?i)\b(\d{3,4})\s*p\b`)
	sizeRe       = regexp.MustCompile(`\([^)]*\)`)
	badgeRe      = regexp.MustCompile(`\bBD\b`)
	separatorRe  = regexp.MustCompile(`[\s|,/]+`)

	objectEntryRe = regexp.MustCompile(`["']?([\w-]+)["']?\s*:\s*["'](https?:(?:\\?/){2}[^"'\s]+)["']`)
	assignEntryRe = regexp.MustCompile(`\[\s*["']([\w-]+)["']\s*\]\s*=\s*["'](https?:(?:\\?/){2}[^"'\s]+)["']`)
)

// Extractor pairs labeled page entries with the URLs revealed by decoded scripts.
type Extractor struct {
	// ItemSelector is the CSS selector for candidate entries.
	ItemSelector string
	// DefaultLanguage applies when an entry carries no language information.
	DefaultLanguage string
	Logger          types.Logger
}

// New returns an Extractor with default selectors.
func New(logger types.Logger) *Extractor {
	return &Extractor{
		ItemSelector:    DefaultItemSelector,
		DefaultLanguage: types.DefaultLanguage,
		Logger:          types.OrNop(logger),
	}
}

// Extract runs a default Extractor.
func Extract(markup string, decoded []string) (types.VariantSet, error) {
	return New(nil).Extract(markup, decoded)
}

type candidate struct {
	key        string
	label      string
	language   string
	resolution int
	bluray     bool
}

// Extract returns the variants found in markup, in discovery order.
// Decoded scripts contribute both the key lookup table and, when they
// contain markup themselves, further candidate entries.
func (e *Extractor) Extract(markup string, decoded []string) (types.VariantSet, error) {
	logger := types.OrNop(e.Logger)
	selector := e.ItemSelector
	if selector == "" {
		selector = DefaultItemSelector
	}
	defaultLang := e.DefaultLanguage
	if defaultLang == "" {
		defaultLang = types.DefaultLanguage
	}

	table := ParseLookupTable(decoded)

	var candidates []candidate
	for _, src := range append([]string{markup}, decoded...) {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("%s: parse markup: %w", types.StageExtract, err)
		}
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			candidates = append(candidates, e.candidateFrom(s, defaultLang))
		})
	}

	var (
		out     types.VariantSet
		dropped []string
		seen    = map[string]bool{}
	)
	for _, c := range candidates {
		if c.key == "" {
			continue
		}
		source, ok := table[c.key]
		if !ok && isAbsoluteURL(c.key) {
			source, ok = c.key, true
		}
		if !ok {
			logger.Warnf("variant %q: no link for key %q, dropped", c.label, c.key)
			dropped = append(dropped, c.key)
			continue
		}
		if c.resolution <= 0 {
			logger.Warnf("variant %q: no resolution in label, dropped", c.label)
			dropped = append(dropped, c.key)
			continue
		}
		id := c.language + "/" + strconv.Itoa(c.resolution)
		if seen[id] {
			logger.Warnf("variant %q: duplicate %s, dropped", c.label, id)
			dropped = append(dropped, c.key)
			continue
		}
		seen[id] = true
		out = append(out, types.StreamVariant{
			Language:   c.language,
			Resolution: c.resolution,
			SourceURL:  source,
			Label:      c.label,
			Key:        c.key,
			BluRay:     c.bluray,
			Order:      len(out),
		})
	}

	if len(out) == 0 {
		return nil, &types.ExtractError{Candidates: len(candidates), Dropped: dropped}
	}
	logger.Debugf("extracted %d variant(s) from %d candidate(s)", len(out), len(candidates))
	return out, nil
}

func (e *Extractor) candidateFrom(s *goquery.Selection, defaultLang string) candidate {
	var c candidate
	for _, attr := range keyAttributes {
		if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" {
			c.key = strings.TrimSpace(v)
			break
		}
	}
	c.label = strings.Join(strings.Fields(s.Text()), " ")

	res, lang, bluray := parseLabel(c.label)
	if v, ok := s.Attr("data-resolution"); ok {
		if n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(v), "p")); err == nil {
			res = n
		}
	}
	if v, ok := s.Attr("data-audio"); ok && strings.TrimSpace(v) != "" {
		lang = NormalizeLanguage(v)
	}
	if v, ok := s.Attr("data-bluray"); ok && v != "0" && v != "false" {
		bluray = true
	}
	if lang == "" {
		lang = defaultLang
	}
	c.resolution = res
	c.language = lang
	c.bluray = bluray
	return c
}

// parseLabel reads resolution, language and the BluRay badge from entry
// text such as "SubsPlease · 1080p (212MB) BD eng" or "eng · 720p".
// Known language tokens are looked for in every "·" part, rightmost first.
// Failing that, the leftover text of the rightmost part is the language.
func parseLabel(label string) (resolution int, language string, bluray bool) {
	if m := resolutionRe.FindStringSubmatch(label); m != nil {
		resolution, _ = strconv.Atoi(m[1])
	}
	bluray = badgeRe.MatchString(label)

	parts := strings.Split(label, "·")
	var fallback []string
	for i := len(parts) - 1; i >= 0; i-- {
		for _, tok := range labelTokens(parts[i]) {
			if code, ok := knownLanguage(tok); ok {
				return resolution, code, bluray
			}
			if i == len(parts)-1 {
				fallback = append(fallback, tok)
			}
		}
	}
	return resolution, NormalizeLanguage(strings.Join(fallback, " ")), bluray
}

func labelTokens(part string) []string {
	part = resolutionRe.ReplaceAllString(part, " ")
	part = sizeRe.ReplaceAllString(part, " ")
	part = badgeRe.ReplaceAllString(part, " ")
	var out []string
	for _, tok := range separatorRe.Split(part, -1) {
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

// ParseLookupTable collects key to URL pairs from decoded scripts. Both
// object literal entries ({"k720":"https://..."}) and indexed assignments
// (t["k720"]="https://...") are recognised. The first entry for a key wins.
func ParseLookupTable(decoded []string) map[string]string {
	table := map[string]string{}
	for _, text := range decoded {
		for _, re := range []*regexp.Regexp{objectEntryRe, assignEntryRe} {
			for _, m := range re.FindAllStringSubmatch(text, -1) {
				if _, ok := table[m[1]]; ok {
					continue
				}
				table[m[1]] = strings.ReplaceAll(m[2], `\/`, "/")
			}
		}
	}
	return table
}

func isAbsoluteURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
