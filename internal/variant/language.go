package variant

import "strings"

var languageAliases = map[string]string{
	"en":       "en",
	"eng":      "en",
	"english":  "en",
	"jp":       "jp",
	"ja":       "jp",
	"jpn":      "jp",
	"japanese": "jp",
	"zh":       "zh",
	"chi":      "zh",
	"chinese":  "zh",
	"es":       "es",
	"spa":      "es",
	"spanish":  "es",
	"pt":       "pt",
	"por":      "pt",
	"de":       "de",
	"ger":      "de",
	"german":   "de",
	"fr":       "fr",
	"fre":      "fr",
	"french":   "fr",
}

// NormalizeLanguage maps a language tag or name to its short code.
// Unknown values are returned lowercased and trimmed.
func NormalizeLanguage(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if code, ok := languageAliases[s]; ok {
		return code
	}
	return s
}

func knownLanguage(token string) (string, bool) {
	code, ok := languageAliases[strings.ToLower(token)]
	return code, ok
}
