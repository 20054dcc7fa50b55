package mirror

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const tokenField = "_token"

type tokenForm struct {
	action string
	values url.Values
}

// findTokenForm returns the first form in markup that has an action and a
// non-empty _token input. All named inputs of that form are submitted.
func findTokenForm(markup string) (tokenForm, bool) {
	if !strings.Contains(markup, tokenField) {
		return tokenForm{}, false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return tokenForm{}, false
	}
	var found tokenForm
	ok := false
	doc.Find("form[action]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		action := strings.TrimSpace(s.AttrOr("action", ""))
		token := strings.TrimSpace(s.Find(`input[name="` + tokenField + `"]`).First().AttrOr("value", ""))
		if action == "" || token == "" {
			return true
		}
		values := url.Values{}
		s.Find("input[name]").Each(func(_ int, in *goquery.Selection) {
			name := in.AttrOr("name", "")
			values.Add(name, in.AttrOr("value", ""))
		})
		found, ok = tokenForm{action: action, values: values}, true
		return false
	})
	return found, ok
}
