package variant

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/notruri/pahe/internal/types"
)

type recordingLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *recordingLogger) Warnf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, fmt.Sprintf(format, args...))
}

func (l *recordingLogger) Debugf(string, ...any) {}

const linkTable = `var links={"k720":"https://kwik.si/e/AbC720","k1080":"https://kwik.si/e/AbC1080","k360":"https://kwik.si/e/AbC360"};`

func TestExtract_PairsKeysWithTable(t *testing.T) {
	markup := `<div id="resolutionMenu">
  <button data-src="k360" data-resolution="360" data-audio="jpn">SubsPlease · 360p</button>
  <button data-src="k720" data-resolution="720" data-audio="jpn">SubsPlease · 720p</button>
  <button data-src="k1080" data-resolution="1080" data-audio="eng">SubsPlease · 1080p</button>
</div>`

	got, err := Extract(markup, []string{linkTable})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	want := []types.StreamVariant{
		{Language: "jp", Resolution: 360, SourceURL: "https://kwik.si/e/AbC360", Key: "k360", Order: 0},
		{Language: "jp", Resolution: 720, SourceURL: "https://kwik.si/e/AbC720", Key: "k720", Order: 1},
		{Language: "en", Resolution: 1080, SourceURL: "https://kwik.si/e/AbC1080", Key: "k1080", Order: 2},
	}
	if len(got) != len(want) {
		t.Fatalf("Extract() returned %d variants, want %d: %+v", len(got), len(want), got)
	}
	for i, w := range want {
		g := got[i]
		if g.Language != w.Language || g.Resolution != w.Resolution || g.SourceURL != w.SourceURL || g.Key != w.Key || g.Order != w.Order {
			t.Fatalf("Extract()[%d] = %+v, want %+v", i, g, w)
		}
	}
}

func TestExtract_LabelParsing(t *testing.T) {
	markup := `<div id="pickDownload">
  <a href="https://pahe.win/aaa">SubsPlease · 720p (120MB) eng</a>
  <a href="https://pahe.win/bbb">SubsPlease · 1080p (212MB) <span class="badge">BD</span> <span>eng</span></a>
  <a href="https://pahe.win/ccc">Judas · 1080p (400MB)</a>
  <a href="https://pahe.win/ddd">Other · 480p chi</a>
</div>`

	got, err := Extract(markup, nil)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	tests := []struct {
		lang   string
		res    int
		bluray bool
		src    string
	}{
		{lang: "en", res: 720, src: "https://pahe.win/aaa"},
		{lang: "en", res: 1080, bluray: true, src: "https://pahe.win/bbb"},
		{lang: "jp", res: 1080, src: "https://pahe.win/ccc"},
		{lang: "zh", res: 480, src: "https://pahe.win/ddd"},
	}
	if len(got) != len(tests) {
		t.Fatalf("Extract() returned %d variants, want %d: %+v", len(got), len(tests), got)
	}
	for i, tt := range tests {
		g := got[i]
		if g.Language != tt.lang || g.Resolution != tt.res || g.BluRay != tt.bluray || g.SourceURL != tt.src {
			t.Fatalf("Extract()[%d] = %+v, want lang=%s res=%d bluray=%v src=%s", i, g, tt.lang, tt.res, tt.bluray, tt.src)
		}
	}
}

func TestExtract_AssignmentTableAndEscapedSlashes(t *testing.T) {
	decoded := []string{`var t={};t["a1"]="https:\/\/kwik.si\/e\/one";t['b2']='https://kwik.si/e/two';`}
	markup := `<ul><li data-key="a1">720p eng</li><li data-key="b2">720p</li></ul>`

	got, err := Extract(markup, decoded)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Extract() returned %d variants, want 2", len(got))
	}
	if got[0].SourceURL != "https://kwik.si/e/one" || got[0].Language != "en" {
		t.Fatalf("Extract()[0] = %+v", got[0])
	}
	if got[1].SourceURL != "https://kwik.si/e/two" || got[1].Language != "jp" {
		t.Fatalf("Extract()[1] = %+v", got[1])
	}
}

func TestExtract_DropsUnmatchedAndDuplicates(t *testing.T) {
	markup := `<div>
  <button data-src="k720" data-resolution="720">720p</button>
  <button data-src="missing" data-resolution="480">480p</button>
  <button data-src="k1080" data-resolution="720">720p again</button>
</div>`
	logger := &recordingLogger{}
	e := New(logger)

	got, err := e.Extract(markup, []string{linkTable})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(got) != 1 || got[0].Key != "k720" {
		t.Fatalf("Extract() = %+v, want only k720", got)
	}
	if len(logger.warns) != 2 {
		t.Fatalf("warnings = %q, want 2", logger.warns)
	}
	if !strings.Contains(logger.warns[0], "missing") {
		t.Fatalf("first warning = %q, want mention of missing key", logger.warns[0])
	}
	if !strings.Contains(logger.warns[1], "duplicate") {
		t.Fatalf("second warning = %q, want duplicate notice", logger.warns[1])
	}
}

func TestExtract_EntriesInsideDecodedMarkup(t *testing.T) {
	decoded := []string{`document.write('<div id="pickDownload"><a href="https://kwik.si/f/Xy12">SubsPlease · 720p eng</a></div>');`}
	got, err := Extract("<html><body></body></html>", decoded)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(got) != 1 || got[0].SourceURL != "https://kwik.si/f/Xy12" {
		t.Fatalf("Extract() = %+v", got)
	}
}

func TestExtract_NoVariants(t *testing.T) {
	tests := []struct {
		name    string
		markup  string
		decoded []string
	}{
		{name: "empty page", markup: ""},
		{name: "no entries", markup: "<p>nothing here</p>", decoded: []string{linkTable}},
		{name: "keys without links", markup: `<button data-src="nope">720p</button>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Extract(tt.markup, tt.decoded)
			if !errors.Is(err, types.ErrNoVariantsFound) {
				t.Fatalf("Extract() error = %v, want ErrNoVariantsFound", err)
			}
		})
	}
}

func TestParseLabel(t *testing.T) {
	tests := []struct {
		label  string
		res    int
		lang   string
		bluray bool
	}{
		{label: "720p", res: 720, lang: ""},
		{label: "SubsPlease · 1080p (212MB) BD eng", res: 1080, lang: "en", bluray: true},
		{label: "360p Deutsch", res: 360, lang: "deutsch"},
		{label: "Group · 480P (50MB) Japanese", res: 480, lang: "jp"},
		{label: "no resolution", res: 0, lang: "no resolution"},
		{label: "eng · 720p", res: 720, lang: "en"},
		{label: "English · 1080p", res: 1080, lang: "en"},
		{label: "jpn · 1080p BD", res: 1080, lang: "jp", bluray: true},
		{label: "Judas · 1080p", res: 1080, lang: ""},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			res, lang, bluray := parseLabel(tt.label)
			if res != tt.res || lang != tt.lang || bluray != tt.bluray {
				t.Fatalf("parseLabel(%q) = (%d, %q, %v), want (%d, %q, %v)", tt.label, res, lang, bluray, tt.res, tt.lang, tt.bluray)
			}
		})
	}
}

func TestExtract_LanguageBeforeResolution(t *testing.T) {
	markup := `<div id="pickDownload">
  <a href="https://pahe.win/e720">eng · 720p</a>
  <a href="https://pahe.win/e1080">English · 1080p</a>
  <a href="https://pahe.win/j1080">jpn · 1080p</a>
</div>`

	got, err := Extract(markup, nil)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	want := []string{"en/720", "en/1080", "jp/1080"}
	if len(got) != len(want) {
		t.Fatalf("Extract() returned %d variants, want %d: %+v", len(got), len(want), got)
	}
	for i, w := range want {
		if id := fmt.Sprintf("%s/%d", got[i].Language, got[i].Resolution); id != w {
			t.Fatalf("Extract()[%d] = %s, want %s", i, id, w)
		}
	}
	if got[2].SourceURL != "https://pahe.win/j1080" {
		t.Fatalf("Extract()[2].SourceURL = %q, want https://pahe.win/j1080", got[2].SourceURL)
	}
}
