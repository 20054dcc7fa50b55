package packer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/notruri/pahe/internal/types"
)

// CharCodeScript holds the arguments of a char-code packed block:
//
//	eval(function(h,u,n,t,e,r){...}("encoded",N,"alphabet",offset,base,N))
//
// Encoded is a run of digit groups separated by Alphabet[Base]. Each group
// spells a number in Base using the positions of its characters in Alphabet;
// the number minus Offset is one character code of the output.
type CharCodeScript struct {
	Encoded  string
	Alphabet string
	Offset   int
	Base     int
	Block    int
	Pos      int
}

const maxCharCodeBase = 64

var (
	charCodeHeadRe = regexp.MustCompile(`eval\s*\(\s*function\s*\(\s*h\s*,\s*u\s*,\s*n\s*,\s*t\s*,\s*e\s*,\s*r\s*\)`)
	charCodeArgsRe = regexp.MustCompile(`\}\s*\(\s*"([^",]*)"\s*,\s*\d+\s*,\s*"([^",]*)"\s*,\s*(\d+)\s*,\s*(\d+)\s*,\s*\d+[a-zA-Z]?\s*\)`)
)

// FindAllCharCode locates char-code packed blocks in text, in document
// order. Only calls following an eval(function(h,u,n,t,e,r) head count.
func FindAllCharCode(text string) ([]CharCodeScript, []error) {
	heads := charCodeHeadRe.FindAllStringIndex(text, -1)
	var (
		scripts []CharCodeScript
		errs    []error
	)
	for i, head := range heads {
		end := len(text)
		if i+1 < len(heads) {
			end = heads[i+1][0]
		}
		span := text[head[1]:end]
		loc := charCodeArgsRe.FindStringSubmatchIndex(span)
		if loc == nil {
			errs = append(errs, &types.PackedScriptError{Block: i, Reason: "char-code arguments not found"})
			continue
		}
		m := submatches(span, loc)
		offset, err := strconv.Atoi(m[3])
		if err != nil {
			errs = append(errs, &types.PackedScriptError{Block: i, Token: m[3], Reason: "offset is not a number"})
			continue
		}
		base, err := strconv.Atoi(m[4])
		if err != nil {
			errs = append(errs, &types.PackedScriptError{Block: i, Token: m[4], Reason: "base is not a number"})
			continue
		}
		scripts = append(scripts, CharCodeScript{
			Encoded:  m[1],
			Alphabet: m[2],
			Offset:   offset,
			Base:     base,
			Block:    i,
			Pos:      head[0],
		})
	}
	return scripts, errs
}

// DecodeCharCode reverses the char-code scheme.
func DecodeCharCode(s CharCodeScript) (string, error) {
	alphabet := []rune(s.Alphabet)
	if s.Base < 2 || s.Base > maxCharCodeBase {
		return "", &types.PackedScriptError{Block: s.Block, Token: strconv.Itoa(s.Base), Reason: "base out of range"}
	}
	if s.Base >= len(alphabet) {
		return "", &types.PackedScriptError{
			Block:  s.Block,
			Token:  strconv.Itoa(s.Base),
			Reason: fmt.Sprintf("alphabet of %d has no separator at base index", len(alphabet)),
		}
	}
	sep := string(alphabet[s.Base])

	var b strings.Builder
	for _, group := range strings.Split(s.Encoded, sep) {
		if group == "" {
			continue
		}
		code := 0
		for _, r := range group {
			d := indexRune(alphabet, r)
			if d < 0 || d >= s.Base {
				return "", &types.PackedScriptError{Block: s.Block, Token: group, Reason: "character outside alphabet"}
			}
			code = code*s.Base + d
			if code > 0x10FFFF+s.Offset {
				return "", &types.PackedScriptError{Block: s.Block, Token: group, Reason: "character code overflow"}
			}
		}
		code -= s.Offset
		if code < 0 {
			return "", &types.PackedScriptError{Block: s.Block, Token: group, Reason: "negative character code"}
		}
		b.WriteRune(rune(code))
	}
	return b.String(), nil
}

func submatches(text string, loc []int) []string {
	out := make([]string, len(loc)/2)
	for i := range out {
		if loc[2*i] >= 0 {
			out[i] = text[loc[2*i]:loc[2*i+1]]
		}
	}
	return out
}

func indexRune(rs []rune, r rune) int {
	for i, c := range rs {
		if c == r {
			return i
		}
	}
	return -1
}
