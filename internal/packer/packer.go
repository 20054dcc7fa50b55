// Package packer decodes "packed" JavaScript blocks of the form
//
//	eval(function(p,a,c,k,e,d){...}('payload',radix,count,'a|b|c'.split('|'),0,{}))
//
// without executing any script. Decoding is a pure text transform.
package packer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/notruri/pahe/internal/types"
)

// Alphabet maps digit values to characters for radix up to 62.
const Alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

const (
	minRadix = 2
	maxRadix = len(Alphabet)
)

// Script holds the arguments of one packed block.
type Script struct {
	Payload string
	Radix   int
	Count   int
	Symbols []string
	// Block is the ordinal of the block on its page, used in errors.
	Block int
	// Pos is the byte offset of the block in the scanned text.
	Pos int
}

const quotedLiteral = `'(?:\\.|[^'\\])*'|"(?:\\.|[^"\\])*"`

var (
	headRe = regexp.MustCompile(`eval\s*\(\s*function\s*\(\s*p\s*,\s*a\s*,\s*c\s*,\s*k\s*,\s*e\s*,\s*[dr]\s*\)`)
	argsRe = regexp.MustCompile(`\}\s*\(\s*(` + quotedLiteral + `)\s*,\s*(\d+)\s*,\s*(\d+)\s*,\s*(` + quotedLiteral + `)\s*\.\s*split\s*\(\s*(?:'\|'|"\|")\s*\)`)
	wordRe = regexp.MustCompile(`\b\w+\b`)
)

// Parse extracts the packed arguments from a single block of script text.
func Parse(block string) (Script, error) {
	return parseAt(block, 0)
}

func parseAt(block string, index int) (Script, error) {
	m := argsRe.FindStringSubmatch(block)
	if m == nil {
		return Script{}, &types.PackedScriptError{Block: index, Reason: "packed arguments not found"}
	}
	payload, err := unquote(m[1])
	if err != nil {
		return Script{}, &types.PackedScriptError{Block: index, Reason: "payload: " + err.Error()}
	}
	radix, err := strconv.Atoi(m[2])
	if err != nil {
		return Script{}, &types.PackedScriptError{Block: index, Token: m[2], Reason: "radix is not a number"}
	}
	count, err := strconv.Atoi(m[3])
	if err != nil {
		return Script{}, &types.PackedScriptError{Block: index, Token: m[3], Reason: "count is not a number"}
	}
	table, err := unquote(m[4])
	if err != nil {
		return Script{}, &types.PackedScriptError{Block: index, Reason: "symbol table: " + err.Error()}
	}
	var symbols []string
	if table != "" {
		symbols = strings.Split(table, "|")
	}
	return Script{
		Payload: payload,
		Radix:   radix,
		Count:   count,
		Symbols: symbols,
		Block:   index,
	}, nil
}

// FindAll locates every packed block in text and parses it.
// Blocks are returned in document order. A block whose head is present but
// whose arguments cannot be parsed yields an error for that block only; the
// remaining blocks are still returned.
func FindAll(text string) ([]Script, []error) {
	locs := headRe.FindAllStringIndex(text, -1)
	var (
		scripts []Script
		errs    []error
	)
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		s, err := parseAt(text[loc[1]:end], i)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		s.Pos = loc[0]
		scripts = append(scripts, s)
	}
	return scripts, errs
}

// Decode substitutes every numeral token in the payload with its symbol.
//
// Tokens are maximal word-character runs read as numerals in s.Radix using
// Alphabet. A token that is not a valid numeral, or whose symbol is blank,
// is left untouched. A token that indexes past the symbol table is an error.
func Decode(s Script) (string, error) {
	if s.Radix < minRadix || s.Radix > maxRadix {
		return "", &types.PackedScriptError{
			Block:  s.Block,
			Token:  strconv.Itoa(s.Radix),
			Reason: fmt.Sprintf("radix must be in [%d, %d]", minRadix, maxRadix),
		}
	}
	if len(s.Symbols) == 0 {
		return s.Payload, nil
	}

	var firstErr error
	out := wordRe.ReplaceAllStringFunc(s.Payload, func(word string) string {
		if firstErr != nil {
			return word
		}
		n, ok := parseNumeral(word, s.Radix)
		if !ok {
			return word
		}
		if n >= len(s.Symbols) {
			firstErr = &types.PackedScriptError{
				Block:  s.Block,
				Token:  word,
				Reason: fmt.Sprintf("index %d outside symbol table of %d", n, len(s.Symbols)),
			}
			return word
		}
		if sym := s.Symbols[n]; sym != "" {
			return sym
		}
		return word
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// parseNumeral reads word in the given radix. ok is false when a character
// falls outside the radix or the value overflows int.
func parseNumeral(word string, radix int) (int, bool) {
	const limit = int(^uint(0)>>1) / maxRadix
	n := 0
	for i := 0; i < len(word); i++ {
		d := strings.IndexByte(Alphabet, word[i])
		if d < 0 || d >= radix {
			return 0, false
		}
		if n > limit {
			return 0, false
		}
		n = n*radix + d
	}
	return n, true
}
