package packer

import (
	"errors"
	"sort"
)

// Unpack finds and decodes every packed block in page, of either scheme,
// and returns the decoded texts in document order.
//
// Blocks are independent: a failing block does not stop the others. The
// returned error joins every per-block failure and is nil when all blocks
// decoded. Callers decide whether partial output is usable.
func Unpack(page string) ([]string, error) {
	type decoded struct {
		pos  int
		text string
	}
	var (
		out  []decoded
		errs []error
	)

	scripts, parseErrs := FindAll(page)
	errs = append(errs, parseErrs...)
	for _, s := range scripts {
		text, err := Decode(s)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, decoded{pos: s.Pos, text: text})
	}

	ccScripts, ccErrs := FindAllCharCode(page)
	errs = append(errs, ccErrs...)
	for _, s := range ccScripts {
		text, err := DecodeCharCode(s)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, decoded{pos: s.Pos, text: text})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].pos < out[j].pos })
	texts := make([]string, 0, len(out))
	for _, d := range out {
		texts = append(texts, d.text)
	}
	return texts, errors.Join(errs...)
}
