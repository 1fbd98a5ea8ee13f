package rearrangement

import (
	"github.com/pkg/errors"
)

// Layout maps the columns of an annotated rearrangement file to the fields
// this package cares about. Annotation pipelines emit many more columns than
// these five; everything else is ignored. Column numbering is zero based.
type Layout struct {
	// Comma is the field delimiter.
	Comma rune
	// Productive is the column holding the productivity marker. A record is
	// productive iff the column equals ProductiveMarker exactly.
	Productive int
	// VGene and JGene are the columns holding the V and J segment names.
	VGene int
	JGene int
	// CDR3AA is the column holding the CDR3 amino-acid sequence.
	CDR3AA int
	// VDJNT is the column holding the full VDJ nucleotide sequence.
	VDJNT int
}

// ProductiveMarker is the literal productivity value of a productive record.
// Any other value, including an annotator's header line, marks the record
// non-productive.
const ProductiveMarker = "yes"

// DefaultLayout describes the column order of the upstream annotator's CSV
// export: id, read count, productivity, V, J, CDR3-aa, VDJ-nt, ...
var DefaultLayout = Layout{
	Comma:      ',',
	Productive: 2,
	VGene:      3,
	JGene:      4,
	CDR3AA:     5,
	VDJNT:      6,
}

// minFields returns the field count a record must have for every configured
// column to be addressable.
func (l Layout) minFields() int {
	min := 0
	for _, col := range []int{l.Productive, l.VGene, l.JGene, l.CDR3AA, l.VDJNT} {
		if col >= min {
			min = col + 1
		}
	}
	return min
}

// Validate rejects layouts that can never address a record correctly:
// negative columns and columns mapped to the same index. It cannot detect a
// layout whose indices are valid but point at the wrong columns; such a
// configuration silently produces garbage keys.
func (l Layout) Validate() error {
	cols := []struct {
		name string
		col  int
	}{
		{"productive-col", l.Productive},
		{"v-col", l.VGene},
		{"j-col", l.JGene},
		{"cdr3aa-col", l.CDR3AA},
		{"vdjnt-col", l.VDJNT},
	}
	seen := make(map[int]string, len(cols))
	for _, c := range cols {
		if c.col < 0 {
			return errors.Errorf("%s: negative column index %d", c.name, c.col)
		}
		if other, ok := seen[c.col]; ok {
			return errors.Errorf("%s and %s both map to column %d", other, c.name, c.col)
		}
		seen[c.col] = c.name
	}
	if l.Comma == 0 {
		return errors.New("empty field delimiter")
	}
	return nil
}
