// Package rearrangement reads annotated-rearrangement files: delimited text,
// one record per line, with the fields of interest at configurable column
// positions (see Layout). The format is schema-less beyond positional
// indexing, so the scanner never interprets columns it is not configured for.
package rearrangement

import (
	"bufio"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// ErrMalformed is returned when a line has too few fields for the configured
// layout. A malformed line is fatal for the whole file: the caller's field
// layout disagrees with the file, so every extracted key is suspect.
var ErrMalformed = errors.New("malformed rearrangement record")

// A Record is one annotated rearrangement. String fields are copies and
// remain valid after the next Scan.
type Record struct {
	// Productive reports whether the productivity column held
	// ProductiveMarker.
	Productive bool
	// VGene and JGene name the assigned V and J segments.
	VGene, JGene string
	// CDR3AA is the CDR3 amino-acid sequence.
	CDR3AA string
	// VDJNT is the full VDJ nucleotide sequence.
	VDJNT string
}

// Scanner reads rearrangement records from a stream. The Scan method returns
// the next record, returning a boolean indicating whether the read succeeded.
// Scanners are not threadsafe.
type Scanner struct {
	b      *bufio.Scanner
	layout Layout
	comma  string
	need   int
	line   int64
	err    error
}

// NewScanner constructs a Scanner reading delimited records from r using the
// given layout. The layout should have been validated beforehand.
func NewScanner(r io.Reader, layout Layout) *Scanner {
	return &Scanner{
		b:      bufio.NewScanner(r),
		layout: layout,
		comma:  string(layout.Comma),
		need:   layout.minFields(),
	}
}

// Scan reads the next record into rec. It returns false at end of stream or
// on error; check Err after Scan returns false. Once Scan returns false, it
// never returns true again.
func (s *Scanner) Scan(rec *Record) bool {
	if s.err != nil {
		return false
	}
	if !s.b.Scan() {
		s.err = s.b.Err()
		return false
	}
	s.line++
	fields := strings.Split(s.b.Text(), s.comma)
	if len(fields) < s.need {
		s.err = errors.Wrapf(ErrMalformed, "line %d: %d fields, need at least %d",
			s.line, len(fields), s.need)
		return false
	}
	rec.Productive = fields[s.layout.Productive] == ProductiveMarker
	rec.VGene = fields[s.layout.VGene]
	rec.JGene = fields[s.layout.JGene]
	rec.CDR3AA = fields[s.layout.CDR3AA]
	rec.VDJNT = fields[s.layout.VDJNT]
	return true
}

// Line returns the 1-based number of the last line handed to Scan.
func (s *Scanner) Line() int64 { return s.line }

// Err returns the scanning error, if any. It should be checked after Scan
// returns false.
func (s *Scanner) Err() error { return s.err }
