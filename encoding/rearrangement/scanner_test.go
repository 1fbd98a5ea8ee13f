package rearrangement

import (
	"bytes"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

const annotated = `r1,12,yes,TRBV5-1,TRBJ2-3,CASSLAPGATNEKLFF,tgtgccagcagcttagc
r2,3,no,TRBV5-1,TRBJ2-3,CASSLAPGATNEKLFF,tgtgccagcagcttagc
r3,1,yes,TRBV19,TRBJ2-7,CASSIRSSYEQYF,tgtgccagtagtatcag
r4,7,unknown,TRBV19,TRBJ2-7,CASSIRSSYEQYF,tgtgccagtagtatcag
`

func stringScanner(s string) *Scanner {
	return NewScanner(bytes.NewReader([]byte(s)), DefaultLayout)
}

func TestScan(t *testing.T) {
	s := stringScanner(annotated)
	var r Record
	if !s.Scan(&r) {
		t.Fatal(s.Err())
	}
	expect := Record{
		Productive: true,
		VGene:      "TRBV5-1",
		JGene:      "TRBJ2-3",
		CDR3AA:     "CASSLAPGATNEKLFF",
		VDJNT:      "tgtgccagcagcttagc",
	}
	if got, want := r, expect; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	var n, productive int
	for s.Scan(&r) {
		n++
		if r.Productive {
			productive++
		}
	}
	if err := s.Err(); err != nil {
		t.Errorf("unexpected error %v", err)
	}
	// "no" and "unknown" both read as non-productive.
	if got, want := n, 3; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := productive, 1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := s.Line(), int64(4); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestScanMalformed(t *testing.T) {
	s := stringScanner("r1,12,yes,TRBV5-1,TRBJ2-3,CASSLF,tgtgcc\nr2,3,yes\n")
	var r Record
	if !s.Scan(&r) {
		t.Fatal(s.Err())
	}
	if s.Scan(&r) {
		t.Fatal("scan of short line succeeded")
	}
	err := s.Err()
	if errors.Cause(err) != ErrMalformed {
		t.Errorf("got %v, want %v", err, ErrMalformed)
	}
	if !strings.Contains(err.Error(), "line 2") {
		t.Errorf("error %q does not name the offending line", err)
	}
	// The scanner stays stopped after a malformed line.
	if s.Scan(&r) {
		t.Fatal("scan restarted after error")
	}
}

func TestScanOtherLayout(t *testing.T) {
	layout := Layout{Comma: '\t', Productive: 0, VGene: 1, JGene: 2, CDR3AA: 3, VDJNT: 4}
	if err := layout.Validate(); err != nil {
		t.Fatal(err)
	}
	s := NewScanner(bytes.NewReader([]byte("yes\tV1\tJ1\tCDR3\tacgt\textra\n")), layout)
	var r Record
	if !s.Scan(&r) {
		t.Fatal(s.Err())
	}
	want := Record{Productive: true, VGene: "V1", JGene: "J1", CDR3AA: "CDR3", VDJNT: "acgt"}
	if got := r; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestLayoutValidate(t *testing.T) {
	if err := DefaultLayout.Validate(); err != nil {
		t.Error(err)
	}
	bad := DefaultLayout
	bad.VGene = -1
	if bad.Validate() == nil {
		t.Error("negative column accepted")
	}
	bad = DefaultLayout
	bad.JGene = bad.VGene
	if bad.Validate() == nil {
		t.Error("duplicate column accepted")
	}
	bad = DefaultLayout
	bad.Comma = 0
	if bad.Validate() == nil {
		t.Error("empty delimiter accepted")
	}
}
