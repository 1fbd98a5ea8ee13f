// Package clonotype projects annotated rearrangement records to the two key
// shapes the dedup pipeline works in: clonotype keys (V gene, J gene, CDR3
// amino-acid sequence) and sequence keys (V gene, J gene, VDJ nucleotide
// sequence). Keys serialize as space-joined strings; all downstream
// deduplication and pooling compares those strings byte-wise.
package clonotype

import (
	"strings"

	"github.com/grailbio/repertoire/encoding/rearrangement"
)

// Kind identifies a key shape. It also owns the token used in pool file
// names, so changing a String() value changes the output layout on disk.
type Kind int

const (
	// Clonotype keys are (V gene, J gene, CDR3 amino-acid sequence).
	Clonotype Kind = iota
	// Sequence keys are (V gene, J gene, VDJ nucleotide sequence).
	Sequence
)

// Kinds lists all key kinds in the order the pipeline processes them.
var Kinds = []Kind{Clonotype, Sequence}

func (k Kind) String() string {
	switch k {
	case Clonotype:
		return "clonotype"
	case Sequence:
		return "sequence"
	}
	return "invalid"
}

// Label returns the kind's count-log label.
func (k Kind) Label() string {
	switch k {
	case Clonotype:
		return "CLONOTYPES"
	case Sequence:
		return "SEQUENCES"
	}
	return "INVALID"
}

// A Key is one projected record. Two records are the same clonotype (or the
// same sequence) iff their Keys are equal.
type Key struct {
	VGene, JGene string
	// Seq is the CDR3 amino-acid sequence for Clonotype keys and the VDJ
	// nucleotide sequence for Sequence keys.
	Seq string
}

// KeyOf returns r's key of the given kind.
func KeyOf(kind Kind, r *rearrangement.Record) Key {
	k := Key{VGene: r.VGene, JGene: r.JGene}
	switch kind {
	case Clonotype:
		k.Seq = r.CDR3AA
	case Sequence:
		k.Seq = r.VDJNT
	}
	return k
}

// String returns the serialized key, the exact line content of raw and unique
// key files.
func (k Key) String() string {
	return k.VGene + " " + k.JGene + " " + k.Seq
}

// ParseKey parses a serialized key. Keys whose gene names contain spaces
// cannot round-trip; the upstream annotator never emits such names.
func ParseKey(s string) (Key, bool) {
	fields := strings.SplitN(s, " ", 3)
	if len(fields) != 3 {
		return Key{}, false
	}
	return Key{VGene: fields[0], JGene: fields[1], Seq: fields[2]}, true
}
