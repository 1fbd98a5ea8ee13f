package clonotype

import (
	"testing"

	"github.com/grailbio/repertoire/encoding/rearrangement"
	"github.com/grailbio/testutil/expect"
)

func TestKeyOf(t *testing.T) {
	rec := rearrangement.Record{
		Productive: true,
		VGene:      "TCRBV05-01",
		JGene:      "TCRBJ02-01",
		CDR3AA:     "CASSLGQAYEQYF",
		VDJNT:      "TGTGCCAGCAGCTTA",
	}
	expect.EQ(t, KeyOf(Clonotype, &rec), Key{"TCRBV05-01", "TCRBJ02-01", "CASSLGQAYEQYF"})
	expect.EQ(t, KeyOf(Sequence, &rec), Key{"TCRBV05-01", "TCRBJ02-01", "TGTGCCAGCAGCTTA"})
}

func TestKeyString(t *testing.T) {
	k := Key{VGene: "TCRBV05-01", JGene: "TCRBJ02-01", Seq: "CASSLGQAYEQYF"}
	expect.EQ(t, k.String(), "TCRBV05-01 TCRBJ02-01 CASSLGQAYEQYF")

	got, ok := ParseKey(k.String())
	expect.True(t, ok)
	expect.EQ(t, got, k)

	_, ok = ParseKey("TCRBV05-01 TCRBJ02-01")
	expect.False(t, ok)
}

func TestKindString(t *testing.T) {
	expect.EQ(t, Clonotype.String(), "clonotype")
	expect.EQ(t, Sequence.String(), "sequence")
	expect.EQ(t, Kind(42).String(), "invalid")
}
