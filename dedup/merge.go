package dedup

import (
	"strings"

	"github.com/biogo/store/llrb"
	"v.io/x/lib/vlog"
)

// mergeLeaf wraps one spill shard in the merge tree.
type mergeLeaf struct {
	// seq is a number (0,1,2..) arbitrarily assigned to break ties between
	// leafs holding equal keys.
	seq    int
	reader *spillReader
	done   bool // reader.scan() returned false?
}

func newMergeLeaf(seq int, reader *spillReader) *mergeLeaf {
	leaf := mergeLeaf{seq: seq, reader: reader}
	if !leaf.reader.scan() {
		return nil
	}
	return &leaf
}

func (l *mergeLeaf) Compare(c1 llrb.Comparable) int {
	l1 := c1.(*mergeLeaf)
	if c := strings.Compare(l.reader.key().key, l1.reader.key().key); c != 0 {
		return c
	}
	return l.seq - l1.seq
}

// mergeSpills N-way merges sorted spill shards. readCallback is called once
// per record in non-decreasing key order; keys within one shard are distinct,
// so a key recurs at most once per shard and equal keys arrive adjacently.
// If readCallback returns false, the merge exits immediately.
func mergeSpills(shards []*spillReader, readCallback func(e keyCount) bool) {
	// Sort the inputs using a binary tree rather than a heap: if the leaf at
	// the top stays at the top for many records, the tree maintains sorted
	// order in amortized O(1) rather than O(log(len(shards))).
	leafs := llrb.Tree{}
	for i, shard := range shards {
		if c := newMergeLeaf(i, shard); c != nil {
			vlog.VI(1).Infof("leaf %v created", c.reader.path)
			leafs.Insert(c)
		}
	}
	vlog.VI(1).Infof("merging %d spill shards, %d leafs active", len(shards), leafs.Len())

	done := false
	for !done && leafs.Len() > 0 {
		nthiter := 0
		// top is the smallest leaf. next is the 2nd smallest, or nil if top is
		// the only leaf in the tree.
		var top, next *mergeLeaf
		leafs.Do(func(item llrb.Comparable) bool {
			nthiter++
			switch nthiter {
			case 1:
				top = item.(*mergeLeaf)
				return false
			case 2:
				next = item.(*mergeLeaf)
				return true
			default:
				vlog.Fatal(nthiter)
				return false
			}
		})
		// Read records from top until it grows past next.
		for {
			if !readCallback(top.reader.key()) {
				done = true
				break
			}
			top.done = !top.reader.scan()
			if top.done || (next != nil && strings.Compare(next.reader.key().key, top.reader.key().key) < 0) {
				break
			}
		}
		// Move top back into its proper place in the tree.
		lenBefore := leafs.Len()
		leafs.DeleteMin()
		if !top.done {
			leafs.Insert(top)
			if lenAfter := leafs.Len(); lenBefore != lenAfter {
				vlog.Fatalf("leaf count changed from %d to %d", lenBefore, lenAfter)
			}
		}
	}
}
