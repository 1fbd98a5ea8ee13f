package dedup

import (
	"os"
	"strings"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func TestCountMap(t *testing.T) {
	m := newCountMap()
	m.add("a", 1)
	m.add("b", 2)
	m.add("a", 1)
	expect.EQ(t, m.size(), int64(2))

	entries := m.steal()
	sortKeyCounts(entries)
	expect.EQ(t, entries, []keyCount{{"a", 2}, {"b", 2}})
	expect.EQ(t, m.size(), int64(0))
	expect.EQ(t, len(m.steal()), 0)
}

func TestSpillRoundTrip(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	// The long key forces the reader to grow its record buffer.
	entries := []keyCount{
		{"a", 1},
		{"V05 J02 CASSLG", 42},
		{strings.Repeat("x", 4096), 7},
	}
	for _, compress := range []bool{true, false} {
		var errOnce errors.Once
		w := newSpillWriter(tempDir, compress, &errOnce)
		assert.NotNil(t, w)
		for _, e := range entries {
			w.add(e)
		}
		path := w.finish()
		assert.NoError(t, errOnce.Err())

		r := newSpillReader(path, compress, &errOnce)
		var got []keyCount
		for r.scan() {
			got = append(got, r.key())
		}
		r.close()
		assert.NoError(t, errOnce.Err())
		expect.EQ(t, got, entries)
		assert.NoError(t, os.Remove(path))
	}
}

func TestMergeSpills(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	var errOnce errors.Once
	write := func(entries ...keyCount) string {
		w := newSpillWriter(tempDir, true, &errOnce)
		for _, e := range entries {
			w.add(e)
		}
		return w.finish()
	}
	paths := []string{
		write(keyCount{"a", 1}, keyCount{"c", 2}),
		write(keyCount{"a", 3}, keyCount{"b", 1}),
		write(),
	}
	readers := make([]*spillReader, len(paths))
	for i, path := range paths {
		readers[i] = newSpillReader(path, true, &errOnce)
	}
	var got []keyCount
	mergeSpills(readers, func(e keyCount) bool {
		got = append(got, e)
		return true
	})
	for _, r := range readers {
		r.close()
	}
	assert.NoError(t, errOnce.Err())

	// Equal keys arrive adjacently, in shard order.
	expect.EQ(t, got, []keyCount{{"a", 1}, {"a", 3}, {"b", 1}, {"c", 2}})
}
