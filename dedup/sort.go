package dedup

import (
	"sort"

	psort "github.com/exascience/pargo/sort"
)

// keyCount is one accumulated key and the number of times it was added.
type keyCount struct {
	key   string
	count int64
}

// keyCountSorter parallel-sorts a spill batch byte-wise by key.
type keyCountSorter []keyCount

func (s keyCountSorter) SequentialSort(i, j int) {
	batch := s[i:j]
	sort.Slice(batch, func(i, j int) bool {
		return batch[i].key < batch[j].key
	})
}

func (s keyCountSorter) NewTemp() psort.StableSorter {
	return keyCountSorter(make([]keyCount, len(s)))
}

func (s keyCountSorter) Len() int {
	return len(s)
}

func (s keyCountSorter) Less(i, j int) bool {
	return s[i].key < s[j].key
}

func (s keyCountSorter) Assign(p psort.StableSorter) func(i, j, len int) {
	dst, src := s, p.(keyCountSorter)
	return func(i, j, len int) {
		copy(dst[i:i+len], src[j:j+len])
	}
}

// sortKeyCounts sorts entries byte-wise by key using a parallel stable sort.
func sortKeyCounts(entries []keyCount) {
	psort.StableSort(keyCountSorter(entries))
}
