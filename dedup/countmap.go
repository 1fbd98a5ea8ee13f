package dedup

import (
	"sync"
	"sync/atomic"

	"blainsmith.com/go/seahash"
	"github.com/grailbio/base/unsafe"
)

const numCountMapShards = 1024

type countMapShard struct {
	mu     sync.Mutex
	counts map[string]int64
}

// countMap is a sharded, thread-safe map from key to occurrence count.
type countMap struct {
	shards   [numCountMapShards]countMapShard
	distinct int64
}

func newCountMap() *countMap {
	m := &countMap{}
	for i := 0; i < len(m.shards); i++ {
		m.shards[i].counts = make(map[string]int64)
	}
	return m
}

func (m *countMap) add(key string, n int64) {
	h := seahash.Sum64(unsafe.StringToBytes(key))
	shard := &m.shards[int(h%uint64(numCountMapShards))]

	shard.mu.Lock()
	if _, ok := shard.counts[key]; !ok {
		atomic.AddInt64(&m.distinct, 1)
	}
	shard.counts[key] += n
	shard.mu.Unlock()
}

// size returns the approximate number of distinct keys in the map. It is
// exact iff no other thread is mutating the map.
func (m *countMap) size() int64 {
	return atomic.LoadInt64(&m.distinct)
}

// steal removes and returns all entries. Keys added by other threads while
// steal runs land either in the returned batch or in the emptied map; both
// are coalesced again during the final merge, so no count is lost.
func (m *countMap) steal() []keyCount {
	var entries []keyCount
	for i := 0; i < len(m.shards); i++ {
		shard := &m.shards[i]
		shard.mu.Lock()
		for key, n := range shard.counts {
			entries = append(entries, keyCount{key, n})
		}
		shard.counts = make(map[string]int64)
		shard.mu.Unlock()
	}
	atomic.AddInt64(&m.distinct, int64(-len(entries)))
	return entries
}
