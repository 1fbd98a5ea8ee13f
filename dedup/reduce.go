// Package dedup reduces key files to their distinct keys.
//
// A reduction reads keys, one per line, and writes each distinct key exactly
// once, in byte-wise sorted order. In counted mode every output line carries
// the number of times its key was read, in the format uniq -c uses. Keys are
// accumulated in a sharded in-memory count map up to a configurable number of
// distinct keys; reductions that grow past that spill sorted runs to
// temporary shard files and stream an N-way merge into the output.
package dedup

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/traverse"
	"v.io/x/lib/vlog"
)

// DefaultSpillKeys is the default number of distinct keys to keep in memory
// before resorting to external merging.
const DefaultSpillKeys = 1 << 21

// DefaultParallelism is the default value for Opts.Parallelism.
const DefaultParallelism = 2

// Opts controls options passed to NewReducer and Reduce.
type Opts struct {
	// WithCounts makes every output line carry the number of times its key
	// was added, formatted "%7d <key>". If false, output lines are bare keys.
	WithCounts bool

	// SpillKeys is the number of distinct keys to hold in memory before
	// spilling sorted runs to temporary shard files. Not for general use; the
	// default value should suffice for most applications.
	SpillKeys int

	// Parallelism limits the number of background spill sorts, and the number
	// of inputs Reduce reads concurrently. Max memory consumption of the
	// reducer grows linearly with this value. If <= 0, DefaultParallelism is
	// used.
	Parallelism int

	// NoCompressTmpFiles, if false (default), compresses spill shards using
	// snappy.
	NoCompressTmpFiles bool

	// TmpDir defines the directory to store spill shards created during
	// merge. "" means the system default, usually /tmp.
	TmpDir string
}

// Result reports what a reduction read and wrote.
type Result struct {
	// Lines is the total number of keys added, duplicates included. In
	// counted mode the output counts sum to Lines.
	Lines int64
	// Unique is the number of distinct keys written.
	Unique int64
}

// Reducer accumulates keys and writes their reduced form to an output file on
// Close. Add is threadsafe; Close must be called exactly once, after all
// adds. After Close, the Reducer becomes invalid.
//
// Example:
//   r := dedup.NewReducer("uniq.txt", dedup.Opts{WithCounts: true})
//   for _, key := range keys {
//     r.Add(key)
//   }
//   result, err := r.Close(ctx)
type Reducer struct {
	opts    Opts
	outPath string
	counts  *countMap
	lines   int64 // total keys added; read/written atomically
	stealMu sync.Mutex
	err     errors.Once

	bgSortCh chan []keyCount
	wg       sync.WaitGroup
	mu       sync.Mutex
	shards   []string // pathnames of spill shard files.
}

// NewReducer creates a Reducer that writes to outPath.
func NewReducer(outPath string, optList ...Opts) *Reducer {
	opts := Opts{}
	if len(optList) > 0 {
		if len(optList) > 1 {
			vlog.Fatalf("more than one option set specified: %v", optList)
		}
		opts = optList[0]
	}
	if opts.SpillKeys <= 0 {
		opts.SpillKeys = DefaultSpillKeys
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = DefaultParallelism
	}
	vlog.VI(1).Infof("new reducer: %v, %+v", outPath, opts)
	r := &Reducer{
		opts:     opts,
		outPath:  outPath,
		counts:   newCountMap(),
		bgSortCh: make(chan []keyCount, opts.Parallelism),
	}
	for i := 0; i < opts.Parallelism; i++ {
		r.wg.Add(1)
		go func() {
			for batch := range r.bgSortCh {
				if path := r.sortSpill(batch); path != "" {
					r.mu.Lock()
					r.shards = append(r.shards, path)
					r.mu.Unlock()
				}
			}
			r.wg.Done()
		}()
	}
	return r
}

// Add adds one occurrence of key.
func (r *Reducer) Add(key string) {
	atomic.AddInt64(&r.lines, 1)
	r.counts.add(key, 1)
	if r.counts.size() < int64(r.opts.SpillKeys) {
		return
	}
	// One thread steals the map at a time; the others keep adding. Adds that
	// race with the steal are coalesced again during the final merge.
	r.stealMu.Lock()
	if r.counts.size() >= int64(r.opts.SpillKeys) {
		if batch := r.counts.steal(); len(batch) > 0 {
			r.bgSortCh <- batch
		}
	}
	r.stealMu.Unlock()
}

// Abort marks the reduction as failed. Close then cleans up without writing
// output and reports err. Abort lets a caller that feeds Add from a stream
// discard the reduction when the stream itself fails partway.
func (r *Reducer) Abort(err error) {
	r.err.Set(err)
}

// addFile adds every line of the key file at path.
func (r *Reducer) addFile(ctx context.Context, path string) error {
	in, err := file.Open(ctx, path)
	if err != nil {
		return errors.E(err, "reduce input:", path)
	}
	sc := bufio.NewScanner(in.Reader(ctx))
	for sc.Scan() {
		r.Add(sc.Text())
	}
	err = sc.Err()
	if closeErr := in.Close(ctx); err == nil {
		err = closeErr
	}
	if err != nil {
		return errors.E(err, "reduce input:", path)
	}
	return nil
}

// sortSpill sorts one stolen batch and writes it to a new spill shard,
// returning the shard path.
func (r *Reducer) sortSpill(entries []keyCount) string {
	vlog.VI(1).Infof("reduce %v: spilling %d keys", r.outPath, len(entries))
	sortKeyCounts(entries)
	w := newSpillWriter(r.opts.TmpDir, !r.opts.NoCompressTmpFiles, &r.err)
	if w == nil {
		return ""
	}
	for _, e := range entries {
		w.add(e)
	}
	return w.finish()
}

// Close flushes pending state and writes the output file. It blocks the
// caller until the reduction completes. A failed reduction leaves no output
// file behind, not even one from an earlier run, so the output's presence
// always means the reduction succeeded. Spill shards are removed either way.
func (r *Reducer) Close(ctx context.Context) (Result, error) {
	close(r.bgSortCh)
	r.wg.Wait()
	defer r.removeShards()
	entries := r.counts.steal()
	if r.err.Err() != nil {
		return Result{}, r.removeFailedOutput(ctx)
	}
	result := Result{Lines: atomic.LoadInt64(&r.lines)}
	if len(r.shards) == 0 {
		// Everything fit in memory: map entries are already distinct.
		sortKeyCounts(entries)
		r.writeSorted(ctx, entries)
		result.Unique = int64(len(entries))
	} else {
		if len(entries) > 0 {
			if path := r.sortSpill(entries); path != "" {
				r.shards = append(r.shards, path)
			}
		}
		result.Unique = r.mergeOutput(ctx)
	}
	if r.err.Err() != nil {
		return Result{}, r.removeFailedOutput(ctx)
	}
	return result, nil
}

// removeFailedOutput removes whatever exists at the output path, partial or
// stale, and returns the reduction's error.
func (r *Reducer) removeFailedOutput(ctx context.Context) error {
	if rmErr := file.Remove(ctx, r.outPath); rmErr != nil {
		vlog.VI(1).Infof("reduce %v: remove failed output: %v", r.outPath, rmErr)
	}
	return r.err.Err()
}

func (r *Reducer) removeShards() {
	for _, path := range r.shards {
		if err := os.Remove(path); err != nil {
			vlog.Errorf("reduce %v: failed to remove spill shard: %v (%v)", r.outPath, err, r.err.Err())
		}
	}
	r.shards = nil
}

// writeSorted writes already-sorted distinct entries to the output file.
func (r *Reducer) writeSorted(ctx context.Context, entries []keyCount) {
	out, err := file.Create(ctx, r.outPath)
	if err != nil {
		r.err.Set(errors.E(err, "create reduced output:", r.outPath))
		return
	}
	w := bufio.NewWriter(out.Writer(ctx))
	for _, e := range entries {
		r.writeEntry(w, e)
	}
	r.err.Set(w.Flush())
	r.err.Set(out.Close(ctx))
}

// mergeOutput N-way merges the spill shards into the output file, coalescing
// equal keys and summing their counts. It returns the number of distinct keys
// written.
func (r *Reducer) mergeOutput(ctx context.Context) int64 {
	out, err := file.Create(ctx, r.outPath)
	if err != nil {
		r.err.Set(errors.E(err, "create reduced output:", r.outPath))
		return 0
	}
	w := bufio.NewWriter(out.Writer(ctx))
	readers := make([]*spillReader, len(r.shards))
	for i, path := range r.shards {
		readers[i] = newSpillReader(path, !r.opts.NoCompressTmpFiles, &r.err)
	}
	var (
		unique int64
		cur    keyCount
		have   bool
	)
	mergeSpills(readers, func(e keyCount) bool {
		if have && e.key == cur.key {
			cur.count += e.count
			return true
		}
		if have {
			r.writeEntry(w, cur)
			unique++
		}
		cur, have = e, true
		return r.err.Err() == nil
	})
	if have {
		r.writeEntry(w, cur)
		unique++
	}
	for _, reader := range readers {
		reader.close()
	}
	r.err.Set(w.Flush())
	r.err.Set(out.Close(ctx))
	return unique
}

func (r *Reducer) writeEntry(w *bufio.Writer, e keyCount) {
	if r.opts.WithCounts {
		if _, err := fmt.Fprintf(w, "%7d %s\n", e.count, e.key); err != nil {
			r.err.Set(err)
		}
		return
	}
	if _, err := w.WriteString(e.key); err != nil {
		r.err.Set(err)
		return
	}
	r.err.Set(w.WriteByte('\n'))
}

// Reduce reads the key files in inputs, one key per line, and writes their
// reduced union to output. Inputs are read in parallel, up to
// opts.Parallelism files at a time. On error no output is written; in
// particular a missing input never degrades to an empty reduction. An empty
// input set produces a valid empty output file.
func Reduce(ctx context.Context, inputs []string, output string, optList ...Opts) (Result, error) {
	r := NewReducer(output, optList...)
	n := len(inputs)
	if jobs := minInt(r.opts.Parallelism, n); jobs > 0 {
		err := traverse.Each(jobs, func(jobIdx int) error {
			for _, path := range inputs[jobIdx*n/jobs : (jobIdx+1)*n/jobs] {
				if err := r.addFile(ctx, path); err != nil {
					return err
				}
			}
			return nil
		})
		r.err.Set(err)
	}
	return r.Close(ctx)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
