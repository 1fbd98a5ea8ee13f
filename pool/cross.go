package pool

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/repertoire/clonotype"
	"github.com/grailbio/repertoire/dedup"
	"gonum.org/v1/gonum/stat/combin"
)

const crossProgressInterval = 1000

// RunCrossPools runs the cross-pool stage: for every combination of two or
// more subjects, per key kind, it reduces the members' plain subject pools
// into a counted cross pool, so a counted line records how many member
// subjects observed the key.
//
// Combinations are processed in size-major order: all pairs, then all
// triples, and so on, with a barrier between sizes. Sizes are independent,
// but the barrier bounds concurrent I/O and makes progress reporting
// monotonic. Within a size group a fixed worker pool generates combinations
// lazily by index, so the 2^N fan-out never materializes in memory. A
// combination's failure, commonly a pool file missing because the subject
// failed upstream, is logged and counted without disturbing sibling tasks or
// later groups; nothing is retried.
func (p *Pipeline) RunCrossPools(ctx context.Context) error {
	if p.opts.PoolDir == "" || p.opts.CrossDir == "" {
		return fmt.Errorf("cross-pool stage requires PoolDir and CrossDir")
	}
	n := len(p.subjects)
	if n < 2 {
		log.Printf("cross pools: %d subject(s), nothing to combine", n)
		return nil
	}
	if err := os.MkdirAll(p.opts.CrossDir, 0755); err != nil {
		return err
	}
	subjects := append([]string(nil), p.subjects...)
	sort.Strings(subjects)
	maxGroup := n
	if p.opts.MaxGroupSize > 0 && p.opts.MaxGroupSize < n {
		maxGroup = p.opts.MaxGroupSize
	}
	var total, done, failed int64
	for g := 2; g <= maxGroup; g++ {
		total += int64(combin.Binomial(n, g) * len(clonotype.Kinds))
	}
	for g := 2; g <= maxGroup; g++ {
		groupTasks := combin.Binomial(n, g) * len(clonotype.Kinds)
		log.Printf("cross pools: %d combinations of size %d", combin.Binomial(n, g), g)
		workers := minInt(p.opts.Workers, groupTasks)
		err := traverse.Each(workers, func(jobIdx int) error {
			comb := make([]int, g)
			startIdx := jobIdx * groupTasks / workers
			endIdx := (jobIdx + 1) * groupTasks / workers
			for taskIdx := startIdx; taskIdx < endIdx; taskIdx++ {
				combin.IndexToCombination(comb, taskIdx/len(clonotype.Kinds), n, g)
				kind := clonotype.Kinds[taskIdx%len(clonotype.Kinds)]
				if err := p.crossPool(ctx, subjects, comb, kind); err != nil {
					log.Error.Printf("cross pool %s (%s): %v", combinationID(subjects, comb), kind, err)
					atomic.AddInt64(&failed, 1)
				}
				if d := atomic.AddInt64(&done, 1); d%crossProgressInterval == 0 {
					log.Printf("cross pools: %d/%d tasks done", d, total)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	log.Printf("cross pools: %d tasks done", done)
	if n := atomic.LoadInt64(&failed); n > 0 {
		return fmt.Errorf("cross pools: %d of %d tasks failed", n, total)
	}
	return nil
}

// crossPool writes the counted cross pool for one (combination, kind) task.
// Member pools are the plain subject pools; a missing member pool fails the
// task rather than producing a pool with wrong counts.
func (p *Pipeline) crossPool(ctx context.Context, subjects []string, comb []int, kind clonotype.Kind) error {
	members := make([]string, len(comb))
	for i, idx := range comb {
		members[i] = subjects[idx]
	}
	out := p.crossPath(members, kind)
	if p.opts.SkipExisting {
		if _, err := file.Stat(ctx, out); err == nil {
			log.Debug.Printf("%s: exists, skipping", out)
			return nil
		}
	}
	inputs := make([]string, len(members))
	for i, subject := range members {
		inputs[i] = p.poolPath(subject, kind, false)
	}
	_, err := dedup.Reduce(ctx, inputs, out, p.reduceOpts(true))
	return err
}

// combinationID formats a combination for log messages.
func combinationID(subjects []string, comb []int) string {
	members := make([]string, len(comb))
	for i, idx := range comb {
		members[i] = subjects[idx]
	}
	return strings.Join(members, "-")
}
