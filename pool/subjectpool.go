package pool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/repertoire/clonotype"
	"github.com/grailbio/repertoire/dedup"
)

// RunSubjectPools runs the subject-pool stage: per subject and key kind it
// reduces the subject's unique key files twice, once plain and once counted,
// so a counted line records how many replicates observed the key.
//
// A subject whose replicate stage failed is missing unique key files, which
// fails that subject's reductions here. Failures are logged per subject and
// folded into the returned error; other subjects complete.
func (p *Pipeline) RunSubjectPools(ctx context.Context) error {
	if p.opts.InputDir == "" || p.opts.UniqueDir == "" || p.opts.PoolDir == "" {
		return fmt.Errorf("subject-pool stage requires InputDir, UniqueDir and PoolDir")
	}
	if len(p.subjects) == 0 {
		log.Printf("subject pools: no subjects")
		return nil
	}
	if err := os.MkdirAll(p.opts.PoolDir, 0755); err != nil {
		return err
	}
	var failed int64
	workers := minInt(p.opts.Workers, len(p.subjects))
	err := traverse.Each(workers, func(jobIdx int) error {
		startIdx := jobIdx * len(p.subjects) / workers
		endIdx := (jobIdx + 1) * len(p.subjects) / workers
		for _, subject := range p.subjects[startIdx:endIdx] {
			if !p.runSubjectPool(ctx, subject) {
				atomic.AddInt64(&failed, 1)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if n := atomic.LoadInt64(&failed); n > 0 {
		return fmt.Errorf("subject pools: %d of %d subjects failed", n, len(p.subjects))
	}
	return nil
}

// runSubjectPool writes one subject's four pool files. It attempts every
// reduction even after one fails; the reductions are independent and a
// missing pool is more useful than four missing pools.
func (p *Pipeline) runSubjectPool(ctx context.Context, subject string) bool {
	dir := filepath.Join(p.opts.InputDir, subject)
	replicates, err := Replicates(ctx, dir)
	if err != nil {
		log.Error.Printf("%s: %v", subject, err)
		return false
	}
	// Colliding stems would feed the same unique file into the reductions
	// twice, inflating the survivor's count.
	if err := checkStems(dir, replicates); err != nil {
		log.Error.Printf("%s: %v", subject, err)
		return false
	}
	if len(replicates) == 0 {
		log.Printf("%s: no replicates, pools will be empty", subject)
	}
	ok := true
	for _, kind := range clonotype.Kinds {
		inputs := make([]string, len(replicates))
		for i, name := range replicates {
			inputs[i] = p.uniquePath(subject, name, kind)
		}
		for _, counted := range []bool{false, true} {
			res, err := dedup.Reduce(ctx, inputs, p.poolPath(subject, kind, counted), p.reduceOpts(counted))
			if err != nil {
				log.Error.Printf("%s: %s pool: %v", subject, kind, err)
				ok = false
				continue
			}
			log.Debug.Printf("%s: %s pool: %d keys over %d replicates (counted=%v)",
				subject, kind, res.Unique, len(replicates), counted)
		}
	}
	return ok
}
