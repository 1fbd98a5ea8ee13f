package pool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/repertoire/clonotype"
	"github.com/grailbio/repertoire/dedup"
)

// RunReplicates runs the replicate stage: for every replicate file of every
// subject it writes four key files, raw and unique per key kind, and appends
// the subject's block to the count log.
//
// Failures are logged and counted, not fatal: per replicate file, or per
// subject when its directory cannot be listed or its replicate names collide
// on a key file stem. A failed replicate leaves none of its four outputs
// behind, so the subject-pool reductions that need them fail loudly rather
// than computing counts from a partial replicate set, while sibling
// replicates and subjects complete.
func (p *Pipeline) RunReplicates(ctx context.Context) error {
	if p.opts.InputDir == "" || p.opts.RawDir == "" || p.opts.UniqueDir == "" {
		return fmt.Errorf("replicate stage requires InputDir, RawDir and UniqueDir")
	}
	if len(p.subjects) == 0 {
		log.Printf("replicates: no subjects")
		return nil
	}
	var clog *CountLog
	if p.opts.CountLog != "" {
		var err error
		if clog, err = OpenCountLog(p.opts.CountLog); err != nil {
			return err
		}
	}
	var failedFiles, failedSubjects int64
	workers := minInt(p.opts.Workers, len(p.subjects))
	err := traverse.Each(workers, func(jobIdx int) error {
		startIdx := jobIdx * len(p.subjects) / workers
		endIdx := (jobIdx + 1) * len(p.subjects) / workers
		for _, subject := range p.subjects[startIdx:endIdx] {
			n, subjectFailed, err := p.runSubjectReplicates(ctx, clog, subject)
			atomic.AddInt64(&failedFiles, n)
			if subjectFailed {
				atomic.AddInt64(&failedSubjects, 1)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if clog != nil {
		if closeErr := clog.Close(); err == nil {
			err = closeErr
		}
	}
	if err != nil {
		return err
	}
	nf, ns := atomic.LoadInt64(&failedFiles), atomic.LoadInt64(&failedSubjects)
	if nf > 0 || ns > 0 {
		return fmt.Errorf("replicates: %d file(s) and %d subject(s) failed; their key files are missing", nf, ns)
	}
	return nil
}

// runSubjectReplicates processes one subject's replicates in name order and
// appends the subject's count-log block. failedFiles counts replicate files
// that failed individually; subjectFailed reports a failure that skipped the
// subject wholesale, before any replicate ran. The returned error reports
// count-log writes only, since a broken log invalidates the whole run.
func (p *Pipeline) runSubjectReplicates(ctx context.Context, clog *CountLog, subject string) (failedFiles int64, subjectFailed bool, err error) {
	dir := filepath.Join(p.opts.InputDir, subject)
	replicates, err := Replicates(ctx, dir)
	if err != nil {
		log.Error.Printf("%s: %v", subject, err)
		return 0, true, nil
	}
	if err := checkStems(dir, replicates); err != nil {
		log.Error.Printf("%s: %v", subject, err)
		return 0, true, nil
	}
	if len(replicates) == 0 {
		log.Printf("%s: no replicate files under %s", subject, dir)
	}
	for _, out := range []string{p.opts.RawDir, p.opts.UniqueDir} {
		if err := os.MkdirAll(filepath.Join(out, subject), 0755); err != nil {
			log.Error.Printf("%s: %v", subject, err)
			return 0, true, nil
		}
	}
	var counts []Count
	for _, name := range replicates {
		replicateCounts, err := p.runReplicate(ctx, subject, name)
		if err != nil {
			log.Error.Printf("%s/%s: %v", subject, name, err)
			failedFiles++
			continue
		}
		counts = append(counts, replicateCounts...)
	}
	if clog != nil {
		if err := clog.Append(subject, counts); err != nil {
			return failedFiles, false, err
		}
	}
	return failedFiles, false, nil
}

// runReplicate extracts one replicate file into its four key files in a
// single streaming pass and returns the replicate's count-log entries. On
// error it removes whatever outputs exist, so a failed replicate is
// indistinguishable from one never processed.
func (p *Pipeline) runReplicate(ctx context.Context, subject, name string) ([]Count, error) {
	var (
		raw     [2]*clonotype.RawWriter
		uniq    [2]*dedup.Reducer
		results [2]dedup.Result
		err     error
	)
	for _, kind := range clonotype.Kinds {
		var w *clonotype.RawWriter
		if w, err = clonotype.NewRawWriter(ctx, p.rawPath(subject, name, kind)); err != nil {
			break
		}
		raw[kind] = w
		uniq[kind] = dedup.NewReducer(p.uniquePath(subject, name, kind), p.reduceOpts(false))
	}
	var n int64
	if err == nil {
		n, err = clonotype.Extract(ctx, filepath.Join(p.opts.InputDir, subject, name), p.opts.Layout,
			func(clono, seq clonotype.Key) {
				raw[clonotype.Clonotype].Write(clono)
				uniq[clonotype.Clonotype].Add(clono.String())
				raw[clonotype.Sequence].Write(seq)
				uniq[clonotype.Sequence].Add(seq.String())
			})
	}
	for _, kind := range clonotype.Kinds {
		if raw[kind] == nil {
			continue
		}
		if err != nil {
			uniq[kind].Abort(err)
		}
		if closeErr := raw[kind].Close(); closeErr != nil && err == nil {
			err = closeErr
			uniq[kind].Abort(closeErr)
		}
		var closeErr error
		if results[kind], closeErr = uniq[kind].Close(ctx); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	if err != nil {
		for _, kind := range clonotype.Kinds {
			removeQuiet(ctx, p.rawPath(subject, name, kind))
			removeQuiet(ctx, p.uniquePath(subject, name, kind))
		}
		return nil, err
	}
	counts := make([]Count, 0, len(clonotype.Kinds))
	for _, kind := range clonotype.Kinds {
		counts = append(counts, Count{Kind: kind, Raw: n, Unique: results[kind].Unique})
	}
	return counts, nil
}

// removeQuiet removes path best-effort. The only caller cleans up outputs
// that may not all exist, so failures are debug noise.
func removeQuiet(ctx context.Context, path string) {
	if err := file.Remove(ctx, path); err != nil {
		log.Debug.Printf("remove %s: %v", path, err)
	}
}
