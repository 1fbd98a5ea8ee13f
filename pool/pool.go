// Package pool orchestrates the repertoire dedup pipeline: per-replicate key
// extraction and reduction, per-subject pooling, and cross-subject pooling
// over every combination of two or more subjects.
//
// The pipeline runs in three stages. The replicate stage reads each subject's
// annotated rearrangement files and writes, per replicate and per key kind, a
// raw key file and a unique key file, recording raw and unique counts in the
// count log. The subject-pool stage reduces each subject's unique key files
// into one plain and one counted pool per kind, where a key's count is the
// number of replicates it appeared in. The cross-pool stage reduces the plain
// subject pools of every subject combination into counted cross pools, where
// a key's count is the number of member subjects observing it.
//
// Failures are scoped to the file, subject, or combination that hit them.
// A failed step leaves no output, so downstream reductions that depend on it
// fail loudly instead of computing wrong counts, while unrelated work
// completes. Stages report partial failure through their returned error;
// nothing is retried.
package pool

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/grailbio/repertoire/clonotype"
	"github.com/grailbio/repertoire/dedup"
	"github.com/grailbio/repertoire/encoding/rearrangement"
)

// Opts configures a Pipeline. The directory fields are required by the
// stages that read or write them; CountLog and TmpDir are optional.
type Opts struct {
	// InputDir holds one subdirectory per subject, named by subject
	// identifier, containing that subject's replicate files.
	InputDir string
	// RawDir and UniqueDir receive per-replicate key files, one subdirectory
	// per subject.
	RawDir    string
	UniqueDir string
	// PoolDir receives per-subject pool files.
	PoolDir string
	// CrossDir receives cross-subject pool files.
	CrossDir string
	// CountLog is the path of the per-replicate count log. Empty disables
	// count logging.
	CountLog string

	// Layout describes the replicate file format. The zero value means
	// rearrangement.DefaultLayout.
	Layout rearrangement.Layout

	// Workers bounds the number of subjects (replicate and subject-pool
	// stages) or combination tasks (cross-pool stage) processed in parallel.
	// <=0 means runtime.NumCPU().
	Workers int
	// MaxGroupSize caps the size of subject combinations in the cross-pool
	// stage. <=0 means no cap, i.e. up to all subjects.
	MaxGroupSize int
	// SkipExisting makes the cross-pool stage skip combinations whose output
	// file already exists, resuming an interrupted run.
	SkipExisting bool

	// SpillKeys, TmpDir and NoCompressTmpFiles are passed through to the
	// reductions; see dedup.Opts.
	SpillKeys          int
	TmpDir             string
	NoCompressTmpFiles bool
}

// DefaultOpts names the output locations a run produces when the caller does
// not care where they go. InputDir has no default; it is always the
// caller's data.
var DefaultOpts = Opts{
	RawDir:    "raw_keys",
	UniqueDir: "unique_keys",
	PoolDir:   "pools",
	CrossDir:  "cross_pools",
	CountLog:  "dedup_counts.log",
	SpillKeys: dedup.DefaultSpillKeys,
}

// A Pipeline runs the dedup stages for a fixed set of subjects.
type Pipeline struct {
	opts     Opts
	subjects []string
}

// New creates a Pipeline over the given subjects. Subject order is kept for
// the replicate and subject-pool stages; the cross-pool stage sorts its own
// copy, since combination identifiers join sorted subject names.
func New(subjects []string, opts Opts) (*Pipeline, error) {
	if opts.Layout == (rearrangement.Layout{}) {
		opts.Layout = rearrangement.DefaultLayout
	}
	if err := opts.Layout.Validate(); err != nil {
		return nil, err
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	return &Pipeline{opts: opts, subjects: append([]string(nil), subjects...)}, nil
}

// StageNames lists the pipeline stages in run order.
var StageNames = []string{"replicates", "subject-pools", "cross-pools"}

func (p *Pipeline) stageRunner(name string) func(context.Context) error {
	switch name {
	case "replicates":
		return p.RunReplicates
	case "subject-pools":
		return p.RunSubjectPools
	case "cross-pools":
		return p.RunCrossPools
	}
	return nil
}

// RunStages runs the named stages in pipeline order, whatever order they are
// given in. A stage's partial failure does not stop later stages; steps
// whose inputs went missing upstream fail on their own and are folded into
// the returned error.
func (p *Pipeline) RunStages(ctx context.Context, names []string) error {
	selected := map[string]bool{}
	for _, name := range names {
		if p.stageRunner(name) == nil {
			return fmt.Errorf("unknown stage %q (stages are %s)", name, strings.Join(StageNames, ", "))
		}
		selected[name] = true
	}
	var failures []string
	for _, name := range StageNames {
		if !selected[name] {
			continue
		}
		log.Printf("stage %s: starting", name)
		if err := p.stageRunner(name)(ctx); err != nil {
			log.Error.Printf("stage %s: %v", name, err)
			failures = append(failures, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		log.Printf("stage %s: done", name)
	}
	if len(failures) > 0 {
		return fmt.Errorf("pipeline finished with failures: %s", strings.Join(failures, "; "))
	}
	return nil
}

// Run runs all three stages in order.
func (p *Pipeline) Run(ctx context.Context) error {
	return p.RunStages(ctx, StageNames)
}

func (p *Pipeline) reduceOpts(withCounts bool) dedup.Opts {
	return dedup.Opts{
		WithCounts:         withCounts,
		SpillKeys:          p.opts.SpillKeys,
		TmpDir:             p.opts.TmpDir,
		NoCompressTmpFiles: p.opts.NoCompressTmpFiles,
	}
}

// replicateStem strips the extension, and a trailing .gz, from a replicate
// file name. Key files derive their names from the stem.
func replicateStem(name string) string {
	name = strings.TrimSuffix(name, ".gz")
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// checkStems rejects replicate listings in which distinct files collapse to
// the same key file stem, as r1.csv and r1.csv.gz do. Colliding replicates
// would write the same four key files, each silently replacing the other's
// keys.
func checkStems(dir string, replicates []string) error {
	stems := make(map[string]string, len(replicates))
	for _, name := range replicates {
		stem := replicateStem(name)
		if prev, ok := stems[stem]; ok {
			return fmt.Errorf("%s: replicates %s and %s share key file stem %q", dir, prev, name, stem)
		}
		stems[stem] = name
	}
	return nil
}

func (p *Pipeline) rawPath(subject, replicate string, kind clonotype.Kind) string {
	return filepath.Join(p.opts.RawDir, subject, replicateStem(replicate)+"_"+kind.String()+".txt")
}

func (p *Pipeline) uniquePath(subject, replicate string, kind clonotype.Kind) string {
	return filepath.Join(p.opts.UniqueDir, subject, replicateStem(replicate)+"_"+kind.String()+".txt")
}

// poolFileName is the name of a subject or cross-subject pool file. id is a
// subject identifier or a sorted hyphen-joined combination of them.
func poolFileName(id string, kind clonotype.Kind, counted bool) string {
	name := id + "_dedup_pool_" + kind.String()
	if counted {
		name += "_with-counts"
	}
	return name + ".txt"
}

func (p *Pipeline) poolPath(subject string, kind clonotype.Kind, counted bool) string {
	return filepath.Join(p.opts.PoolDir, poolFileName(subject, kind, counted))
}

func (p *Pipeline) crossPath(members []string, kind clonotype.Kind) string {
	return filepath.Join(p.opts.CrossDir, poolFileName(strings.Join(members, "-"), kind, true))
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
