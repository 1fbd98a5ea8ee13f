package main

/*
bio-repseq-dedup deduplicates and pools annotated immune repertoire
rearrangement files. Per replicate it extracts clonotype and sequence keys
from productive records and writes raw and unique key files; per subject it
pools the replicates' unique keys, counting the replicates each key appeared
in; and per subject combination it pools the subjects' keys, counting the
member subjects observing each key.
*/

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/repertoire/encoding/rearrangement"
	"github.com/grailbio/repertoire/pool"
)

var (
	subjectsPath = flag.String("subjects", "", "Subject manifest, one subject identifier per line (required)")
	inputDir     = flag.String("input-dir", "", "Directory holding one subdirectory of replicate files per subject (required)")
	rawDir       = flag.String("raw-dir", pool.DefaultOpts.RawDir, "Output directory for per-replicate raw key files")
	uniqueDir    = flag.String("unique-dir", pool.DefaultOpts.UniqueDir, "Output directory for per-replicate unique key files")
	poolDir      = flag.String("pool-dir", pool.DefaultOpts.PoolDir, "Output directory for per-subject pool files")
	crossDir     = flag.String("cross-dir", pool.DefaultOpts.CrossDir, "Output directory for cross-subject pool files")
	countLog     = flag.String("log", pool.DefaultOpts.CountLog, "Per-replicate count log path; empty disables count logging")

	delimiter     = flag.String("delimiter", ",", "Input field delimiter, a single character")
	productiveCol = flag.Int("productive-col", rearrangement.DefaultLayout.Productive, "0-based index of the productivity field")
	vCol          = flag.Int("v-col", rearrangement.DefaultLayout.VGene, "0-based index of the V gene field")
	jCol          = flag.Int("j-col", rearrangement.DefaultLayout.JGene, "0-based index of the J gene field")
	cdr3aaCol     = flag.Int("cdr3aa-col", rearrangement.DefaultLayout.CDR3AA, "0-based index of the CDR3 amino-acid field")
	vdjntCol      = flag.Int("vdjnt-col", rearrangement.DefaultLayout.VDJNT, "0-based index of the VDJ nucleotide field")

	workers      = flag.Int("workers", 0, "Maximum number of subjects or combination tasks processed in parallel; 0 = runtime.NumCPU()")
	maxGroupSize = flag.Int("max-group-size", 0, "Largest subject combination size to cross-pool; 0 = all subjects")
	skipExisting = flag.Bool("skip-existing", false, "Skip cross pools whose output file already exists")
	stages       = flag.String("stages", strings.Join(pool.StageNames, ","), "Comma-separated list of stages to run")

	spillKeys      = flag.Int("spill-keys", pool.DefaultOpts.SpillKeys, "Distinct keys a reduction holds in memory before spilling to temporary files")
	tempDir        = flag.String("temp-dir", "", "Directory for reduction spill files (default os.TempDir())")
	noCompressTemp = flag.Bool("no-compress-temp-files", false, "Disable snappy compression of reduction spill files")
)

func repseqDedupUsage() {
	fmt.Printf("Usage: %s -subjects subjects.txt -input-dir dir [OPTIONS]\n", os.Args[0])
	fmt.Printf("Options:\n")
	flag.PrintDefaults()
}

func selectedStages() []string {
	var names []string
	for _, name := range strings.Split(*stages, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		known := false
		for _, s := range pool.StageNames {
			if name == s {
				known = true
				break
			}
		}
		if !known {
			log.Fatalf("-stages: unknown stage %q (stages are %s)", name, strings.Join(pool.StageNames, ", "))
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		log.Fatalf("-stages: no stages selected")
	}
	return names
}

// runPipeline loads the subject manifest and runs the selected stages over
// those subjects.
func runPipeline(ctx context.Context, manifest string, stages []string, opts pool.Opts) error {
	subjects, err := pool.Subjects(ctx, manifest)
	if err != nil {
		return err
	}
	if len(subjects) == 0 {
		return fmt.Errorf("%s: no subjects", manifest)
	}
	log.Printf("%d subjects", len(subjects))
	p, err := pool.New(subjects, opts)
	if err != nil {
		return err
	}
	return p.RunStages(ctx, stages)
}

func main() {
	flag.Usage = repseqDedupUsage
	shutdown := grail.Init()
	defer shutdown()

	if *subjectsPath == "" || *inputDir == "" {
		flag.Usage()
		os.Exit(1)
	}
	if flag.NArg() != 0 {
		log.Fatalf("Unexpected positional arguments; please check flag syntax: '%s'", strings.Join(flag.Args(), " "))
	}
	delim, size := utf8.DecodeRuneInString(*delimiter)
	if delim == utf8.RuneError || size != len(*delimiter) {
		log.Fatalf("-delimiter must be a single character, got %q", *delimiter)
	}
	names := selectedStages()

	ctx := vcontext.Background()
	err := runPipeline(ctx, *subjectsPath, names, pool.Opts{
		InputDir:  *inputDir,
		RawDir:    *rawDir,
		UniqueDir: *uniqueDir,
		PoolDir:   *poolDir,
		CrossDir:  *crossDir,
		CountLog:  *countLog,
		Layout: rearrangement.Layout{
			Comma:      delim,
			Productive: *productiveCol,
			VGene:      *vCol,
			JGene:      *jCol,
			CDR3AA:     *cdr3aaCol,
			VDJNT:      *vdjntCol,
		},
		Workers:            *workers,
		MaxGroupSize:       *maxGroupSize,
		SkipExisting:       *skipExisting,
		SpillKeys:          *spillKeys,
		TmpDir:             *tempDir,
		NoCompressTmpFiles: *noCompressTemp,
	})
	if err != nil {
		log.Panicf("%v", err)
	}
	log.Debug.Printf("exiting")
}
