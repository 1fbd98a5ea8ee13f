package main

// bio-repseq-uniq reduces newline-delimited key files to their distinct
// keys, replacing the sort | uniq [-c] pipelines the repertoire workflow
// used to shell out to.
//
// Usage: bio-repseq-uniq [-counts] -out unique.txt input...

import (
	"flag"
	"fmt"
	"os"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/repertoire/dedup"
)

var (
	outFlag         = flag.String("out", "", "Output file (required unless -verify)")
	countsFlag      = flag.Bool("counts", false, "Prefix each key with its number of occurrences, in the format of uniq -c")
	verifyFlag      = flag.Bool("verify", false, "Verify files instead of reducing")
	parallelismFlag = flag.Int("parallelism", dedup.DefaultParallelism, "Number of input files read in parallel")
	spillKeysFlag   = flag.Int("spill-keys", dedup.DefaultSpillKeys, "Distinct keys held in memory before spilling to temporary files")
	tempDirFlag     = flag.String("temp-dir", "", "Directory for spill files (default os.TempDir())")
	noCompressFlag  = flag.Bool("no-compress-temp-files", false, "Disable snappy compression of spill files")
)

func main() {
	flag.Usage = func() {
		os.Stderr.WriteString(`Usage:
This command reads newline-delimited key files and writes their distinct
keys in byte-wise sorted order, like sort -u. It is invoked one of the
following ways.

1. bio-repseq-uniq -out unique.txt input...

   Reduce the input files to their distinct keys. With no inputs, write an
   empty file.

2. bio-repseq-uniq -counts -out pool.txt input...

   As above, but prefix each key with the number of times it was read
   across all inputs, in the format of uniq -c.

3. bio-repseq-uniq -verify [-counts] file...

   Check that each file is sorted with distinct keys and, with -counts,
   that every count is positive. Prints each file's key count, total count
   and content digest; exits non-zero if any file fails.
`)
		flag.PrintDefaults()
	}
	shutdown := grail.Init()
	defer shutdown()

	args := flag.Args()
	ctx := vcontext.Background()
	if *verifyFlag {
		if *outFlag != "" || len(args) == 0 {
			flag.Usage()
			os.Exit(1)
		}
		failed := 0
		for _, path := range args {
			res, err := dedup.Verify(ctx, path, *countsFlag)
			if err != nil {
				log.Error.Printf("%v", err)
				failed++
				continue
			}
			fmt.Printf("%s: %d keys, %d total, digest %x\n", path, res.Unique, res.Total, res.Digest)
		}
		if failed > 0 {
			os.Exit(1)
		}
		return
	}
	if *outFlag == "" {
		flag.Usage()
		os.Exit(1)
	}
	res, err := dedup.Reduce(ctx, args, *outFlag, dedup.Opts{
		WithCounts:         *countsFlag,
		SpillKeys:          *spillKeysFlag,
		Parallelism:        *parallelismFlag,
		TmpDir:             *tempDirFlag,
		NoCompressTmpFiles: *noCompressFlag,
	})
	if err != nil {
		log.Panicf("%v", err)
	}
	log.Printf("%s: %d keys from %d input lines", *outFlag, res.Unique, res.Lines)
}
