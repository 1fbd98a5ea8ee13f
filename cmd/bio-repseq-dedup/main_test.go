package main

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/repertoire/pool"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/klauspost/compress/gzip"
)

func record(productive, v, j, cdr3, vdj string) string {
	return strings.Join([]string{"rec", "sample", productive, v, j, cdr3, vdj}, ",")
}

func writeFile(t *testing.T, path string, lines ...string) {
	assert.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	assert.NoError(t, ioutil.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644))
}

func writeGzFile(t *testing.T, path string, lines ...string) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(strings.Join(lines, "\n") + "\n"))
	assert.NoError(t, err)
	assert.NoError(t, gz.Close())
	assert.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	assert.NoError(t, ioutil.WriteFile(path, buf.Bytes(), 0644))
}

func readFile(t *testing.T, path string) string {
	data, err := ioutil.ReadFile(path)
	assert.NoError(t, err)
	return string(data)
}

// TestEndToEnd runs all three stages over a two-subject cohort, one replicate
// gzipped, and checks the pools and the count log.
func TestEndToEnd(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := vcontext.Background()

	manifest := filepath.Join(tmpDir, "subjects.txt")
	writeFile(t, manifest, "# tiny cohort", "alpha", "beta")

	inputDir := filepath.Join(tmpDir, "input")
	writeFile(t, filepath.Join(inputDir, "alpha", "r1.csv"),
		record("yes", "V1", "J1", "AAA", "ATG"),
		record("no", "V9", "J9", "ZZZ", "GGG"),
		record("yes", "V2", "J2", "BBB", "CCG"),
	)
	writeFile(t, filepath.Join(inputDir, "alpha", "r2.csv"),
		record("yes", "V1", "J1", "AAA", "ATG"),
	)
	writeGzFile(t, filepath.Join(inputDir, "beta", "r1.csv.gz"),
		record("yes", "V2", "J2", "BBB", "CCG"),
		record("yes", "V3", "J3", "CCC", "TTA"),
	)

	opts := pool.DefaultOpts
	opts.InputDir = inputDir
	opts.RawDir = filepath.Join(tmpDir, opts.RawDir)
	opts.UniqueDir = filepath.Join(tmpDir, opts.UniqueDir)
	opts.PoolDir = filepath.Join(tmpDir, opts.PoolDir)
	opts.CrossDir = filepath.Join(tmpDir, opts.CrossDir)
	opts.CountLog = filepath.Join(tmpDir, opts.CountLog)
	opts.Workers = 2
	assert.NoError(t, runPipeline(ctx, manifest, pool.StageNames, opts))

	// Key files of the gzipped replicate carry the stem of its uncompressed
	// name.
	expect.EQ(t, readFile(t, filepath.Join(opts.RawDir, "beta", "r1_clonotype.txt")),
		"V2 J2 BBB\nV3 J3 CCC\n")
	expect.EQ(t, readFile(t, filepath.Join(opts.UniqueDir, "alpha", "r1_sequence.txt")),
		"V1 J1 ATG\nV2 J2 CCG\n")

	expect.EQ(t, readFile(t, filepath.Join(opts.PoolDir, "alpha_dedup_pool_clonotype.txt")),
		"V1 J1 AAA\nV2 J2 BBB\n")
	expect.EQ(t, readFile(t, filepath.Join(opts.PoolDir, "alpha_dedup_pool_clonotype_with-counts.txt")),
		"      2 V1 J1 AAA\n      1 V2 J2 BBB\n")
	expect.EQ(t, readFile(t, filepath.Join(opts.CrossDir, "alpha-beta_dedup_pool_clonotype_with-counts.txt")),
		"      1 V1 J1 AAA\n      2 V2 J2 BBB\n      1 V3 J3 CCC\n")
	expect.EQ(t, readFile(t, filepath.Join(opts.CrossDir, "alpha-beta_dedup_pool_sequence_with-counts.txt")),
		"      1 V1 J1 ATG\n      2 V2 J2 CCG\n      1 V3 J3 TTA\n")

	// Subject blocks land whole, in either order, replicates in file order
	// within a block.
	countLog := readFile(t, opts.CountLog)
	expect.True(t, strings.Contains(countLog,
		"#alpha\nCLONOTYPES: 2 2\nSEQUENCES: 2 2\nCLONOTYPES: 1 1\nSEQUENCES: 1 1\n"))
	expect.True(t, strings.Contains(countLog,
		"#beta\nCLONOTYPES: 2 2\nSEQUENCES: 2 2\n"))
}

// TestEndToEndStageSubset reruns only the cross-pool stage after a full run,
// with -skip-existing semantics leaving prior outputs alone.
func TestEndToEndStageSubset(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := vcontext.Background()

	manifest := filepath.Join(tmpDir, "subjects.txt")
	writeFile(t, manifest, "alpha", "beta")
	inputDir := filepath.Join(tmpDir, "input")
	writeFile(t, filepath.Join(inputDir, "alpha", "r1.csv"), record("yes", "V1", "J1", "AAA", "ATG"))
	writeFile(t, filepath.Join(inputDir, "beta", "r1.csv"), record("yes", "V1", "J1", "AAA", "ATG"))

	opts := pool.DefaultOpts
	opts.InputDir = inputDir
	opts.RawDir = filepath.Join(tmpDir, opts.RawDir)
	opts.UniqueDir = filepath.Join(tmpDir, opts.UniqueDir)
	opts.PoolDir = filepath.Join(tmpDir, opts.PoolDir)
	opts.CrossDir = filepath.Join(tmpDir, opts.CrossDir)
	opts.CountLog = filepath.Join(tmpDir, opts.CountLog)
	opts.Workers = 1
	assert.NoError(t, runPipeline(ctx, manifest, pool.StageNames, opts))

	crossPath := filepath.Join(opts.CrossDir, "alpha-beta_dedup_pool_clonotype_with-counts.txt")
	expect.EQ(t, readFile(t, crossPath), "      2 V1 J1 AAA\n")

	// Rerunning just the last stage with SkipExisting leaves the file alone.
	assert.NoError(t, ioutil.WriteFile(crossPath, []byte("sentinel\n"), 0644))
	opts.SkipExisting = true
	assert.NoError(t, runPipeline(ctx, manifest, []string{"cross-pools"}, opts))
	expect.EQ(t, readFile(t, crossPath), "sentinel\n")

	// Without SkipExisting the stage rebuilds it.
	opts.SkipExisting = false
	assert.NoError(t, runPipeline(ctx, manifest, []string{"cross-pools"}, opts))
	expect.EQ(t, readFile(t, crossPath), "      2 V1 J1 AAA\n")
}
