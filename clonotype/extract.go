package clonotype

import (
	"context"
	"io"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/grailbio/base/log"
	"github.com/grailbio/repertoire/encoding/rearrangement"
	"github.com/klauspost/compress/gzip"
)

const progressInterval = 1024 * 1024

// Extract reads the annotated rearrangement file at path and calls emit once
// per productive record, with the record's clonotype key and sequence key.
// Non-productive records are skipped. It returns the number of records
// emitted. A malformed line fails the whole file; emit calls made before the
// failure must be considered garbage by the caller.
//
// Gzipped inputs are detected by file name and decompressed transparently.
func Extract(ctx context.Context, path string, layout rearrangement.Layout, emit func(clono, seq Key)) (int64, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return 0, err
	}
	reader := io.Reader(in.Reader(ctx))
	switch fileio.DetermineType(path) {
	case fileio.Gzip:
		gz, err := gzip.NewReader(reader)
		if err != nil {
			_ = in.Close(ctx)
			return 0, errors.E(err, "gzip open:", path)
		}
		reader = gz
	}

	var (
		sc      = rearrangement.NewScanner(reader, layout)
		rec     rearrangement.Record
		emitted int64
	)
	for sc.Scan(&rec) {
		if sc.Line()%progressInterval == 0 {
			log.Printf("%s: %dMi records", path, sc.Line()/progressInterval)
		}
		if !rec.Productive {
			continue
		}
		emit(KeyOf(Clonotype, &rec), KeyOf(Sequence, &rec))
		emitted++
	}
	scanErr := sc.Err()
	closeErr := in.Close(ctx)
	if scanErr != nil {
		return emitted, errors.E(scanErr, "extract:", path)
	}
	if closeErr != nil {
		return emitted, errors.E(closeErr, "close:", path)
	}
	log.Debug.Printf("%s: %d records, %d productive", path, sc.Line(), emitted)
	return emitted, nil
}
