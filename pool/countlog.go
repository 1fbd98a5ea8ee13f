package pool

import (
	"bytes"
	"fmt"
	"os"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/repertoire/clonotype"
)

// A Count is one replicate's contribution to the count log: how many keys of
// one kind the replicate produced, and how many were distinct.
type Count struct {
	Kind        clonotype.Kind
	Raw, Unique int64
}

// A CountLog records per-replicate counts as text blocks, one block per
// subject, delimited by "#<subject>" header lines. Each entry is a line of
// the form "CLONOTYPES: <raw> <unique>" or "SEQUENCES: <raw> <unique>", in
// replicate-processing order. Blocks append atomically with respect to each
// other, so parallel subject pipelines cannot interleave entries.
type CountLog struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// OpenCountLog opens the count log at path for appending, creating it if
// needed. The log is append-only; rerunning a pipeline adds new blocks after
// the old ones.
func OpenCountLog(path string) (*CountLog, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.E(err, "open count log:", path)
	}
	return &CountLog{path: path, f: f}, nil
}

// Append writes one subject block. The header is written even when counts is
// empty, recording that the subject was processed.
func (l *CountLog) Append(subject string, counts []Count) error {
	var b bytes.Buffer
	fmt.Fprintf(&b, "#%s\n", subject)
	for _, c := range counts {
		fmt.Fprintf(&b, "%s: %d %d\n", c.Kind.Label(), c.Raw, c.Unique)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.f.Write(b.Bytes()); err != nil {
		return errors.E(err, "append count log:", l.path)
	}
	return nil
}

// Close closes the log file.
func (l *CountLog) Close() error {
	if err := l.f.Close(); err != nil {
		return errors.E(err, "close count log:", l.path)
	}
	return nil
}
