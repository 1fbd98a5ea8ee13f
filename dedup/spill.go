package dedup

import (
	"bufio"
	"encoding/binary"
	"io"
	"io/ioutil"
	"os"

	"github.com/golang/snappy"
	"github.com/grailbio/base/errors"
)

// A spill shard stores one sorted run of (key, count) pairs, snappy-framed
// unless compression is disabled. Each record is
//
//   count uint64      // occurrences of the key in this run
//   bytes uint32      // size of the key, in bytes
//   key   [bytes]byte
//
// with no padding between records. Shards live only for the duration of one
// reduction and are read back by the process that wrote them, so the
// compression flag travels in the Reducer, not the file.
const spillRecordHeaderSize = 12 // 8 byte count + 4 byte key length.

type spillWriter struct {
	path  string
	f     *os.File
	w     io.Writer
	flush func() error
	hdr   [spillRecordHeaderSize]byte
	err   *errors.Once
}

// newSpillWriter creates a spill shard in tmpDir ("" means the system
// default). Any error is reported through errReporter, and the returned
// writer is nil.
func newSpillWriter(tmpDir string, compress bool, errReporter *errors.Once) *spillWriter {
	temp, err := ioutil.TempFile(tmpDir, "repseq-uniq")
	if err != nil {
		errReporter.Set(err)
		return nil
	}
	w := &spillWriter{path: temp.Name(), f: temp, err: errReporter}
	if compress {
		sw := snappy.NewBufferedWriter(temp)
		w.w = sw
		w.flush = sw.Close
	} else {
		bw := bufio.NewWriter(temp)
		w.w = bw
		w.flush = bw.Flush
	}
	return w
}

func (w *spillWriter) add(e keyCount) {
	binary.LittleEndian.PutUint64(w.hdr[:8], uint64(e.count))
	binary.LittleEndian.PutUint32(w.hdr[8:12], uint32(len(e.key)))
	if _, err := w.w.Write(w.hdr[:]); err != nil {
		w.err.Set(errors.E(err, "spill shard:", w.path))
		return
	}
	if _, err := io.WriteString(w.w, e.key); err != nil {
		w.err.Set(errors.E(err, "spill shard:", w.path))
	}
}

// finish flushes and closes the shard, returning its path.
func (w *spillWriter) finish() string {
	w.err.Set(w.flush())
	w.err.Set(w.f.Close())
	return w.path
}

// spillReader reads one spill shard back in write order.
//
// Example:
//   r := newSpillReader(path, true, &err)
//   for r.scan() {
//     use r.key()
//   }
//   r.close()
type spillReader struct {
	path string
	f    *os.File
	r    io.Reader
	cur  keyCount
	buf  []byte
	err  *errors.Once
}

func newSpillReader(path string, compress bool, errReporter *errors.Once) *spillReader {
	r := &spillReader{path: path, buf: make([]byte, 1024), err: errReporter}
	f, err := os.Open(path)
	if err != nil {
		errReporter.Set(err)
		return r
	}
	r.f = f
	if compress {
		r.r = snappy.NewReader(f)
	} else {
		r.r = bufio.NewReader(f)
	}
	return r
}

// scan advances to the next record. It returns false at the end of the shard
// or on error.
func (r *spillReader) scan() bool {
	if r.r == nil {
		return false
	}
	if _, err := io.ReadFull(r.r, r.buf[:spillRecordHeaderSize]); err != nil {
		if err != io.EOF {
			r.err.Set(errors.E(err, "spill shard:", r.path))
		}
		return false
	}
	count := int64(binary.LittleEndian.Uint64(r.buf[:8]))
	size := binary.LittleEndian.Uint32(r.buf[8:12])

	// Grow the buffer if necessary.
	for uint32(cap(r.buf)) < size {
		r.buf = append(r.buf[:cap(r.buf)], 0)
	}
	r.buf = r.buf[:size]
	if _, err := io.ReadFull(r.r, r.buf); err != nil {
		r.err.Set(errors.E(err, "spill shard:", r.path))
		return false
	}
	r.cur = keyCount{key: string(r.buf), count: count}
	return true
}

// key returns the current record.
//
// REQUIRES: scan() returned true.
func (r *spillReader) key() keyCount {
	return r.cur
}

func (r *spillReader) close() {
	if r.f != nil {
		r.err.Set(r.f.Close())
	}
}
