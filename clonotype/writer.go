package clonotype

import (
	"bufio"
	"context"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
)

// A RawWriter streams keys to a raw key file, one per line, in write order.
// The destination is overwritten. RawWriters are not threadsafe.
type RawWriter struct {
	ctx  context.Context
	path string
	out  file.File
	w    *bufio.Writer
	n    int64
	err  errors.Once
}

// NewRawWriter creates the raw key file at path.
func NewRawWriter(ctx context.Context, path string) (*RawWriter, error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return nil, errors.E(err, "create raw key file:", path)
	}
	return &RawWriter{
		ctx:  ctx,
		path: path,
		out:  out,
		w:    bufio.NewWriter(out.Writer(ctx)),
	}, nil
}

// Write appends one key. Errors are sticky and reported by Close.
func (w *RawWriter) Write(k Key) {
	if w.err.Err() != nil {
		return
	}
	if _, err := w.w.WriteString(k.String()); err != nil {
		w.err.Set(err)
		return
	}
	if err := w.w.WriteByte('\n'); err != nil {
		w.err.Set(err)
		return
	}
	w.n++
}

// N returns the number of keys written so far: the raw count of the file.
func (w *RawWriter) N() int64 { return w.n }

// Close flushes and closes the file, returning the first error encountered
// over the writer's lifetime.
func (w *RawWriter) Close() error {
	w.err.Set(w.w.Flush())
	w.err.Set(w.out.Close(w.ctx))
	if err := w.err.Err(); err != nil {
		return errors.E(err, "write raw key file:", w.path)
	}
	return nil
}
