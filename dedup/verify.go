package dedup

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/minio/highwayhash"
)

// VerifyResult summarizes one verified output file.
type VerifyResult struct {
	// Unique is the number of lines, i.e. distinct keys.
	Unique int64
	// Total is the sum of the counts in counted mode; otherwise it equals
	// Unique.
	Total int64
	// Digest fingerprints the file content. Two reductions can be compared
	// for equality by digest without holding either in memory.
	Digest [highwayhash.Size]byte
}

var verifySeed = [highwayhash.Size]byte{}

// Verify rescans a reduced output file and checks that it is well formed:
// keys must strictly increase byte-wise, so every key appears exactly once
// and in sorted order, and in counted mode every line must carry a positive
// count.
func Verify(ctx context.Context, path string, withCounts bool) (VerifyResult, error) {
	var res VerifyResult
	in, err := file.Open(ctx, path)
	if err != nil {
		return res, errors.E(err, "verify:", path)
	}
	h, err := highwayhash.New(verifySeed[:])
	if err != nil {
		_ = in.Close(ctx)
		return res, err
	}
	var (
		lineno int64
		last   string
	)
	fail := func(format string, args ...interface{}) (VerifyResult, error) {
		_ = in.Close(ctx)
		return res, fmt.Errorf("verify %s:%d: %s", path, lineno, fmt.Sprintf(format, args...))
	}
	sc := bufio.NewScanner(in.Reader(ctx))
	for sc.Scan() {
		lineno++
		line := sc.Text()
		h.Write([]byte(line))
		h.Write([]byte{'\n'})
		key := line
		count := int64(1)
		if withCounts {
			fields := strings.SplitN(strings.TrimLeft(line, " "), " ", 2)
			if len(fields) != 2 {
				return fail("malformed counted line %q", line)
			}
			if count, err = strconv.ParseInt(fields[0], 10, 64); err != nil {
				return fail("malformed count %q", fields[0])
			}
			if count <= 0 {
				return fail("count %d is not positive", count)
			}
			key = fields[1]
		}
		if lineno > 1 && key <= last {
			return fail("key %q out of order after %q", key, last)
		}
		last = key
		res.Unique++
		res.Total += count
	}
	err = sc.Err()
	if closeErr := in.Close(ctx); err == nil {
		err = closeErr
	}
	if err != nil {
		return res, errors.E(err, "verify:", path)
	}
	copy(res.Digest[:], h.Sum(nil))
	return res, nil
}
