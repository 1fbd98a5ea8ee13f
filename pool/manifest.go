package pool

import (
	"bufio"
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
)

// Subjects reads a subject manifest: one subject identifier per line, in
// manifest order. Blank lines and lines starting with '#' are skipped.
// Identifiers name directories and join into cross-pool file names with '-',
// so they may not repeat and may not contain '-', '/' or whitespace.
func Subjects(ctx context.Context, path string) ([]string, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	var (
		subjects []string
		seen     = map[string]bool{}
		sc       = bufio.NewScanner(in.Reader(ctx))
		lineno   int
	)
	for sc.Scan() {
		lineno++
		s := strings.TrimSpace(sc.Text())
		if s == "" || strings.HasPrefix(s, "#") {
			continue
		}
		if strings.ContainsAny(s, "-/\\ \t") {
			_ = in.Close(ctx)
			return nil, fmt.Errorf("subjects %s:%d: invalid subject identifier %q", path, lineno, s)
		}
		if seen[s] {
			_ = in.Close(ctx)
			return nil, fmt.Errorf("subjects %s:%d: duplicate subject identifier %q", path, lineno, s)
		}
		seen[s] = true
		subjects = append(subjects, s)
	}
	err = sc.Err()
	if closeErr := in.Close(ctx); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, errors.E(err, "subjects:", path)
	}
	return subjects, nil
}

// Replicates lists the replicate file names directly under dir, one
// subject's input directory, sorted by name. Dotfiles and nested
// directories are ignored. An existing but empty directory yields an empty
// list; a directory that cannot be listed is an error.
func Replicates(ctx context.Context, dir string) ([]string, error) {
	var names []string
	lister := file.List(ctx, dir, true /*recursive*/)
	for lister.Scan() {
		path := lister.Path()
		if filepath.Dir(path) != filepath.Clean(dir) {
			log.Debug.Printf("replicates %s: ignoring nested file %s", dir, path)
			continue
		}
		base := filepath.Base(path)
		if strings.HasPrefix(base, ".") {
			continue
		}
		names = append(names, base)
	}
	if err := lister.Err(); err != nil {
		return nil, errors.E(err, "list replicates:", dir)
	}
	sort.Strings(names)
	return names, nil
}
