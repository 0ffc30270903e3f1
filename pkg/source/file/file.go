// Package file implements the source interface for local filesystem paths.
package file

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/3leaps/gotempus/pkg/source"
)

// Source implements source.Source for local filesystem paths.
//
// Keys are slash-separated paths relative to the configured root. When the
// root is a single regular file, the source exposes exactly one object whose
// key is the file's base name.
type Source struct {
	root       string
	singleFile bool
}

// Ensure Source implements the interfaces.
var (
	_ source.Source       = (*Source)(nil)
	_ source.PathResolver = (*Source)(nil)
)

// Config configures a filesystem source.
type Config struct {
	// Root is a directory to walk, or a single log file.
	Root string
}

// Validate checks that required configuration is present.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Root) == "" {
		return fmt.Errorf("root path is required")
	}
	return nil
}

// New creates a filesystem source rooted at cfg.Root.
func New(cfg Config) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	root := filepath.Clean(cfg.Root)

	st, err := os.Stat(root)
	if err != nil {
		return nil, wrapError("New", cfg.Root, err)
	}

	if st.IsDir() {
		return &Source{root: root}, nil
	}
	return &Source{root: root, singleFile: true}, nil
}

func (s *Source) Close() error { return nil }

// List returns a lexically sorted page of file keys under the root.
func (s *Source) List(ctx context.Context, opts source.ListOptions) (*source.ListResult, error) {
	_ = ctx
	maxKeys := opts.MaxKeys
	if maxKeys <= 0 {
		maxKeys = 1000
	}

	prefix := strings.TrimPrefix(opts.Prefix, "/")
	keys, err := s.collectKeys(prefix)
	if err != nil {
		return nil, wrapError("List", opts.Prefix, err)
	}
	sort.Strings(keys)

	start := 0
	if opts.ContinuationToken != "" {
		// Start strictly after the last returned key.
		idx := sort.SearchStrings(keys, opts.ContinuationToken)
		for idx < len(keys) && keys[idx] <= opts.ContinuationToken {
			idx++
		}
		start = idx
	}

	end := start + maxKeys
	if end > len(keys) {
		end = len(keys)
	}

	objects := make([]source.ObjectInfo, 0, end-start)
	for _, k := range keys[start:end] {
		full, err := s.Path(k)
		if err != nil {
			continue
		}
		st, err := os.Stat(full)
		if err != nil || st.IsDir() {
			continue
		}
		objects = append(objects, source.ObjectInfo{Key: k, Size: st.Size(), LastModified: st.ModTime()})
	}

	res := &source.ListResult{Objects: objects}
	if end < len(keys) {
		res.IsTruncated = true
		res.ContinuationToken = keys[end-1]
	}
	return res, nil
}

// Head returns metadata for a single file.
func (s *Source) Head(ctx context.Context, key string) (*source.ObjectInfo, error) {
	_ = ctx
	full, err := s.Path(key)
	if err != nil {
		return nil, wrapError("Head", key, err)
	}
	st, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &source.SourceError{Op: "Head", Source: source.TypeFile, Key: key, Err: source.ErrNotFound}
		}
		return nil, wrapError("Head", key, err)
	}
	if st.IsDir() {
		return nil, &source.SourceError{Op: "Head", Source: source.TypeFile, Key: key, Err: source.ErrNotFound}
	}

	return &source.ObjectInfo{
		Key:          strings.TrimPrefix(key, "/"),
		Size:         st.Size(),
		LastModified: st.ModTime(),
	}, nil
}

// Open returns the content of a single file and its size.
func (s *Source) Open(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	_ = ctx
	full, err := s.Path(key)
	if err != nil {
		return nil, 0, wrapError("Open", key, err)
	}
	f, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, &source.SourceError{Op: "Open", Source: source.TypeFile, Key: key, Err: source.ErrNotFound}
		}
		return nil, 0, wrapError("Open", key, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, wrapError("Open", key, err)
	}
	if st.IsDir() {
		_ = f.Close()
		return nil, 0, &source.SourceError{Op: "Open", Source: source.TypeFile, Key: key, Err: source.ErrNotFound}
	}
	return f, st.Size(), nil
}

// Path resolves a key to the filesystem path it names. Keys may not
// escape the configured root.
func (s *Source) Path(key string) (string, error) {
	if s.singleFile {
		if key == filepath.Base(s.root) || key == "" {
			return s.root, nil
		}
		return "", fmt.Errorf("unknown key %q for single-file source", key)
	}

	key = strings.TrimSpace(key)
	key = strings.TrimPrefix(key, "/")
	// Prevent path traversal.
	clean := filepath.Clean("/" + key)
	clean = strings.TrimPrefix(clean, "/")
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid key path")
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

func (s *Source) collectKeys(prefix string) ([]string, error) {
	if s.singleFile {
		key := filepath.Base(s.root)
		if prefix == "" || strings.HasPrefix(key, prefix) {
			return []string{key}, nil
		}
		return []string{}, nil
	}

	walkRoot, err := s.Path(prefix)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(walkRoot); err != nil {
		if os.IsNotExist(err) {
			// A prefix may name a partial file name rather than a
			// directory. Walk the parent and filter below.
			walkRoot = filepath.Dir(walkRoot)
			if _, err := os.Stat(walkRoot); err != nil {
				return []string{}, nil
			}
		} else {
			return nil, err
		}
	}

	var keys []string
	_ = filepath.WalkDir(walkRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if prefix != "" && !strings.HasPrefix(rel, prefix) {
			return nil
		}
		keys = append(keys, rel)
		return nil
	})
	return keys, nil
}

func wrapError(op, key string, err error) error {
	wrapped := &source.SourceError{Op: op, Source: source.TypeFile, Key: key, Err: err}
	if err == nil {
		wrapped.Err = fmt.Errorf("unknown error")
	}
	// Normalize common filesystem errors to source sentinels.
	if os.IsNotExist(err) {
		wrapped.Err = source.ErrNotFound
	}
	if os.IsPermission(err) {
		wrapped.Err = source.ErrAccessDenied
	}
	return wrapped
}
