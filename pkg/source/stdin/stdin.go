// Package stdin implements the source interface for a log stream on
// standard input.
//
// The stream appears as a single pseudo-object named "-". Because the
// underlying reader can only be consumed once, a second Open reports
// ErrNotFound.
package stdin

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/3leaps/gotempus/pkg/source"
)

// Key is the pseudo-object key the stream is exposed under.
const Key = "-"

// Source implements source.Source over a single io.Reader.
type Source struct {
	mu       sync.Mutex
	r        io.Reader
	consumed bool
	opened   time.Time
}

var _ source.Source = (*Source)(nil)

// New creates a stdin source over r. Callers typically pass os.Stdin;
// tests inject an in-memory reader.
func New(r io.Reader) *Source {
	return &Source{r: r, opened: time.Now()}
}

// List returns the single pseudo-object.
func (s *Source) List(ctx context.Context, opts source.ListOptions) (*source.ListResult, error) {
	_ = ctx
	if opts.Prefix != "" && opts.Prefix != Key {
		return &source.ListResult{Objects: []source.ObjectInfo{}}, nil
	}
	if opts.ContinuationToken != "" {
		return &source.ListResult{Objects: []source.ObjectInfo{}}, nil
	}
	return &source.ListResult{
		Objects: []source.ObjectInfo{s.info()},
	}, nil
}

// Head returns metadata for the pseudo-object.
func (s *Source) Head(ctx context.Context, key string) (*source.ObjectInfo, error) {
	_ = ctx
	if key != Key {
		return nil, &source.SourceError{Op: "Head", Source: source.TypeStdin, Key: key, Err: source.ErrNotFound}
	}
	info := s.info()
	return &info, nil
}

// Open hands out the underlying reader. The stream can only be consumed
// once; subsequent calls report ErrNotFound.
func (s *Source) Open(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	_ = ctx
	if key != Key {
		return nil, 0, &source.SourceError{Op: "Open", Source: source.TypeStdin, Key: key, Err: source.ErrNotFound}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.consumed {
		return nil, 0, &source.SourceError{Op: "Open", Source: source.TypeStdin, Key: key, Err: source.ErrNotFound}
	}
	s.consumed = true

	// The caller must not close the real stdin descriptor.
	return io.NopCloser(s.r), -1, nil
}

func (s *Source) Close() error { return nil }

func (s *Source) info() source.ObjectInfo {
	// Size is unknown until the stream is drained.
	return source.ObjectInfo{Key: Key, Size: -1, LastModified: s.opened}
}
