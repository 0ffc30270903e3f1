package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/3leaps/gotempus/pkg/source"
)

// readFollow drains the matched object once and then keeps tailing it
// for appended lines until the context is cancelled.
//
// Follow targets exactly one object: tailing interleaves lines as they
// arrive, and a multi-file tail would destroy the per-file ordering
// the correlator depends on. Sources that expose filesystem paths get
// notification-driven tailing with rotation and truncation handling;
// stdin simply blocks on the pipe until the producer closes it.
func (m *Monitor) readFollow(ctx context.Context, out chan<- item) error {
	key, err := m.resolveFollowTarget(ctx)
	if err != nil {
		return err
	}

	resolver, ok := m.source.(source.PathResolver)
	if !ok {
		return m.readObject(ctx, key, out)
	}
	path, err := resolver.Path(key)
	if err != nil {
		return fmt.Errorf("resolve follow target %s: %w", key, err)
	}

	tail, err := newTailReader(ctx, path, m.config.PollInterval, m.logger)
	if err != nil {
		return fmt.Errorf("open follow target %s: %w", key, err)
	}
	defer func() {
		if cerr := tail.Close(); cerr != nil {
			m.logger.Debug("close tail", zap.String("key", key), zap.Error(cerr))
		}
	}()
	tail.idle = func() { m.following.Store(true) }

	m.objects.Add(1)
	m.appendKey(key)
	m.logger.Info("following", zap.String("key", key), zap.String("path", path))

	err = m.decodeStream(ctx, key, tail, out)
	if err == nil {
		// Only cancellation ends a filesystem tail.
		err = ctx.Err()
	}
	return err
}

// resolveFollowTarget lists the source and requires exactly one object
// to survive matching and filtering.
func (m *Monitor) resolveFollowTarget(ctx context.Context) (string, error) {
	var matched []string
	for _, prefix := range m.listPrefixes() {
		var token string
		for {
			result, err := m.source.List(ctx, source.ListOptions{
				Prefix:            prefix,
				ContinuationToken: token,
			})
			if err != nil {
				return "", fmt.Errorf("list follow candidates: %w", err)
			}
			for i := range result.Objects {
				obj := &result.Objects[i]
				if !m.matcher.Match(obj.Key) {
					continue
				}
				if m.filter != nil && !m.filter.Match(obj) {
					continue
				}
				matched = append(matched, obj.Key)
			}
			if !result.IsTruncated || result.ContinuationToken == "" {
				break
			}
			token = result.ContinuationToken
		}
	}
	switch len(matched) {
	case 0:
		return "", errors.New("follow: no object matches the configured patterns")
	case 1:
		return matched[0], nil
	default:
		return "", fmt.Errorf("follow: %d objects match, follow tails exactly one", len(matched))
	}
}

// tailReader reads a file to EOF and then blocks for more data instead
// of reporting EOF. It wakes on filesystem notifications for the file,
// falling back to a poll tick when notifications are unavailable, and
// survives rotation and truncation by reopening the path and reading
// the new content from the start.
type tailReader struct {
	ctx      context.Context
	path     string
	file     *os.File
	offset   int64
	watcher  *fsnotify.Watcher
	poll     *time.Ticker
	logger   *zap.Logger
	idle     func()
	idleOnce sync.Once
}

func newTailReader(ctx context.Context, path string, pollInterval time.Duration, logger *zap.Logger) (*tailReader, error) {
	path = filepath.Clean(path)
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	t := &tailReader{
		ctx:    ctx,
		path:   path,
		file:   file,
		poll:   time.NewTicker(pollInterval),
		logger: logger,
	}

	// Watch the parent directory: events addressed to the file itself
	// stop arriving once rotation swaps the inode out from under it.
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if werr := watcher.Add(filepath.Dir(path)); werr != nil {
			_ = watcher.Close()
			err = werr
		} else {
			t.watcher = watcher
		}
	}
	if t.watcher == nil {
		logger.Warn("filesystem notifications unavailable, polling only",
			zap.String("path", path),
			zap.Error(err))
	}
	return t, nil
}

// Read satisfies io.Reader. At end of data it parks until the file
// grows, is replaced, or the context is cancelled; it never returns
// io.EOF on a live tail.
func (t *tailReader) Read(p []byte) (int, error) {
	for {
		n, err := t.file.Read(p)
		if n > 0 {
			t.offset += int64(n)
			return n, nil
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, err
		}

		if t.idle != nil {
			t.idleOnce.Do(t.idle)
		}
		if err := t.waitForChange(); err != nil {
			return 0, err
		}
		t.reopenIfReplaced()
	}
}

// waitForChange blocks until something touches the tailed file, a poll
// tick fires, or the context ends.
func (t *tailReader) waitForChange() error {
	for {
		if t.watcher == nil {
			select {
			case <-t.ctx.Done():
				return t.ctx.Err()
			case <-t.poll.C:
				return nil
			}
		}
		select {
		case <-t.ctx.Done():
			return t.ctx.Err()
		case <-t.poll.C:
			return nil
		case ev, ok := <-t.watcher.Events:
			if !ok {
				t.watcher = nil
				continue
			}
			if filepath.Clean(ev.Name) != t.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			t.drainEvents()
			return nil
		case err, ok := <-t.watcher.Errors:
			if !ok {
				t.watcher = nil
				continue
			}
			t.logger.Warn("watch error", zap.String("path", t.path), zap.Error(err))
		}
	}
}

// drainEvents absorbs a burst of notifications so one append does not
// cost one wakeup per write syscall.
func (t *tailReader) drainEvents() {
	for {
		select {
		case _, ok := <-t.watcher.Events:
			if !ok {
				t.watcher = nil
				return
			}
		default:
			return
		}
	}
}

// reopenIfReplaced restarts the tail from offset zero when the path
// now names a different inode or the file shrank under the reader.
// Transient stat and open failures mid-rotation keep the current
// handle; the next wakeup retries.
func (t *tailReader) reopenIfReplaced() {
	st, err := os.Stat(t.path)
	if err != nil {
		return
	}
	cur, err := t.file.Stat()
	if err == nil && os.SameFile(st, cur) && st.Size() >= t.offset {
		return
	}

	file, err := os.Open(t.path)
	if err != nil {
		return
	}
	_ = t.file.Close()
	t.file = file
	t.offset = 0
	t.logger.Info("tail target replaced, restarting from start",
		zap.String("path", t.path),
		zap.Int64("size", st.Size()))
}

func (t *tailReader) Close() error {
	t.poll.Stop()
	if t.watcher != nil {
		_ = t.watcher.Close()
	}
	return t.file.Close()
}
