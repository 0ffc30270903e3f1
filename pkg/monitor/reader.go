package monitor

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/3leaps/gotempus/pkg/correlate"
	"github.com/3leaps/gotempus/pkg/logline"
	"github.com/3leaps/gotempus/pkg/output"
	"github.com/3leaps/gotempus/pkg/source"
)

// item is one decoded line in flight between the reader and the apply
// loop. Exactly one of event or err is meaningful; err carries a
// skippable decode failure for the line.
type item struct {
	key   string
	line  int64
	event correlate.Event
	err   error
}

// read walks every matching object in lexical key order and decodes
// lines onto out. It returns only fatal errors; recoverable source
// failures are written as error records, counted, and skipped.
func (m *Monitor) read(ctx context.Context, out chan<- item) error {
	if m.config.Follow {
		return m.readFollow(ctx, out)
	}
	for _, prefix := range m.listPrefixes() {
		if err := m.readPrefix(ctx, prefix, out); err != nil {
			return err
		}
	}
	return nil
}

// listPrefixes returns the matcher's derived listing prefixes. Any
// pattern that cannot be narrowed forces one full listing.
func (m *Monitor) listPrefixes() []string {
	prefixes := m.matcher.Prefixes()
	if len(prefixes) == 0 || m.matcher.HasEmptyPrefix() {
		return []string{""}
	}
	return prefixes
}

// readPrefix pages through one listing prefix and reads every object
// that survives pattern matching and metadata filtering.
func (m *Monitor) readPrefix(ctx context.Context, prefix string, out chan<- item) error {
	var token string
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		result, err := m.source.List(ctx, source.ListOptions{
			Prefix:            prefix,
			ContinuationToken: token,
		})
		if err != nil {
			return m.listError(ctx, prefix, err)
		}

		for i := range result.Objects {
			obj := &result.Objects[i]
			if !m.matcher.Match(obj.Key) {
				continue
			}
			if m.filter != nil && !m.filter.Match(obj) {
				continue
			}
			if err := m.readObject(ctx, obj.Key, out); err != nil {
				return err
			}
		}

		if !result.IsTruncated || result.ContinuationToken == "" {
			return nil
		}
		token = result.ContinuationToken
	}
}

// readObject opens one object and decodes it to EOF. Open and stream
// failures degrade to error records; the run moves on.
func (m *Monitor) readObject(ctx context.Context, key string, out chan<- item) error {
	r, _, err := m.source.Open(ctx, key)
	if err != nil {
		return m.sourceError(ctx, "Open", key, err)
	}
	decodeErr := m.decodeStream(ctx, key, r, out)
	if cerr := r.Close(); cerr != nil {
		m.logger.Debug("close object", zap.String("key", key), zap.Error(cerr))
	}
	if decodeErr != nil {
		return decodeErr
	}
	m.objects.Add(1)
	m.appendKey(key)
	return nil
}

// decodeStream runs a decoder over one object's bytes, sending every
// line downstream. Malformed lines travel as skip items so the apply
// loop can account for them in order.
func (m *Monitor) decodeStream(ctx context.Context, key string, r io.Reader, out chan<- item) error {
	dec := logline.NewDecoder(r)
	dec.SetDelimiter(m.config.Delimiter)
	dec.SetMaxLineBytes(m.config.MaxLineBytes)

	for {
		if m.limiter != nil {
			if err := m.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		ev, err := dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if logline.IsSkippable(err) {
				if serr := m.send(ctx, out, item{key: key, line: dec.Line(), err: err}); serr != nil {
					return serr
				}
				continue
			}
			// The stream itself failed mid-object.
			return m.sourceError(ctx, "Read", key, err)
		}
		if serr := m.send(ctx, out, item{key: key, line: dec.Line(), event: ev}); serr != nil {
			return serr
		}
	}
}

func (m *Monitor) send(ctx context.Context, out chan<- item, it item) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- it:
		return nil
	}
}

// listError classifies a listing failure. Known transient source
// conditions skip the prefix; anything else aborts the run.
func (m *Monitor) listError(ctx context.Context, prefix string, err error) error {
	if isCancellation(err) {
		return err
	}
	code, known := sourceErrorCode(err)
	if !known {
		return err
	}
	m.sourceErrors.Add(1)
	m.logger.Warn("list failed, skipping prefix",
		zap.String("prefix", prefix),
		zap.String("code", code),
		zap.Error(err))
	return m.writer.WriteError(ctx, &output.ErrorRecord{
		Code:    code,
		Message: err.Error(),
		Op:      "List",
		Key:     prefix,
	})
}

// sourceError records a recoverable per-object failure and lets the
// run continue. Cancellation still propagates.
func (m *Monitor) sourceError(ctx context.Context, op, key string, err error) error {
	if isCancellation(err) {
		return err
	}
	m.sourceErrors.Add(1)
	code, _ := sourceErrorCode(err)
	m.logger.Warn("source error",
		zap.String("op", op),
		zap.String("key", key),
		zap.String("code", code),
		zap.Error(err))
	return m.writer.WriteError(ctx, &output.ErrorRecord{
		Code:    code,
		Message: err.Error(),
		Op:      op,
		Key:     key,
	})
}

// sourceErrorCode maps source sentinel errors to output error codes.
// The second return is false for errors with no source classification.
func sourceErrorCode(err error) (string, bool) {
	switch {
	case source.IsAccessDenied(err):
		return output.ErrCodeAccessDenied, true
	case source.IsNotFound(err), source.IsBucketNotFound(err):
		return output.ErrCodeNotFound, true
	case source.IsThrottled(err):
		return output.ErrCodeThrottled, true
	case source.IsUnavailable(err):
		return output.ErrCodeUnavailable, true
	default:
		return output.ErrCodeInternal, false
	}
}
