// Package preflight validates source access before a monitor run
// consumes any lines.
//
// A failed run that dies twenty minutes in on a permission error is
// operationally worse than one that refuses to start. Preflight makes
// the access contract explicit: every check is reported as a record,
// and the first failure aborts with the underlying error.
package preflight

import (
	"context"
	"fmt"
	"io"

	"github.com/3leaps/gotempus/pkg/output"
	"github.com/3leaps/gotempus/pkg/source"
)

// Mode defines how aggressive preflight checks are.
type Mode string

const (
	// ModePlanOnly performs no source calls at all.
	ModePlanOnly Mode = "plan-only"

	// ModeReadSafe performs read-only probes: one bounded listing and
	// one object open. Nothing is written anywhere.
	ModeReadSafe Mode = "read-safe"
)

// Check names are stable strings used in JSONL output.
const (
	CheckSourceList = "source.list"
	CheckSourceOpen = "source.open"
)

// Spec controls how preflight checks are executed.
type Spec struct {
	Mode Mode
}

// Check runs the preflight probes for a monitor run.
//
// Read-safe mode verifies that listing is permitted under the first
// derived prefix and, when the listing returns anything, that the
// first object can actually be opened. An empty listing passes: a
// source with no matching logs yet is a valid thing to monitor.
//
// The open probe consumes a byte of the object, so one-shot stream
// sources (stdin) must not be preflighted; callers skip them.
//
// The returned record always reflects every check that ran, including
// the failing one, so callers can emit it before acting on the error.
func Check(ctx context.Context, src source.Source, prefixes []string, spec Spec) (*output.PreflightRecord, error) {
	rec := &output.PreflightRecord{
		Mode:    string(spec.Mode),
		Results: []output.PreflightCheckResult{},
	}

	if spec.Mode == ModePlanOnly {
		return rec, nil
	}

	prefix := ""
	if len(prefixes) > 0 {
		prefix = prefixes[0]
	}

	result, err := src.List(ctx, source.ListOptions{Prefix: prefix, MaxKeys: 1})
	if err != nil {
		rec.Results = append(rec.Results, output.PreflightCheckResult{
			Check:     CheckSourceList,
			Target:    listTarget(prefix),
			Allowed:   false,
			ErrorCode: normalizeErrorCode(err),
			Detail:    err.Error(),
		})
		return rec, err
	}
	rec.Results = append(rec.Results, output.PreflightCheckResult{
		Check:   CheckSourceList,
		Target:  listTarget(prefix),
		Allowed: true,
	})

	if len(result.Objects) == 0 {
		return rec, nil
	}

	key := result.Objects[0].Key
	r, _, err := src.Open(ctx, key)
	if err != nil {
		rec.Results = append(rec.Results, output.PreflightCheckResult{
			Check:     CheckSourceOpen,
			Target:    key,
			Allowed:   false,
			ErrorCode: normalizeErrorCode(err),
			Detail:    err.Error(),
		})
		return rec, err
	}
	drainProbe(r)
	rec.Results = append(rec.Results, output.PreflightCheckResult{
		Check:   CheckSourceOpen,
		Target:  key,
		Allowed: true,
	})

	return rec, nil
}

// drainProbe reads a single byte before closing so backends that defer
// permission checks to the first read (streaming GETs) still fail here
// rather than mid-run.
func drainProbe(r io.ReadCloser) {
	var one [1]byte
	_, _ = r.Read(one[:])
	_ = r.Close()
}

func listTarget(prefix string) string {
	return fmt.Sprintf("prefix=%q", prefix)
}

func normalizeErrorCode(err error) string {
	switch {
	case source.IsAccessDenied(err), source.IsInvalidCredentials(err):
		return output.ErrCodeAccessDenied
	case source.IsBucketNotFound(err), source.IsNotFound(err):
		return output.ErrCodeNotFound
	case source.IsThrottled(err):
		return output.ErrCodeThrottled
	case source.IsUnavailable(err):
		return output.ErrCodeUnavailable
	default:
		return output.ErrCodeInternal
	}
}
