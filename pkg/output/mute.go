package output

import "context"

// MuteProgress returns a writer that drops progress records and passes
// every other record through to inner. Used for quiet runs where the
// result stream should carry no periodic noise.
func MuteProgress(inner Writer) Writer {
	return &progressMuted{inner: inner}
}

type progressMuted struct {
	inner Writer
}

func (p *progressMuted) WriteResult(ctx context.Context, res *ResultRecord) error {
	return p.inner.WriteResult(ctx, res)
}

func (p *progressMuted) WriteSkip(ctx context.Context, skip *SkipRecord) error {
	return p.inner.WriteSkip(ctx, skip)
}

func (p *progressMuted) WriteError(ctx context.Context, err *ErrorRecord) error {
	return p.inner.WriteError(ctx, err)
}

func (p *progressMuted) WriteProgress(ctx context.Context, prog *ProgressRecord) error {
	return nil
}

func (p *progressMuted) WriteSummary(ctx context.Context, sum *SummaryRecord) error {
	return p.inner.WriteSummary(ctx, sum)
}

func (p *progressMuted) WritePreflight(ctx context.Context, preflight *PreflightRecord) error {
	return p.inner.WritePreflight(ctx, preflight)
}

func (p *progressMuted) WriteOpen(ctx context.Context, open *OpenRecord) error {
	return p.inner.WriteOpen(ctx, open)
}

func (p *progressMuted) Close() error {
	return p.inner.Close()
}

var _ Writer = (*progressMuted)(nil)
