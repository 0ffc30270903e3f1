package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/gotempus/internal/observability"
	"github.com/3leaps/gotempus/pkg/daytime"
	"github.com/3leaps/gotempus/pkg/logline"
	"github.com/3leaps/gotempus/pkg/match"
	"github.com/3leaps/gotempus/pkg/source"
	"github.com/3leaps/gotempus/pkg/source/file"
	"github.com/3leaps/gotempus/pkg/source/s3"
	"github.com/3leaps/gotempus/pkg/source/stdin"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <uri>",
	Short: "Quick inspection of a log object or prefix",
	Long: `Inspect log objects without running a correlation pass.

For a prefix or glob pattern the matching objects are listed. For a
single object the first lines are decoded and shown as parsed events,
which makes it easy to check delimiters and field layout before a run.

Examples:
  gotempus inspect s3://bucket/logs/jobs.log
  gotempus inspect s3://bucket/logs/
  gotempus inspect s3://bucket/logs/2026-*/**/*.log
  gotempus inspect /var/log/jobs/today.log --lines 20
  gotempus inspect - < jobs.log
  gotempus inspect s3://bucket/logs/ --limit 10 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

var (
	inspectRegion    string
	inspectProfile   string
	inspectEndpoint  string
	inspectLimit     int
	inspectJSON      bool
	inspectLines     int
	inspectDelimiter string
)

func init() {
	rootCmd.AddCommand(inspectCmd)

	inspectCmd.Flags().StringVarP(&inspectRegion, "region", "r", "", "AWS region")
	inspectCmd.Flags().StringVarP(&inspectProfile, "profile", "p", "", "AWS profile")
	inspectCmd.Flags().StringVar(&inspectEndpoint, "endpoint", "", "Custom S3 endpoint")
	inspectCmd.Flags().IntVarP(&inspectLimit, "limit", "n", 100, "Max objects to list")
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "Output as JSON")
	inspectCmd.Flags().IntVar(&inspectLines, "lines", 10, "Lines to decode in the preview (0 disables)")
	inspectCmd.Flags().StringVar(&inspectDelimiter, "delimiter", "", "Log line field delimiter for the preview")
}

func runInspect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	arg := args[0]

	if arg == "-" {
		src := stdin.New(os.Stdin)
		defer func() { _ = src.Close() }()
		return inspectObject(ctx, src, "-")
	}

	if strings.Contains(arg, "://") {
		return inspectRemote(ctx, arg)
	}

	return inspectLocal(ctx, arg)
}

func inspectRemote(ctx context.Context, uri string) error {
	parsed, err := ParseURI(uri)
	if err != nil {
		observability.CLILogger.Error("Invalid URI", zap.String("uri", uri), zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid URI", err)
	}

	observability.CLILogger.Debug("Parsed URI",
		zap.String("provider", parsed.Provider),
		zap.String("bucket", parsed.Bucket),
		zap.String("key", parsed.Key),
		zap.String("pattern", parsed.Pattern))

	src, err := createInspectSource(ctx, parsed)
	if err != nil {
		observability.CLILogger.Error("Failed to open source", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to connect to storage", err)
	}
	defer func() { _ = src.Close() }()

	if !parsed.IsPattern() && !parsed.IsPrefix() {
		return inspectObject(ctx, src, parsed.Key)
	}

	objects, err := listObjects(ctx, src, parsed)
	if err != nil {
		observability.CLILogger.Error("Failed to list objects", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to list objects", err)
	}

	if inspectJSON {
		return outputJSON(objects)
	}
	return outputTable(objects)
}

func inspectLocal(ctx context.Context, path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		observability.CLILogger.Error("Cannot access path", zap.String("path", path), zap.Error(err))
		return exitError(foundry.ExitFileNotFound, "Cannot access path", err)
	}

	src, err := file.New(file.Config{Root: path})
	if err != nil {
		observability.CLILogger.Error("Failed to open source", zap.Error(err))
		return exitError(foundry.ExitFileNotFound, "Failed to open source", err)
	}
	defer func() { _ = src.Close() }()

	if !fi.IsDir() {
		return inspectObject(ctx, src, filepath.Base(path))
	}

	objects, err := listObjects(ctx, src, &ObjectURI{Provider: "file"})
	if err != nil {
		observability.CLILogger.Error("Failed to list objects", zap.Error(err))
		return exitError(foundry.ExitFileReadError, "Failed to list objects", err)
	}

	if inspectJSON {
		return outputJSON(objects)
	}
	return outputTable(objects)
}

// createInspectSource creates an S3 source for the inspect command.
func createInspectSource(ctx context.Context, uri *ObjectURI) (*s3.Source, error) {
	cfg := s3.Config{
		Bucket:   uri.Bucket,
		Region:   inspectRegion,
		Endpoint: inspectEndpoint,
		Profile:  inspectProfile,
		// S3-compatible services (moto, MinIO, etc.) require path-style
		// URLs when a custom endpoint is set.
		ForcePathStyle: inspectEndpoint != "",
	}
	return s3.New(ctx, cfg)
}

// listObjects lists objects matching the URI.
func listObjects(ctx context.Context, src source.Source, uri *ObjectURI) ([]source.ObjectInfo, error) {
	// An exact object key (not a pattern, not a prefix) uses Head for a
	// precise lookup. Prefix-based listing could return unrelated
	// neighbors (e.g., "jobs.log" vs "jobs.log.1").
	if !uri.IsPattern() && !uri.IsPrefix() {
		info, err := src.Head(ctx, uri.Key)
		if err != nil {
			return nil, err
		}
		return []source.ObjectInfo{*info}, nil
	}

	var objects []source.ObjectInfo
	var continuationToken string
	var matcher *match.Matcher

	if uri.IsPattern() {
		cfg := match.Config{
			Includes: []string{uri.Pattern},
		}
		var err error
		matcher, err = match.New(cfg)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern: %w", err)
		}
	}

	for len(objects) < inspectLimit {
		result, err := src.List(ctx, source.ListOptions{
			Prefix:            uri.Key,
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return nil, err
		}

		for _, obj := range result.Objects {
			if matcher != nil && !matcher.Match(obj.Key) {
				continue
			}

			objects = append(objects, obj)
			if len(objects) >= inspectLimit {
				break
			}
		}

		if !result.IsTruncated || result.ContinuationToken == "" {
			break
		}
		continuationToken = result.ContinuationToken
	}

	return objects, nil
}

// previewLine is one decoded line of the parse preview.
type previewLine struct {
	Line     int64  `json:"line"`
	Time     string `json:"time,omitempty"`
	Kind     string `json:"kind,omitempty"`
	PID      string `json:"pid,omitempty"`
	Category string `json:"category,omitempty"`
	Action   string `json:"action,omitempty"`
	ActionID string `json:"action_id,omitempty"`
	Skip     string `json:"skip,omitempty"`
}

// inspectObject shows one object's metadata plus a decoded preview of
// its first lines.
func inspectObject(ctx context.Context, src source.Source, key string) error {
	info, err := src.Head(ctx, key)
	if err != nil {
		observability.CLILogger.Error("Failed to stat object", zap.String("key", key), zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to stat object", err)
	}

	var preview []previewLine
	if inspectLines > 0 {
		rc, _, err := src.Open(ctx, key)
		if err != nil {
			observability.CLILogger.Error("Failed to open object", zap.String("key", key), zap.Error(err))
			return exitError(foundry.ExitFileReadError, "Failed to open object", err)
		}
		preview = decodePreview(rc, inspectLines)
		_ = rc.Close()
	}

	if inspectJSON {
		enc := json.NewEncoder(os.Stdout)
		out := struct {
			Key          string        `json:"key"`
			Size         int64         `json:"size"`
			LastModified time.Time     `json:"last_modified"`
			ETag         string        `json:"etag,omitempty"`
			Preview      []previewLine `json:"preview,omitempty"`
		}{
			Key:          info.Key,
			Size:         info.Size,
			LastModified: info.LastModified,
			ETag:         info.ETag,
			Preview:      preview,
		}
		return enc.Encode(out)
	}

	fmt.Printf("Key:       %s\n", info.Key)
	if info.Size >= 0 {
		fmt.Printf("Size:      %s\n", formatSize(info.Size))
	}
	if !info.LastModified.IsZero() {
		fmt.Printf("Modified:  %s\n", info.LastModified.Format("2006-01-02 15:04:05"))
	}

	if len(preview) == 0 {
		return nil
	}

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "LINE\tTIME\tKIND\tPID\tJOB")
	for _, p := range preview {
		if p.Skip != "" {
			_, _ = fmt.Fprintf(w, "%d\t-\t-\t-\t(skipped: %s)\n", p.Line, p.Skip)
			continue
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s %s %s\n",
			p.Line, p.Time, p.Kind, p.PID, p.Category, p.Action, p.ActionID)
	}

	return nil
}

// decodePreview decodes up to n lines, carrying malformed lines as skip
// entries instead of stopping.
func decodePreview(r io.Reader, n int) []previewLine {
	dec := logline.NewDecoder(r)
	if inspectDelimiter != "" {
		dec.SetDelimiter(inspectDelimiter)
	}

	var preview []previewLine
	for len(preview) < n {
		ev, err := dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			var le *logline.LineError
			if errors.As(err, &le) {
				preview = append(preview, previewLine{
					Line: le.Line,
					Skip: string(le.Reason),
				})
				continue
			}
			preview = append(preview, previewLine{
				Line: dec.Line(),
				Skip: err.Error(),
			})
			break
		}

		clock, err := daytime.Format(ev.Timestamp)
		if err != nil {
			clock = "-"
		}
		preview = append(preview, previewLine{
			Line:     dec.Line(),
			Time:     clock,
			Kind:     string(ev.Kind),
			PID:      ev.PID,
			Category: ev.Descriptor.Category,
			Action:   ev.Descriptor.Action,
			ActionID: ev.Descriptor.ActionID,
		})
	}
	return preview
}

// objectOutput is the JSON output structure for listings.
type objectOutput struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
	ETag         string    `json:"etag,omitempty"`
}

// outputJSON writes objects as JSONL to stdout.
func outputJSON(objects []source.ObjectInfo) error {
	enc := json.NewEncoder(os.Stdout)
	for _, obj := range objects {
		out := objectOutput{
			Key:          obj.Key,
			Size:         obj.Size,
			LastModified: obj.LastModified,
			ETag:         obj.ETag,
		}
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("failed to encode object: %w", err)
		}
	}
	return nil
}

// outputTable writes objects as a formatted table to stdout.
func outputTable(objects []source.ObjectInfo) error {
	if len(objects) == 0 {
		fmt.Println("No objects found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

	if _, err := fmt.Fprintln(w, "KEY\tSIZE\tMODIFIED"); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	var totalSize int64
	for _, obj := range objects {
		totalSize += obj.Size
		if _, err := fmt.Fprintf(w, "%s\t%s\t%s\n",
			obj.Key,
			formatSize(obj.Size),
			obj.LastModified.Format("2006-01-02 15:04:05")); err != nil {
			return fmt.Errorf("failed to write object: %w", err)
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush output: %w", err)
	}

	fmt.Println()
	fmt.Printf("Found %d object(s) (%s total)\n", len(objects), formatSize(totalSize))

	return nil
}

// formatSize formats bytes as human-readable size.
func formatSize(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
		TB = 1024 * GB
	)

	switch {
	case bytes >= TB:
		return fmt.Sprintf("%.1f TB", float64(bytes)/TB)
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
