// Package source defines abstractions for log storage backends.
//
// Sources implement a minimal read-only surface: listing, metadata
// retrieval, and content access. Authentication uses SDK default
// credential chains - sources should not implement custom auth logic.
package source

import (
	"context"
	"io"
	"time"
)

// Source abstracts read access to a set of log objects.
//
// Implementations should:
//   - Use SDK default credential chains where applicable
//   - Support pagination via continuation tokens
//   - Be safe for concurrent use
type Source interface {
	// List returns a page of objects with the given prefix,
	// in lexical key order.
	// Use ContinuationToken from ListResult for subsequent pages.
	List(ctx context.Context, opts ListOptions) (*ListResult, error)

	// Open returns the content of a single object along with its size
	// in bytes. A size of -1 means the size is unknown (streams).
	// Returns ErrNotFound if the object does not exist.
	Open(ctx context.Context, key string) (io.ReadCloser, int64, error)

	// Head returns metadata for a single object.
	// Returns ErrNotFound if the object does not exist.
	Head(ctx context.Context, key string) (*ObjectInfo, error)

	// Close releases any resources held by the source.
	Close() error
}

// PathResolver is an optional capability for sources backed by the
// local filesystem. Follow mode requires it to watch the file on disk.
type PathResolver interface {
	// Path resolves a key to an absolute filesystem path.
	Path(key string) (string, error)
}

// ListOptions configures a List operation.
type ListOptions struct {
	// Prefix filters results to keys starting with this value.
	// Empty string lists all objects.
	Prefix string

	// ContinuationToken resumes listing from a previous ListResult.
	// Empty string starts from the beginning.
	ContinuationToken string

	// MaxKeys limits the number of objects returned per page.
	// Zero uses the source default (typically 1000).
	MaxKeys int
}

// ListResult contains a page of objects from a List operation.
type ListResult struct {
	// Objects contains the object entries for this page.
	Objects []ObjectInfo

	// ContinuationToken is used to retrieve the next page.
	// Empty string indicates no more pages.
	ContinuationToken string

	// IsTruncated indicates whether more results are available.
	IsTruncated bool
}

// ObjectInfo contains metadata for a single object.
type ObjectInfo struct {
	// Key is the full object key (path) within the source.
	Key string

	// Size is the object size in bytes, or -1 when unknown.
	Size int64

	// ETag is the entity tag, when the backend provides one.
	ETag string

	// LastModified is when the object was last modified.
	LastModified time.Time
}

// Type identifies a log source backend.
type Type string

const (
	// TypeFile represents local filesystem log files.
	TypeFile Type = "file"

	// TypeS3 represents AWS S3 or S3-compatible storage.
	TypeS3 Type = "s3"

	// TypeStdin represents a log stream on standard input.
	TypeStdin Type = "stdin"
)

// String returns the string representation of the source type.
func (t Type) String() string {
	return string(t)
}
