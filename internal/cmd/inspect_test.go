package cmd

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gotempus/pkg/source"
)

// mockSource implements source.Source for testing.
type mockSource struct {
	// headCalls tracks calls to Head with the key argument
	headCalls []string
	// listCalls tracks calls to List with the prefix argument
	listCalls []string

	// headResult is returned by Head
	headResult *source.ObjectInfo
	// headErr is returned by Head if set
	headErr error

	// listResult is returned by List
	listResult *source.ListResult
	// listErr is returned by List if set
	listErr error
}

func (m *mockSource) Head(ctx context.Context, key string) (*source.ObjectInfo, error) {
	m.headCalls = append(m.headCalls, key)
	if m.headErr != nil {
		return nil, m.headErr
	}
	return m.headResult, nil
}

func (m *mockSource) List(ctx context.Context, opts source.ListOptions) (*source.ListResult, error) {
	m.listCalls = append(m.listCalls, opts.Prefix)
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.listResult, nil
}

func (m *mockSource) Open(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	return nil, 0, source.ErrNotFound
}

func (m *mockSource) Close() error {
	return nil
}

func TestListObjects_UsesHeadForExactKey(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name         string
		uri          *ObjectURI
		headResult   *source.ObjectInfo
		listResult   *source.ListResult
		wantHeadCall bool
		wantListCall bool
		wantKey      string // expected key passed to Head
		wantPrefix   string // expected prefix passed to List
		wantCount    int    // expected number of objects returned
	}{
		{
			name: "exact key uses Head",
			uri: &ObjectURI{
				Provider: "s3",
				Bucket:   "bucket",
				Key:      "logs/daily/jobs.log",
			},
			headResult: &source.ObjectInfo{
				Key:          "logs/daily/jobs.log",
				Size:         1024,
				LastModified: now,
			},
			wantHeadCall: true,
			wantListCall: false,
			wantKey:      "logs/daily/jobs.log",
			wantCount:    1,
		},
		{
			name: "prefix uses List",
			uri: &ObjectURI{
				Provider: "s3",
				Bucket:   "bucket",
				Key:      "logs/daily/",
			},
			listResult: &source.ListResult{
				Objects: []source.ObjectInfo{
					{Key: "logs/daily/jobs-1.log", Size: 100, LastModified: now},
					{Key: "logs/daily/jobs-2.log", Size: 200, LastModified: now},
				},
				IsTruncated: false,
			},
			wantHeadCall: false,
			wantListCall: true,
			wantPrefix:   "logs/daily/",
			wantCount:    2,
		},
		{
			name: "empty key (bucket root) uses List",
			uri: &ObjectURI{
				Provider: "s3",
				Bucket:   "bucket",
				Key:      "",
			},
			listResult: &source.ListResult{
				Objects: []source.ObjectInfo{
					{Key: "jobs.log", Size: 100, LastModified: now},
				},
				IsTruncated: false,
			},
			wantHeadCall: false,
			wantListCall: true,
			wantPrefix:   "",
			wantCount:    1,
		},
		{
			name: "glob pattern uses List with derived prefix",
			uri: &ObjectURI{
				Provider: "s3",
				Bucket:   "bucket",
				Key:      "logs/2026/",
				Pattern:  "logs/2026/**/*.log",
			},
			listResult: &source.ListResult{
				Objects: []source.ObjectInfo{
					{Key: "logs/2026/01/jobs.log", Size: 100, LastModified: now},
					{Key: "logs/2026/01/jobs.csv", Size: 200, LastModified: now}, // won't match pattern
				},
				IsTruncated: false,
			},
			wantHeadCall: false,
			wantListCall: true,
			wantPrefix:   "logs/2026/",
			wantCount:    1, // only .log matches
		},
		{
			name: "unescaped key with literal asterisk uses Head",
			uri: &ObjectURI{
				Provider: "s3",
				Bucket:   "bucket",
				Key:      "logs/jobs*.log", // already unescaped by ParseURI
			},
			headResult: &source.ObjectInfo{
				Key:          "logs/jobs*.log",
				Size:         512,
				LastModified: now,
			},
			wantHeadCall: true,
			wantListCall: false,
			wantKey:      "logs/jobs*.log",
			wantCount:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockSource{
				headResult: tt.headResult,
				listResult: tt.listResult,
			}

			// Save and restore inspectLimit
			oldLimit := inspectLimit
			inspectLimit = 100
			defer func() { inspectLimit = oldLimit }()

			objects, err := listObjects(context.Background(), mock, tt.uri)
			require.NoError(t, err)

			// Verify correct method was called
			if tt.wantHeadCall {
				require.Len(t, mock.headCalls, 1, "expected Head to be called")
				assert.Equal(t, tt.wantKey, mock.headCalls[0])
				assert.Empty(t, mock.listCalls, "expected List not to be called")
			}
			if tt.wantListCall {
				require.Len(t, mock.listCalls, 1, "expected List to be called")
				assert.Equal(t, tt.wantPrefix, mock.listCalls[0])
				assert.Empty(t, mock.headCalls, "expected Head not to be called")
			}

			// Verify result count
			assert.Len(t, objects, tt.wantCount)
		})
	}
}

func TestDecodePreview(t *testing.T) {
	oldDelim := inspectDelimiter
	inspectDelimiter = ""
	defer func() { inspectDelimiter = oldDelim }()

	input := strings.Join([]string{
		"07:16:02,scheduled task 032,START,37980",
		"not a log line",
		"07:16:04,scheduled task 032,END,37980",
		"07:20:00,sphere deploy 115,START,57832",
	}, "\n")

	preview := decodePreview(strings.NewReader(input), 10)
	require.Len(t, preview, 4)

	assert.Equal(t, int64(1), preview[0].Line)
	assert.Equal(t, "07:16:02", preview[0].Time)
	assert.Equal(t, "START", preview[0].Kind)
	assert.Equal(t, "37980", preview[0].PID)
	assert.Equal(t, "scheduled", preview[0].Category)
	assert.Equal(t, "task", preview[0].Action)
	assert.Equal(t, "032", preview[0].ActionID)
	assert.Empty(t, preview[0].Skip)

	assert.Equal(t, int64(2), preview[1].Line)
	assert.Equal(t, "field_count", preview[1].Skip)

	assert.Equal(t, "END", preview[2].Kind)
	assert.Equal(t, "sphere", preview[3].Category)
}

func TestDecodePreview_RespectsLineBound(t *testing.T) {
	oldDelim := inspectDelimiter
	inspectDelimiter = ""
	defer func() { inspectDelimiter = oldDelim }()

	var b strings.Builder
	for i := 0; i < 20; i++ {
		b.WriteString("09:00:00,scheduled task 001,START,100\n")
	}

	preview := decodePreview(strings.NewReader(b.String()), 5)
	assert.Len(t, preview, 5)
}
