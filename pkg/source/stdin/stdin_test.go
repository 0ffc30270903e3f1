package stdin

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gotempus/pkg/source"
)

func TestList_SinglePseudoObject(t *testing.T) {
	src := New(strings.NewReader("data\n"))
	defer src.Close()

	res, err := src.List(context.Background(), source.ListOptions{})
	require.NoError(t, err)
	require.Len(t, res.Objects, 1)
	assert.Equal(t, "-", res.Objects[0].Key)
	assert.Equal(t, int64(-1), res.Objects[0].Size)
	assert.False(t, res.IsTruncated)
}

func TestList_PrefixScoping(t *testing.T) {
	src := New(strings.NewReader(""))
	defer src.Close()

	res, err := src.List(context.Background(), source.ListOptions{Prefix: "jobs/"})
	require.NoError(t, err)
	assert.Empty(t, res.Objects)

	res, err = src.List(context.Background(), source.ListOptions{Prefix: "-"})
	require.NoError(t, err)
	assert.Len(t, res.Objects, 1)
}

func TestHead(t *testing.T) {
	src := New(strings.NewReader(""))
	defer src.Close()

	info, err := src.Head(context.Background(), "-")
	require.NoError(t, err)
	assert.Equal(t, "-", info.Key)
	assert.Equal(t, int64(-1), info.Size)

	_, err = src.Head(context.Background(), "other")
	require.Error(t, err)
	assert.True(t, source.IsNotFound(err))
}

func TestOpen_ConsumesOnce(t *testing.T) {
	src := New(strings.NewReader("09:00:00,scheduled cron_job 1,START,100\n"))
	defer src.Close()

	rc, size, err := src.Open(context.Background(), "-")
	require.NoError(t, err)
	assert.Equal(t, int64(-1), size)

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "09:00:00,scheduled cron_job 1,START,100\n", string(data))
	require.NoError(t, rc.Close())

	// The stream is gone after the first open.
	_, _, err = src.Open(context.Background(), "-")
	require.Error(t, err)
	assert.True(t, source.IsNotFound(err))
}

func TestOpen_UnknownKey(t *testing.T) {
	src := New(strings.NewReader("data"))
	defer src.Close()

	_, _, err := src.Open(context.Background(), "cron.log")
	require.Error(t, err)
	assert.True(t, source.IsNotFound(err))

	var srcErr *source.SourceError
	require.ErrorAs(t, err, &srcErr)
	assert.Equal(t, source.TypeStdin, srcErr.Source)

	// The unknown key must not consume the stream.
	_, _, err = src.Open(context.Background(), "-")
	require.NoError(t, err)
}
