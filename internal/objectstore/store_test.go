package objectstore

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"ragpipe/internal/util"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/require"
)

func TestLocalStoreFetch(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "tenant"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "tenant", "a.txt"), []byte("hello"), 0o644))

	s := NewLocalStore(root)
	b, err := s.Fetch(context.Background(), "tenant/a.txt")
	require.NoError(t, err)
	require.Equal(t, "hello", string(b))

	b, err = s.Fetch(context.Background(), "../../tenant/a.txt")
	require.NoError(t, err, "parent segments are clamped to the root")
	require.Equal(t, "hello", string(b))

	_, err = s.Fetch(context.Background(), "tenant/missing.txt")
	require.True(t, errors.Is(err, util.ErrNotFound))
}

type fakeDownloader struct {
	body []byte
	err  error
	key  string
}

func (f *fakeDownloader) Download(_ context.Context, w io.WriterAt, params *s3.GetObjectInput, _ ...func(*manager.Downloader)) (int64, error) {
	f.key = *params.Key
	if f.err != nil {
		return 0, f.err
	}
	n, err := w.WriteAt(f.body, 0)
	return int64(n), err
}

func TestS3StoreFetch(t *testing.T) {
	d := &fakeDownloader{body: []byte("pdf bytes")}
	s := &S3Store{bucket: "docs", downloader: d}
	b, err := s.Fetch(context.Background(), "t1/file.pdf")
	require.NoError(t, err)
	require.Equal(t, "pdf bytes", string(b))
	require.Equal(t, "t1/file.pdf", d.key)

	s.downloader = &fakeDownloader{err: &types.NoSuchKey{}}
	_, err = s.Fetch(context.Background(), "gone.pdf")
	require.True(t, errors.Is(err, util.ErrNotFound))
}
