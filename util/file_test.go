package util

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	nhttp "github.com/chaos-io/rembg/util/http"
	"github.com/chaos-io/rembg/util/http/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestReadSource_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "in.png")
	require.NoError(t, os.WriteFile(path, []byte("pixels"), 0o600))

	for _, src := range []string{path, "file://" + path} {
		data, err := ReadSource(context.Background(), nil, src)
		require.NoError(t, err)
		assert.Equal(t, []byte("pixels"), data)
	}

	_, err := ReadSource(context.Background(), nil, filepath.Join(t.TempDir(), "missing.png"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = ReadSource(context.Background(), nil, "")
	assert.Error(t, err)
}

func TestReadSource_URL(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("remote pixels"))
	}))
	defer server.Close()

	data, err := ReadSource(context.Background(), nil, server.URL+"/cat.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("remote pixels"), data)

	_, err = ReadSource(context.Background(), nil, server.URL+"/missing.png")
	var se *nhttp.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
}

func TestDownloadImage_Mock(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	cli := mocks.NewMockIClient(ctrl)
	cli.EXPECT().DoHTTPRequest(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, p *nhttp.RequestParam) error {
			assert.Equal(t, http.MethodGet, p.Method)
			assert.Equal(t, "https://example.com/a.jpg", p.RequestURI)
			*(p.Response.(*[]byte)) = []byte("jpeg")
			return nil
		})
	cli.EXPECT().DoHTTPRequest(gomock.Any(), gomock.Any()).Return(errors.New("connection refused"))

	data, err := DownloadImage(context.Background(), cli, "https://example.com/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), data)

	_, err = DownloadImage(context.Background(), cli, "https://example.com/b.jpg")
	assert.ErrorContains(t, err, "connection refused")
}

func TestWriteSink(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.png")
	require.NoError(t, WriteSink(path, []byte("png")))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), data)

	assert.Error(t, WriteSink(filepath.Join(t.TempDir(), "no", "such", "dir.png"), nil))
}

func TestIsURL(t *testing.T) {
	t.Parallel()

	assert.True(t, IsURL("http://a/b.png"))
	assert.True(t, IsURL("https://a/b.png"))
	assert.False(t, IsURL("/tmp/http.png"))
	assert.False(t, IsURL("-"))
}
