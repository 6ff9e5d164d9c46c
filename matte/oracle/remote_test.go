package oracle

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	nhttp "github.com/chaos-io/rembg/util/http"
	"github.com/chaos-io/rembg/util/http/mocks"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func smallBinding() Binding {
	return Binding{
		Name:       "tiny",
		InputWidth: 4, InputHeight: 2,
		OutputWidth: 2, OutputHeight: 1,
		Std:     linear,
		Output:  OutputProbability,
		Classes: 1,
	}
}

func tensorFor(b Binding) *Tensor {
	t := &Tensor{Width: b.InputWidth, Height: b.InputHeight, Data: make([]float32, b.InputWidth*b.InputHeight*Channels)}
	for i := range t.Data {
		t.Data[i] = float32(i) / 10
	}
	return t
}

func TestRemote_Segment_SendsCompressedTensor(t *testing.T) {
	t.Parallel()

	b := smallBinding()
	in := tensorFor(b)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "zstd", r.Header.Get("Content-Encoding"))
		assert.Equal(t, "4", r.Header.Get("X-Tensor-Width"))
		assert.Equal(t, "2", r.Header.Get("X-Tensor-Height"))

		dec, err := zstd.NewReader(r.Body)
		require.NoError(t, err)
		defer dec.Close()
		raw, err := io.ReadAll(dec)
		require.NoError(t, err)
		require.Len(t, raw, len(in.Data)*4)
		for i, want := range in.Data {
			got := math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
			assert.Equal(t, want, got)
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"width": 2, "height": 1, "scores": [0.25, 0.75]}`))
	}))
	defer server.Close()

	r, err := NewRemote(RemoteConfig{URL: server.URL}, b, nil)
	require.NoError(t, err)
	defer func() {
		_ = r.Close()
	}()

	m, err := r.Segment(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Width)
	assert.Equal(t, 1, m.Height)
	assert.False(t, m.Discrete)
	assert.Equal(t, []float32{0.25, 0.75}, m.Data)
}

func TestRemote_Segment_ErrorKinds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{name: "服务端错误视为不可用", status: http.StatusServiceUnavailable, body: "loading", wantErr: ErrUnavailable},
		{name: "请求被拒绝视为推理错误", status: http.StatusBadRequest, body: "bad shape", wantErr: ErrInference},
		{name: "返回尺寸不符", status: http.StatusOK, body: `{"width": 3, "height": 1, "scores": [0,0,0]}`, wantErr: ErrInference},
		{name: "分数数量不符", status: http.StatusOK, body: `{"width": 2, "height": 1, "scores": [0]}`, wantErr: ErrInference},
		{name: "响应体不是 JSON", status: http.StatusOK, body: "not json", wantErr: ErrInference},
		{name: "响应字段类型错误", status: http.StatusOK, body: `{"width":"two"}`, wantErr: ErrInference},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			b := smallBinding()
			r, err := NewRemote(RemoteConfig{URL: server.URL}, b, nil)
			require.NoError(t, err)

			_, err = r.Segment(context.Background(), tensorFor(b))
			assert.ErrorIs(t, err, tt.wantErr)
			if tt.wantErr == ErrInference {
				assert.NotErrorIs(t, err, ErrUnavailable)
			}
		})
	}
}

func TestRemote_Segment_Unreachable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	b := smallBinding()
	r, err := NewRemote(RemoteConfig{URL: url}, b, nil)
	require.NoError(t, err)

	_, err = r.Segment(context.Background(), tensorFor(b))
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRemote_Segment_Labels(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	cli := mocks.NewMockIClient(ctrl)

	b := smallBinding()
	b.Output = OutputLabels
	b.Classes = 3
	b.ForegroundClasses = []int{2}

	cli.EXPECT().
		DoHTTPRequest(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, p *nhttp.RequestParam) error {
			resp := p.Response.(*segmentResp)
			resp.Width, resp.Height = 2, 1
			resp.Labels = []int{2, 1}
			return nil
		})

	r, err := NewRemote(RemoteConfig{URL: "http://oracle.local/segment"}, b, cli)
	require.NoError(t, err)

	m, err := r.Segment(context.Background(), tensorFor(b))
	require.NoError(t, err)
	assert.True(t, m.Discrete)
	assert.Equal(t, []float32{1, 0}, m.Data)
}

func TestRemote_Segment_RejectsWrongTensor(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	cli := mocks.NewMockIClient(ctrl)

	r, err := NewRemote(RemoteConfig{URL: "http://oracle.local/segment"}, smallBinding(), cli)
	require.NoError(t, err)

	_, err = r.Segment(context.Background(), &Tensor{Width: 3, Height: 3, Data: make([]float32, 27)})
	assert.ErrorIs(t, err, ErrInference)
}

func TestRemote_Ready(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	cli := mocks.NewMockIClient(ctrl)
	cli.EXPECT().
		DoHTTPRequest(gomock.Any(), gomock.Any()).
		Return(errors.New("connection refused"))

	r, err := NewRemote(RemoteConfig{URL: "http://oracle.local/segment", HealthURL: "http://oracle.local/health"}, smallBinding(), cli)
	require.NoError(t, err)
	assert.ErrorIs(t, r.Ready(context.Background()), ErrUnavailable)

	noHealth, err := NewRemote(RemoteConfig{URL: "http://oracle.local/segment"}, smallBinding(), cli)
	require.NoError(t, err)
	assert.NoError(t, noHealth.Ready(context.Background()))
}
