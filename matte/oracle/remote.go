package oracle

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	nhttp "github.com/chaos-io/rembg/util/http"
	"github.com/klauspost/compress/zstd"
)

// RemoteConfig 描述第三方推理服务
type RemoteConfig struct {
	URL       string        `yaml:"url"`
	HealthURL string        `yaml:"health_url"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Remote 把张量发送给外部推理服务。
//
// 请求体是小端 float32 的交错张量，经 zstd 压缩；
// 尺寸放在 X-Tensor-Width / X-Tensor-Height 头里。
// 响应为 JSON，概率模型返回 scores，标签模型返回 labels。
type Remote struct {
	cfg     RemoteConfig
	binding Binding
	cli     nhttp.IClient
	enc     *zstd.Encoder
}

type segmentResp struct {
	Width  int       `json:"width"`
	Height int       `json:"height"`
	Scores []float32 `json:"scores"`
	Labels []int     `json:"labels"`
}

func NewRemote(cfg RemoteConfig, b Binding, cli nhttp.IClient) (*Remote, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if cfg.URL == "" {
		return nil, errors.New("remote oracle: url is required")
	}
	if cli == nil {
		cli = nhttp.NewHTTPClient()
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	return &Remote{cfg: cfg, binding: b, cli: cli, enc: enc}, nil
}

func (r *Remote) Segment(ctx context.Context, t *Tensor) (*ProbabilityMap, error) {
	if err := CheckTensor(t, r.binding); err != nil {
		return nil, err
	}

	reqParam := &nhttp.RequestParam{
		RequestURI: r.cfg.URL,
		Method:     http.MethodPost,
		Header: map[string]string{
			"Content-Type":     "application/octet-stream",
			"Content-Encoding": "zstd",
			"X-Tensor-Width":   fmt.Sprint(t.Width),
			"X-Tensor-Height":  fmt.Sprint(t.Height),
			"X-Binding":        r.binding.Name,
		},
		Body:     r.encodeTensor(t),
		Response: &segmentResp{},
		Timeout:  r.cfg.Timeout,
	}
	if err := r.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return nil, classify(ctx, err)
	}
	return r.toMap(reqParam.Response.(*segmentResp))
}

// Ready 调用健康检查地址，没有配置时视为就绪
func (r *Remote) Ready(ctx context.Context) error {
	if r.cfg.HealthURL == "" {
		return nil
	}
	err := r.cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: r.cfg.HealthURL,
		Method:     http.MethodGet,
		Timeout:    r.cfg.Timeout,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

func (r *Remote) Close() error {
	return r.enc.Close()
}

func (r *Remote) encodeTensor(t *Tensor) []byte {
	raw := make([]byte, 4*len(t.Data))
	for i, v := range t.Data {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	return r.enc.EncodeAll(raw, make([]byte, 0, len(raw)/2))
}

func (r *Remote) toMap(resp *segmentResp) (*ProbabilityMap, error) {
	b := r.binding
	if resp.Width != b.OutputWidth || resp.Height != b.OutputHeight {
		return nil, fmt.Errorf("%w: service answered %dx%d, %s declares %dx%d",
			ErrInference, resp.Width, resp.Height, b.Name, b.OutputWidth, b.OutputHeight)
	}
	n := resp.Width * resp.Height
	m := &ProbabilityMap{Width: resp.Width, Height: resp.Height, Discrete: b.Discrete()}

	if m.Discrete {
		if len(resp.Labels) != n {
			return nil, fmt.Errorf("%w: got %d labels, want %d", ErrInference, len(resp.Labels), n)
		}
		m.Data = make([]float32, n)
		for i, class := range resp.Labels {
			if b.isForeground(class) {
				m.Data[i] = 1
			}
		}
		return m, nil
	}

	if len(resp.Scores) != n {
		return nil, fmt.Errorf("%w: got %d scores, want %d", ErrInference, len(resp.Scores), n)
	}
	m.Data = resp.Scores
	if b.Rescale {
		minMaxRescale(m.Data)
	}
	return m, nil
}

// classify 区分不可达（连接失败、5xx）和推理失败（4xx、响应体无法解码）
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, nhttp.ErrDecodeResponse) {
		return fmt.Errorf("%w: %w", ErrInference, err)
	}
	var statusErr *nhttp.StatusError
	if errors.As(err, &statusErr) && !statusErr.Temporary() {
		return fmt.Errorf("%w: %w", ErrInference, err)
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
