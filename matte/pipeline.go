package matte

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"log/slog"
	"time"

	"github.com/chaos-io/rembg/matte/oracle"
	"github.com/chaos-io/rembg/raster"
)

// Pipeline 串联 解码 → 预处理 → 推理 → 放大 → 合成 → 编码。
// Pipeline 本身不保存请求数据，可以被多个请求并发使用；
// 唯一共享的是 oracle（通常是 *oracle.Lazy）。
type Pipeline struct {
	oracle   oracle.Oracle
	pre      Preprocessor
	opts     Options
	encoder  raster.Encoder
	observer func(ctx context.Context, s Stage)
	logger   *slog.Logger
}

type Option func(p *Pipeline)

func WithOptions(opts Options) Option {
	return func(p *Pipeline) { p.opts = opts }
}

// WithFill 设置 contain 填充色
func WithFill(c color.NRGBA) Option {
	return func(p *Pipeline) { p.pre.Fill = c }
}

func WithEncoder(e raster.Encoder) Option {
	return func(p *Pipeline) { p.encoder = e }
}

// WithObserver 每次状态变化都会回调，只用于观测
func WithObserver(fn func(ctx context.Context, s Stage)) Option {
	return func(p *Pipeline) { p.observer = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

func New(o oracle.Oracle, b oracle.Binding, opts ...Option) (*Pipeline, error) {
	if o == nil {
		return nil, errors.New("matte: nil oracle")
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{
		oracle: o,
		pre:    Preprocessor{Binding: b},
		opts:   DefaultOptions(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := p.opts.Validate(); err != nil {
		return nil, fmt.Errorf("matte: %w", err)
	}
	return p, nil
}

func (p *Pipeline) Binding() oracle.Binding {
	return p.pre.Binding
}

// run 跟踪单个请求的状态
type run struct {
	p     *Pipeline
	ctx   context.Context
	stage Stage
	start time.Time
	mark  time.Time
}

func (p *Pipeline) begin(ctx context.Context, first Stage) *run {
	now := time.Now()
	r := &run{p: p, ctx: ctx, stage: first, start: now, mark: now}
	r.notify()
	return r
}

func (r *run) notify() {
	if r.p.observer != nil {
		r.p.observer(r.ctx, r.stage)
	}
}

func (r *run) advance(next Stage) error {
	if next <= r.stage {
		panic(fmt.Sprintf("matte: illegal transition %s -> %s", r.stage, next))
	}
	r.p.logger.DebugContext(r.ctx, "stage finished", "stage", r.stage.String(), "elapsed", time.Since(r.mark))
	if err := r.ctx.Err(); err != nil {
		// 取消归到尚未开始的 next，已完成的阶段不背锅
		r.stage = next
		return r.fail(err)
	}
	r.stage = next
	r.mark = time.Now()
	r.notify()
	return nil
}

func (r *run) fail(err error) error {
	se := &StageError{Stage: r.stage, Kind: KindOf(err), Err: err}
	r.p.logger.WarnContext(r.ctx, "pipeline failed",
		"stage", se.Stage.String(), "kind", string(se.Kind), "error", err)
	r.stage = StageFailed
	r.notify()
	return se
}

func (r *run) done() {
	r.stage = StageDone
	r.notify()
	r.p.logger.DebugContext(r.ctx, "pipeline done", "elapsed", time.Since(r.start))
}

// Remove 对编码后的图片去背景，返回 PNG 字节。失败时不返回任何部分结果。
func (p *Pipeline) Remove(ctx context.Context, data []byte) ([]byte, error) {
	r := p.begin(ctx, StageDecoding)

	img, format, err := raster.Decode(data)
	if err != nil {
		return nil, r.fail(err)
	}
	p.logger.DebugContext(ctx, "image decoded", "format", format,
		"width", img.Width, "height", img.Height, "channels", img.Channels)
	if err := r.advance(StagePreprocessing); err != nil {
		return nil, err
	}

	result, err := p.process(r, img)
	if err != nil {
		return nil, err
	}
	if err := r.advance(StageEncoding); err != nil {
		return nil, err
	}

	out, err := p.encoder.Encode(result)
	if err != nil {
		return nil, r.fail(err)
	}
	r.done()
	return out, nil
}

// RemoveImage 对已解码的图片执行 预处理 → 推理 → 放大 → 合成
func (p *Pipeline) RemoveImage(ctx context.Context, img *raster.Image) (*raster.Image, error) {
	r := p.begin(ctx, StagePreprocessing)
	result, err := p.process(r, img)
	if err != nil {
		return nil, err
	}
	r.done()
	return result, nil
}

func (p *Pipeline) process(r *run, img *raster.Image) (*raster.Image, error) {
	tensor, layout, err := p.pre.Preprocess(img)
	if err != nil {
		return nil, r.fail(err)
	}
	if err := r.advance(StageInferring); err != nil {
		return nil, err
	}

	probs, err := p.oracle.Segment(r.ctx, tensor)
	if err != nil {
		return nil, r.fail(err)
	}
	if probs == nil {
		return nil, r.fail(fmt.Errorf("%w: oracle returned no map", oracle.ErrInference))
	}
	if err := r.advance(StageUpscaling); err != nil {
		return nil, err
	}

	mask, err := Upscale(probs, layout)
	if err != nil {
		return nil, r.fail(err)
	}
	if err := r.advance(StageCompositing); err != nil {
		return nil, err
	}

	result, err := Composite(img, mask, p.opts)
	if err != nil {
		return nil, r.fail(err)
	}
	return result, nil
}
