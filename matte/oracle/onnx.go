package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNXConfig 描述 onnxruntime 后端的加载参数
type ONNXConfig struct {
	LibraryPath string `yaml:"library_path"`
	ModelPath   string `yaml:"model_path"`
	InputName   string `yaml:"input_name"`
	OutputName  string `yaml:"output_name"`
	Threads     int    `yaml:"threads"`
}

// ONNX 通过 onnxruntime 在本进程内执行模型。
// 模型输入是 NCHW，Segment 负责把交错的 Tensor 转置过去。
// DynamicAdvancedSession 每次调用使用独立的输入输出张量，可以并发 Run。
type ONNX struct {
	cfg     ONNXConfig
	binding Binding
	session *ort.DynamicAdvancedSession
}

var envMu sync.Mutex

func initEnvironment(libraryPath string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	return nil
}

// LoadONNX 初始化 onnxruntime 环境并创建会话
func LoadONNX(cfg ONNXConfig, b Binding) (*ONNX, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("%w: model: %w", ErrUnavailable, err)
	}
	if err := initEnvironment(cfg.LibraryPath); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("%w: session options: %w", ErrUnavailable, err)
	}
	defer func() {
		_ = opts.Destroy()
	}()
	if cfg.Threads > 0 {
		if err := opts.SetIntraOpNumThreads(cfg.Threads); err != nil {
			return nil, fmt.Errorf("%w: set threads: %w", ErrUnavailable, err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{cfg.InputName}, []string{cfg.OutputName}, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create ONNX session: %w", ErrUnavailable, err)
	}

	slog.Info("onnx session created", "model", cfg.ModelPath, "binding", b.Name,
		"input", cfg.InputName, "output", cfg.OutputName)
	return &ONNX{cfg: cfg, binding: b, session: session}, nil
}

// ONNXLoader 返回供 Lazy 使用的加载函数
func ONNXLoader(cfg ONNXConfig, b Binding) Loader {
	return func(ctx context.Context) (Oracle, error) {
		return LoadONNX(cfg, b)
	}
}

func (o *ONNX) Segment(ctx context.Context, t *Tensor) (*ProbabilityMap, error) {
	if err := CheckTensor(t, o.binding); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b := o.binding
	input, err := ort.NewTensor(ort.NewShape(1, Channels, int64(t.Height), int64(t.Width)), toCHW(t))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create input tensor: %w", ErrInference, err)
	}
	defer func() {
		_ = input.Destroy()
	}()

	classes := max(b.Classes, 1)
	output, err := ort.NewEmptyTensor[float32](
		ort.NewShape(1, int64(classes), int64(b.OutputHeight), int64(b.OutputWidth)))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create output tensor: %w", ErrInference, err)
	}
	defer func() {
		_ = output.Destroy()
	}()

	if err := o.session.Run([]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInference, err)
	}
	return decodeOutput(b, output.GetData())
}

func (o *ONNX) Close() error {
	if o.session == nil {
		return nil
	}
	err := o.session.Destroy()
	o.session = nil
	return err
}

// toCHW 把交错的 HWC 数据转成 CHW
func toCHW(t *Tensor) []float32 {
	n := t.Width * t.Height
	out := make([]float32, n*Channels)
	for i := 0; i < n; i++ {
		for c := 0; c < Channels; c++ {
			out[c*n+i] = t.Data[i*Channels+c]
		}
	}
	return out
}

// decodeOutput 把模型的原始输出 (C x H x W) 变成 ProbabilityMap。
// 概率模型取第一个通道；标签模型逐格取 argmax，再映射为前景 1 / 背景 0。
func decodeOutput(b Binding, raw []float32) (*ProbabilityMap, error) {
	n := b.OutputWidth * b.OutputHeight
	classes := max(b.Classes, 1)
	if len(raw) < n*classes {
		return nil, fmt.Errorf("%w: output has %d values, want %d", ErrInference, len(raw), n*classes)
	}

	m := &ProbabilityMap{
		Width:    b.OutputWidth,
		Height:   b.OutputHeight,
		Data:     make([]float32, n),
		Discrete: b.Discrete(),
	}
	if !m.Discrete {
		copy(m.Data, raw[:n])
		if b.Rescale {
			minMaxRescale(m.Data)
		}
		return m, nil
	}

	for i := 0; i < n; i++ {
		best := 0
		for c := 1; c < classes; c++ {
			if raw[c*n+i] > raw[best*n+i] {
				best = c
			}
		}
		if b.isForeground(best) {
			m.Data[i] = 1
		}
	}
	return m, nil
}
