package cmd

import (
	"fmt"
	"log/slog"

	"github.com/chaos-io/rembg/config"
	"github.com/chaos-io/rembg/matte"
	"github.com/chaos-io/rembg/matte/oracle"
	"github.com/chaos-io/rembg/raster"
)

// buildOracle 按配置创建共享的推理句柄，onnx 后端在第一次使用时才加载模型
func buildOracle(cfg config.Oracle) (*oracle.Lazy, oracle.Binding, error) {
	b, err := cfg.ResolveBinding()
	if err != nil {
		return nil, oracle.Binding{}, err
	}
	switch cfg.Backend {
	case config.BackendONNX:
		return oracle.NewLazy(oracle.ONNXLoader(cfg.ONNX, b)), b, nil
	case config.BackendRemote:
		r, err := oracle.NewRemote(cfg.Remote, b, nil)
		if err != nil {
			return nil, oracle.Binding{}, err
		}
		return oracle.Shared(r), b, nil
	case config.BackendConstant:
		return oracle.Shared(oracle.Constant(b, cfg.Constant)), b, nil
	default:
		return nil, oracle.Binding{}, fmt.Errorf("unknown oracle backend %q", cfg.Backend)
	}
}

func buildPipeline(cfg *config.Config) (*matte.Pipeline, *oracle.Lazy, error) {
	o, b, err := buildOracle(cfg.Oracle)
	if err != nil {
		return nil, nil, err
	}
	fill, err := cfg.Matte.FillColor()
	if err != nil {
		return nil, nil, err
	}
	level, err := cfg.Matte.CompressionLevel()
	if err != nil {
		return nil, nil, err
	}
	p, err := matte.New(o, b,
		matte.WithOptions(cfg.Matte.Options),
		matte.WithFill(fill),
		matte.WithEncoder(raster.Encoder{CompressionLevel: level}),
		matte.WithLogger(slog.Default()),
	)
	if err != nil {
		_ = o.Close()
		return nil, nil, err
	}
	slog.Debug("pipeline ready", "backend", cfg.Oracle.Backend, "binding", b.Name, "mode", cfg.Matte.Mode)
	return p, o, nil
}
