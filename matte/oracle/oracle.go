package oracle

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnavailable 推理后端未加载或不可达
	ErrUnavailable = errors.New("oracle unavailable")
	// ErrInference 推理后端拒绝输入或输出形状错误
	ErrInference = errors.New("oracle inference failed")
)

// Tensor 是预处理后的输入：Width*Height*3 个 float32，行优先、RGB 通道交错
type Tensor struct {
	Width  int
	Height int
	Data   []float32
}

// Channels is fixed: only RGB reaches an oracle.
const Channels = 3

// ProbabilityMap 是推理输出，每个格子一个前景分数。
// Discrete 为 true 时值只会是 0 或 1（由类别 id 映射而来），不能做双线性混合。
type ProbabilityMap struct {
	Width    int
	Height   int
	Data     []float32
	Discrete bool
}

// Oracle 根据归一化张量给出前景概率图
type Oracle interface {
	Segment(ctx context.Context, t *Tensor) (*ProbabilityMap, error)
}

// Prober is implemented by oracles that can report readiness without running inference.
type Prober interface {
	Ready(ctx context.Context) error
}

// Func 把普通函数适配为 Oracle
type Func func(ctx context.Context, t *Tensor) (*ProbabilityMap, error)

func (f Func) Segment(ctx context.Context, t *Tensor) (*ProbabilityMap, error) {
	return f(ctx, t)
}

// CheckTensor 校验张量形状是否符合绑定的输入分辨率
func CheckTensor(t *Tensor, b Binding) error {
	if t == nil {
		return fmt.Errorf("%w: nil tensor", ErrInference)
	}
	if t.Width != b.InputWidth || t.Height != b.InputHeight {
		return fmt.Errorf("%w: tensor is %dx%d, %s expects %dx%d",
			ErrInference, t.Width, t.Height, b.Name, b.InputWidth, b.InputHeight)
	}
	if len(t.Data) != t.Width*t.Height*Channels {
		return fmt.Errorf("%w: tensor has %d samples, want %d",
			ErrInference, len(t.Data), t.Width*t.Height*Channels)
	}
	return nil
}

// Constant returns an oracle that answers every request with the same score,
// sized to the binding's output resolution.
func Constant(b Binding, score float32) Oracle {
	return Func(func(ctx context.Context, t *Tensor) (*ProbabilityMap, error) {
		if err := CheckTensor(t, b); err != nil {
			return nil, err
		}
		m := &ProbabilityMap{
			Width:    b.OutputWidth,
			Height:   b.OutputHeight,
			Data:     make([]float32, b.OutputWidth*b.OutputHeight),
			Discrete: b.Discrete(),
		}
		for i := range m.Data {
			m.Data[i] = score
		}
		return m, nil
	})
}

// minMaxRescale 把输出线性拉伸到 [0,1]，与 rembg 对 u2net 输出的处理一致
func minMaxRescale(data []float32) {
	if len(data) == 0 {
		return
	}
	lo, hi := data[0], data[0]
	for _, v := range data {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	span := hi - lo
	if span <= 0 {
		return
	}
	for i, v := range data {
		data[i] = (v - lo) / span
	}
}
