package oracle

import (
	"fmt"
	"slices"
	"sort"
)

type OutputKind string

const (
	OutputProbability OutputKind = "probability"
	OutputLabels      OutputKind = "labels"
)

// Binding 描述一个推理后端的输入输出约定。
// 同一个 Binding 在整个进程内固定，不在调用点重新推导。
type Binding struct {
	Name         string `yaml:"name" json:"name"`
	InputWidth   int    `yaml:"input_width" json:"input_width"`
	InputHeight  int    `yaml:"input_height" json:"input_height"`
	OutputWidth  int    `yaml:"output_width" json:"output_width"`
	OutputHeight int    `yaml:"output_height" json:"output_height"`

	// 归一化: (v/255 - Mean[c]) / Std[c]
	Mean [3]float32 `yaml:"mean" json:"mean"`
	Std  [3]float32 `yaml:"std" json:"std"`

	Output OutputKind `yaml:"output" json:"output"`
	// Classes 是标签模型输出的通道数，概率模型为 1
	Classes           int   `yaml:"classes" json:"classes"`
	ForegroundClasses []int `yaml:"foreground_classes" json:"foreground_classes"`
	// Rescale 对原始概率输出做 min-max 拉伸
	Rescale bool `yaml:"rescale" json:"rescale"`
}

var linear = [3]float32{1, 1, 1}

var presets = map[string]Binding{
	"u2net": {
		Name:       "u2net",
		InputWidth: 320, InputHeight: 320,
		OutputWidth: 320, OutputHeight: 320,
		Std:     linear,
		Output:  OutputProbability,
		Classes: 1,
		Rescale: true,
	},
	"u2net-imagenet": {
		Name:       "u2net-imagenet",
		InputWidth: 320, InputHeight: 320,
		OutputWidth: 320, OutputHeight: 320,
		Mean:    [3]float32{0.485, 0.456, 0.406},
		Std:     [3]float32{0.229, 0.224, 0.225},
		Output:  OutputProbability,
		Classes: 1,
		Rescale: true,
	},
	"deeplabv3": {
		Name:       "deeplabv3",
		InputWidth: 513, InputHeight: 513,
		OutputWidth: 513, OutputHeight: 513,
		Mean:              [3]float32{0.485, 0.456, 0.406},
		Std:               [3]float32{0.229, 0.224, 0.225},
		Output:            OutputLabels,
		Classes:           21,
		ForegroundClasses: []int{15},
	},
}

// Preset 按名称查找内置绑定
func Preset(name string) (Binding, error) {
	b, ok := presets[name]
	if !ok {
		return Binding{}, fmt.Errorf("unknown oracle binding %q (known: %v)", name, PresetNames())
	}
	b.ForegroundClasses = slices.Clone(b.ForegroundClasses)
	return b, nil
}

func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (b Binding) Validate() error {
	if b.InputWidth <= 0 || b.InputHeight <= 0 {
		return fmt.Errorf("binding %s: input resolution %dx%d must be positive", b.Name, b.InputWidth, b.InputHeight)
	}
	if b.OutputWidth <= 0 || b.OutputHeight <= 0 {
		return fmt.Errorf("binding %s: output resolution %dx%d must be positive", b.Name, b.OutputWidth, b.OutputHeight)
	}
	for c, s := range b.Std {
		if s == 0 {
			return fmt.Errorf("binding %s: std[%d] is zero", b.Name, c)
		}
	}
	switch b.Output {
	case OutputProbability:
	case OutputLabels:
		if b.Classes < 1 {
			return fmt.Errorf("binding %s: label output needs classes >= 1", b.Name)
		}
		if len(b.ForegroundClasses) == 0 {
			return fmt.Errorf("binding %s: label output needs foreground classes", b.Name)
		}
	default:
		return fmt.Errorf("binding %s: unknown output kind %q", b.Name, b.Output)
	}
	return nil
}

// Normalize 把通道 c 上的 8 bit 采样映射到绑定要求的数值区间
func (b Binding) Normalize(c int, v uint8) float32 {
	return (float32(v)/255 - b.Mean[c]) / b.Std[c]
}

// Discrete reports whether the binding yields class labels instead of probabilities.
func (b Binding) Discrete() bool {
	return b.Output == OutputLabels
}

func (b Binding) isForeground(class int) bool {
	return slices.Contains(b.ForegroundClasses, class)
}
