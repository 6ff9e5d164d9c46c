package matte

import (
	"fmt"
	"math"

	"github.com/chaos-io/rembg/raster"
)

type Mode string

const (
	// ModeHard alpha 只有 0 和 255
	ModeHard Mode = "hard"
	// ModeSoft alpha = round(p*255)，可选阈值、形态学修整和模糊
	ModeSoft Mode = "soft"
)

// Refinement 软遮罩的修整参数
type Refinement struct {
	// 概率高于 Foreground 的像素强制为 255
	Foreground float64 `yaml:"foreground"`
	// 概率低于 Background 的像素强制为 0
	Background float64 `yaml:"background"`
	// ErodeRadius 腐蚀确定背景区域，让背景不再侵入前景轮廓
	ErodeRadius int `yaml:"erode_radius"`
	// DilateRadius 膨胀确定前景区域，填补前景内部的小洞
	DilateRadius int `yaml:"dilate_radius"`
}

type Options struct {
	Mode      Mode        `yaml:"mode"`
	Cutoff    float64     `yaml:"cutoff"`
	Refine    *Refinement `yaml:"refine"`
	BlurSigma float64     `yaml:"blur_sigma"`
}

// DefaultOptions 与原始实现一致：硬阈值 0.5（8 bit 下即 128）
func DefaultOptions() Options {
	return Options{Mode: ModeHard, Cutoff: 0.5}
}

// DefaultRefinement 取自 rembg 的 alpha matting 默认值
func DefaultRefinement() *Refinement {
	return &Refinement{
		Foreground:  240.0 / 255,
		Background:  10.0 / 255,
		ErodeRadius: 10,
	}
}

func (o Options) Validate() error {
	switch o.Mode {
	case ModeHard:
		if o.Cutoff < 0 || o.Cutoff > 1 {
			return fmt.Errorf("cutoff %v outside [0,1]", o.Cutoff)
		}
		if o.Refine != nil || o.BlurSigma > 0 {
			return fmt.Errorf("refinement and blur need %q mode", ModeSoft)
		}
	case ModeSoft:
		if o.BlurSigma < 0 {
			return fmt.Errorf("blur sigma %v is negative", o.BlurSigma)
		}
		if r := o.Refine; r != nil {
			if r.Background < 0 || r.Foreground > 1 || r.Background > r.Foreground {
				return fmt.Errorf("thresholds need 0 <= background (%v) <= foreground (%v) <= 1", r.Background, r.Foreground)
			}
			if r.ErodeRadius < 0 || r.DilateRadius < 0 {
				return fmt.Errorf("morphology radius must not be negative")
			}
		}
	default:
		return fmt.Errorf("unknown matte mode %q", o.Mode)
	}
	return nil
}

// Alpha 把原图分辨率的概率转换为 alpha
func Alpha(prob []float32, w, h int, opt Options) ([]uint8, error) {
	if len(prob) != w*h {
		return nil, fmt.Errorf("%w: mask has %d values, image has %d pixels", ErrDimensionMismatch, len(prob), w*h)
	}
	if err := opt.Validate(); err != nil {
		return nil, err
	}

	alpha := make([]uint8, len(prob))
	if opt.Mode == ModeHard {
		for i, p := range prob {
			if float64(p) > opt.Cutoff {
				alpha[i] = 255
			}
		}
		return alpha, nil
	}

	for i, p := range prob {
		alpha[i] = uint8(math.Round(float64(clamp01(p)) * 255))
	}
	if r := opt.Refine; r != nil {
		refine(alpha, prob, w, h, r)
	}
	if opt.BlurSigma > 0 {
		alpha = blurAlpha(alpha, w, h, opt.BlurSigma)
	}
	return alpha, nil
}

func refine(alpha []uint8, prob []float32, w, h int, r *Refinement) {
	fg := make([]bool, len(prob))
	bg := make([]bool, len(prob))
	for i, p := range prob {
		fg[i] = float64(p) > r.Foreground
		bg[i] = float64(p) < r.Background
	}
	if r.DilateRadius > 0 {
		fg = dilate(fg, w, h, r.DilateRadius)
	}
	if r.ErodeRadius > 0 {
		bg = erode(bg, w, h, r.ErodeRadius)
	}
	for i := range alpha {
		switch {
		case fg[i]:
			alpha[i] = 255
		case bg[i]:
			alpha[i] = 0
		}
	}
}

// Composite 合成 RGBA 结果：alpha 为 0 的像素 RGB 也清零，避免有损再编码时泄露背景色；
// alpha 大于 0 的像素保留原图 RGB。
func Composite(img *raster.Image, prob []float32, opt Options) (*raster.Image, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}
	if len(prob) != img.PixelCount() {
		return nil, fmt.Errorf("%w: mask has %d values, image %dx%d has %d pixels",
			ErrDimensionMismatch, len(prob), img.Width, img.Height, img.PixelCount())
	}
	alpha, err := Alpha(prob, img.Width, img.Height, opt)
	if err != nil {
		return nil, err
	}

	out, err := raster.New(img.Width, img.Height, 4)
	if err != nil {
		return nil, err
	}
	for i, a := range alpha {
		if a == 0 {
			continue
		}
		s := i * img.Channels
		o := i * 4
		out.Pix[o] = img.Pix[s]
		out.Pix[o+1] = img.Pix[s+1]
		out.Pix[o+2] = img.Pix[s+2]
		out.Pix[o+3] = a
	}
	return out, nil
}
