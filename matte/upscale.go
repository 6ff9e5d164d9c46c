package matte

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/chaos-io/rembg/matte/oracle"
	"github.com/nfnt/resize"
)

var ErrDimensionMismatch = errors.New("dimension mismatch")

// Upscale 把推理输出映射回原图网格，返回 SrcW*SrcH 个 [0,1] 内的概率。
//
// 先按 layout 找出概率图中的有效区域（contain 的内容部分），丢弃填充边，
// 再只把这块区域缩放到原图尺寸。概率图用双线性插值；
// 标签图显式使用最近邻，避免混合出无意义的小数类别。
func Upscale(m *oracle.ProbabilityMap, layout Layout) ([]float32, error) {
	if m == nil || m.Width <= 0 || m.Height <= 0 {
		return nil, fmt.Errorf("%w: empty probability map", ErrDimensionMismatch)
	}
	if len(m.Data) != m.Width*m.Height {
		return nil, fmt.Errorf("%w: probability map has %d cells, %dx%d needs %d",
			ErrDimensionMismatch, len(m.Data), m.Width, m.Height, m.Width*m.Height)
	}
	if layout.SrcW <= 0 || layout.SrcH <= 0 {
		return nil, fmt.Errorf("%w: target %dx%d", ErrDimensionMismatch, layout.SrcW, layout.SrcH)
	}

	region := layout.Project(m.Width, m.Height)
	crop := cropGray16(m, region)

	interp := resize.Bilinear
	if m.Discrete {
		interp = resize.NearestNeighbor
	}
	scaled := resize.Resize(uint(layout.SrcW), uint(layout.SrcH), crop, interp)

	out, err := readGray16(scaled, layout.SrcW, layout.SrcH)
	if err != nil {
		return nil, err
	}
	if m.Discrete {
		// 缩小时最近邻会对窗口内的多个格子取平均，这里按多数重新二值化
		for i, v := range out {
			if v >= 0.5 {
				out[i] = 1
			} else {
				out[i] = 0
			}
		}
	}
	return out, nil
}

// cropGray16 把有效区域复制到一张原点为 (0,0) 的 16 bit 灰度图，值先截断到 [0,1]
func cropGray16(m *oracle.ProbabilityMap, region image.Rectangle) *image.Gray16 {
	crop := image.NewGray16(image.Rect(0, 0, region.Dx(), region.Dy()))
	for y := region.Min.Y; y < region.Max.Y; y++ {
		for x := region.Min.X; x < region.Max.X; x++ {
			v := uint16(math.Round(float64(clamp01(m.Data[y*m.Width+x])) * 0xffff))
			i := crop.PixOffset(x-region.Min.X, y-region.Min.Y)
			crop.Pix[i] = uint8(v >> 8)
			crop.Pix[i+1] = uint8(v)
		}
	}
	return crop
}

func readGray16(img image.Image, w, h int) ([]float32, error) {
	b := img.Bounds()
	if b.Dx() != w || b.Dy() != h {
		return nil, fmt.Errorf("%w: resampled mask is %dx%d, want %dx%d", ErrDimensionMismatch, b.Dx(), b.Dy(), w, h)
	}
	out := make([]float32, w*h)
	if g, ok := img.(*image.Gray16); ok {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				i := g.PixOffset(b.Min.X+x, b.Min.Y+y)
				v := uint16(g.Pix[i])<<8 | uint16(g.Pix[i+1])
				out[y*w+x] = clamp01(float32(v) / 0xffff)
			}
		}
		return out, nil
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, _, _, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			out[y*w+x] = clamp01(float32(r) / 0xffff)
		}
	}
	return out, nil
}

func clamp01(v float32) float32 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
