package matte

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/chaos-io/rembg/matte/oracle"
	"github.com/chaos-io/rembg/raster"
	"golang.org/x/image/draw"
)

// Layout 记录 contain 缩放的几何关系：
// 源图 SrcW x SrcH 等比缩放后放在 DstW x DstH 画布的 Content 区域内，其余为填充。
type Layout struct {
	SrcW, SrcH int
	DstW, DstH int
	Scale      float64
	Content    image.Rectangle
}

// ContainLayout 计算 contain 布局，内容区域在画布上居中
func ContainLayout(srcW, srcH, dstW, dstH int) Layout {
	scale := math.Min(float64(dstW)/float64(srcW), float64(dstH)/float64(srcH))
	w := min(dstW, max(1, int(math.Round(float64(srcW)*scale))))
	h := min(dstH, max(1, int(math.Round(float64(srcH)*scale))))
	left := (dstW - w) / 2
	top := (dstH - h) / 2
	return Layout{
		SrcW: srcW, SrcH: srcH,
		DstW: dstW, DstH: dstH,
		Scale:   scale,
		Content: image.Rect(left, top, left+w, top+h),
	}
}

// Project 把内容区域从画布坐标映射到 w x h 的网格（推理输出分辨率可能与输入不同）
func (l Layout) Project(w, h int) image.Rectangle {
	if w == l.DstW && h == l.DstH {
		return l.Content
	}
	sx := float64(w) / float64(l.DstW)
	sy := float64(h) / float64(l.DstH)
	x0 := int(math.Round(float64(l.Content.Min.X) * sx))
	y0 := int(math.Round(float64(l.Content.Min.Y) * sy))
	x1 := int(math.Round(float64(l.Content.Max.X) * sx))
	y1 := int(math.Round(float64(l.Content.Max.Y) * sy))
	x1 = min(w, max(x1, x0+1))
	y1 = min(h, max(y1, y0+1))
	return image.Rect(min(x0, x1-1), min(y0, y1-1), x1, y1)
}

// Preprocessor 把任意尺寸的图片变成推理输入：
//
//	contain 缩放到绑定的输入分辨率，双线性插值
//	空白区域用 Fill 的 RGB 填充，Fill 的 alpha 不参与
//	丢弃 alpha，只保留 RGB
//	按绑定的 mean/std 归一化
type Preprocessor struct {
	Binding oracle.Binding
	Fill    color.NRGBA
}

func NewPreprocessor(b oracle.Binding) *Preprocessor {
	return &Preprocessor{Binding: b}
}

func (p *Preprocessor) Preprocess(img *raster.Image) (*oracle.Tensor, Layout, error) {
	if err := img.Validate(); err != nil {
		return nil, Layout{}, err
	}
	b := p.Binding
	if b.InputWidth <= 0 || b.InputHeight <= 0 {
		return nil, Layout{}, fmt.Errorf("preprocess: binding %s has no input resolution", b.Name)
	}
	layout := ContainLayout(img.Width, img.Height, b.InputWidth, b.InputHeight)

	canvas := image.NewNRGBA(image.Rect(0, 0, b.InputWidth, b.InputHeight))
	// 画布按不透明色填充，否则 NRGBA 在 Src 合成时会把低 alpha 的 RGB 预乘掉
	fill := color.NRGBA{R: p.Fill.R, G: p.Fill.G, B: p.Fill.B, A: 255}
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(fill), image.Point{}, draw.Src)
	// Kernel.Scale 在缩小时会按比例放宽卷积核，相当于面积加权
	draw.BiLinear.Scale(canvas, layout.Content, img.OpaqueNRGBA(), image.Rect(0, 0, img.Width, img.Height), draw.Src, nil)

	t := &oracle.Tensor{
		Width:  b.InputWidth,
		Height: b.InputHeight,
		Data:   make([]float32, b.InputWidth*b.InputHeight*oracle.Channels),
	}
	for y := 0; y < canvas.Rect.Dy(); y++ {
		row := canvas.Pix[y*canvas.Stride:]
		for x := 0; x < canvas.Rect.Dx(); x++ {
			o := (y*t.Width + x) * oracle.Channels
			for c := 0; c < oracle.Channels; c++ {
				t.Data[o+c] = b.Normalize(c, row[x*4+c])
			}
		}
	}
	return t, layout, nil
}
