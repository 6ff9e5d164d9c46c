package raster

import (
	"errors"
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

var (
	ErrInvalidImage = errors.New("invalid image")
	ErrDecode       = errors.New("decode error")
	ErrEncode       = errors.New("encode error")
)

// Image 是解码后的稠密像素缓冲区，行优先、通道交错，每个采样 8 bit。
// Channels 只允许 3 (RGB) 或 4 (RGBA)。
type Image struct {
	Width    int
	Height   int
	Channels int
	Pix      []uint8
}

// New 分配一张全零图像
func New(width, height, channels int) (*Image, error) {
	img := &Image{Width: width, Height: height, Channels: channels}
	if err := img.checkShape(); err != nil {
		return nil, err
	}
	img.Pix = make([]uint8, width*height*channels)
	return img, nil
}

func (m *Image) checkShape() error {
	if m.Width <= 0 || m.Height <= 0 {
		return fmt.Errorf("%w: zero dimension %dx%d", ErrInvalidImage, m.Width, m.Height)
	}
	if m.Channels != 3 && m.Channels != 4 {
		return fmt.Errorf("%w: unsupported channel count %d", ErrInvalidImage, m.Channels)
	}
	return nil
}

// Validate 检查尺寸与缓冲区长度是否一致
func (m *Image) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: nil image", ErrInvalidImage)
	}
	if err := m.checkShape(); err != nil {
		return err
	}
	if want := m.Width * m.Height * m.Channels; len(m.Pix) != want {
		return fmt.Errorf("%w: buffer has %d samples, %dx%dx%d needs %d",
			ErrInvalidImage, len(m.Pix), m.Width, m.Height, m.Channels, want)
	}
	return nil
}

// PixelCount returns Width*Height.
func (m *Image) PixelCount() int {
	return m.Width * m.Height
}

// RGBA 返回 (x, y) 处的采样；三通道图像的 alpha 视为 255
func (m *Image) RGBA(x, y int) (r, g, b, a uint8) {
	i := (y*m.Width + x) * m.Channels
	r, g, b, a = m.Pix[i], m.Pix[i+1], m.Pix[i+2], 255
	if m.Channels == 4 {
		a = m.Pix[i+3]
	}
	return
}

// ToNRGBA 转为非预乘的 NRGBA，alpha 通道原样保留
func (m *Image) ToNRGBA() *image.NRGBA {
	return m.toNRGBA(false)
}

// OpaqueNRGBA 转为 NRGBA 并丢弃 alpha（全部置为 255）
func (m *Image) OpaqueNRGBA() *image.NRGBA {
	return m.toNRGBA(true)
}

func (m *Image) toNRGBA(dropAlpha bool) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, m.Width, m.Height))
	if m.Channels == 4 && !dropAlpha {
		copy(dst.Pix, m.Pix)
		return dst
	}
	for i, j := 0, 0; i < len(dst.Pix); i, j = i+4, j+m.Channels {
		dst.Pix[i] = m.Pix[j]
		dst.Pix[i+1] = m.Pix[j+1]
		dst.Pix[i+2] = m.Pix[j+2]
		dst.Pix[i+3] = 255
	}
	return dst
}

// FromImage 把任意 image.Image 转为 Image。
// 只有 alpha 通道真的包含透明信息时才输出 4 通道，否则输出 RGB。
func FromImage(src image.Image) (*Image, error) {
	b := src.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: zero dimension %dx%d", ErrInvalidImage, b.Dx(), b.Dy())
	}
	nrgba := toNRGBA(src)

	channels := 3
	if hasUsefulAlpha(nrgba) {
		channels = 4
	}
	out, err := New(b.Dx(), b.Dy(), channels)
	if err != nil {
		return nil, err
	}
	for y := 0; y < out.Height; y++ {
		row := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+out.Width*4]
		if channels == 4 {
			copy(out.Pix[y*out.Width*4:], row)
			continue
		}
		o := y * out.Width * 3
		for x := 0; x < out.Width; x++ {
			out.Pix[o+x*3] = row[x*4]
			out.Pix[o+x*3+1] = row[x*4+1]
			out.Pix[o+x*3+2] = row[x*4+2]
		}
	}
	return out, nil
}

// hasUsefulAlpha 只要存在非 255 的 alpha，就认为有透明信息
func hasUsefulAlpha(img *image.NRGBA) bool {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for i := 3; i < len(row); i += 4 {
			if row[i] != 255 {
				return true
			}
		}
	}
	return false
}

func toNRGBA(img image.Image) *image.NRGBA {
	if nrgba, ok := img.(*image.NRGBA); ok && nrgba.Rect.Min == (image.Point{}) {
		return nrgba
	}
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
