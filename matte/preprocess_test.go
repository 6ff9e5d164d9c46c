package matte

import (
	"image"
	"image/color"
	"testing"

	"github.com/chaos-io/rembg/matte/oracle"
	"github.com/chaos-io/rembg/raster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func u2net(t *testing.T) oracle.Binding {
	t.Helper()
	b, err := oracle.Preset("u2net")
	require.NoError(t, err)
	return b
}

// solidImage 生成纯色图片
func solidImage(t *testing.T, w, h, channels int, px ...uint8) *raster.Image {
	t.Helper()
	img, err := raster.New(w, h, channels)
	require.NoError(t, err)
	for i := 0; i < len(img.Pix); i += channels {
		copy(img.Pix[i:i+channels], px)
	}
	return img
}

// patternImage 生成每个像素颜色都不同的图片
func patternImage(t *testing.T, w, h, channels int) *raster.Image {
	t.Helper()
	img, err := raster.New(w, h, channels)
	require.NoError(t, err)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := (y*w + x) * channels
			img.Pix[i] = uint8(x*5 + 1)
			img.Pix[i+1] = uint8(y*3 + 2)
			img.Pix[i+2] = uint8(x + y + 3)
			if channels == 4 {
				img.Pix[i+3] = uint8(100 + x%50)
			}
		}
	}
	return img
}

func TestContainLayout(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		srcW, srcH int
		want       image.Rectangle
	}{
		{name: "竖图左右填充", srcW: 100, srcH: 150, want: image.Rect(53, 0, 266, 320)},
		{name: "横图上下填充", srcW: 640, srcH: 480, want: image.Rect(0, 40, 320, 280)},
		{name: "正方形无填充", srcW: 50, srcH: 50, want: image.Rect(0, 0, 320, 320)},
		{name: "极细长图至少保留1像素", srcW: 10000, srcH: 1, want: image.Rect(0, 159, 320, 160)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			l := ContainLayout(tt.srcW, tt.srcH, 320, 320)
			assert.Equal(t, tt.want, l.Content)
			assert.Equal(t, tt.srcW, l.SrcW)
			assert.Equal(t, 320, l.DstW)
		})
	}
}

func TestLayout_Project(t *testing.T) {
	t.Parallel()

	l := ContainLayout(100, 150, 320, 320)
	assert.Equal(t, l.Content, l.Project(320, 320))
	assert.Equal(t, image.Rect(27, 0, 133, 160), l.Project(160, 160))

	tiny := ContainLayout(10000, 1, 320, 320).Project(4, 4)
	assert.False(t, tiny.Empty())
	assert.True(t, tiny.In(image.Rect(0, 0, 4, 4)))
}

func TestPreprocess_ShapeAndPadding(t *testing.T) {
	t.Parallel()

	b := u2net(t)
	p := NewPreprocessor(b)
	img := solidImage(t, 100, 150, 3, 255, 0, 128)

	tensor, layout, err := p.Preprocess(img)
	require.NoError(t, err)
	assert.Equal(t, 320, tensor.Width)
	assert.Equal(t, 320, tensor.Height)
	require.Len(t, tensor.Data, 320*320*3)

	at := func(x, y, c int) float32 { return tensor.Data[(y*320+x)*3+c] }

	// 填充区域为黑色
	assert.Equal(t, float32(0), at(0, 160, 0))
	assert.Equal(t, float32(0), at(319, 160, 0))
	// 内容区域保留颜色
	cx, cy := (layout.Content.Min.X+layout.Content.Max.X)/2, 160
	assert.InDelta(t, 1.0, at(cx, cy, 0), 0.01)
	assert.InDelta(t, 0.0, at(cx, cy, 1), 0.01)
	assert.InDelta(t, 128.0/255, at(cx, cy, 2), 0.01)
}

func TestPreprocess_DropsAlpha(t *testing.T) {
	t.Parallel()

	img := solidImage(t, 32, 32, 4, 200, 100, 50, 0)
	tensor, _, err := NewPreprocessor(u2net(t)).Preprocess(img)
	require.NoError(t, err)

	i := (160*320 + 160) * 3
	assert.InDelta(t, 200.0/255, tensor.Data[i], 0.01)
	assert.InDelta(t, 100.0/255, tensor.Data[i+1], 0.01)
	assert.InDelta(t, 50.0/255, tensor.Data[i+2], 0.01)
}

func TestPreprocess_FillAndNormalization(t *testing.T) {
	t.Parallel()

	b, err := oracle.Preset("u2net-imagenet")
	require.NoError(t, err)
	p := &Preprocessor{Binding: b, Fill: color.NRGBA{R: 128, G: 128, B: 128, A: 255}}

	tensor, _, err := p.Preprocess(solidImage(t, 10, 40, 3, 0, 0, 0))
	require.NoError(t, err)

	want := b.Normalize(1, 128)
	assert.InDelta(t, want, tensor.Data[(160*320+0)*3+1], 1e-5)
}

func TestPreprocess_TransparentFillKeepsRGB(t *testing.T) {
	t.Parallel()

	b, err := oracle.Preset("u2net")
	require.NoError(t, err)
	p := &Preprocessor{Binding: b, Fill: color.NRGBA{R: 128, G: 64, B: 32, A: 0}}

	tensor, _, err := p.Preprocess(solidImage(t, 10, 40, 3, 255, 255, 255))
	require.NoError(t, err)

	// x=0 落在左侧填充区
	px := tensor.Data[(160*320+0)*3 : (160*320+0)*3+3]
	assert.InDelta(t, b.Normalize(0, 128), px[0], 1e-5)
	assert.InDelta(t, b.Normalize(1, 64), px[1], 1e-5)
	assert.InDelta(t, b.Normalize(2, 32), px[2], 1e-5)
}

func TestPreprocess_Invalid(t *testing.T) {
	t.Parallel()

	p := NewPreprocessor(u2net(t))
	_, _, err := p.Preprocess(&raster.Image{Width: 0, Height: 10, Channels: 3})
	assert.ErrorIs(t, err, raster.ErrInvalidImage)

	_, _, err = p.Preprocess(&raster.Image{Width: 4, Height: 4, Channels: 3, Pix: make([]uint8, 10)})
	assert.ErrorIs(t, err, raster.ErrInvalidImage)
}
