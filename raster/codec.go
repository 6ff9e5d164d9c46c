package raster

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Decode 解析容器字节（PNG/JPEG/GIF/WebP/BMP/TIFF），返回像素缓冲区和格式名
func Decode(data []byte) (*Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty input", ErrDecode)
	}
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	img, err := FromImage(src)
	if err != nil {
		return nil, format, err
	}
	return img, format, nil
}

// Encoder 把 Image 编码为 PNG。PNG 无损并支持 alpha，编解码后采样值不变。
type Encoder struct {
	CompressionLevel png.CompressionLevel
}

// Encode 使用默认压缩级别编码
func Encode(img *Image) ([]byte, error) {
	return Encoder{}.Encode(img)
}

func (e Encoder) Encode(img *Image) ([]byte, error) {
	if err := img.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: e.CompressionLevel}
	if err := enc.Encode(&buf, img.ToNRGBA()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return buf.Bytes(), nil
}

// ContentType is the MIME type of Encode's output.
const ContentType = "image/png"
