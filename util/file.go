package util

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	nhttp "github.com/chaos-io/rembg/util/http"
)

// IsURL 判断输入是否为 http(s) 地址
func IsURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// ReadSource 读取图片的原始字节，src 可以是本地路径、http(s) 地址或 "-"（标准输入）
func ReadSource(ctx context.Context, cli nhttp.IClient, src string) ([]byte, error) {
	src = strings.TrimPrefix(src, "file://")
	switch {
	case src == "":
		return nil, fmt.Errorf("empty source")
	case src == "-":
		return io.ReadAll(os.Stdin)
	case IsURL(src):
		return DownloadImage(ctx, cli, src)
	default:
		return OpenImage(src)
	}
}

// DownloadImage 下载图片
func DownloadImage(ctx context.Context, cli nhttp.IClient, url string) ([]byte, error) {
	if cli == nil {
		cli = nhttp.NewHTTPClient()
	}
	var data []byte
	err := cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: url,
		Method:     http.MethodGet,
		Response:   &data,
	})
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", url, err)
	}
	return data, nil
}

// OpenImage 读取本地图片
func OpenImage(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	return data, nil
}

// WriteSink 写出结果，dst 为 "-" 时写到标准输出
func WriteSink(dst string, data []byte) error {
	if dst == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
