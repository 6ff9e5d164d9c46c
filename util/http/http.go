package http

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrDecodeResponse 表示 2xx 响应体无法按 JSON 解码到 Response
var ErrDecodeResponse = errors.New("decode response body")

//go:generate mockgen -destination=mocks/http.go -package=mocks . IClient
type IClient interface {
	DoHTTPRequest(ctx context.Context, requestParam *RequestParam) error
}

// RequestParam 描述一次请求。
// Body 为 io.Reader 或 []byte 时原样发送，其他类型按 JSON 序列化；
// Response 为 *[]byte 时保存原始响应体，其他非 nil 值按 JSON 解码。
type RequestParam struct {
	RequestURI string
	Method     string
	Header     map[string]string
	Body       interface{}
	Response   interface{}

	Timeout time.Duration
}

// StatusError 是非 2xx 响应
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP request failed with status %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the server side failed and a retry might succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}
