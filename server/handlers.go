package server

import (
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/chaos-io/rembg/matte"
	"github.com/chaos-io/rembg/matte/oracle"
	"github.com/chaos-io/rembg/raster"
	"github.com/gin-gonic/gin"
)

// StatusClientClosedRequest 客户端在结果返回前断开
const StatusClientClosedRequest = 499

type RemoveRequest struct {
	ImageBase64 string `json:"imageBase64" binding:"required"`
}

type RemoveResponse struct {
	ImageBase64 string `json:"imageBase64"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Stage   string `json:"stage,omitempty"`
	Message string `json:"message"`
}

type handler struct {
	pipeline *matte.Pipeline
	prober   oracle.Prober
	maxBody  int64
}

// Remove 接收 base64 图片，返回 base64 PNG
func (h *handler) Remove(c *gin.Context) {
	h.limit(c)

	var req RemoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Missing imageBase64", err)
		return
	}
	data, err := decodeBase64(req.ImageBase64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid imageBase64", Kind: string(matte.KindDecode), Message: err.Error()})
		return
	}

	out, err := h.pipeline.Remove(c.Request.Context(), data)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, RemoveResponse{ImageBase64: base64.StdEncoding.EncodeToString(out)})
}

// RemoveFile 接收 multipart 上传的 image 字段，直接返回 PNG
func (h *handler) RemoveFile(c *gin.Context) {
	h.limit(c)

	file, err := c.FormFile("image")
	if err != nil {
		badRequest(c, "Failed to read form file", err)
		return
	}
	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to open form file", Message: err.Error()})
		return
	}
	defer func() {
		_ = f.Close()
	}()
	data, err := io.ReadAll(f)
	if err != nil {
		badRequest(c, "Failed to read form file", err)
		return
	}

	out, err := h.pipeline.Remove(c.Request.Context(), data)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Data(http.StatusOK, raster.ContentType, out)
}

func (h *handler) Health(c *gin.Context) {
	resp := gin.H{"status": "ok", "binding": h.pipeline.Binding().Name}
	if h.prober != nil {
		if err := h.prober.Ready(c.Request.Context()); err != nil {
			resp["status"] = "unavailable"
			resp["message"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handler) limit(c *gin.Context) {
	if h.maxBody > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBody)
	}
}

func badRequest(c *gin.Context, msg string, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "Request body too large", Message: err.Error()})
		return
	}
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg, Message: err.Error()})
}

func (h *handler) fail(c *gin.Context, err error) {
	kind := matte.KindOf(err)
	status := StatusOf(kind)
	resp := ErrorResponse{Error: "Failed to process image", Kind: string(kind), Message: err.Error()}
	var se *matte.StageError
	if errors.As(err, &se) {
		resp.Stage = se.Stage.String()
	}
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(c.Request.Context(), "remove failed", "kind", kind, "error", err)
	}
	c.JSON(status, resp)
}

// StatusOf 把错误类别映射为 HTTP 状态码
func StatusOf(kind matte.Kind) int {
	switch kind {
	case matte.KindInvalidImage, matte.KindDecode:
		return http.StatusBadRequest
	case matte.KindOracleUnavailable:
		return http.StatusServiceUnavailable
	case matte.KindOracleInference:
		return http.StatusBadGateway
	case matte.KindCanceled:
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// decodeBase64 兼容 data URL 前缀和无填充的编码
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return data, nil
	}
	if raw, rawErr := base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "=")); rawErr == nil {
		return raw, nil
	}
	return nil, err
}
