package matte

import (
	"context"
	"errors"
	"fmt"

	"github.com/chaos-io/rembg/matte/oracle"
	"github.com/chaos-io/rembg/raster"
)

// Stage 是请求在流水线中的状态，只能向前推进，任何状态都可以进入 StageFailed
type Stage int

const (
	StageDecoding Stage = iota
	StagePreprocessing
	StageInferring
	StageUpscaling
	StageCompositing
	StageEncoding
	StageDone
	StageFailed
)

var stageNames = [...]string{
	StageDecoding:      "decoding",
	StagePreprocessing: "preprocessing",
	StageInferring:     "inferring",
	StageUpscaling:     "upscaling",
	StageCompositing:   "compositing",
	StageEncoding:      "encoding",
	StageDone:          "done",
	StageFailed:        "failed",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

type Kind string

const (
	KindInvalidImage      Kind = "invalid_image"
	KindDecode            Kind = "decode"
	KindOracleUnavailable Kind = "oracle_unavailable"
	KindOracleInference   Kind = "oracle_inference"
	KindDimensionMismatch Kind = "dimension_mismatch"
	KindEncode            Kind = "encode"
	KindCanceled          Kind = "canceled"
	KindUnknown           Kind = "unknown"
)

// KindOf 根据错误链判断错误类别
func KindOf(err error) Kind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	switch {
	case errors.Is(err, raster.ErrDecode):
		return KindDecode
	case errors.Is(err, raster.ErrEncode):
		return KindEncode
	case errors.Is(err, raster.ErrInvalidImage):
		return KindInvalidImage
	case errors.Is(err, oracle.ErrUnavailable):
		return KindOracleUnavailable
	case errors.Is(err, oracle.ErrInference):
		return KindOracleInference
	case errors.Is(err, ErrDimensionMismatch):
		return KindDimensionMismatch
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	}
	return KindUnknown
}

// StageError 记录失败发生的阶段和类别，原始错误可以通过 errors.Is/As 取到
type StageError struct {
	Stage Stage
	Kind  Kind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("matte: %s failed (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
