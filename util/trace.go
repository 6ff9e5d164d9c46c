package util

import (
	"context"
	"log/slog"
	"time"
)

// Trace 记录一段操作的耗时，用法：defer util.Trace(ctx, "remove")()
func Trace(ctx context.Context, msg string, args ...any) func() {
	start := time.Now()
	return func() {
		slog.InfoContext(ctx, msg, append(args, "elapsed", time.Since(start))...)
	}
}
