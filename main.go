package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/chaos-io/rembg/cmd"
	"github.com/chaos-io/rembg/util/logging"
)

var (
	GitSHA string = "NA"
)

func main() {
	// ctrl-c 取消 ctx，服务优雅退出
	ctx, cnc := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cnc()
	go func() {
		defer cnc() // 第二次 ctrl-c 恢复默认行为，直接退出
		<-ctx.Done()
	}()
	slog.SetDefault(logging.Logger(os.Stderr, false, slog.LevelInfo))
	ctx = logging.AppendCtx(ctx, slog.Group("rembg", slog.String("git", GitSHA)))

	if err := cmd.NewRoot(ctx, GitSHA).Execute(); err != nil {
		slog.ErrorContext(ctx, "command failed", "error", err)
		cnc()
		os.Exit(1)
	}
}
