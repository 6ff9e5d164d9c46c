package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/chaos-io/rembg/config"
	"github.com/chaos-io/rembg/util/logging"
	"github.com/spf13/cobra"
)

// app 保存命令之间共享的状态，PersistentPreRunE 中初始化
type app struct {
	cfg    *config.Config
	logOut io.WriteCloser
}

func NewRoot(ctx context.Context, gitsha string) *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "rembg",
		Short:         "remove image backgrounds with a segmentation model",
		Long:          "rembg cuts the foreground subject out of an image and returns it as a transparent PNG.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(ctx, cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logOut != nil {
				_ = a.logOut.Close()
			}
		},
		Run: func(cmd *cobra.Command, args []string) {
			printCommandTree(cmd.OutOrStdout(), cmd, 0)
		},
	}
	cmd.AddCommand(
		NewVersionCmd(ctx, gitsha),
		NewServeCmd(ctx, a),
		NewRemoveCmd(ctx, a),
	)
	pf := cmd.PersistentFlags()
	pf.StringP("config", "c", "", "YAML config file")
	pf.String("log-level", "", "Log level (DEBUG, INFO, WARN, ERROR), overrides the config file")
	return cmd
}

func (a *app) setup(ctx context.Context, cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if logLevel, _ := cmd.Flags().GetString("log-level"); logLevel != "" {
		cfg.Log.Level = logLevel
	}
	level, err := cfg.Log.SlogLevel()
	if err != nil {
		slog.WarnContext(ctx, "Invalid log level, defaulting to INFO", "level", cfg.Log.Level, "error", err)
	}

	a.cfg = cfg
	a.logOut = logging.Writer(cfg.Log.Rotation, os.Stderr)
	slog.SetDefault(logging.Logger(a.logOut, cfg.Log.JSON, level))
	return nil
}

func printCommandTree(w io.Writer, cmd *cobra.Command, indent int) {
	fmt.Fprintln(w, strings.Repeat("\t", indent), cmd.Use+":", cmd.Short)
	for _, subCmd := range cmd.Commands() {
		printCommandTree(w, subCmd, indent+1)
	}
}

func NewVersionCmd(ctx context.Context, gitsha string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "git sha for this build",
		Long:  "git sha for this build",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), gitsha)
		},
	}
	return cmd
}
