package cmd

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/chaos-io/rembg/matte"
	"github.com/chaos-io/rembg/util"
	"github.com/spf13/cobra"
)

func NewRemoveCmd(ctx context.Context, a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove [input]",
		Short: "remove the background of a single image",
		Long:  "Reads an image from a path, an http(s) URL or stdin (-) and writes a transparent PNG.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, _ := cmd.Flags().GetString("in")
			out, _ := cmd.Flags().GetString("out")
			if in == "" && len(args) > 0 {
				in = args[0]
			}
			if in == "" {
				return errors.New("input is required. Use --in flag or provide as argument")
			}
			if out == "" {
				if in == "-" || util.IsURL(in) {
					return errors.New("--out is required when reading from stdin or a URL")
				}
				out = outputPath(in)
			}

			cfg := *a.cfg
			if mode, _ := cmd.Flags().GetString("mode"); mode != "" {
				cfg.Matte.Mode = matte.Mode(mode)
			}
			if cmd.Flags().Changed("cutoff") {
				cfg.Matte.Cutoff, _ = cmd.Flags().GetFloat64("cutoff")
			}

			p, o, err := buildPipeline(&cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = o.Close()
			}()

			defer util.Trace(ctx, "remove finished", "in", in, "out", out)()
			data, err := util.ReadSource(ctx, nil, in)
			if err != nil {
				return err
			}
			png, err := p.Remove(ctx, data)
			if err != nil {
				return err
			}
			return util.WriteSink(out, png)
		},
	}
	pf := cmd.PersistentFlags()
	pf.StringP("in", "i", "", "input image path, URL or - for stdin")
	pf.StringP("out", "o", "", "output PNG path or - for stdout (default <input>.nobg.png)")
	pf.String("mode", "", "alpha mode (hard|soft), overrides matte.mode")
	pf.Float64("cutoff", 0.5, "hard mode cutoff, overrides matte.cutoff")
	return cmd
}

// outputPath 在输入文件旁边生成输出文件名
func outputPath(in string) string {
	in = strings.TrimPrefix(in, "file://")
	ext := filepath.Ext(in)
	return strings.TrimSuffix(in, ext) + ".nobg.png"
}
