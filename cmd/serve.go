package cmd

import (
	"context"

	"github.com/chaos-io/rembg/server"
	"github.com/spf13/cobra"
)

func NewServeCmd(ctx context.Context, a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP background removal service",
		Long:  "Serves POST /api/remove (base64 JSON), POST /api/remove/file (multipart) and GET /health.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := *a.cfg
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				cfg.Server.Addr = addr
			}

			p, o, err := buildPipeline(&cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = o.Close()
			}()
			return server.New(cfg.Server, p, o).Run(ctx)
		},
	}
	pf := cmd.PersistentFlags()
	pf.String("addr", "", "listen address, overrides server.addr")
	return cmd
}
