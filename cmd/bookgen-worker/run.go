package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yungbote/bookgen-worker/internal/app"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the job worker and its status server until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := app.New(ctx, cfg, app.Options{Version: version})
		if err != nil {
			return err
		}
		defer a.Close()
		a.Log.Info("bookgen-worker starting", "version", version, "http_addr", cfg.HTTP.Addr)
		return a.Run(ctx)
	},
}

func init() {
	runCmd.Flags().Int("concurrency", 0, "parallel job slots (overrides worker.concurrency)")
	runCmd.Flags().String("http-addr", "", "status server address (overrides http.addr)")
	rootCmd.AddCommand(runCmd)

	bindFlag(runCmd, "worker.concurrency", "concurrency")
	bindFlag(runCmd, "http.addr", "http-addr")
}
