package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/akriventsev/taskflow"
	"github.com/akriventsev/taskflow/framework/config"
	"github.com/akriventsev/taskflow/framework/logging"
)

// RunCmd запускает процесс до сигнала завершения
func RunCmd() *cobra.Command {
	var shutdownTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the process described by the deployment file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			p, err := taskflow.NewProcess(ctx, cfg, taskflow.WithLogger(logger))
			if err != nil {
				return err
			}
			if err := p.Start(ctx); err != nil {
				return err
			}

			<-ctx.Done()
			logger.Info("shutting down", "process", cfg.Process)

			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return p.Stop(stopCtx)
		},
	}

	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second, "time allowed for graceful shutdown")
	return cmd
}

func loadConfig() (*config.Deployment, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if name := os.Getenv("TASKFLOW_PROCESS"); name != "" {
		cfg.Process = name
	}
	return cfg, nil
}
