package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/saker-ai/openclaw-gateway/pkg/runtime"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		Long:  "Serves the control endpoint, the push channel and the polling document until SIGINT or SIGTERM.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath, timeout)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to conf.yaml (default: discovered from the working directory)")
	cmd.Flags().DurationVar(&timeout, "shutdown-timeout", 5*time.Second, "max wait for in-flight requests on shutdown")
	return cmd
}

func runServe(configPath string, timeout time.Duration) error {
	server, err := runtime.New(configPath)
	if err != nil {
		return err
	}

	runErr := make(chan error, 1)
	go func() { runErr <- server.Run() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case err := <-runErr:
		if err != nil {
			return fmt.Errorf("gateway stopped: %w", err)
		}
		return nil
	case <-stop:
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("gateway shutdown: %w", err)
	}
	return <-runErr
}
