package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/saker-ai/openclaw-gateway/internal/control"
	applogger "github.com/saker-ai/openclaw-gateway/internal/logger"
	"github.com/saker-ai/openclaw-gateway/internal/state"
	"github.com/saker-ai/openclaw-gateway/pkg/controlclient"
)

const (
	modePoll = "poll"
	modePush = "push"
)

func newAgentCmd() *cobra.Command {
	var (
		mode     string
		baseURL  string
		interval time.Duration
		retry    time.Duration
		level    string
	)

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Run a headless viewer that applies control commands",
		Long: "Consumes commands from a gateway by polling the control document or subscribing to the " +
			"push channel, applies them to a local avatar state and logs every change.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := applogger.New(applogger.Config{Level: level, Stdout: true})
			if err != nil {
				return err
			}
			defer logger.Sync()

			src, err := newAgentSource(mode, baseURL, interval, retry, applogger.Component(logger, applogger.ComponentClient))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runAgent(ctx, src, logger)
		},
	}

	cmd.Flags().StringVar(&mode, "mode", modePoll, "delivery mode: poll or push")
	cmd.Flags().StringVar(&baseURL, "url", defaultGatewayURL, "gateway base url")
	cmd.Flags().DurationVar(&interval, "interval", controlclient.DefaultPollInterval, "poll interval")
	cmd.Flags().DurationVar(&retry, "reconnect-delay", time.Second, "first push reconnect delay, doubled up to 30s")
	cmd.Flags().StringVar(&level, "log-level", "info", "log level")
	return cmd
}

func newAgentSource(mode string, baseURL string, interval time.Duration, retry time.Duration, logger *zap.Logger) (control.Source, error) {
	switch mode {
	case modePoll:
		return controlclient.NewPoller(baseURL, logger, controlclient.WithInterval(interval)), nil
	case modePush:
		sub, err := controlclient.NewSubscriber(baseURL, logger, controlclient.WithReconnectDelay(retry))
		if err != nil {
			return nil, err
		}
		return sub, nil
	default:
		return nil, fmt.Errorf("unknown agent mode %q (want %s or %s)", mode, modePoll, modePush)
	}
}

func runAgent(ctx context.Context, src control.Source, logger *zap.Logger) error {
	store := state.New()
	store.OnChange(func(snap state.Snapshot) {
		logger.Info("avatar state changed",
			zap.String("mood", snap.Mood),
			zap.Bool("is_thinking", snap.IsThinking),
			zap.Float64("intensity", snap.Intensity),
			zap.String("last_message", snap.LastMessage),
			zap.String("active_character_id", snap.ActiveCharacterID),
		)
	})
	logger.Info("agent started")
	return control.Consume(ctx, src, control.NewConsumer(store, logger))
}
