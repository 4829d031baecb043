package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/agent"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/approval"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/bus"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/channel"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/channel/discord"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/channel/telegram"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/config"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/gateway"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/provider"
	"github.com/spf13/cobra"
)

func NewRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the Geofrey server",
		RunE:  runServer,
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	msgBus := bus.NewMessageBus(100)

	model, err := provider.NewChatModel(ctx, cfg)
	if err != nil {
		slog.Warn("no model configured", "error", err)
	}

	loop, err := agent.NewLoop(cfg, msgBus, model)
	if err != nil {
		return fmt.Errorf("invalid workspace: %w", err)
	}
	if err := loop.RegisterDefaultTools(cfg); err != nil {
		return err
	}

	chanMgr := channel.NewManager(msgBus)
	chanMgr.SetMetrics(loop.Metrics())
	notifiers := make(map[string]approval.Notifier)

	if cfg.Channels.Telegram.Enabled {
		tg := telegram.New(&cfg.Channels.Telegram, msgBus)
		tg.SetApprovalResolver(loop.Gate().Resolve)
		chanMgr.Register(tg)
		notifiers[tg.Name()] = tg
	}
	if cfg.Channels.Discord.Enabled {
		dc := discord.New(&cfg.Channels.Discord, msgBus)
		dc.SetApprovalResolver(loop.Gate().Resolve)
		chanMgr.Register(dc)
		notifiers[dc.Name()] = dc
	}

	operatorChannel := strings.TrimSpace(cfg.Guard.OperatorChannel)
	if notifier, ok := notifiers[operatorChannel]; ok {
		loop.SetApprovalNotifier(notifier)
	} else if operatorChannel != "" {
		slog.Warn("operator channel is not enabled, approvals fall back to the admin API", "channel", operatorChannel)
	}

	errCh := make(chan error, 2)
	go func() {
		if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("agent loop failed: %w", err)
		}
	}()

	chanMgr.StartAll(ctx)
	go chanMgr.RouteOutbound(ctx)

	gatewayServer := gateway.New(cfg.Gateway, loop, loop.Gate(), loop.AuditLog())
	go func() {
		if err := gatewayServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("gateway server failed: %w", err)
		}
	}()

	fmt.Printf("Geofrey server running. Gateway: http://%s\nPress Ctrl+C to stop.\n", gatewayServer.Addr())

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		slog.Error("server component failed", "error", runErr)
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	slog.Info("shutting down")
	loop.Shutdown("server stopping")
	chanMgr.StopAll(shutdownCtx)
	if err := gatewayServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("gateway shutdown failed", "error", err)
	}

	return runErr
}
