package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/spf13/cobra"

	"github.com/asmogo/relaypool/config"
	"github.com/asmogo/relaypool/pool"
)

var rootCmd = &cobra.Command{
	Use:   "poolcli",
	Short: "drive a relay pool from the command line",
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "connect to the configured relays and print notifications",
	Run:   runListen,
}

var publishCmd = &cobra.Command{
	Use:   "publish [content]",
	Short: "sign and publish a kind-1 note to every write relay",
	Args:  cobra.ExactArgs(1),
	Run:   runPublish,
}

func init() {
	rootCmd.AddCommand(listenCmd, publishCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("poolcli failed", "error", err)
		os.Exit(1)
	}
}

func buildPool(ctx context.Context, cfg *config.PoolConfig) *pool.Pool {
	p := pool.New(ctx,
		pool.WithNotificationChannelSize(cfg.NotificationChannelSize),
		pool.WithTaskChannelSize(cfg.TaskChannelSize),
		pool.WithMaxSeenEvents(cfg.TaskMaxSeenEvents),
		pool.WithShutdownOnDrop(cfg.ShutdownOnDrop),
	)

	if cfg.Socks5Proxy != "" {
		if err := pool.InstallSOCKS5Proxy(cfg.Socks5Proxy); err != nil {
			slog.Error("failed to install socks5 proxy", "error", err)
		}
	}

	relayURLs := cfg.NostrRelays
	if len(relayURLs) == 0 {
		relayURLs = config.DefaultRelays
	}
	for _, url := range relayURLs {
		handle, inserted, err := p.AddRelay(url, pool.RoleReadWrite, pool.RelayOptions{ConnectTimeout: cfg.ConnectTimeout})
		if err != nil {
			slog.Error("invalid relay url", "url", url, "error", err)
			continue
		}
		if !inserted {
			continue
		}
		p.ConnectRelay(ctx, handle, false)
	}
	return p
}

func runListen(cmd *cobra.Command, args []string) {
	cfg, err := config.LoadConfig[config.PoolConfig]()
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	p := buildPool(ctx, cfg)
	defer func() {
		if err := p.Shutdown(ctx); err != nil {
			slog.Error("shutdown failed", "error", err)
		}
	}()

	notifications := p.Notifications()
	defer p.CloseNotifications(notifications)

	slog.Info("listening for pool notifications", "relays", len(p.Relays()))
	for n := range notifications {
		switch n.Kind {
		case pool.NotificationEvent:
			slog.Info("event", "relay", n.RelayURL, "id", n.Event.ID, "kind", n.Event.Kind)
		case pool.NotificationRelayStatus:
			slog.Info("relay status", "relay", n.RelayURL, "status", n.Status)
		case pool.NotificationShutdown:
			slog.Info("pool shut down")
			return
		}
	}
}

func runPublish(cmd *cobra.Command, args []string) {
	cfg, err := config.LoadConfig[config.PoolConfig]()
	if err != nil {
		panic(err)
	}
	if cfg.NostrPrivateKey == "" {
		panic(fmt.Errorf("NOSTR_PRIVATE_KEY is required to publish"))
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	p := buildPool(ctx, cfg)
	defer func() {
		if err := p.Shutdown(ctx); err != nil {
			slog.Error("shutdown failed", "error", err)
		}
	}()

	pubKey, err := nostr.GetPublicKey(cfg.NostrPrivateKey)
	if err != nil {
		panic(fmt.Errorf("derive public key: %w", err))
	}
	event := &nostr.Event{
		PubKey:    pubKey,
		CreatedAt: nostr.Now(),
		Kind:      nostr.KindTextNote,
		Tags:      nostr.Tags{},
		Content:   args[0],
	}
	if err := event.Sign(cfg.NostrPrivateKey); err != nil {
		panic(fmt.Errorf("sign event: %w", err))
	}

	err = p.SendEvent(ctx, event, []pool.RelayRole{pool.RoleWrite, pool.RoleReadWrite}, 10*time.Second)
	if err != nil {
		panic(fmt.Errorf("publish event: %w", err))
	}
	slog.Info("published event", "id", event.ID)
}
