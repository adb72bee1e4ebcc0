package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/DimaMzk/AnotherGlass/internal/config"
	"github.com/DimaMzk/AnotherGlass/internal/cron"
	"github.com/DimaMzk/AnotherGlass/internal/dispatch"
	"github.com/DimaMzk/AnotherGlass/internal/gateway"
	"github.com/DimaMzk/AnotherGlass/internal/messaging"
	"github.com/DimaMzk/AnotherGlass/internal/music"
	"github.com/DimaMzk/AnotherGlass/internal/source"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway server and both bridges",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func loadOrCreate(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Info("config not found, creating from example", "path", path)
		if err := config.CreateFromExample(path); err != nil {
			return nil, err
		}
		cfg, err = config.Load(path)
	}
	return cfg, err
}

func messagingOptions(cfg *config.Config) messaging.Options {
	return messaging.Options{
		IconSize:       cfg.Messaging.IconSize,
		SmallImageSize: cfg.Messaging.SmallImageSize,
		LargeImageSize: cfg.Messaging.LargeImageSize,
		JPEGQuality:    cfg.Messaging.JPEGQuality,
		DrainTimeout:   cfg.Bridge.DrainTimeout(),
	}
}

func musicOptions(cfg *config.Config) music.Options {
	return music.Options{
		PreferredApp: cfg.Music.PreferredApp,
		SyncInterval: cfg.Music.SyncInterval(),
		ArtSmallSize: cfg.Music.ArtSmallSize,
		ArtLargeSize: cfg.Music.ArtLargeSize,
		JPEGQuality:  cfg.Music.JPEGQuality,
		DrainTimeout: cfg.Bridge.DrainTimeout(),
		Clock:        music.SystemClock,
	}
}

func serve() error {
	// Setup structured logging
	level := new(slog.LevelVar)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	home := config.ResolveHome()
	path := config.ResolveConfigPath(cfgFlag)
	config.SetPath(path)
	slog.Info("AnotherGlass starting", "version", version, "home", home)

	for _, dir := range []string{config.LogsDir(), config.SourcesDir()} {
		os.MkdirAll(dir, 0755)
	}

	cfg, err := loadOrCreate(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	config.Set(cfg)
	level.Set(config.ParseLevel(cfg.Log.Level))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go config.Watch(ctx)

	loop := dispatch.New("host")
	sched := cron.NewScheduler()
	sched.Start()
	hub := source.NewHub(loop)

	conns := gateway.NewConnManager()
	outbox := gateway.NewOutbox(conns, gateway.DefaultOutboxSize)
	go outbox.Run(ctx)

	msgBridge := messaging.NewBridge(messagingOptions(cfg), config.Store{}, hub, hub, outbox)
	if err := msgBridge.Start(ctx); err != nil {
		return err
	}
	musicBridge := music.NewBridge(musicOptions(cfg), loop, hub, sched, outbox)
	// A refused start is logged by the bridge and retried on the next
	// access grant or reload.
	startMusic := func() { _ = musicBridge.Start(ctx) }
	if cfg.Music.Enabled {
		startMusic()
	}
	hub.OnAccessGranted(func() {
		if c := config.Get(); c != nil && c.Music.Enabled {
			startMusic()
		}
	})
	hub.OnAccessRevoked(musicBridge.OnAccessRevoked)

	launcher := source.NewLauncher(fmt.Sprintf("ws://127.0.0.1:%d/ws", cfg.Gateway.Port), cfg.Gateway.Auth.Token)
	srv := gateway.NewServer(path, conns, hub)
	srv.Music = musicBridge
	srv.Launcher = launcher
	hub.SetControlSink(srv.SendControl)

	config.RegisterOnReload(func(c *config.Config) {
		level.Set(config.ParseLevel(c.Log.Level))
		if c.Music.Enabled {
			startMusic()
		} else {
			musicBridge.Stop()
		}
	})

	go func() {
		if n := launcher.StartAll(ctx, cfg.Sources.Instances); n > 0 {
			slog.Info("sources started", "count", n)
		}
	}()

	err = srv.Start(ctx)
	stop()

	slog.Info("shutting down")
	launcher.StopAll()
	msgBridge.Stop()
	musicBridge.Stop()
	outbox.Close()
	sched.Stop()
	loop.Close()
	return err
}
