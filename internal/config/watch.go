package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const reloadDebounce = 200 * time.Millisecond

// Watch follows the config file and hot-reloads it, so `apps add` or an API
// edit reaches the running bridges without a restart. Run in a goroutine; it
// returns when ctx is done.
func Watch(ctx context.Context) {
	path := Path()
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		slog.Warn("config watch initial read failed", "path", path, "error", err)
		return
	}

	var mu sync.Mutex
	var pending *time.Timer
	v.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 || filepath.Clean(e.Name) != filepath.Clean(path) {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if pending != nil {
			pending.Stop()
		}
		pending = time.AfterFunc(reloadDebounce, func() { reloadFrom(path) })
	})
	v.WatchConfig()

	<-ctx.Done()
	mu.Lock()
	if pending != nil {
		pending.Stop()
	}
	mu.Unlock()
}

func reloadFrom(path string) {
	next, err := Load(path)
	if err != nil {
		slog.Warn("config reload failed, keeping current", "path", path, "error", err)
		return
	}
	logChanges(Get(), next)
	Set(next)
	notifyReload(next)
}

// logChanges reports the edits the bridges react to.
func logChanges(prev, next *Config) {
	if prev == nil {
		slog.Info("config loaded", "apps", len(next.Messaging.Apps), "music", next.Music.Enabled)
		return
	}
	for _, app := range next.Messaging.Apps {
		if !slices.Contains(prev.Messaging.Apps, app) {
			slog.Info("messaging app enabled", "app", app)
		}
	}
	for _, app := range prev.Messaging.Apps {
		if !slices.Contains(next.Messaging.Apps, app) {
			slog.Info("messaging app disabled", "app", app)
		}
	}
	if prev.Music.Enabled != next.Music.Enabled {
		slog.Info("music bridge toggled", "enabled", next.Music.Enabled)
	}
	if prev.Log.Level != next.Log.Level {
		slog.Info("log level changed", "level", next.Log.Level)
	}
	if fields := restartFields(prev, next); len(fields) > 0 {
		slog.Warn("config change takes effect after restart", "fields", fields)
	}
}

// restartFields lists edited settings that the running bridges and gateway
// captured at startup.
func restartFields(prev, next *Config) []string {
	var out []string
	add := func(changed bool, name string) {
		if changed {
			out = append(out, name)
		}
	}
	add(prev.Gateway.Port != next.Gateway.Port, "gateway.port")
	add(prev.Messaging.IconSize != next.Messaging.IconSize, "messaging.iconSize")
	add(prev.Messaging.SmallImageSize != next.Messaging.SmallImageSize, "messaging.smallImageSize")
	add(prev.Messaging.LargeImageSize != next.Messaging.LargeImageSize, "messaging.largeImageSize")
	add(prev.Messaging.JPEGQuality != next.Messaging.JPEGQuality, "messaging.jpegQuality")
	add(prev.Music.PreferredApp != next.Music.PreferredApp, "music.preferredApp")
	add(prev.Music.SyncIntervalMs != next.Music.SyncIntervalMs, "music.syncIntervalMs")
	add(prev.Music.ArtSmallSize != next.Music.ArtSmallSize, "music.artSmallSize")
	add(prev.Music.ArtLargeSize != next.Music.ArtLargeSize, "music.artLargeSize")
	add(prev.Music.JPEGQuality != next.Music.JPEGQuality, "music.jpegQuality")
	add(prev.Bridge.DrainTimeoutMs != next.Bridge.DrainTimeoutMs, "bridge.drainTimeoutMs")
	add(!reflect.DeepEqual(prev.Sources.Instances, next.Sources.Instances), "sources.instances")
	return out
}
