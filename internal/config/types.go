package config

import "time"

// Well-known messaging apps forwarded by default.
const (
	GoogleMessagesPackage = "com.google.android.apps.messaging"
	DiscordPackage        = "com.discord"
	SlackPackage          = "com.Slack"
)

// YouTubeMusicPackage is the media app the music bridge follows by default.
const YouTubeMusicPackage = "com.google.android.apps.youtube.music"

type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway" json:"gateway"`
	Log       LogConfig       `yaml:"log" json:"log"`
	Messaging MessagingConfig `yaml:"messaging" json:"messaging"`
	Music     MusicConfig     `yaml:"music" json:"music"`
	Bridge    BridgeConfig    `yaml:"bridge" json:"bridge"`
	Sources   SourcesConfig   `yaml:"sources" json:"sources"`
}

type GatewayConfig struct {
	Port int        `yaml:"port" json:"port"`
	Auth AuthConfig `yaml:"auth" json:"auth"`
}

type AuthConfig struct {
	Token string `yaml:"token" json:"token"`
}

type LogConfig struct {
	Level string `yaml:"level" json:"level"` // debug | info | warn | error
}

type MessagingConfig struct {
	Apps           []string `yaml:"apps" json:"apps"` // package names forwarded to the peer
	IconSize       int      `yaml:"iconSize" json:"iconSize"`
	SmallImageSize int      `yaml:"smallImageSize" json:"smallImageSize"`
	LargeImageSize int      `yaml:"largeImageSize" json:"largeImageSize"`
	JPEGQuality    int      `yaml:"jpegQuality" json:"jpegQuality"`
}

type MusicConfig struct {
	Enabled        bool   `yaml:"enabled" json:"enabled"`
	PreferredApp   string `yaml:"preferredApp" json:"preferredApp"`
	SyncIntervalMs int    `yaml:"syncIntervalMs" json:"syncIntervalMs"`
	ArtSmallSize   int    `yaml:"artSmallSize" json:"artSmallSize"`
	ArtLargeSize   int    `yaml:"artLargeSize" json:"artLargeSize"`
	JPEGQuality    int    `yaml:"jpegQuality" json:"jpegQuality"`
}

// SyncInterval is the nudge period.
func (m MusicConfig) SyncInterval() time.Duration {
	return time.Duration(m.SyncIntervalMs) * time.Millisecond
}

type BridgeConfig struct {
	DrainTimeoutMs int `yaml:"drainTimeoutMs" json:"drainTimeoutMs"`
}

// DrainTimeout bounds how long a bridge waits for its worker on stop.
func (b BridgeConfig) DrainTimeout() time.Duration {
	return time.Duration(b.DrainTimeoutMs) * time.Millisecond
}

type SourcesConfig struct {
	Instances []SourceInstanceConfig `yaml:"instances" json:"instances"`
}

// SourceInstanceConfig is one host listener helper process.
type SourceInstanceConfig struct {
	ID      string            `yaml:"id" json:"id"`
	Enabled bool              `yaml:"enabled" json:"enabled"`
	Path    string            `yaml:"path" json:"path"` // directory holding anotherglass-source.json
	Env     map[string]string `yaml:"env" json:"env"`
}

func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Port: 19810,
		},
		Log: LogConfig{Level: "info"},
		Messaging: MessagingConfig{
			Apps:           []string{GoogleMessagesPackage, DiscordPackage, SlackPackage},
			IconSize:       16,
			SmallImageSize: 16,
			LargeImageSize: 128,
			JPEGQuality:    80,
		},
		Music: MusicConfig{
			Enabled:        true,
			PreferredApp:   YouTubeMusicPackage,
			SyncIntervalMs: 5000,
			ArtSmallSize:   32,
			ArtLargeSize:   128,
			JPEGQuality:    80,
		},
		Bridge: BridgeConfig{
			DrainTimeoutMs: 1000,
		},
		Sources: SourcesConfig{
			Instances: []SourceInstanceConfig{},
		},
	}
}
