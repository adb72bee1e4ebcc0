package messaging

import (
	"errors"
	"image"
	"log/slog"
	"time"

	"github.com/DimaMzk/AnotherGlass/internal/config"
	"github.com/DimaMzk/AnotherGlass/internal/host"
	"github.com/DimaMzk/AnotherGlass/internal/message"
)

// Fields is everything read from a notification, taken once on the dispatch
// loop. Downstream code never touches the host object again.
type Fields struct {
	ID       int
	SourceID string
	PostTime time.Time
	Sender   string
	Body     string
}

// StreamID identifies the conversation the notification belongs to.
func (f Fields) StreamID() string {
	return message.NotificationStreamID(f.SourceID, f.ID)
}

// SourceID reads the package name of n, or "" when it cannot be read.
func SourceID(n host.Notification) string {
	pkg, err := host.Try("package name", func() (string, error) { return n.PackageName(), nil })
	if err != nil {
		slog.Warn("notification package unreadable", "error", err)
		return ""
	}
	return pkg
}

// Extract reads n through guarded accessors. It never fails: an unreadable
// sender becomes message.UnknownSender, an unreadable body becomes "".
func Extract(n host.Notification) Fields {
	f := Fields{SourceID: SourceID(n)}

	if id, err := host.Try("id", func() (int, error) { return n.ID(), nil }); err == nil {
		f.ID = id
	}
	if t, err := host.Try("post time", func() (time.Time, error) { return n.PostTime(), nil }); err == nil && !t.IsZero() {
		f.PostTime = t
	} else {
		f.PostTime = time.Now()
	}

	f.Sender = extra(n, host.ExtraTitle, message.UnknownSender)
	f.Body = extra(n, host.ExtraText, "")
	return f
}

func extra(n host.Notification, key, fallback string) string {
	v, err := host.Try(key, func() (string, error) { return n.Extra(key) })
	if err != nil {
		slog.Debug("notification extra unreadable", "key", key, "error", err)
		return fallback
	}
	if v == "" {
		return fallback
	}
	return v
}

// knownApps names well-known sources when the host cannot resolve them.
var knownApps = map[string]string{
	config.GoogleMessagesPackage: "Messages",
	config.DiscordPackage:        "Discord",
	config.SlackPackage:          "Slack",
}

// AppName resolves a display name for sourceID, falling back to the
// well-known table and then to the package name itself.
func AppName(apps host.AppResolver, sourceID string) string {
	if apps != nil {
		label, err := host.Try("app label", func() (string, error) { return apps.AppLabel(sourceID) })
		if err == nil && label != "" {
			return label
		}
		if err != nil && !errors.Is(err, host.ErrAppNotFound) {
			slog.Warn("app label lookup failed", "source", sourceID, "error", err)
		}
	}
	if name, ok := knownApps[sourceID]; ok {
		return name
	}
	return sourceID
}

// SenderImage returns the sender's picture, preferring the high-fidelity large
// icon over the legacy one. A notification without a picture yields nil, nil.
func SenderImage(n host.Notification) (image.Image, error) {
	img, err := host.Try("large icon", n.LargeIcon)
	if err == nil && img != nil {
		return img, nil
	}
	if err != nil && !errors.Is(err, host.ErrNoImage) {
		slog.Debug("large icon unreadable, trying legacy icon", "error", err)
	}

	img, err = host.Try("legacy large icon", n.LegacyLargeIcon)
	if errors.Is(err, host.ErrNoImage) {
		return nil, nil
	}
	return img, err
}
