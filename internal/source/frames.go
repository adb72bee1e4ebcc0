package source

// Methods a source connection may call.
const (
	MethodNotificationPosted  = "notification.posted"
	MethodNotificationRemoved = "notification.removed"
	MethodAppInfo             = "app.info"
	MethodMediaSessions       = "media.sessions"
	MethodMediaState          = "media.state"
	MethodMediaMetadata       = "media.metadata"
	MethodMediaDestroyed      = "media.destroyed"
	MethodMediaAccess         = "media.access"
)

// EventMediaControl is pushed to sources to drive a media session.
const EventMediaControl = "media.control"

// NotificationParams describes one status-bar notification. Images are
// base64-encoded PNG, JPEG, GIF, WebP, BMP or TIFF.
type NotificationParams struct {
	ID         int               `json:"id"`
	Package    string            `json:"package"`
	PostTimeMs int64             `json:"postTimeMs,omitempty"`
	Extras     map[string]string `json:"extras,omitempty"`
	LargeIcon  string            `json:"largeIcon,omitempty"`
	LegacyIcon string            `json:"legacyIcon,omitempty"`
}

// AppInfoParams registers an installed app.
type AppInfoParams struct {
	Package string `json:"package"`
	Label   string `json:"label,omitempty"`
	Icon    string `json:"icon,omitempty"`
}

// SessionRef identifies a media session.
type SessionRef struct {
	Token   string `json:"token"`
	Package string `json:"package"`
}

// MediaSessionsParams is the full active-session list, most relevant first.
type MediaSessionsParams struct {
	Sessions []SessionRef `json:"sessions"`
}

// MediaStateParams is a playback position sample.
type MediaStateParams struct {
	Token       string  `json:"token"`
	State       string  `json:"state"` // none | stopped | paused | playing | buffering
	PositionMs  int64   `json:"positionMs"`
	UpdatedAtMs int64   `json:"updatedAtMs,omitempty"`
	Speed       float64 `json:"speed,omitempty"`
}

// MediaMetadataParams replaces a session's metadata.
type MediaMetadataParams struct {
	Token      string `json:"token"`
	Artist     string `json:"artist,omitempty"`
	Title      string `json:"title,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`
	AlbumArt   string `json:"albumArt,omitempty"`
	Art        string `json:"art,omitempty"`
}

// MediaDestroyedParams ends a session.
type MediaDestroyedParams struct {
	Token string `json:"token"`
}

// MediaAccessParams reports whether the host lets us read media sessions.
type MediaAccessParams struct {
	Granted bool `json:"granted"`
}

// MediaControlPayload is the body of a media.control event.
type MediaControlPayload struct {
	Token  string `json:"token"`
	Action string `json:"action"`
}
