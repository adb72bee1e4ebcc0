// Package host describes the native objects the bridges read from: posted
// notifications, media sessions and the installed-app registry.
//
// Every accessor may fail or panic at any time (the backing object can be
// recycled by the host while we hold it), so callers read them through Try and
// copy whatever they need to keep.
package host

import (
	"errors"
	"fmt"
	"image"
	"time"
)

var (
	// ErrAppNotFound is returned by AppResolver when the package is not installed.
	ErrAppNotFound = errors.New("app not found")
	// ErrPermissionDenied is returned when the host refuses access to media sessions.
	ErrPermissionDenied = errors.New("media session access denied")
	// ErrNoImage is returned by image accessors when the object carries no image.
	ErrNoImage = errors.New("no image")
)

// Notification extras.
const (
	ExtraTitle = "android.title"
	ExtraText  = "android.text"
)

// Media metadata keys.
const (
	MetadataArtist   = "android.media.metadata.ARTIST"
	MetadataTitle    = "android.media.metadata.TITLE"
	MetadataDuration = "android.media.metadata.DURATION"
	MetadataAlbumArt = "android.media.metadata.ALBUM_ART"
	MetadataArt      = "android.media.metadata.ART"
)

// Notification is one posted or removed status-bar notification.
type Notification interface {
	ID() int
	PackageName() string
	PostTime() time.Time
	// Extra returns a string extra, or "" when it is not set.
	Extra(key string) (string, error)
	// LargeIcon is the high-fidelity large image (sender avatar), when the host supports it.
	LargeIcon() (image.Image, error)
	// LegacyLargeIcon is the older bitmap-only large icon.
	LegacyLargeIcon() (image.Image, error)
}

// NotificationListener receives notification events on the dispatch loop.
type NotificationListener interface {
	OnPosted(n Notification)
	OnRemoved(n Notification)
}

// NotificationSource delivers posted/removed events to subscribed listeners.
type NotificationSource interface {
	Subscribe(l NotificationListener)
	Unsubscribe(l NotificationListener)
}

// AppResolver looks up installed apps by package name.
type AppResolver interface {
	AppLabel(packageName string) (string, error)
	AppIcon(packageName string) (image.Image, error)
}

// Metadata is the metadata bundle of a media session.
type Metadata interface {
	String(key string) (string, error)
	Long(key string) (int64, error)
	Bitmap(key string) (image.Image, error)
}

// PlaybackStatus mirrors the host's playback state constants.
type PlaybackStatus int

const (
	StateNone PlaybackStatus = iota
	StateStopped
	StatePaused
	StatePlaying
	StateBuffering
)

func (s PlaybackStatus) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePaused:
		return "paused"
	case StatePlaying:
		return "playing"
	case StateBuffering:
		return "buffering"
	default:
		return "none"
	}
}

// ParsePlaybackStatus maps a state name to its PlaybackStatus; unknown names are StateNone.
func ParsePlaybackStatus(s string) PlaybackStatus {
	switch s {
	case "stopped":
		return StateStopped
	case "paused":
		return StatePaused
	case "playing":
		return StatePlaying
	case "buffering":
		return StateBuffering
	default:
		return StateNone
	}
}

// PlaybackState is a position sample: PositionMillis was the position at LastPositionUpdate.
type PlaybackState struct {
	State              PlaybackStatus
	PositionMillis     int64
	LastPositionUpdate time.Time
	Speed              float64
}

// Playing reports whether the state is StatePlaying. A nil state is not playing.
func (s *PlaybackState) Playing() bool {
	return s != nil && s.State == StatePlaying
}

// MediaCallback receives session callbacks on the dispatch loop.
type MediaCallback interface {
	OnPlaybackStateChanged(state *PlaybackState)
	OnMetadataChanged(md Metadata)
	OnSessionDestroyed()
}

// TransportControl is a playback command sent to the tracked session.
type TransportControl string

const (
	ControlPlay     TransportControl = "play"
	ControlPause    TransportControl = "pause"
	ControlNext     TransportControl = "next"
	ControlPrevious TransportControl = "previous"
)

// Valid reports whether c is a known control.
func (c TransportControl) Valid() bool {
	switch c {
	case ControlPlay, ControlPause, ControlNext, ControlPrevious:
		return true
	}
	return false
}

// MediaController is a handle on one media session. Handles may be recreated
// by the host for the same logical session; SessionToken identifies the session.
type MediaController interface {
	PackageName() string
	SessionToken() string
	// Metadata returns nil, nil when the session has no metadata yet.
	Metadata() (Metadata, error)
	// PlaybackState returns nil, nil when no state was reported yet.
	PlaybackState() (*PlaybackState, error)
	RegisterCallback(cb MediaCallback) error
	UnregisterCallback(cb MediaCallback)
	Control(action TransportControl) error
}

// SessionManager lists active media sessions and reports changes to that list.
type SessionManager interface {
	ActiveSessions() ([]MediaController, error)
	AddActiveSessionsListener(fn func([]MediaController)) error
	RemoveActiveSessionsListener()
}

// Try calls fn and turns a panic into an error, so a misbehaving accessor only
// fails its own read.
func Try[T any](what string, fn func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			v = zero
			err = fmt.Errorf("%s: panic: %v", what, r)
		}
	}()
	return fn()
}
