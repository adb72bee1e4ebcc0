package message

import (
	"fmt"
	"time"
)

// Domain tags a message with the bridge that produced it.
type Domain string

const (
	DomainMessaging Domain = "messaging"
	DomainMusic     Domain = "music"
)

// Kind says what a Summary describes.
type Kind string

const (
	KindMessagingPosted  Kind = "messaging.posted"
	KindMessagingRemoved Kind = "messaging.removed"
	KindMediaUpdate      Kind = "media.update"
)

// Slot names the image a follow-up Image replaces on the peer.
type Slot string

const (
	SlotIcon        Slot = "icon"
	SlotSenderImage Slot = "sender-image"
	SlotAlbumArt    Slot = "album-art"
)

// Tier is one resolution step of a progressive image.
type Tier string

const (
	TierSmall Tier = "small"
	TierLarge Tier = "large"
)

// Placeholders used when a text field cannot be read.
const (
	UnknownSender = "Unknown"
	UnknownTrack  = "Unknown Track"
	UnknownArtist = "Unknown Artist"
)

// Summary is the text-first message for one forwarded event.
type Summary struct {
	StreamID       string    `json:"streamId"`
	SourceID       string    `json:"sourceId"`
	Kind           Kind      `json:"kind"`
	NotificationID int       `json:"notificationId,omitempty"`
	AppName        string    `json:"appName,omitempty"`
	Title          string    `json:"title"`          // sender or track
	Body           string    `json:"body,omitempty"` // message text or artist
	Timestamp      time.Time `json:"timestamp"`

	IsPlaying      bool  `json:"isPlaying,omitempty"`
	PositionMillis int64 `json:"positionMs,omitempty"`
	DurationMillis int64 `json:"durationMs,omitempty"`

	Icon  []byte `json:"icon,omitempty"`  // PNG
	Image []byte `json:"image,omitempty"` // JPEG
}

// Image is a follow-up delivery for one slot of a stream. Each Image for the
// same (StreamID, Slot) supersedes the previous one.
type Image struct {
	StreamID  string    `json:"streamId"`
	SourceID  string    `json:"sourceId"`
	Slot      Slot      `json:"slot"`
	Tier      Tier      `json:"tier"`
	Size      int       `json:"size"`
	MIME      string    `json:"mime"`
	Data      []byte    `json:"data"`
	IsPlaying bool      `json:"isPlaying,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Sender hands messages to the peer transport. Send must not block and must
// keep the order of calls made from one goroutine.
type Sender interface {
	Send(domain Domain, msg any)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(domain Domain, msg any)

func (f SenderFunc) Send(domain Domain, msg any) { f(domain, msg) }

// NotificationStreamID identifies the conversation a notification belongs to.
func NotificationStreamID(sourceID string, id int) string {
	return fmt.Sprintf("%s/%d", sourceID, id)
}

// MediaStreamID identifies a media session stream.
func MediaStreamID(sessionToken string) string {
	return "media/" + sessionToken
}
