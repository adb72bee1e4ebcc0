package source

import (
	"image"
	"time"

	"github.com/DimaMzk/AnotherGlass/internal/host"
	"github.com/DimaMzk/AnotherGlass/internal/imaging"
)

// decodedImage is a payload image decoded when the request is parsed, on the
// connection's goroutine. A decode failure is kept and returned by Image.
type decodedImage struct {
	img image.Image
	err error
}

func decodeImage(b64 string) *decodedImage {
	if b64 == "" {
		return nil
	}
	img, err := imaging.DecodeBase64(b64)
	return &decodedImage{img: img, err: err}
}

func (d *decodedImage) Image() (image.Image, error) {
	if d == nil {
		return nil, host.ErrNoImage
	}
	return d.img, d.err
}

type notification struct {
	p      NotificationParams
	large  *decodedImage
	legacy *decodedImage
}

func newNotification(p NotificationParams) *notification {
	return &notification{
		p:      p,
		large:  decodeImage(p.LargeIcon),
		legacy: decodeImage(p.LegacyIcon),
	}
}

func (n *notification) ID() int             { return n.p.ID }
func (n *notification) PackageName() string { return n.p.Package }

func (n *notification) PostTime() time.Time {
	if n.p.PostTimeMs <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(n.p.PostTimeMs)
}

func (n *notification) Extra(key string) (string, error) {
	return n.p.Extras[key], nil
}

func (n *notification) LargeIcon() (image.Image, error)       { return n.large.Image() }
func (n *notification) LegacyLargeIcon() (image.Image, error) { return n.legacy.Image() }

type metadata struct {
	strings map[string]string
	longs   map[string]int64
	bitmaps map[string]*decodedImage
}

func newMetadata(p MediaMetadataParams) *metadata {
	return &metadata{
		strings: map[string]string{
			host.MetadataArtist: p.Artist,
			host.MetadataTitle:  p.Title,
		},
		longs: map[string]int64{
			host.MetadataDuration: p.DurationMs,
		},
		bitmaps: map[string]*decodedImage{
			host.MetadataAlbumArt: decodeImage(p.AlbumArt),
			host.MetadataArt:      decodeImage(p.Art),
		},
	}
}

func (m *metadata) String(key string) (string, error) { return m.strings[key], nil }
func (m *metadata) Long(key string) (int64, error)    { return m.longs[key], nil }

func (m *metadata) Bitmap(key string) (image.Image, error) {
	return m.bitmaps[key].Image()
}

func playbackState(p MediaStateParams) *host.PlaybackState {
	updated := time.Now()
	if p.UpdatedAtMs > 0 {
		updated = time.UnixMilli(p.UpdatedAtMs)
	}
	speed := p.Speed
	if speed == 0 {
		speed = 1
	}
	return &host.PlaybackState{
		State:              host.ParsePlaybackStatus(p.State),
		PositionMillis:     p.PositionMs,
		LastPositionUpdate: updated,
		Speed:              speed,
	}
}

// session is the hub's record of one media session. Controllers handed to
// the bridges are thin views over it.
type session struct {
	token string
	pkg   string

	// guarded by Hub.mu
	metadata  *metadata
	state     *host.PlaybackState
	callbacks []host.MediaCallback
}

// controller is a host.MediaController view over a session record. The hub
// builds new views on every list change, the way the host recreates its
// controller objects.
type controller struct {
	hub *Hub
	s   *session
}

func (c *controller) PackageName() string  { return c.s.pkg }
func (c *controller) SessionToken() string { return c.s.token }

func (c *controller) Metadata() (host.Metadata, error) {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	if c.s.metadata == nil {
		return nil, nil
	}
	return c.s.metadata, nil
}

func (c *controller) PlaybackState() (*host.PlaybackState, error) {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	if c.s.state == nil {
		return nil, nil
	}
	st := *c.s.state
	return &st, nil
}

func (c *controller) RegisterCallback(cb host.MediaCallback) error {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	c.s.callbacks = append(c.s.callbacks, cb)
	return nil
}

func (c *controller) UnregisterCallback(cb host.MediaCallback) {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	for i, x := range c.s.callbacks {
		if x == cb {
			c.s.callbacks = append(c.s.callbacks[:i], c.s.callbacks[i+1:]...)
			return
		}
	}
}

func (c *controller) Control(action host.TransportControl) error {
	return c.hub.control(c.s.token, action)
}
