// Package hosttest provides in-memory host objects and a recording sender for
// bridge tests.
package hosttest

import (
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/DimaMzk/AnotherGlass/internal/host"
	"github.com/DimaMzk/AnotherGlass/internal/message"
)

// Picture returns a w×h opaque test image.
func Picture(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	return img
}

// Notification is a host.Notification backed by plain fields. A non-nil Panic
// makes every extra accessor panic with it.
type Notification struct {
	NID     int
	Package string
	Posted  time.Time
	Extras  map[string]string
	Large   image.Image
	Legacy  image.Image
	Panic   any
	ErrText error
}

func (n *Notification) ID() int             { return n.NID }
func (n *Notification) PackageName() string { return n.Package }
func (n *Notification) PostTime() time.Time { return n.Posted }

func (n *Notification) Extra(key string) (string, error) {
	if n.Panic != nil {
		panic(n.Panic)
	}
	if n.ErrText != nil {
		return "", n.ErrText
	}
	return n.Extras[key], nil
}

func (n *Notification) LargeIcon() (image.Image, error) {
	if n.Large == nil {
		return nil, host.ErrNoImage
	}
	return n.Large, nil
}

func (n *Notification) LegacyLargeIcon() (image.Image, error) {
	if n.Legacy == nil {
		return nil, host.ErrNoImage
	}
	return n.Legacy, nil
}

// Source is a host.NotificationSource that records subscriptions.
type Source struct {
	mu        sync.Mutex
	listeners []host.NotificationListener
}

func (s *Source) Subscribe(l host.NotificationListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Source) Unsubscribe(l host.NotificationListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, x := range s.listeners {
		if x == l {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			return
		}
	}
}

// Listeners returns the number of subscribed listeners.
func (s *Source) Listeners() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

// Post delivers n to every listener on the calling goroutine.
func (s *Source) Post(n host.Notification) {
	s.mu.Lock()
	ls := append([]host.NotificationListener(nil), s.listeners...)
	s.mu.Unlock()
	for _, l := range ls {
		l.OnPosted(n)
	}
}

// Apps is a host.AppResolver over fixed maps. When LabelGate is set AppLabel
// blocks until it is closed or receives.
type Apps struct {
	Labels    map[string]string
	Icons     map[string]image.Image
	LabelGate chan struct{}

	mu        sync.Mutex
	iconCalls int
}

func (a *Apps) AppLabel(pkg string) (string, error) {
	if a.LabelGate != nil {
		<-a.LabelGate
	}
	if l, ok := a.Labels[pkg]; ok {
		return l, nil
	}
	return "", fmt.Errorf("%s: %w", pkg, host.ErrAppNotFound)
}

func (a *Apps) AppIcon(pkg string) (image.Image, error) {
	a.mu.Lock()
	a.iconCalls++
	a.mu.Unlock()
	if img, ok := a.Icons[pkg]; ok {
		return img, nil
	}
	return nil, fmt.Errorf("%s: %w", pkg, host.ErrAppNotFound)
}

// IconCalls returns how many times AppIcon was called.
func (a *Apps) IconCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.iconCalls
}

// Sent is one recorded Send call.
type Sent struct {
	Domain message.Domain
	Msg    any
}

// Recorder is a message.Sender that keeps everything it is given.
type Recorder struct {
	mu     sync.Mutex
	sent   []Sent
	notify chan struct{}
}

func NewRecorder() *Recorder {
	return &Recorder{notify: make(chan struct{}, 1)}
}

func (r *Recorder) Send(domain message.Domain, msg any) {
	r.mu.Lock()
	r.sent = append(r.sent, Sent{Domain: domain, Msg: msg})
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// All returns a copy of everything sent so far.
func (r *Recorder) All() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.sent...)
}

// Summaries returns the sent summaries in order.
func (r *Recorder) Summaries() []message.Summary {
	var out []message.Summary
	for _, s := range r.All() {
		if m, ok := s.Msg.(message.Summary); ok {
			out = append(out, m)
		}
	}
	return out
}

// Images returns the sent images in order.
func (r *Recorder) Images() []message.Image {
	var out []message.Image
	for _, s := range r.All() {
		if m, ok := s.Msg.(message.Image); ok {
			out = append(out, m)
		}
	}
	return out
}

// Wait blocks until at least n messages were sent or timeout passes, and
// returns what was sent.
func (r *Recorder) Wait(n int, timeout time.Duration) []Sent {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		all := r.All()
		if len(all) >= n {
			return all
		}
		select {
		case <-r.notify:
		case <-deadline.C:
			return r.All()
		}
	}
}

// Metadata is a host.Metadata over plain maps.
type Metadata struct {
	Strings map[string]string
	Longs   map[string]int64
	Bitmaps map[string]image.Image
}

// Track returns metadata for artist/title with a duration in milliseconds.
func Track(artist, title string, durationMs int64) *Metadata {
	return &Metadata{
		Strings: map[string]string{host.MetadataArtist: artist, host.MetadataTitle: title},
		Longs:   map[string]int64{host.MetadataDuration: durationMs},
	}
}

// WithArt sets the album art bitmap and returns m.
func (m *Metadata) WithArt(img image.Image) *Metadata {
	if m.Bitmaps == nil {
		m.Bitmaps = make(map[string]image.Image)
	}
	m.Bitmaps[host.MetadataAlbumArt] = img
	return m
}

func (m *Metadata) String(key string) (string, error) { return m.Strings[key], nil }
func (m *Metadata) Long(key string) (int64, error)    { return m.Longs[key], nil }

func (m *Metadata) Bitmap(key string) (image.Image, error) {
	if img, ok := m.Bitmaps[key]; ok {
		return img, nil
	}
	return nil, host.ErrNoImage
}

// Controller is a host.MediaController with settable state.
type Controller struct {
	Package string
	Token   string

	mu        sync.Mutex
	metadata  host.Metadata
	state     *host.PlaybackState
	callbacks []host.MediaCallback
	controls  []host.TransportControl
}

func NewController(pkg, token string) *Controller {
	return &Controller{Package: pkg, Token: token}
}

func (c *Controller) PackageName() string  { return c.Package }
func (c *Controller) SessionToken() string { return c.Token }

func (c *Controller) Metadata() (host.Metadata, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metadata, nil
}

func (c *Controller) PlaybackState() (*host.PlaybackState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		return nil, nil
	}
	s := *c.state
	return &s, nil
}

func (c *Controller) RegisterCallback(cb host.MediaCallback) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = append(c.callbacks, cb)
	return nil
}

func (c *Controller) UnregisterCallback(cb host.MediaCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, x := range c.callbacks {
		if x == cb {
			c.callbacks = append(c.callbacks[:i], c.callbacks[i+1:]...)
			return
		}
	}
}

func (c *Controller) Control(action host.TransportControl) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.controls = append(c.controls, action)
	return nil
}

// Callbacks returns the number of registered callbacks.
func (c *Controller) Callbacks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.callbacks)
}

// Controls returns the transport controls received so far.
func (c *Controller) Controls() []host.TransportControl {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]host.TransportControl(nil), c.controls...)
}

// SetMetadata replaces the metadata and notifies registered callbacks on the
// calling goroutine.
func (c *Controller) SetMetadata(md host.Metadata) {
	c.mu.Lock()
	c.metadata = md
	cbs := append([]host.MediaCallback(nil), c.callbacks...)
	c.mu.Unlock()
	for _, cb := range cbs {
		cb.OnMetadataChanged(md)
	}
}

// SetState replaces the playback state and notifies registered callbacks on
// the calling goroutine.
func (c *Controller) SetState(s *host.PlaybackState) {
	c.mu.Lock()
	c.state = s
	cbs := append([]host.MediaCallback(nil), c.callbacks...)
	c.mu.Unlock()
	for _, cb := range cbs {
		cb.OnPlaybackStateChanged(s)
	}
}

// Destroy notifies registered callbacks that the session is gone.
func (c *Controller) Destroy() {
	c.mu.Lock()
	cbs := append([]host.MediaCallback(nil), c.callbacks...)
	c.mu.Unlock()
	for _, cb := range cbs {
		cb.OnSessionDestroyed()
	}
}

// Init sets metadata and state without notifying anyone.
func (c *Controller) Init(md host.Metadata, s *host.PlaybackState) *Controller {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metadata = md
	c.state = s
	return c
}

// Sessions is a host.SessionManager over a fixed list.
type Sessions struct {
	mu       sync.Mutex
	active   []host.MediaController
	listener func([]host.MediaController)
	Denied   bool
}

func (s *Sessions) SetActive(cs ...host.MediaController) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = cs
}

func (s *Sessions) ActiveSessions() ([]host.MediaController, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Denied {
		return nil, host.ErrPermissionDenied
	}
	return append([]host.MediaController(nil), s.active...), nil
}

func (s *Sessions) AddActiveSessionsListener(fn func([]host.MediaController)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Denied {
		return host.ErrPermissionDenied
	}
	s.listener = fn
	return nil
}

func (s *Sessions) RemoveActiveSessionsListener() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = nil
}

// Listening reports whether a listener is registered.
func (s *Sessions) Listening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener != nil
}

// Change replaces the active list and notifies the listener on the calling
// goroutine.
func (s *Sessions) Change(cs ...host.MediaController) {
	s.mu.Lock()
	s.active = cs
	fn := s.listener
	s.mu.Unlock()
	if fn != nil {
		fn(append([]host.MediaController(nil), cs...))
	}
}
