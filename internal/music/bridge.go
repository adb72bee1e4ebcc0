// Package music follows one media session on the host and keeps the peer's
// now-playing card current: track text with an estimated position, album art
// in two tiers, and a periodic refresh while playing.
package music

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/DimaMzk/AnotherGlass/internal/dispatch"
	"github.com/DimaMzk/AnotherGlass/internal/host"
	"github.com/DimaMzk/AnotherGlass/internal/imaging"
	"github.com/DimaMzk/AnotherGlass/internal/message"
	"github.com/DimaMzk/AnotherGlass/internal/worker"
)

// ErrNoSession is returned by Control when no session is tracked.
var ErrNoSession = errors.New("no tracked media session")

const nudgeName = "music-nudge"

type Options struct {
	PreferredApp string
	SyncInterval time.Duration
	ArtSmallSize int
	ArtLargeSize int
	JPEGQuality  int
	DrainTimeout time.Duration
	Clock        Clock
}

func DefaultOptions() Options {
	return Options{
		PreferredApp: "com.google.android.apps.youtube.music",
		SyncInterval: DefaultSyncInterval,
		ArtSmallSize: 32,
		ArtLargeSize: 128,
		JPEGQuality:  imaging.DefaultJPEGQuality,
		DrainTimeout: worker.DefaultDrainTimeout,
		Clock:        SystemClock,
	}
}

// artState is the "does this track need art" decision. Every read and write
// of it happens under mu so two snapshots can never both start a job for the
// same key.
type artState struct {
	mu        sync.Mutex
	lastTrack string // key of the last snapshot
	lastArt   string // key whose art was started or sent
	jobKey    string // worker key of the art job for lastArt
}

// Status is a point-in-time view of the bridge for the status API.
type Status struct {
	Running  bool   `json:"running"`
	Package  string `json:"package,omitempty"`
	Session  string `json:"session,omitempty"`
	Playing  bool   `json:"playing"`
	Nudging  bool   `json:"nudging"`
	Track    string `json:"track,omitempty"`
	Pending  int    `json:"pending"`
	Inactive string `json:"inactive,omitempty"`
}

// Bridge is the music bridge. Host callbacks and nudge ticks run on loop;
// Start, Stop, Control and Status may be called from any other goroutine.
type Bridge struct {
	opts     Options
	loop     *dispatch.Loop
	sessions host.SessionManager
	out      message.Sender

	// owned by the loop
	running  bool
	playing  bool
	inactive error
	worker   *worker.Worker
	arbiter  *Arbiter
	nudge    *Nudge

	art artState
}

func NewBridge(opts Options, loop *dispatch.Loop, sessions host.SessionManager, ticker Ticker, out message.Sender) *Bridge {
	def := DefaultOptions()
	if opts.PreferredApp == "" {
		opts.PreferredApp = def.PreferredApp
	}
	if opts.ArtSmallSize <= 0 {
		opts.ArtSmallSize = def.ArtSmallSize
	}
	if opts.ArtLargeSize <= 0 {
		opts.ArtLargeSize = def.ArtLargeSize
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = def.DrainTimeout
	}
	if opts.Clock == nil {
		opts.Clock = def.Clock
	}
	b := &Bridge{
		opts:     opts,
		loop:     loop,
		sessions: sessions,
		out:      out,
	}
	b.arbiter = NewArbiter(opts.PreferredApp, b.newCallback)
	b.nudge = NewNudge(ticker, nudgeName, opts.SyncInterval, loop.Post, b.onNudge)
	return b
}

// Start registers for session changes and locks onto the preferred session if
// one is active. If the host refuses access the bridge stays inactive and the
// error is returned; a later Start tries again.
func (b *Bridge) Start(ctx context.Context) error {
	var err error
	b.loop.Call(func() { err = b.start() })
	return err
}

func (b *Bridge) start() error {
	if b.running {
		return nil
	}
	controllers, err := host.Try("active sessions", b.sessions.ActiveSessions)
	if err == nil {
		_, err = host.Try("sessions listener", func() (struct{}, error) {
			return struct{}{}, b.sessions.AddActiveSessionsListener(b.OnActiveSessionsChanged)
		})
	}
	if err != nil {
		b.inactive = err
		slog.Error("music bridge inactive", "error", err)
		return fmt.Errorf("media sessions: %w", err)
	}

	b.inactive = nil
	b.running = true
	b.worker = worker.New("music")
	slog.Info("music bridge started", "preferred", b.opts.PreferredApp)
	b.OnActiveSessionsChanged(controllers)
	return nil
}

// Stop unregisters everything, cancels the pending art job and drains the
// worker within the configured timeout. It is idempotent and must not be
// called from the dispatch loop.
func (b *Bridge) Stop() {
	var w *worker.Worker
	b.loop.Call(func() { w = b.stop() })
	if w == nil {
		return
	}
	drained := w.Shutdown(b.opts.DrainTimeout)
	slog.Info("music bridge stopped", "drained", drained)
}

func (b *Bridge) stop() *worker.Worker {
	if !b.running {
		return nil
	}
	b.running = false
	b.nudge.Stop()
	b.sessions.RemoveActiveSessionsListener()
	b.arbiter.Reset()
	b.playing = false

	w := b.worker
	b.worker = nil
	b.art.mu.Lock()
	if b.art.jobKey != "" {
		w.Cancel(b.art.jobKey)
	}
	b.art.lastTrack, b.art.lastArt, b.art.jobKey = "", "", ""
	b.art.mu.Unlock()
	return w
}

// OnAccessRevoked tears the bridge down after the host withdrew media session
// access, so a later Start registers again. It must run on the dispatch loop.
func (b *Bridge) OnAccessRevoked() {
	w := b.stop()
	b.inactive = host.ErrPermissionDenied
	if w == nil {
		return
	}
	slog.Warn("music bridge stopped, media access revoked")
	go w.Shutdown(b.opts.DrainTimeout)
}

// OnActiveSessionsChanged runs the arbiter over the new session list.
func (b *Bridge) OnActiveSessionsChanged(controllers []host.MediaController) {
	if !b.running {
		return
	}
	switch t := b.arbiter.Update(controllers); t {
	case TransitionTracked, TransitionSwitched:
		slog.Info("media session locked", "transition", t, "session", b.arbiter.Token())
		b.nudge.Stop()
		b.resetArt()
		b.sendUpdate()
		b.syncNudge()
	case TransitionCleared:
		slog.Info("media session released")
		b.sessionLost()
	}
}

// Control forwards a transport command to the tracked session.
func (b *Bridge) Control(action host.TransportControl) error {
	if !action.Valid() {
		return fmt.Errorf("unknown control %q", action)
	}
	var c host.MediaController
	b.loop.Call(func() {
		if b.running {
			c = b.arbiter.Tracked()
		}
	})
	if c == nil {
		return ErrNoSession
	}
	_, err := host.Try("transport control", func() (struct{}, error) {
		return struct{}{}, c.Control(action)
	})
	return err
}

// Status reports what the bridge is doing.
func (b *Bridge) Status() Status {
	var s Status
	b.loop.Call(func() {
		s.Running = b.running
		s.Playing = b.playing
		s.Nudging = b.nudge.Active()
		if b.inactive != nil {
			s.Inactive = b.inactive.Error()
		}
		if c := b.arbiter.Tracked(); c != nil {
			s.Session = b.arbiter.Token()
			s.Package = b.opts.PreferredApp
		}
		if b.worker != nil {
			s.Pending = b.worker.Pending()
		}
	})
	b.art.mu.Lock()
	s.Track = b.art.lastTrack
	b.art.mu.Unlock()
	return s
}

// sessionCallback binds host callbacks to the session they were registered
// for, so a late callback from a released session is ignored.
type sessionCallback struct {
	b     *Bridge
	token string
}

func (b *Bridge) newCallback(token string) host.MediaCallback {
	return &sessionCallback{b: b, token: token}
}

func (cb *sessionCallback) current() bool {
	return cb.b.running && cb.b.arbiter.Token() == cb.token
}

func (cb *sessionCallback) OnPlaybackStateChanged(*host.PlaybackState) {
	if !cb.current() {
		return
	}
	cb.b.sendUpdate()
	cb.b.syncNudge()
}

func (cb *sessionCallback) OnMetadataChanged(host.Metadata) {
	if !cb.current() {
		return
	}
	cb.b.sendUpdate()
	cb.b.syncNudge()
}

func (cb *sessionCallback) OnSessionDestroyed() {
	if !cb.current() {
		return
	}
	if cb.b.arbiter.Destroyed() == TransitionCleared {
		slog.Info("media session destroyed", "session", cb.token)
		cb.b.sessionLost()
	}
}

func (b *Bridge) sessionLost() {
	b.nudge.Stop()
	b.playing = false
}

func (b *Bridge) onNudge() {
	if !b.running || b.arbiter.Tracked() == nil {
		b.nudge.Stop()
		return
	}
	b.sendUpdate()
	b.syncNudge()
}

// syncNudge keeps the timer running exactly while the session plays.
func (b *Bridge) syncNudge() {
	switch {
	case b.playing && b.arbiter.Tracked() != nil && !b.nudge.Active():
		b.nudge.Start()
	case !b.playing:
		b.nudge.Stop()
	}
}

// snapshot is what a summary job needs, read from the controller on the loop.
type snapshot struct {
	streamID string
	sourceID string
	artist   string
	title    string
	duration int64
	state    host.PlaybackState
	hasState bool
}

func (s snapshot) trackKey() string {
	return s.artist + "|" + s.title
}

// sendUpdate reads the tracked session, queues its summary and decides whether
// album art has to be produced.
func (b *Bridge) sendUpdate() {
	c := b.arbiter.Tracked()
	if c == nil || b.worker == nil {
		return
	}
	md, err := host.Try("metadata", c.Metadata)
	if err != nil {
		slog.Warn("media metadata unreadable", "session", b.arbiter.Token(), "error", err)
		return
	}
	if md == nil {
		return
	}
	state, err := host.Try("playback state", c.PlaybackState)
	if err != nil {
		slog.Warn("playback state unreadable", "session", b.arbiter.Token(), "error", err)
		state = nil
	}

	snap := snapshot{
		streamID: message.MediaStreamID(b.arbiter.Token()),
		sourceID: b.opts.PreferredApp,
		artist:   metadataString(md, host.MetadataArtist),
		title:    metadataString(md, host.MetadataTitle),
		duration: metadataLong(md, host.MetadataDuration),
	}
	if state != nil {
		snap.state = *state
		snap.hasState = true
	}
	b.playing = snap.state.Playing()

	if err := b.worker.Submit(func(t *worker.Task) { b.sendSummary(t, snap) }); err != nil {
		return
	}
	b.decideArt(md, snap)
}

func (b *Bridge) sendSummary(t *worker.Task, snap snapshot) {
	s := message.Summary{
		StreamID:       snap.streamID,
		SourceID:       snap.sourceID,
		Kind:           message.KindMediaUpdate,
		Title:          orDefault(snap.title, message.UnknownTrack),
		Body:           orDefault(snap.artist, message.UnknownArtist),
		Timestamp:      time.Now(),
		IsPlaying:      snap.state.Playing(),
		DurationMillis: snap.duration,
	}
	if snap.hasState {
		pos := EstimatePosition(&snap.state, b.opts.Clock.Now())
		s.PositionMillis = clampToDuration(pos, snap.duration)
	}
	t.Deliver(func() { b.out.Send(message.DomainMusic, s) })
}

func (b *Bridge) resetArt() {
	b.art.mu.Lock()
	defer b.art.mu.Unlock()
	if b.art.jobKey != "" && b.worker != nil {
		b.worker.Cancel(b.art.jobKey)
	}
	b.art.lastTrack, b.art.lastArt, b.art.jobKey = "", "", ""
}

// decideArt starts at most one art job per track key. A new key cancels the
// job for the previous one; a key whose art was already started is skipped.
func (b *Bridge) decideArt(md host.Metadata, snap snapshot) {
	key := snap.trackKey()

	b.art.mu.Lock()
	defer b.art.mu.Unlock()

	if key != b.art.lastTrack {
		b.art.lastTrack = key
		b.art.lastArt = ""
		if b.art.jobKey != "" {
			b.worker.Cancel(b.art.jobKey)
			b.art.jobKey = ""
		}
	}
	if b.art.lastArt == key {
		return
	}

	src := albumArt(md)
	if src == nil {
		return
	}
	b.art.lastArt = key

	pic, err := imaging.Clone(src)
	if err != nil {
		slog.Warn("album art copy failed", "stream", snap.streamID, "error", err)
		return
	}
	jobKey := snap.streamID + "/" + string(message.SlotAlbumArt)
	if err := b.worker.SubmitLatest(jobKey, func(t *worker.Task) {
		b.sendArt(t, snap, pic)
	}, worker.OnDone(pic.Release)); err != nil {
		return
	}
	b.art.jobKey = jobKey
}

func (b *Bridge) sendArt(t *worker.Task, snap snapshot, pic *imaging.Bitmap) {
	playing := snap.state.Playing()
	steps := imaging.Steps(b.opts.ArtSmallSize, b.opts.ArtLargeSize)
	n := imaging.Progressive(t.Context(), pic, steps, b.opts.JPEGQuality, func(step imaging.Step, data []byte) bool {
		img := message.Image{
			StreamID:  snap.streamID,
			SourceID:  snap.sourceID,
			Slot:      message.SlotAlbumArt,
			Tier:      step.Tier,
			Size:      step.Size,
			MIME:      imaging.MIMEJPEG,
			Data:      data,
			IsPlaying: playing,
			Timestamp: time.Now(),
		}
		return t.Deliver(func() { b.out.Send(message.DomainMusic, img) })
	})
	slog.Debug("album art sent", "stream", snap.streamID, "track", snap.trackKey(), "tiers", n)
}

// albumArt prefers the album art bitmap over the generic art one. Missing art
// is nil.
func albumArt(md host.Metadata) image.Image {
	for _, key := range []string{host.MetadataAlbumArt, host.MetadataArt} {
		img, err := host.Try(key, func() (image.Image, error) { return md.Bitmap(key) })
		if err == nil && img != nil {
			return img
		}
		if err != nil && !errors.Is(err, host.ErrNoImage) {
			slog.Debug("album art unreadable", "key", key, "error", err)
		}
	}
	return nil
}

func metadataString(md host.Metadata, key string) string {
	v, err := host.Try(key, func() (string, error) { return md.String(key) })
	if err != nil {
		return ""
	}
	return v
}

func metadataLong(md host.Metadata, key string) int64 {
	v, err := host.Try(key, func() (int64, error) { return md.Long(key) })
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
