package source

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image/png"
	"testing"
	"time"

	"github.com/DimaMzk/AnotherGlass/internal/dispatch"
	"github.com/DimaMzk/AnotherGlass/internal/host"
	"github.com/DimaMzk/AnotherGlass/internal/host/hosttest"
	"github.com/DimaMzk/AnotherGlass/internal/message"
	"github.com/DimaMzk/AnotherGlass/internal/messaging"
	"github.com/DimaMzk/AnotherGlass/internal/music"
)

func pngBase64(t *testing.T, w, h int) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, hosttest.Picture(w, h)); err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func newTestHub(t *testing.T) (*Hub, *dispatch.Loop) {
	t.Helper()
	loop := dispatch.New("source-test")
	t.Cleanup(loop.Close)
	return NewHub(loop), loop
}

// flush waits until everything posted so far has run.
func flush(loop *dispatch.Loop) { loop.Call(func() {}) }

type recordingListener struct {
	posted, removed []host.Notification
}

func (r *recordingListener) OnPosted(n host.Notification)  { r.posted = append(r.posted, n) }
func (r *recordingListener) OnRemoved(n host.Notification) { r.removed = append(r.removed, n) }

func TestHubNotifications(t *testing.T) {
	hub, loop := newTestHub(t)
	l := &recordingListener{}
	hub.Subscribe(l)

	p := NotificationParams{
		ID:         9,
		Package:    "com.discord",
		PostTimeMs: 1700000000000,
		Extras:     map[string]string{host.ExtraTitle: "Ada", host.ExtraText: "hi"},
		LargeIcon:  pngBase64(t, 20, 10),
	}
	if err := hub.Handle(MethodNotificationPosted, raw(t, p)); err != nil {
		t.Fatalf("Handle(posted) error = %v", err)
	}
	if err := hub.Handle(MethodNotificationRemoved, raw(t, p)); err != nil {
		t.Fatalf("Handle(removed) error = %v", err)
	}
	flush(loop)

	if len(l.posted) != 1 || len(l.removed) != 1 {
		t.Fatalf("posted %d removed %d, want 1 and 1", len(l.posted), len(l.removed))
	}
	n := l.posted[0]
	if n.ID() != 9 || n.PackageName() != "com.discord" || !n.PostTime().Equal(time.UnixMilli(1700000000000)) {
		t.Errorf("notification = %d %s %v", n.ID(), n.PackageName(), n.PostTime())
	}
	if title, _ := n.Extra(host.ExtraTitle); title != "Ada" {
		t.Errorf("title = %q", title)
	}
	img, err := n.LargeIcon()
	if err != nil || img.Bounds().Dx() != 20 {
		t.Errorf("LargeIcon() = %v, %v", img, err)
	}
	if _, err := n.LegacyLargeIcon(); !errors.Is(err, host.ErrNoImage) {
		t.Errorf("LegacyLargeIcon() error = %v, want ErrNoImage", err)
	}

	hub.Unsubscribe(l)
	_ = hub.Handle(MethodNotificationPosted, raw(t, p))
	flush(loop)
	if len(l.posted) != 1 {
		t.Error("unsubscribed listener still called")
	}
}

func TestHubCorruptImageFailsOnAccess(t *testing.T) {
	hub, loop := newTestHub(t)
	l := &recordingListener{}
	hub.Subscribe(l)
	p := NotificationParams{ID: 1, Package: "p", LargeIcon: base64.StdEncoding.EncodeToString([]byte("not an image"))}
	if err := hub.Handle(MethodNotificationPosted, raw(t, p)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	flush(loop)
	if _, err := l.posted[0].LargeIcon(); err == nil || errors.Is(err, host.ErrNoImage) {
		t.Errorf("LargeIcon() error = %v, want a decode error", err)
	}
}

func TestHubRejectsBadRequests(t *testing.T) {
	hub, _ := newTestHub(t)
	tests := []struct {
		method string
		params json.RawMessage
	}{
		{"bogus.method", json.RawMessage(`{}`)},
		{MethodNotificationPosted, nil},
		{MethodNotificationPosted, json.RawMessage(`{"id":1}`)},
		{MethodMediaState, json.RawMessage(`[1,2]`)},
		{MethodAppInfo, json.RawMessage(`{"label":"x"}`)},
	}
	for _, tt := range tests {
		if err := hub.Handle(tt.method, tt.params); err == nil {
			t.Errorf("Handle(%s, %s) should fail", tt.method, tt.params)
		}
	}
}

func TestHubAppRegistry(t *testing.T) {
	hub, _ := newTestHub(t)
	if _, err := hub.AppLabel("com.discord"); !errors.Is(err, host.ErrAppNotFound) {
		t.Errorf("AppLabel(unknown) error = %v", err)
	}
	if err := hub.Handle(MethodAppInfo, raw(t, AppInfoParams{Package: "com.discord", Label: "Discord", Icon: pngBase64(t, 8, 8)})); err != nil {
		t.Fatal(err)
	}
	if label, err := hub.AppLabel("com.discord"); err != nil || label != "Discord" {
		t.Errorf("AppLabel() = %q, %v", label, err)
	}
	if img, err := hub.AppIcon("com.discord"); err != nil || img.Bounds().Dx() != 8 {
		t.Errorf("AppIcon() = %v, %v", img, err)
	}
}

type recordingCallback struct {
	states    []*host.PlaybackState
	metadata  []host.Metadata
	destroyed int
}

func (r *recordingCallback) OnPlaybackStateChanged(s *host.PlaybackState) {
	r.states = append(r.states, s)
}
func (r *recordingCallback) OnMetadataChanged(md host.Metadata) { r.metadata = append(r.metadata, md) }
func (r *recordingCallback) OnSessionDestroyed()                { r.destroyed++ }

func TestHubMediaSessions(t *testing.T) {
	hub, loop := newTestHub(t)
	var lists [][]host.MediaController
	if err := hub.AddActiveSessionsListener(func(cs []host.MediaController) { lists = append(lists, cs) }); err != nil {
		t.Fatal(err)
	}

	_ = hub.Handle(MethodMediaSessions, raw(t, MediaSessionsParams{Sessions: []SessionRef{{Token: "t1", Package: "app.y"}}}))
	flush(loop)
	if len(lists) != 1 || len(lists[0]) != 1 || lists[0][0].SessionToken() != "t1" {
		t.Fatalf("listener lists = %v", lists)
	}

	c := lists[0][0]
	if md, _ := c.Metadata(); md != nil {
		t.Error("Metadata() before any metadata frame should be nil")
	}
	cb := &recordingCallback{}
	_ = c.RegisterCallback(cb)

	_ = hub.Handle(MethodMediaMetadata, raw(t, MediaMetadataParams{Token: "t1", Artist: "A", Title: "T", DurationMs: 1000, AlbumArt: pngBase64(t, 4, 4)}))
	_ = hub.Handle(MethodMediaState, raw(t, MediaStateParams{Token: "t1", State: "playing", PositionMs: 500, UpdatedAtMs: 1700000000000}))
	_ = hub.Handle(MethodMediaState, raw(t, MediaStateParams{Token: "missing", State: "paused"}))
	flush(loop)

	if len(cb.metadata) != 1 || len(cb.states) != 1 {
		t.Fatalf("callbacks: %d metadata, %d states", len(cb.metadata), len(cb.states))
	}
	if st := cb.states[0]; !st.Playing() || st.PositionMillis != 500 || st.Speed != 1 {
		t.Errorf("state = %+v", st)
	}

	// A fresh controller for the same token sees the same session.
	again, _ := hub.ActiveSessions()
	md, _ := again[0].Metadata()
	if title, _ := md.String(host.MetadataTitle); title != "T" {
		t.Errorf("title via fresh controller = %q", title)
	}
	if art, err := md.Bitmap(host.MetadataAlbumArt); err != nil || art.Bounds().Dx() != 4 {
		t.Errorf("album art = %v, %v", art, err)
	}
	if _, err := md.Bitmap(host.MetadataArt); !errors.Is(err, host.ErrNoImage) {
		t.Errorf("art = %v, want ErrNoImage", err)
	}

	_ = hub.Handle(MethodMediaDestroyed, raw(t, MediaDestroyedParams{Token: "t1"}))
	flush(loop)
	if cb.destroyed != 1 {
		t.Errorf("destroyed callbacks = %d, want 1", cb.destroyed)
	}
	if len(lists) != 2 || len(lists[1]) != 0 {
		t.Errorf("list after destroy = %v, want empty", lists[len(lists)-1])
	}
}

func TestHubAccess(t *testing.T) {
	hub, _ := newTestHub(t)
	granted := make(chan struct{}, 1)
	hub.OnAccessGranted(func() { granted <- struct{}{} })

	_ = hub.Handle(MethodMediaAccess, raw(t, MediaAccessParams{Granted: false}))
	if _, err := hub.ActiveSessions(); !errors.Is(err, host.ErrPermissionDenied) {
		t.Errorf("ActiveSessions() error = %v, want ErrPermissionDenied", err)
	}
	if err := hub.AddActiveSessionsListener(func([]host.MediaController) {}); !errors.Is(err, host.ErrPermissionDenied) {
		t.Errorf("AddActiveSessionsListener() error = %v, want ErrPermissionDenied", err)
	}

	_ = hub.Handle(MethodMediaAccess, raw(t, MediaAccessParams{Granted: true}))
	select {
	case <-granted:
	case <-time.After(time.Second):
		t.Fatal("OnAccessGranted callback not run")
	}
	if !hub.Granted() {
		t.Error("Granted() = false")
	}
}

func TestHubRegrantRestartsMusic(t *testing.T) {
	hub, loop := newTestHub(t)
	rec := hosttest.NewRecorder()
	opts := music.DefaultOptions()
	opts.PreferredApp = "app.y"
	mu := music.NewBridge(opts, loop, hub, &nopTicker{}, rec)
	if err := mu.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer mu.Stop()
	hub.OnAccessGranted(func() { _ = mu.Start(context.Background()) })
	hub.OnAccessRevoked(mu.OnAccessRevoked)

	_ = hub.Handle(MethodMediaAccess, raw(t, MediaAccessParams{Granted: false}))
	if st := mu.Status(); st.Running || st.Inactive == "" {
		t.Fatalf("status after revoke = %+v, want stopped and inactive", st)
	}

	_ = hub.Handle(MethodMediaAccess, raw(t, MediaAccessParams{Granted: true}))
	deadline := time.Now().Add(3 * time.Second)
	for !mu.Status().Running && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if st := mu.Status(); !st.Running || st.Inactive != "" {
		t.Fatalf("status after re-grant = %+v, want running", st)
	}

	_ = hub.Handle(MethodMediaSessions, raw(t, MediaSessionsParams{Sessions: []SessionRef{{Token: "s2", Package: "app.y"}}}))
	_ = hub.Handle(MethodMediaMetadata, raw(t, MediaMetadataParams{Token: "s2", Artist: "A", Title: "Back"}))
	rec.Wait(1, 3*time.Second)
	sums := rec.Summaries()
	if len(sums) == 0 || sums[0].StreamID != message.MediaStreamID("s2") || sums[0].Title != "Back" {
		t.Errorf("summaries after re-grant = %+v, want one for s2", sums)
	}
}

func TestHubDecodesImagesOnHandle(t *testing.T) {
	n := newNotification(NotificationParams{
		ID:         1,
		Package:    "p",
		LargeIcon:  pngBase64(t, 6, 6),
		LegacyIcon: base64.StdEncoding.EncodeToString([]byte("not an image")),
	})
	if n.large == nil || n.large.img == nil || n.large.err != nil {
		t.Errorf("large icon not decoded at construction: %+v", n.large)
	}
	if n.legacy == nil || n.legacy.err == nil {
		t.Errorf("corrupt legacy icon error not kept: %+v", n.legacy)
	}

	md := newMetadata(MediaMetadataParams{Token: "t", AlbumArt: pngBase64(t, 4, 4)})
	if art := md.bitmaps[host.MetadataAlbumArt]; art == nil || art.img == nil {
		t.Errorf("album art not decoded at construction: %+v", art)
	}
	if md.bitmaps[host.MetadataArt] != nil {
		t.Error("empty art payload should stay nil")
	}
}

func TestHubControl(t *testing.T) {
	hub, loop := newTestHub(t)
	_ = hub.Handle(MethodMediaSessions, raw(t, MediaSessionsParams{Sessions: []SessionRef{{Token: "t1", Package: "app.y"}}}))
	flush(loop)
	cs, _ := hub.ActiveSessions()

	if err := cs[0].Control(host.ControlPause); !errors.Is(err, ErrNoSource) {
		t.Errorf("Control() without sink = %v, want ErrNoSource", err)
	}
	var got []string
	hub.SetControlSink(func(token string, action host.TransportControl) error {
		got = append(got, token+":"+string(action))
		return nil
	})
	if err := cs[0].Control(host.ControlPause); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != "t1:pause" {
		t.Errorf("sink got %v", got)
	}
}

func TestHubDrivesBridges(t *testing.T) {
	hub, loop := newTestHub(t)
	rec := hosttest.NewRecorder()

	mb := messaging.NewBridge(messaging.DefaultOptions(), messaging.SourceStoreFunc(func() []string { return []string{"com.discord"} }), hub, hub, rec)
	if err := mb.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer mb.Stop()

	ticker := &nopTicker{}
	opts := music.DefaultOptions()
	opts.PreferredApp = "app.y"
	mu := music.NewBridge(opts, loop, hub, ticker, rec)
	if err := mu.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer mu.Stop()

	_ = hub.Handle(MethodAppInfo, raw(t, AppInfoParams{Package: "com.discord", Label: "Discord", Icon: pngBase64(t, 32, 32)}))
	_ = hub.Handle(MethodNotificationPosted, raw(t, NotificationParams{ID: 1, Package: "com.discord", Extras: map[string]string{host.ExtraTitle: "Ada"}}))
	_ = hub.Handle(MethodMediaSessions, raw(t, MediaSessionsParams{Sessions: []SessionRef{{Token: "s", Package: "app.y"}}}))
	_ = hub.Handle(MethodMediaMetadata, raw(t, MediaMetadataParams{Token: "s", Artist: "A", Title: "T"}))

	rec.Wait(2, 3*time.Second)
	var domains []message.Domain
	for _, s := range rec.All() {
		domains = append(domains, s.Domain)
	}
	if len(domains) != 2 {
		t.Fatalf("sent %v, want one messaging and one music summary", domains)
	}
	sums := rec.Summaries()
	for _, s := range sums {
		switch s.Kind {
		case message.KindMessagingPosted:
			if s.AppName != "Discord" || len(s.Icon) == 0 {
				t.Errorf("messaging summary = %+v", s)
			}
		case message.KindMediaUpdate:
			if s.Title != "T" || s.StreamID != message.MediaStreamID("s") {
				t.Errorf("music summary = %+v", s)
			}
		}
	}
}

type nopTicker struct{}

func (nopTicker) Every(string, time.Duration, func()) {}
func (nopTicker) Cancel(string)                       {}
