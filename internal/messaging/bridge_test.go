package messaging

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"testing"
	"time"

	"github.com/DimaMzk/AnotherGlass/internal/config"
	"github.com/DimaMzk/AnotherGlass/internal/host"
	"github.com/DimaMzk/AnotherGlass/internal/host/hosttest"
	"github.com/DimaMzk/AnotherGlass/internal/imaging"
	"github.com/DimaMzk/AnotherGlass/internal/message"
	"github.com/DimaMzk/AnotherGlass/internal/worker"
)

const waitFor = 3 * time.Second

func enabled(pkgs ...string) SourceStore {
	return SourceStoreFunc(func() []string { return pkgs })
}

func newNotification(id int, pkg string) *hosttest.Notification {
	return &hosttest.Notification{
		NID:     id,
		Package: pkg,
		Posted:  time.Unix(1700000000, 0),
		Extras: map[string]string{
			host.ExtraTitle: "Ada",
			host.ExtraText:  "see you at 6",
		},
	}
}

func startBridge(t *testing.T, sources SourceStore, apps *hosttest.Apps) (*Bridge, *hosttest.Source, *hosttest.Recorder) {
	t.Helper()
	src := &hosttest.Source{}
	rec := hosttest.NewRecorder()
	if apps == nil {
		apps = &hosttest.Apps{}
	}
	b := NewBridge(DefaultOptions(), sources, src, apps, rec)
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(b.Stop)
	return b, src, rec
}

// drain waits until b's worker has run every job submitted so far.
func drain(t *testing.T, b *Bridge) {
	t.Helper()
	w := b.currentWorker()
	if w == nil {
		return
	}
	done := make(chan struct{})
	if err := w.Submit(func(*worker.Task) { close(done) }); err != nil {
		return
	}
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("worker did not reach the barrier")
	}
}

func TestFilterReadsEnabledSetEveryCall(t *testing.T) {
	apps := []string{"a"}
	f := NewFilter(SourceStoreFunc(func() []string { return apps }))
	if !f.Allow("a") || f.Allow("b") {
		t.Fatal("Allow() disagrees with the enabled set")
	}
	apps = []string{"b"}
	if f.Allow("a") || !f.Allow("b") {
		t.Error("Allow() did not see the updated set")
	}
	if f.Allow("") {
		t.Error("Allow(\"\") = true")
	}
	if NewFilter(nil).Allow("a") {
		t.Error("Allow() with no store = true")
	}
}

func TestExtractFallbacks(t *testing.T) {
	tests := []struct {
		name       string
		n          *hosttest.Notification
		wantSender string
		wantBody   string
	}{
		{
			name:       "complete",
			n:          newNotification(1, "com.discord"),
			wantSender: "Ada",
			wantBody:   "see you at 6",
		},
		{
			name:       "missing extras",
			n:          &hosttest.Notification{NID: 2, Package: "com.discord"},
			wantSender: message.UnknownSender,
			wantBody:   "",
		},
		{
			name:       "failing accessor",
			n:          &hosttest.Notification{NID: 3, Package: "com.discord", ErrText: errors.New("recycled")},
			wantSender: message.UnknownSender,
			wantBody:   "",
		},
		{
			name:       "panicking accessor",
			n:          &hosttest.Notification{NID: 4, Package: "com.discord", Panic: "bad parcel"},
			wantSender: message.UnknownSender,
			wantBody:   "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Extract(tt.n)
			if f.Sender != tt.wantSender || f.Body != tt.wantBody {
				t.Errorf("Extract() = %q/%q, want %q/%q", f.Sender, f.Body, tt.wantSender, tt.wantBody)
			}
			if f.SourceID != "com.discord" || f.ID != tt.n.NID {
				t.Errorf("Extract() ids = %q/%d", f.SourceID, f.ID)
			}
			if f.PostTime.IsZero() {
				t.Error("Extract() left PostTime zero")
			}
		})
	}
}

func TestAppName(t *testing.T) {
	apps := &hosttest.Apps{Labels: map[string]string{"org.telegram.messenger": "Telegram"}}
	tests := map[string]string{
		"org.telegram.messenger":     "Telegram",
		config.GoogleMessagesPackage: "Messages",
		config.DiscordPackage:        "Discord",
		config.SlackPackage:          "Slack",
		"com.example.chat":           "com.example.chat",
	}
	for pkg, want := range tests {
		if got := AppName(apps, pkg); got != want {
			t.Errorf("AppName(%q) = %q, want %q", pkg, got, want)
		}
	}
	if got := AppName(nil, config.SlackPackage); got != "Slack" {
		t.Errorf("AppName(nil resolver) = %q, want Slack", got)
	}
}

func TestSenderImagePrefersLargeIcon(t *testing.T) {
	large, legacy := hosttest.Picture(4, 4), hosttest.Picture(2, 2)

	img, err := SenderImage(&hosttest.Notification{Large: large, Legacy: legacy})
	if err != nil || img != image.Image(large) {
		t.Errorf("SenderImage() = %v, %v, want the large icon", img, err)
	}
	img, err = SenderImage(&hosttest.Notification{Legacy: legacy})
	if err != nil || img != image.Image(legacy) {
		t.Errorf("SenderImage() = %v, %v, want the legacy icon", img, err)
	}
	img, err = SenderImage(&hosttest.Notification{})
	if err != nil || img != nil {
		t.Errorf("SenderImage(no picture) = %v, %v, want nil, nil", img, err)
	}
}

func TestPostedSummaryThenProgressiveImages(t *testing.T) {
	baseline := imaging.Outstanding()
	apps := &hosttest.Apps{
		Labels: map[string]string{"com.discord": "Discord"},
		Icons:  map[string]image.Image{"com.discord": hosttest.Picture(48, 48)},
	}
	_, src, rec := startBridge(t, enabled("com.discord"), apps)

	n := newNotification(7, "com.discord")
	n.Large = hosttest.Picture(256, 256)
	src.Post(n)

	sent := rec.Wait(3, waitFor)
	if len(sent) != 3 {
		t.Fatalf("sent %d messages, want 3", len(sent))
	}
	for _, s := range sent {
		if s.Domain != message.DomainMessaging {
			t.Errorf("domain = %q, want messaging", s.Domain)
		}
	}

	sum, ok := sent[0].Msg.(message.Summary)
	if !ok {
		t.Fatalf("first message is %T, want Summary", sent[0].Msg)
	}
	if sum.Kind != message.KindMessagingPosted || sum.StreamID != "com.discord/7" {
		t.Errorf("summary = %+v", sum)
	}
	if sum.AppName != "Discord" || sum.Title != "Ada" || sum.Body != "see you at 6" {
		t.Errorf("summary text = %q %q %q", sum.AppName, sum.Title, sum.Body)
	}
	icon, err := png.Decode(bytes.NewReader(sum.Icon))
	if err != nil {
		t.Fatalf("summary icon is not a PNG: %v", err)
	}
	if icon.Bounds().Dx() != 16 {
		t.Errorf("icon width = %d, want 16", icon.Bounds().Dx())
	}

	small, ok1 := sent[1].Msg.(message.Image)
	large, ok2 := sent[2].Msg.(message.Image)
	if !ok1 || !ok2 {
		t.Fatalf("follow-ups are %T, %T, want Image", sent[1].Msg, sent[2].Msg)
	}
	if small.Tier != message.TierSmall || small.Size != 16 || large.Tier != message.TierLarge || large.Size != 128 {
		t.Errorf("tiers = %s/%d then %s/%d", small.Tier, small.Size, large.Tier, large.Size)
	}
	for _, img := range []message.Image{small, large} {
		if img.StreamID != sum.StreamID || img.Slot != message.SlotSenderImage || img.MIME != imaging.MIMEJPEG {
			t.Errorf("image = %+v", img)
		}
	}

	deadline := time.Now().Add(waitFor)
	for imaging.Outstanding() != baseline && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if imaging.Outstanding() != baseline {
		t.Errorf("sender image copy not released: outstanding %d, want %d", imaging.Outstanding(), baseline)
	}
}

func TestLegacySenderImage(t *testing.T) {
	_, src, rec := startBridge(t, enabled("com.Slack"), nil)
	n := newNotification(1, "com.Slack")
	n.Legacy = hosttest.Picture(64, 64)
	src.Post(n)
	if len(rec.Wait(3, waitFor)) != 3 || len(rec.Images()) != 2 {
		t.Errorf("images = %d, want 2 from the legacy icon", len(rec.Images()))
	}
}

func TestNoSenderImageIsSummaryOnly(t *testing.T) {
	b, src, rec := startBridge(t, enabled("com.Slack"), nil)
	src.Post(newNotification(1, "com.Slack"))
	rec.Wait(1, waitFor)
	b.Stop()

	if got := len(rec.Summaries()); got != 1 {
		t.Errorf("summaries = %d, want 1", got)
	}
	if got := len(rec.Images()); got != 0 {
		t.Errorf("images = %d, want 0", got)
	}
	if s := rec.Summaries()[0]; s.AppName != "Slack" || s.Icon != nil {
		t.Errorf("summary = %+v, want fallback name and no icon", s)
	}
}

func TestDisabledSourceProducesNothing(t *testing.T) {
	b, src, rec := startBridge(t, enabled("com.discord"), nil)
	n := newNotification(1, "com.whatsapp")
	n.Large = hosttest.Picture(32, 32)
	src.Post(n)
	b.OnRemoved(n)
	b.Stop()
	if got := rec.All(); len(got) != 0 {
		t.Errorf("sent %v for a disabled source", got)
	}
}

func TestIconCacheHitSkipsLoad(t *testing.T) {
	apps := &hosttest.Apps{Icons: map[string]image.Image{"com.discord": hosttest.Picture(32, 32)}}
	_, src, rec := startBridge(t, enabled("com.discord"), apps)

	src.Post(newNotification(1, "com.discord"))
	src.Post(newNotification(2, "com.discord"))
	rec.Wait(2, waitFor)

	sums := rec.Summaries()
	if len(sums) != 2 {
		t.Fatalf("summaries = %d, want 2", len(sums))
	}
	if !bytes.Equal(sums[0].Icon, sums[1].Icon) || len(sums[0].Icon) == 0 {
		t.Error("icon bytes differ between cache miss and hit")
	}
	if got := apps.IconCalls(); got != 1 {
		t.Errorf("AppIcon() called %d times, want 1", got)
	}
}

func TestRemovedCancelsPendingSenderImage(t *testing.T) {
	baseline := imaging.Outstanding()
	gate := make(chan struct{})
	apps := &hosttest.Apps{LabelGate: gate}
	b, src, rec := startBridge(t, enabled("com.discord"), apps)

	n := newNotification(3, "com.discord")
	n.Large = hosttest.Picture(128, 128)
	src.Post(n)
	b.OnRemoved(n)
	close(gate)

	rec.Wait(2, waitFor)
	b.Stop()

	sums := rec.Summaries()
	if len(sums) != 2 || sums[0].Kind != message.KindMessagingPosted || sums[1].Kind != message.KindMessagingRemoved {
		t.Fatalf("summaries = %+v, want posted then removed", sums)
	}
	if got := len(rec.Images()); got != 0 {
		t.Errorf("images = %d after removal, want 0", got)
	}
	if imaging.Outstanding() != baseline {
		t.Errorf("cancelled job leaked its copy: outstanding %d, want %d", imaging.Outstanding(), baseline)
	}
}

func TestNewerPostSupersedesQueuedImage(t *testing.T) {
	gate := make(chan struct{})
	apps := &hosttest.Apps{LabelGate: gate}
	b, src, rec := startBridge(t, enabled("com.discord"), apps)

	first := newNotification(5, "com.discord")
	first.Large = hosttest.Picture(64, 64)
	second := newNotification(5, "com.discord")
	second.Extras[host.ExtraText] = "running late"
	second.Large = hosttest.Picture(96, 96)

	src.Post(first)
	src.Post(second)
	close(gate)

	rec.Wait(4, waitFor)
	drain(t, b)

	if got := len(rec.Summaries()); got != 2 {
		t.Errorf("summaries = %d, want 2", got)
	}
	if got := len(rec.Images()); got != 2 {
		t.Errorf("images = %d, want only the newer job's two tiers", got)
	}
}

func TestStartStopIdempotent(t *testing.T) {
	src := &hosttest.Source{}
	apps := &hosttest.Apps{Icons: map[string]image.Image{"com.discord": hosttest.Picture(8, 8)}}
	rec := hosttest.NewRecorder()
	b := NewBridge(Options{}, enabled("com.discord"), src, apps, rec)

	b.Stop()
	_ = b.Start(context.Background())
	_ = b.Start(context.Background())
	if src.Listeners() != 1 || !b.Running() {
		t.Fatalf("listeners = %d after double Start(), want 1", src.Listeners())
	}

	src.Post(newNotification(1, "com.discord"))
	rec.Wait(1, waitFor)
	b.Stop()
	b.Stop()
	if src.Listeners() != 0 || b.Running() {
		t.Errorf("listeners = %d after Stop(), want 0", src.Listeners())
	}
	if b.icons.Len() != 0 {
		t.Errorf("icon cache holds %d entries after Stop(), want 0", b.icons.Len())
	}

	if b.currentWorker() != nil {
		t.Fatal("worker still attached after Stop()")
	}
	before := len(rec.All())
	b.OnPosted(newNotification(2, "com.discord"))
	if len(rec.All()) != before {
		t.Error("stopped bridge still forwards")
	}
}
