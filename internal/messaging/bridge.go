// Package messaging forwards notifications from enabled chat apps to the peer:
// a text summary first, then the sender's picture in increasing resolution.
package messaging

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/DimaMzk/AnotherGlass/internal/host"
	"github.com/DimaMzk/AnotherGlass/internal/imaging"
	"github.com/DimaMzk/AnotherGlass/internal/message"
	"github.com/DimaMzk/AnotherGlass/internal/worker"
)

type Options struct {
	IconSize       int
	SmallImageSize int
	LargeImageSize int
	JPEGQuality    int
	DrainTimeout   time.Duration
}

func DefaultOptions() Options {
	return Options{
		IconSize:       imaging.DefaultIconSize,
		SmallImageSize: 16,
		LargeImageSize: 128,
		JPEGQuality:    imaging.DefaultJPEGQuality,
		DrainTimeout:   worker.DefaultDrainTimeout,
	}
}

// Bridge is the messaging bridge. OnPosted and OnRemoved are called on the
// dispatch loop; everything expensive runs on the bridge's worker.
type Bridge struct {
	opts   Options
	filter Filter
	source host.NotificationSource
	apps   host.AppResolver
	out    message.Sender
	icons  *imaging.IconCache

	mu      sync.Mutex
	running bool
	worker  *worker.Worker
}

func NewBridge(opts Options, sources SourceStore, source host.NotificationSource, apps host.AppResolver, out message.Sender) *Bridge {
	def := DefaultOptions()
	if opts.IconSize <= 0 {
		opts.IconSize = def.IconSize
	}
	if opts.SmallImageSize <= 0 {
		opts.SmallImageSize = def.SmallImageSize
	}
	if opts.LargeImageSize <= 0 {
		opts.LargeImageSize = def.LargeImageSize
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = def.DrainTimeout
	}
	return &Bridge{
		opts:   opts,
		filter: NewFilter(sources),
		source: source,
		apps:   apps,
		out:    out,
		icons:  imaging.NewIconCache(opts.IconSize),
	}
}

// Start subscribes to notifications. Calling it again while running is a no-op.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = true
	b.worker = worker.New("messaging")
	b.mu.Unlock()

	if b.source != nil {
		b.source.Subscribe(b)
	}
	slog.Info("messaging bridge started")
	return nil
}

// Stop unsubscribes, cancels pending image work, drains the worker within the
// configured timeout and clears the icon cache. It is idempotent.
func (b *Bridge) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	w := b.worker
	b.worker = nil
	b.mu.Unlock()

	if b.source != nil {
		b.source.Unsubscribe(b)
	}
	drained := w.Shutdown(b.opts.DrainTimeout)
	b.icons.Clear()
	slog.Info("messaging bridge stopped", "drained", drained)
}

// Running reports whether the bridge is started.
func (b *Bridge) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

func (b *Bridge) currentWorker() *worker.Worker {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.worker
}

// OnPosted forwards a new or updated notification.
func (b *Bridge) OnPosted(n host.Notification) {
	w := b.currentWorker()
	if w == nil {
		return
	}
	sourceID := SourceID(n)
	if !b.filter.Allow(sourceID) {
		return
	}
	f := Extract(n)
	pic := b.copySenderImage(n, f)

	if err := w.Submit(func(t *worker.Task) {
		b.sendSummary(t, message.KindMessagingPosted, f)
	}); err != nil {
		pic.Release()
		return
	}
	if pic == nil {
		return
	}
	key := senderImageKey(f)
	if err := w.SubmitLatest(key, func(t *worker.Task) {
		b.sendSenderImage(t, f, pic)
	}, worker.OnDone(pic.Release)); err != nil {
		slog.Debug("sender image job rejected", "stream", f.StreamID(), "error", err)
	}
}

// OnRemoved tells the peer the notification is gone and drops any sender
// picture still being prepared for it.
func (b *Bridge) OnRemoved(n host.Notification) {
	w := b.currentWorker()
	if w == nil {
		return
	}
	sourceID := SourceID(n)
	if !b.filter.Allow(sourceID) {
		return
	}
	f := Extract(n)
	w.Cancel(senderImageKey(f))
	_ = w.Submit(func(t *worker.Task) {
		b.sendSummary(t, message.KindMessagingRemoved, f)
	})
}

func senderImageKey(f Fields) string {
	return f.StreamID() + "/" + string(message.SlotSenderImage)
}

// copySenderImage takes the owned copy handed to the worker. The host object
// is only valid during the callback.
func (b *Bridge) copySenderImage(n host.Notification, f Fields) *imaging.Bitmap {
	img, err := SenderImage(n)
	if err != nil {
		slog.Warn("sender image unreadable", "stream", f.StreamID(), "error", err)
		return nil
	}
	if img == nil {
		return nil
	}
	pic, err := imaging.Clone(img)
	if err != nil {
		slog.Warn("sender image copy failed", "stream", f.StreamID(), "error", err)
		return nil
	}
	return pic
}

func (b *Bridge) sendSummary(t *worker.Task, kind message.Kind, f Fields) {
	s := message.Summary{
		StreamID:       f.StreamID(),
		SourceID:       f.SourceID,
		Kind:           kind,
		NotificationID: f.ID,
		AppName:        AppName(b.apps, f.SourceID),
		Title:          f.Sender,
		Body:           f.Body,
		Timestamp:      f.PostTime,
		Icon:           b.icon(f.SourceID),
	}
	t.Deliver(func() { b.out.Send(message.DomainMessaging, s) })
}

// icon returns the cached app icon, loading it on the first event for the
// source. A missing app is not worth a warning.
func (b *Bridge) icon(sourceID string) []byte {
	data, err := b.icons.Get(sourceID, b.loadIcon)
	if err != nil {
		if errors.Is(err, host.ErrAppNotFound) || errors.Is(err, host.ErrNoImage) {
			slog.Debug("no app icon", "source", sourceID)
		} else {
			slog.Warn("app icon failed", "source", sourceID, "error", err)
		}
		return nil
	}
	return data
}

func (b *Bridge) loadIcon(sourceID string) (image.Image, error) {
	if b.apps == nil {
		return nil, host.ErrAppNotFound
	}
	return host.Try("app icon", func() (image.Image, error) {
		img, err := b.apps.AppIcon(sourceID)
		if err != nil {
			return nil, err
		}
		if img == nil {
			return nil, host.ErrNoImage
		}
		return imaging.Rasterize(img), nil
	})
}

func (b *Bridge) sendSenderImage(t *worker.Task, f Fields, pic *imaging.Bitmap) {
	steps := imaging.Steps(b.opts.SmallImageSize, b.opts.LargeImageSize)
	n := imaging.Progressive(t.Context(), pic, steps, b.opts.JPEGQuality, func(step imaging.Step, data []byte) bool {
		img := message.Image{
			StreamID:  f.StreamID(),
			SourceID:  f.SourceID,
			Slot:      message.SlotSenderImage,
			Tier:      step.Tier,
			Size:      step.Size,
			MIME:      imaging.MIMEJPEG,
			Data:      data,
			Timestamp: time.Now(),
		}
		return t.Deliver(func() { b.out.Send(message.DomainMessaging, img) })
	})
	slog.Debug("sender image sent", "stream", f.StreamID(), "tiers", n)
}
