package gateway

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/DimaMzk/AnotherGlass/internal/message"
)

const DefaultOutboxSize = 256

type outboxItem struct {
	domain message.Domain
	msg    any
}

// Outbox is the message.Sender the bridges write to. Send never blocks; a
// single writer goroutine (Run) pushes items to every peer in the order they
// were sent. Images only use the first three quarters of the buffer so a
// burst of them cannot crowd out summaries. When a summary is dropped anyway,
// images for its stream are dropped too until the next summary gets through,
// so peers never see an image for a summary they missed.
type Outbox struct {
	conns      *ConnManager
	items      chan outboxItem
	imageLimit int
	quit       chan struct{}
	once       sync.Once

	mu   sync.Mutex
	lost map[string]bool

	dropped atomic.Int64
}

func NewOutbox(conns *ConnManager, size int) *Outbox {
	if size <= 0 {
		size = DefaultOutboxSize
	}
	return &Outbox{
		conns:      conns,
		items:      make(chan outboxItem, size),
		imageLimit: size - size/4,
		quit:       make(chan struct{}),
		lost:       make(map[string]bool),
	}
}

// Send implements message.Sender.
func (o *Outbox) Send(domain message.Domain, msg any) {
	select {
	case <-o.quit:
		return
	default:
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	stream, isImage := streamOf(msg)
	if isImage && (o.lost[stream] || len(o.items) >= o.imageLimit) {
		o.drop(domain, stream)
		return
	}
	select {
	case o.items <- outboxItem{domain: domain, msg: msg}:
		if !isImage {
			delete(o.lost, stream)
		}
	default:
		if !isImage && stream != "" {
			o.lost[stream] = true
		}
		o.drop(domain, stream)
	}
}

func (o *Outbox) drop(domain message.Domain, stream string) {
	n := o.dropped.Add(1)
	slog.Warn("outbox full, message dropped", "domain", domain, "stream", stream, "dropped", n)
}

// streamOf reports the stream a message belongs to and whether it is an image.
func streamOf(msg any) (string, bool) {
	switch m := msg.(type) {
	case message.Image:
		return m.StreamID, true
	case *message.Image:
		return m.StreamID, true
	case message.Summary:
		return m.StreamID, false
	case *message.Summary:
		return m.StreamID, false
	}
	return "", false
}

// Run writes queued items until ctx is done or Close is called.
func (o *Outbox) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.quit:
			return
		case it := <-o.items:
			o.write(it)
		}
	}
}

func (o *Outbox) write(it outboxItem) {
	if n := o.conns.BroadcastToRole(RolePeer, string(it.domain), envelopeFor(it.msg)); n == 0 {
		slog.Debug("no peer connected", "domain", it.domain)
	}
}

// Close stops Run and makes later Sends no-ops.
func (o *Outbox) Close() {
	o.once.Do(func() { close(o.quit) })
}

// Dropped reports how many items were dropped because the buffer was full.
func (o *Outbox) Dropped() int64 { return o.dropped.Load() }

// Pending reports how many items wait for the writer.
func (o *Outbox) Pending() int { return len(o.items) }
