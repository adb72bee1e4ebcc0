// Package source turns frames from a host listener connection into the host
// objects the bridges consume: notifications, media sessions and the app
// registry.
package source

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"github.com/DimaMzk/AnotherGlass/internal/dispatch"
	"github.com/DimaMzk/AnotherGlass/internal/host"
)

// ErrNoSource is returned by Control when no source can take the command.
var ErrNoSource = errors.New("no source connected")

// ControlSink delivers a transport command to the host listener.
type ControlSink func(token string, action host.TransportControl) error

type appRecord struct {
	label string
	icon  *decodedImage
}

// Hub is the host adapter. Handle may be called from any goroutine; every
// resulting callback runs on the dispatch loop.
type Hub struct {
	loop *dispatch.Loop

	mu               sync.Mutex
	listeners        []host.NotificationListener
	apps             map[string]appRecord
	sessions         []*session
	sessionsListener func([]host.MediaController)
	granted          bool
	onGranted        func()
	onRevoked        func()
	sink             ControlSink
}

func NewHub(loop *dispatch.Loop) *Hub {
	return &Hub{
		loop:    loop,
		apps:    make(map[string]appRecord),
		granted: true,
	}
}

// SetControlSink sets where transport commands go.
func (h *Hub) SetControlSink(sink ControlSink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sink = sink
}

// OnAccessGranted registers fn to run (on its own goroutine) when media
// access changes from denied to granted.
func (h *Hub) OnAccessGranted(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onGranted = fn
}

// OnAccessRevoked registers fn to run on the dispatch loop when media access
// changes from granted to denied.
func (h *Hub) OnAccessRevoked(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRevoked = fn
}

// Handle decodes one source request and queues its effect on the loop.
func (h *Hub) Handle(method string, params json.RawMessage) error {
	switch method {
	case MethodNotificationPosted, MethodNotificationRemoved:
		var p NotificationParams
		if err := decode(params, &p); err != nil {
			return err
		}
		if p.Package == "" {
			return fmt.Errorf("package required")
		}
		n := newNotification(p)
		posted := method == MethodNotificationPosted
		h.loop.Post(func() { h.deliverNotification(n, posted) })
	case MethodAppInfo:
		var p AppInfoParams
		if err := decode(params, &p); err != nil {
			return err
		}
		if p.Package == "" {
			return fmt.Errorf("package required")
		}
		h.mu.Lock()
		h.apps[p.Package] = appRecord{label: p.Label, icon: decodeImage(p.Icon)}
		h.mu.Unlock()
	case MethodMediaSessions:
		var p MediaSessionsParams
		if err := decode(params, &p); err != nil {
			return err
		}
		h.loop.Post(func() { h.replaceSessions(p.Sessions) })
	case MethodMediaState:
		var p MediaStateParams
		if err := decode(params, &p); err != nil {
			return err
		}
		state := playbackState(p)
		h.loop.Post(func() { h.updateState(p.Token, state) })
	case MethodMediaMetadata:
		var p MediaMetadataParams
		if err := decode(params, &p); err != nil {
			return err
		}
		md := newMetadata(p)
		h.loop.Post(func() { h.updateMetadata(p.Token, md) })
	case MethodMediaDestroyed:
		var p MediaDestroyedParams
		if err := decode(params, &p); err != nil {
			return err
		}
		h.loop.Post(func() { h.destroy(p.Token) })
	case MethodMediaAccess:
		var p MediaAccessParams
		if err := decode(params, &p); err != nil {
			return err
		}
		h.setAccess(p.Granted)
	default:
		return fmt.Errorf("unknown method %q", method)
	}
	return nil
}

func decode(params json.RawMessage, v any) error {
	if len(params) == 0 {
		return fmt.Errorf("params required")
	}
	if err := json.Unmarshal(params, v); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}

// Detach forgets every media session, as when the host listener goes away.
func (h *Hub) Detach() {
	h.loop.Post(func() { h.replaceSessions(nil) })
}

// Subscribe implements host.NotificationSource.
func (h *Hub) Subscribe(l host.NotificationListener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, l)
}

// Unsubscribe implements host.NotificationSource.
func (h *Hub) Unsubscribe(l host.NotificationListener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, x := range h.listeners {
		if x == l {
			h.listeners = append(h.listeners[:i], h.listeners[i+1:]...)
			return
		}
	}
}

func (h *Hub) deliverNotification(n host.Notification, posted bool) {
	h.mu.Lock()
	ls := append([]host.NotificationListener(nil), h.listeners...)
	h.mu.Unlock()
	for _, l := range ls {
		if posted {
			l.OnPosted(n)
		} else {
			l.OnRemoved(n)
		}
	}
}

// AppLabel implements host.AppResolver.
func (h *Hub) AppLabel(pkg string) (string, error) {
	h.mu.Lock()
	rec, ok := h.apps[pkg]
	h.mu.Unlock()
	if !ok || rec.label == "" {
		return "", fmt.Errorf("%s: %w", pkg, host.ErrAppNotFound)
	}
	return rec.label, nil
}

// AppIcon implements host.AppResolver.
func (h *Hub) AppIcon(pkg string) (image.Image, error) {
	h.mu.Lock()
	rec, ok := h.apps[pkg]
	h.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", pkg, host.ErrAppNotFound)
	}
	return rec.icon.Image()
}

// ActiveSessions implements host.SessionManager.
func (h *Hub) ActiveSessions() ([]host.MediaController, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.granted {
		return nil, host.ErrPermissionDenied
	}
	return h.controllersLocked(), nil
}

// AddActiveSessionsListener implements host.SessionManager. fn runs on the
// dispatch loop.
func (h *Hub) AddActiveSessionsListener(fn func([]host.MediaController)) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.granted {
		return host.ErrPermissionDenied
	}
	h.sessionsListener = fn
	return nil
}

// RemoveActiveSessionsListener implements host.SessionManager.
func (h *Hub) RemoveActiveSessionsListener() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessionsListener = nil
}

func (h *Hub) controllersLocked() []host.MediaController {
	out := make([]host.MediaController, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, &controller{hub: h, s: s})
	}
	return out
}

func (h *Hub) findLocked(token string) *session {
	for _, s := range h.sessions {
		if s.token == token {
			return s
		}
	}
	return nil
}

func (h *Hub) replaceSessions(refs []SessionRef) {
	h.mu.Lock()
	next := make([]*session, 0, len(refs))
	for _, ref := range refs {
		if ref.Token == "" {
			continue
		}
		s := h.findLocked(ref.Token)
		if s == nil {
			s = &session{token: ref.Token, pkg: ref.Package}
		}
		next = append(next, s)
	}
	h.sessions = next
	h.mu.Unlock()
	h.notifySessions()
}

func (h *Hub) notifySessions() {
	h.mu.Lock()
	fn := h.sessionsListener
	cs := h.controllersLocked()
	h.mu.Unlock()
	if fn != nil {
		fn(cs)
	}
}

func (h *Hub) updateState(token string, state *host.PlaybackState) {
	h.mu.Lock()
	s := h.findLocked(token)
	if s == nil {
		h.mu.Unlock()
		slog.Debug("state for unknown media session", "token", token)
		return
	}
	s.state = state
	cbs := append([]host.MediaCallback(nil), s.callbacks...)
	h.mu.Unlock()
	for _, cb := range cbs {
		st := *state
		cb.OnPlaybackStateChanged(&st)
	}
}

func (h *Hub) updateMetadata(token string, md *metadata) {
	h.mu.Lock()
	s := h.findLocked(token)
	if s == nil {
		h.mu.Unlock()
		slog.Debug("metadata for unknown media session", "token", token)
		return
	}
	s.metadata = md
	cbs := append([]host.MediaCallback(nil), s.callbacks...)
	h.mu.Unlock()
	for _, cb := range cbs {
		cb.OnMetadataChanged(md)
	}
}

func (h *Hub) destroy(token string) {
	h.mu.Lock()
	s := h.findLocked(token)
	if s == nil {
		h.mu.Unlock()
		return
	}
	cbs := append([]host.MediaCallback(nil), s.callbacks...)
	s.callbacks = nil
	kept := h.sessions[:0]
	for _, x := range h.sessions {
		if x != s {
			kept = append(kept, x)
		}
	}
	h.sessions = kept
	h.mu.Unlock()

	for _, cb := range cbs {
		cb.OnSessionDestroyed()
	}
	h.notifySessions()
}

func (h *Hub) setAccess(granted bool) {
	h.mu.Lock()
	was := h.granted
	h.granted = granted
	onGranted, onRevoked := h.onGranted, h.onRevoked
	if !granted {
		h.sessionsListener = nil
	}
	h.mu.Unlock()

	switch {
	case granted && !was:
		slog.Info("media session access granted")
		if onGranted != nil {
			go onGranted()
		}
	case !granted && was:
		slog.Warn("media session access revoked")
		if onRevoked != nil {
			h.loop.Post(onRevoked)
		}
	}
}

// Granted reports whether media sessions may be read.
func (h *Hub) Granted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.granted
}

func (h *Hub) control(token string, action host.TransportControl) error {
	h.mu.Lock()
	sink := h.sink
	h.mu.Unlock()
	if sink == nil {
		return ErrNoSource
	}
	return sink(token, action)
}
