// Package gateway is the WebSocket and HTTP surface: peers receive bridge
// messages, host listeners (sources) push notifications and media sessions,
// and the REST API edits settings.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/DimaMzk/AnotherGlass/internal/config"
	"github.com/DimaMzk/AnotherGlass/internal/host"
	"github.com/DimaMzk/AnotherGlass/internal/music"
	"github.com/DimaMzk/AnotherGlass/internal/source"
)

const handshakeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16 * 1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// SourceHandler consumes requests from source connections.
type SourceHandler interface {
	Handle(method string, params json.RawMessage) error
	Detach()
}

// MusicControl is the music bridge as seen by the gateway.
type MusicControl interface {
	Control(action host.TransportControl) error
	Status() music.Status
}

// Server is the AnotherGlass gateway server.
type Server struct {
	ConfigPath string
	Conns      *ConnManager
	Sources    SourceHandler
	Music      MusicControl     // nil when the music bridge is disabled
	Launcher   *source.Launcher // nil when no helpers are managed
	httpSrv    *http.Server
	startAt    time.Time
}

func NewServer(configPath string, conns *ConnManager, sources SourceHandler) *Server {
	return &Server{
		ConfigPath: configPath,
		Conns:      conns,
		Sources:    sources,
		startAt:    time.Now(),
	}
}

// Engine builds the HTTP handler.
func (s *Server) Engine() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/health", s.ginHealth)
	engine.GET("/ws", s.ginWebSocket)
	s.registerAPIRoutes(engine)
	return engine
}

// Start begins listening for connections.
func (s *Server) Start(ctx context.Context) error {
	gin.SetMode(gin.ReleaseMode)
	port := config.Get().Gateway.Port
	s.httpSrv = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.Engine(),
	}

	slog.Info("AnotherGlass gateway starting", "port", port)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpSrv.Shutdown(shutdownCtx)
	}()

	if err := s.httpSrv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// SendControl hands a transport command to the connected sources. It is the
// hub's control sink.
func (s *Server) SendControl(token string, action host.TransportControl) error {
	payload := source.MediaControlPayload{Token: token, Action: string(action)}
	if s.Conns.BroadcastToRole(RoleSource, source.EventMediaControl, payload) == 0 {
		return source.ErrNoSource
	}
	return nil
}

func (s *Server) ginHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"uptime":  time.Since(s.startAt).String(),
		"peers":   s.Conns.Count(RolePeer),
		"sources": s.Conns.Count(RoleSource),
	})
}

func (s *Server) ginWebSocket(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	connID := fmt.Sprintf("conn_%d", time.Now().UnixNano())
	conn := &Conn{
		ID:          connID,
		WS:          ws,
		ConnectedAt: time.Now(),
	}

	// First message must be a connect request
	_ = ws.SetReadDeadline(time.Now().Add(handshakeTimeout))
	frame, err := ReadFrame(ws)
	if err != nil {
		slog.Warn("failed to read connect frame", "error", err)
		return
	}
	_ = ws.SetReadDeadline(time.Time{})
	if frame.Method != MethodConnect {
		conn.Send(ResErr(frame.ID, "HANDSHAKE_REQUIRED", "first message must be a connect request"))
		return
	}

	var connectParams ConnectParams
	if err := json.Unmarshal(frame.Params, &connectParams); err != nil {
		conn.Send(ResErr(frame.ID, "INVALID_PARAMS", "invalid connect params"))
		return
	}
	if connectParams.Role != RolePeer && connectParams.Role != RoleSource {
		conn.Send(ResErr(frame.ID, "INVALID_PARAMS", "role must be peer or source"))
		return
	}

	// Authenticate
	if !s.authenticate(connectParams.Token) {
		conn.Send(ResErr(frame.ID, "AUTH_FAILED", "invalid token"))
		return
	}

	conn.Role = connectParams.Role
	conn.Device = connectParams.Device
	s.Conns.Add(conn)
	defer s.Conns.Remove(connID)
	if conn.Role == RoleSource {
		defer s.sourceGone(connID)
	}

	slog.Info("connection established", "id", connID, "role", conn.Role, "device", conn.Device)

	conn.Send(ResOK(frame.ID, map[string]any{
		"connId":   connID,
		"protocol": ProtocolVersion,
	}))

	// Message loop. Requests are handled in arrival order.
	for {
		frame, err := ReadFrame(ws)
		if err != nil {
			slog.Debug("connection closed", "id", connID, "error", err)
			return
		}
		if frame.Type != "req" {
			continue
		}
		conn.Send(s.handleRequest(conn, frame))
	}
}

func (s *Server) handleRequest(conn *Conn, f Frame) Frame {
	if conn.Role == RoleSource {
		if err := s.Sources.Handle(f.Method, f.Params); err != nil {
			slog.Debug("source request rejected", "conn", conn.ID, "method", f.Method, "error", err)
			return ResErr(f.ID, "INVALID_REQUEST", err.Error())
		}
		return ResOK(f.ID, nil)
	}

	switch f.Method {
	case MethodMusicControl:
		return s.handleMusicControl(f)
	default:
		return ResErr(f.ID, "UNKNOWN_METHOD", fmt.Sprintf("unknown method %q", f.Method))
	}
}

func (s *Server) handleMusicControl(f Frame) Frame {
	var p MusicControlParams
	if err := json.Unmarshal(f.Params, &p); err != nil {
		return ResErr(f.ID, "INVALID_PARAMS", "invalid music.control params")
	}
	action := host.TransportControl(p.Action)
	if !action.Valid() {
		return ResErr(f.ID, "INVALID_PARAMS", fmt.Sprintf("unknown action %q", p.Action))
	}
	if s.Music == nil {
		return ResOK(f.ID, gin.H{"handled": false})
	}
	err := s.Music.Control(action)
	switch {
	case errors.Is(err, music.ErrNoSession):
		return ResOK(f.ID, gin.H{"handled": false})
	case err != nil:
		return ResErr(f.ID, "CONTROL_FAILED", err.Error())
	}
	return ResOK(f.ID, gin.H{"handled": true})
}

// sourceGone drops the media sessions once the last source disconnects.
func (s *Server) sourceGone(connID string) {
	s.Conns.Remove(connID)
	if s.Conns.Count(RoleSource) == 0 {
		slog.Info("last source disconnected, media sessions cleared")
		s.Sources.Detach()
	}
}

func (s *Server) authenticate(token string) bool {
	cfg := config.Get()
	if cfg == nil || cfg.Gateway.Auth.Token == "" {
		return true // no auth configured
	}
	return token == cfg.Gateway.Auth.Token
}
