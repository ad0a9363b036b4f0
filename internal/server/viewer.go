package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/smukkama/sensor-dashboard/internal/anchor"
	"github.com/smukkama/sensor-dashboard/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

// AuthenticatingMessage is shown by viewers until the access token resolves
const AuthenticatingMessage = "AUTHENTICATING SECURE VIEWER..."

type placeholderPayload struct {
	Message string `json:"message"`
}

// viewerSession is one connected 3D viewer
type viewerSession struct {
	id     string
	server *Server
	conn   *websocket.Conn
	engine *wsEngine
	sync   *anchor.Synchronizer
	out    chan protocol.Envelope
	done   chan struct{}
	log    zerolog.Logger
}

func (s *Server) handleViewer(w http.ResponseWriter, r *http.Request) {
	if s.sessions.Count() >= s.cfg.Viewer.MaxSessions {
		http.Error(w, "too many viewer sessions", http.StatusServiceUnavailable)
		return
	}
	ip := remoteIP(r)
	if len(s.sessions.GetByRemoteIP(ip)) >= s.cfg.Viewer.MaxSessionsPerIP {
		s.log.Warn().Str("remote_ip", ip).Msg("Per-address viewer session limit reached")
		http.Error(w, "too many viewer sessions from this address", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	sess := &viewerSession{
		id:     uuid.New().String(),
		server: s,
		conn:   conn,
		out:    make(chan protocol.Envelope, sendBuffer),
		done:   make(chan struct{}),
	}
	sess.log = s.log.With().Str("session_id", sess.id).Logger()

	if err := s.sessions.Register(sess.id, ip, r.UserAgent(), conn); err != nil {
		sess.log.Warn().Err(err).Msg("Rejecting viewer session")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		sess.run()
	}()
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// run owns the session until the connection drops or the server stops
func (v *viewerSession) run() {
	ctx, cancel := context.WithCancel(v.server.ctx)
	defer func() {
		v.engine.close()
		cancel()
		close(v.done)
		v.sync.Close()
		_ = v.conn.Close()
		if err := v.server.sessions.Unregister(v.id); err != nil {
			v.log.Debug().Err(err).Msg("Session already unregistered")
		}
		v.log.Info().Msg("Viewer session closed")
	}()

	v.log.Info().Msg("Viewer session opened")

	v.engine = newWSEngine(v.send, v.log)
	cfg := v.server.cfg.Viewer
	v.sync = anchor.NewSynchronizer(v.engine, v.server.scheduler, anchor.Config{
		ModelID:  cfg.ModelURN,
		ObjectID: cfg.SensorObjectID,
		BasePosition: anchor.Vector3{
			X: cfg.SensorPosition[0],
			Y: cfg.SensorPosition[1],
			Z: cfg.SensorPosition[2],
		},
		Lift:            cfg.AnchorLift,
		Frames:          cfg.AnimationFrames,
		AnimationPeriod: cfg.AnimationPeriod,
		FocusDistance:   cfg.FocusDistance,
		InitialZoom:     cfg.InitialZoom,
	}, v.server.dataReady)

	go v.writePump()
	go v.forwardOverlays()
	go v.startViewer(ctx)

	v.readPump()
}

// startViewer parks until the access token is available, then runs the
// synchronizer
func (v *viewerSession) startViewer(ctx context.Context) {
	token := v.server.poller.Token()
	if _, ok := token.Get(); !ok {
		v.send(protocol.Envelope{Type: protocol.MsgTypePlaceholder, Data: placeholderPayload{Message: AuthenticatingMessage}})
	}

	value, err := token.Wait(ctx)
	if err != nil {
		return
	}

	err = v.sync.Run(ctx, value)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, anchor.ErrClosed) {
		v.log.Warn().Err(err).Msg("Viewer synchronizer stopped")
	}
}

func (v *viewerSession) forwardOverlays() {
	for o := range v.sync.Overlays() {
		v.send(protocol.Envelope{Type: protocol.MsgTypeOverlay, Data: o})
	}
}

// send queues an envelope for the write pump. It blocks while the buffer is
// full and reports false once the session has ended.
func (v *viewerSession) send(env protocol.Envelope) bool {
	select {
	case v.out <- env:
		return true
	case <-v.done:
		return false
	}
}

func (v *viewerSession) readPump() {
	v.conn.SetReadLimit(maxMessageSize)
	if err := v.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		v.log.Error().Err(err).Msg("Failed to set read deadline")
		return
	}
	v.conn.SetPongHandler(func(string) error {
		return v.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := v.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				v.log.Warn().Err(err).Msg("Unexpected WebSocket close")
			}
			return
		}
		_ = v.conn.SetReadDeadline(time.Now().Add(pongWait))

		msg, err := protocol.ParseViewerMessage(data)
		if err != nil {
			v.log.Debug().Err(err).Msg("Ignoring invalid viewer message")
			continue
		}

		_ = v.server.sessions.UpdateActivity(v.id)
		v.handle(msg)
	}
}

func (v *viewerSession) handle(msg *protocol.ViewerMessage) {
	if v.engine.deliver(msg) {
		return
	}

	switch msg.Type {
	case protocol.MsgTypeToggleMarkers:
		v.sync.ToggleMarkers()
	case protocol.MsgTypeToggleDetail:
		v.sync.ToggleDetail()
	case protocol.MsgTypeClose:
		v.sync.CloseOverlay()
	}
}

func (v *viewerSession) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = v.conn.Close()
	}()

	for {
		select {
		case env := <-v.out:
			data, err := protocol.EncodeEnvelope(env)
			if err != nil {
				v.log.Error().Err(err).Str("type", string(env.Type)).Msg("Failed to encode viewer message")
				continue
			}
			if err := v.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := v.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				v.log.Debug().Err(err).Msg("Failed to write viewer message")
				return
			}

		case <-ticker.C:
			if err := v.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-v.done:
			_ = v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = v.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
