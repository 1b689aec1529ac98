// Package server wires the HTTP surface: health, metrics snapshots and
// the websocket endpoint each meeting client streams through.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/meetscribe/livelistener/internal/analyzer"
	"github.com/meetscribe/livelistener/internal/config"
	"github.com/meetscribe/livelistener/internal/protocol"
	"github.com/meetscribe/livelistener/internal/session"
	"github.com/meetscribe/livelistener/pkg/Logger"
	"github.com/meetscribe/livelistener/pkg/metrics"
	"github.com/meetscribe/livelistener/pkg/stt"
	"github.com/meetscribe/livelistener/pkg/stt/gate"
)

// handshakeTimeout bounds how long a fresh connection may sit before
// its start message arrives.
const handshakeTimeout = 5 * time.Second

// writeFlushTimeout bounds how long a finished session may spend
// flushing its remaining events to the socket.
const writeFlushTimeout = 10 * time.Second

type Dependencies struct {
	Settings    *config.Settings
	Logger      *Logger.Logger
	Metrics     *metrics.Registry
	Gate        gate.SpeechGate
	Transcriber stt.Transcriber
	Analyzer    analyzer.Analyzer
}

func NewServerDependencies(
	settings *config.Settings,
	logger *Logger.Logger,
	mets *metrics.Registry,
	g gate.SpeechGate,
	transcriber stt.Transcriber,
	an analyzer.Analyzer,
) Dependencies {
	return Dependencies{
		Settings:    settings,
		Logger:      logger,
		Metrics:     mets,
		Gate:        g,
		Transcriber: transcriber,
		Analyzer:    an,
	}
}

// RoutesManager tracks the live sessions behind the websocket endpoint.
type RoutesManager struct {
	deps     Dependencies
	sessions map[string]*session.Supervisor
	mu       sync.RWMutex
}

func NewRoutesManager(deps Dependencies) *RoutesManager {
	return &RoutesManager{
		deps:     deps,
		sessions: make(map[string]*session.Supervisor),
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true }, // dev-only
}

func InitializeRoutes(r *gin.Engine, dep Dependencies) {
	r.GET("/", func(ctx *gin.Context) { ctx.JSON(200, gin.H{"message": "Server healthy"}) })
	r.GET("/health", func(ctx *gin.Context) { ctx.JSON(200, gin.H{"status": "ok"}) })

	rm := NewRoutesManager(dep)
	r.GET("/metrics", rm.handleMetrics)
	r.GET("/sessions", rm.handleSessions)
	r.GET("/live-listener", rm.handleLiveListener)
}

func (rm *RoutesManager) handleMetrics(c *gin.Context) {
	c.JSON(200, gin.H{"series": rm.deps.Metrics.Snapshot()})
}

type sessionInfo struct {
	SessionID string `json:"session_id"`
	ConnID    string `json:"conn_id"`
	State     string `json:"state"`
	Segments  int    `json:"segments"`
}

func (rm *RoutesManager) handleSessions(c *gin.Context) {
	rm.mu.RLock()
	out := make([]sessionInfo, 0, len(rm.sessions))
	for _, s := range rm.sessions {
		out = append(out, sessionInfo{
			SessionID: s.ID,
			ConnID:    s.ConnID,
			State:     s.State(),
			Segments:  s.Store().Len(),
		})
	}
	rm.mu.RUnlock()
	c.JSON(200, gin.H{"sessions": out})
}

func (rm *RoutesManager) handleLiveListener(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		rm.deps.Logger.Errorf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	rm.deps.Metrics.Counter(metrics.WSConnectionsTotal, nil).Inc()
	defer rm.deps.Metrics.Counter(metrics.WSDisconnectsTotal, nil).Inc()

	sup, err := rm.handshake(conn)
	if err != nil {
		rm.deps.Logger.Infof("ws handshake rejected: %v", err)
		_ = conn.WriteJSON(protocol.NewError(protocol.ErrProtocol, false, err.Error()))
		return
	}

	rm.register(sup)
	defer rm.unregister(sup)

	writerDone := make(chan struct{})
	go rm.writeEvents(conn, sup, writerDone)

	rm.readMessages(conn, sup)

	// A dead socket with a live session is a transport failure.
	select {
	case <-sup.Done():
	default:
		sup.Abort("websocket read failed")
	}

	select {
	case <-writerDone:
	case <-time.After(writeFlushTimeout):
	}
}

// handshake reads and validates the start message. No session exists
// until it succeeds, so a bad opening never touches session metrics.
func (rm *RoutesManager) handshake(conn *websocket.Conn) (*session.Supervisor, error) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})

	mt, payload, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("no start message within %s", handshakeTimeout)
	}
	msg, err := decodeIncoming(mt, payload)
	if err != nil {
		return nil, err
	}
	if msg.Kind != protocol.KindStart {
		return nil, fmt.Errorf("first message must be %q, got %q", protocol.KindStart, msg.Kind)
	}

	sup := session.New(*msg.Start, session.ConfigFromSettings(rm.deps.Settings), session.Deps{
		Gate:        rm.deps.Gate,
		Transcriber: rm.deps.Transcriber,
		Analyzer:    rm.deps.Analyzer,
		Metrics:     rm.deps.Metrics,
		Logger:      rm.deps.Logger,
	})
	if err := sup.Begin(context.Background()); err != nil {
		return nil, err
	}
	return sup, nil
}

func (rm *RoutesManager) readMessages(conn *websocket.Conn, sup *session.Supervisor) {
	for {
		mt, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := decodeIncoming(mt, payload)
		if err != nil {
			// Malformed messages are reported, not fatal. The writer
			// goroutine owns the socket, so route through the out-box.
			sup.ReportProtocolError(err.Error())
			continue
		}
		if err := sup.HandleMessage(msg); err != nil {
			rm.deps.Logger.Errorf("session %s: %v", sup.ID, err)
			sup.Abort(err.Error())
			return
		}
	}
}

// writeEvents drains the session out-box onto the socket. It owns all
// post-handshake writes.
func (rm *RoutesManager) writeEvents(conn *websocket.Conn, sup *session.Supervisor, done chan<- struct{}) {
	defer close(done)
	ctx := context.Background()
	for {
		ev, err := sup.NextEvent(ctx)
		if errors.Is(err, session.ErrOutboxClosed) {
			deadline := time.Now().Add(time.Second)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session complete"), deadline)
			return
		}
		if err != nil {
			return
		}
		if err := conn.WriteJSON(ev); err != nil {
			rm.deps.Logger.Warnf("ws write failed for session %s: %v", sup.ID, err)
			sup.Abort("websocket write failed")
			return
		}
	}
}

func decodeIncoming(messageType int, payload []byte) (protocol.Message, error) {
	switch messageType {
	case websocket.TextMessage:
		return protocol.Decode(payload)
	case websocket.BinaryMessage:
		return protocol.DecodeBinary(payload)
	}
	return protocol.Message{}, fmt.Errorf("unsupported websocket message type %d", messageType)
}

func (rm *RoutesManager) register(sup *session.Supervisor) {
	rm.mu.Lock()
	rm.sessions[sup.ConnID] = sup
	rm.mu.Unlock()
	rm.deps.Logger.Infof("session %s connected (conn %s)", sup.ID, sup.ConnID)
}

func (rm *RoutesManager) unregister(sup *session.Supervisor) {
	rm.mu.Lock()
	delete(rm.sessions, sup.ConnID)
	rm.mu.Unlock()
	rm.deps.Logger.Infof("session %s disconnected (conn %s)", sup.ID, sup.ConnID)
}
