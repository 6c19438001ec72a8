package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/pointer/pkg/overlay"
	"github.com/cyclopcam/pointer/pkg/pose"
	"github.com/cyclopcam/pointer/server/session"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

// Number of overlay frames that we buffer on the send side, before dropping frames to a slow client.
// Frames are snapshots, so there is no point in queueing more than a couple.
const overlaySendBufferSize = 2

const overlayWriteTimeout = 5 * time.Second

// overlayFrame is one message on /api/ws/overlay
type overlayFrame struct {
	State    session.State     `json:"state"`
	DrawList *overlay.DrawList `json:"drawList"`
	Model    *modelJSON        `json:"model"`
}

// overlayRequest is what the client may send us, to change the viewport or toggles mid-stream
type overlayRequest struct {
	Width   float64          `json:"width"`
	Height  float64          `json:"height"`
	Toggles *overlay.Toggles `json:"toggles"`
}

// OverlayStreamer pushes the overlay to a websocket client at a fixed rate.
// Every tick pulls a fresh snapshot, so a slow client skips frames instead of falling behind.
type OverlayStreamer struct {
	log       logs.Log
	server    *Server
	interval  time.Duration
	sendQueue chan []byte

	lock     sync.Mutex
	viewport pose.Size
	toggles  overlay.Toggles

	nSent    int64
	nDropped int64
}

func NewOverlayStreamer(log logs.Log, server *Server, viewport pose.Size, toggles overlay.Toggles) *OverlayStreamer {
	return &OverlayStreamer{
		log:       logs.NewPrefixLogger(log, "OverlayStreamer:"),
		server:    server,
		interval:  time.Duration(float64(time.Second) / server.opts.OverlayFPS),
		sendQueue: make(chan []byte, overlaySendBufferSize),
		viewport:  viewport,
		toggles:   toggles,
	}
}

// Run blocks until the client goes away, or the server shuts down
func (s *OverlayStreamer) Run(conn *websocket.Conn) {
	defer conn.Close()

	fromWebSocket := make(chan bool, 1)
	writerDone := make(chan bool)
	go s.webSocketReader(conn, fromWebSocket)
	go s.webSocketWriter(conn, writerDone)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick()
	closed := false
	for !closed {
		select {
		case <-ticker.C:
			s.tick()
		case <-fromWebSocket:
			closed = true
		case <-writerDone:
			closed = true
		case <-s.server.shutdown:
			conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"), time.Now().Add(time.Second))
			closed = true
		}
	}
	close(s.sendQueue)
	s.log.Infof("Closed. Sent %v frames, dropped %v", s.nSent, s.nDropped)
}

func (s *OverlayStreamer) frame() *overlayFrame {
	s.lock.Lock()
	vp := s.viewport
	toggles := s.toggles
	s.lock.Unlock()

	st := s.server.session.Snapshot()
	return &overlayFrame{
		State:    st,
		DrawList: overlay.Render(st.Pose, vp, toggles),
		Model:    s.server.model(st.Pose, vp),
	}
}

func (s *OverlayStreamer) tick() {
	msg, err := json.Marshal(s.frame())
	if err != nil {
		s.log.Errorf("Failed to encode overlay: %v", err)
		return
	}
	select {
	case s.sendQueue <- msg:
		s.nSent++
	default:
		s.nDropped++
	}
}

// Read from the websocket, so that we notice when the client goes away, and so that
// the client can change its viewport.
func (s *OverlayStreamer) webSocketReader(conn *websocket.Conn, closed chan bool) {
	conn.SetReadLimit(64 * 1024)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		req := overlayRequest{}
		if err := json.Unmarshal(data, &req); err != nil {
			s.log.Warnf("Invalid message from client: %v", err)
			continue
		}
		s.lock.Lock()
		if req.Width > 0 && req.Height > 0 && req.Width <= maxViewportDimension && req.Height <= maxViewportDimension {
			s.viewport = pose.Size{Width: req.Width, Height: req.Height}
		}
		if req.Toggles != nil {
			s.toggles = *req.Toggles
		}
		s.lock.Unlock()
	}
	closed <- true
}

// Write on a separate goroutine, so that a slow client never blocks the ticker
func (s *OverlayStreamer) webSocketWriter(conn *websocket.Conn, done chan bool) {
	for msg := range s.sendQueue {
		conn.SetWriteDeadline(time.Now().Add(overlayWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			s.log.Infof("Write failed: %v", err)
			break
		}
	}
	close(done)
	// Drain until Run closes the queue
	for range s.sendQueue {
	}
}

func (s *Server) httpOverlayWebSocket(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	vp := s.parseViewport(r)
	toggles := parseToggles(r)

	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Errorf("Overlay websocket upgrade failed: %v", err)
		return
	}
	NewOverlayStreamer(s.Log, s, vp, toggles).Run(conn)
}
