// Package relay is a minimal websocket room server. Every message from a participant is
// forwarded to all other participants in the same room. It is what WebSocketTransport
// talks to during development and in tests.
package relay

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/pointer/server/transport"
	"github.com/gorilla/websocket"
)

const (
	peerSendQueueSize = 64
	pongWait          = 60 * time.Second
	pingInterval      = pongWait / 2
	maxMessageSize    = 16 * 1024 * 1024
)

// RoomStats are counters for a room, since the relay started
type RoomStats struct {
	Peers        int   `json:"peers"`
	DataMessages int64 `json:"dataMessages"`
	VideoFrames  int64 `json:"videoFrames"`
	VideoBytes   int64 `json:"videoBytes"`
	Dropped      int64 `json:"dropped"` // Messages not delivered because a peer was too slow
}

type peer struct {
	identity string
	room     string
	conn     *websocket.Conn
	send     chan sendItem
	closed   chan bool
	once     sync.Once
}

type sendItem struct {
	msgType int
	data    []byte
}

func (p *peer) close() {
	p.once.Do(func() {
		close(p.closed)
		p.conn.Close()
	})
}

type room struct {
	peers map[*peer]bool
	stats RoomStats
}

// Relay is an http.Handler that upgrades requests to websockets.
// The room is taken from the 'room' query parameter, and the participant's name
// from 'identity'.
type Relay struct {
	// If not empty, clients must present this as a bearer token
	Token string

	log      logs.Log
	upgrader websocket.Upgrader
	nextPeer atomic.Int64

	lock  sync.Mutex
	rooms map[string]*room
}

func New(log logs.Log, token string) *Relay {
	return &Relay{
		Token: token,
		log:   logs.NewPrefixLogger(log, "Relay:"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		rooms: map[string]*room{},
	}
}

func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if r.Token != "" {
		auth := req.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != r.Token {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}
	}
	roomName := req.URL.Query().Get("room")
	if roomName == "" {
		http.Error(w, "room is required", http.StatusBadRequest)
		return
	}
	identity := req.URL.Query().Get("identity")
	if identity == "" {
		identity = fmt.Sprintf("peer-%v", r.nextPeer.Add(1))
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.Warnf("WebSocket upgrade error: %v", err)
		return
	}
	p := &peer{
		identity: identity,
		room:     roomName,
		conn:     conn,
		send:     make(chan sendItem, peerSendQueueSize),
		closed:   make(chan bool),
	}
	r.register(p)
	defer r.unregister(p)

	go r.writer(p)
	r.reader(p)
}

// Stats returns the counters of a room, or false if the room has never existed
func (r *Relay) Stats(roomName string) (RoomStats, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	rm := r.rooms[roomName]
	if rm == nil {
		return RoomStats{}, false
	}
	s := rm.stats
	s.Peers = len(rm.peers)
	return s, true
}

// Close disconnects every peer
func (r *Relay) Close() {
	r.lock.Lock()
	all := []*peer{}
	for _, rm := range r.rooms {
		for p := range rm.peers {
			all = append(all, p)
		}
	}
	r.lock.Unlock()
	for _, p := range all {
		p.close()
	}
}

func (r *Relay) register(p *peer) {
	r.lock.Lock()
	rm := r.rooms[p.room]
	if rm == nil {
		rm = &room{peers: map[*peer]bool{}}
		r.rooms[p.room] = rm
	}
	rm.peers[p] = true
	total := len(rm.peers)
	r.lock.Unlock()

	r.log.Infof("%v joined room %v. Total: %v", p.identity, p.room, total)
	j, _ := json.Marshal(&transport.Envelope{Type: transport.EnvelopeJoined, Sender: p.identity})
	r.forward(p, websocket.TextMessage, j)
}

func (r *Relay) unregister(p *peer) {
	p.close()
	r.lock.Lock()
	rm := r.rooms[p.room]
	total := 0
	if rm != nil {
		delete(rm.peers, p)
		total = len(rm.peers)
	}
	r.lock.Unlock()
	r.log.Infof("%v left room %v. Total: %v", p.identity, p.room, total)
}

// forward sends a message to every peer in the room except the sender
func (r *Relay) forward(from *peer, msgType int, data []byte) {
	r.lock.Lock()
	defer r.lock.Unlock()
	rm := r.rooms[from.room]
	if rm == nil {
		return
	}
	switch msgType {
	case websocket.TextMessage:
		rm.stats.DataMessages++
	case websocket.BinaryMessage:
		rm.stats.VideoFrames++
		rm.stats.VideoBytes += int64(len(data))
	}
	for p := range rm.peers {
		if p == from {
			continue
		}
		select {
		case p.send <- sendItem{msgType: msgType, data: data}:
		default:
			rm.stats.Dropped++
		}
	}
}

func (r *Relay) reader(p *peer) {
	p.conn.SetReadLimit(maxMessageSize)
	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(appData string) error {
		p.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		msgType, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		p.conn.SetReadDeadline(time.Now().Add(pongWait))
		switch msgType {
		case websocket.TextMessage:
			env := transport.Envelope{}
			if err := json.Unmarshal(data, &env); err != nil || env.Type != transport.EnvelopeData {
				r.log.Warnf("Ignoring invalid message from %v", p.identity)
				continue
			}
			// Participants cannot impersonate each other
			env.Sender = p.identity
			out, err := json.Marshal(&env)
			if err != nil {
				continue
			}
			r.forward(p, websocket.TextMessage, out)
		case websocket.BinaryMessage:
			r.forward(p, websocket.BinaryMessage, data)
		}
	}
}

func (r *Relay) writer(p *peer) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-p.closed:
			return
		case item := <-p.send:
			if err := p.conn.WriteMessage(item.msgType, item.data); err != nil {
				p.close()
				return
			}
		case <-ping.C:
			if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				p.close()
				return
			}
		}
	}
}
