package transport

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bluenviron/mediacommon/pkg/codecs/h264"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/pointer/server/camera"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Number of messages that we will buffer on the send side, before dropping video frames
const SendQueueSize = 50

// Number of access units buffered between the camera and the publisher
const publishSinkSize = 10

// Stats of a WebSocketTransport, since it was created
type Stats struct {
	FramesSent    int64 `json:"framesSent"`
	FramesDropped int64 `json:"framesDropped"` // Over budget, or send queue full
	BytesSent     int64 `json:"bytesSent"`
	DataSent      int64 `json:"dataSent"`
	DataReceived  int64 `json:"dataReceived"`
}

type sendPacket struct {
	msgType int
	data    []byte
}

// wsConn is one live connection
type wsConn struct {
	conn      *websocket.Conn
	sendQueue chan sendPacket
	closed    chan bool
	closeOnce sync.Once
	wg        sync.WaitGroup
	userClose atomic.Bool
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
}

// enqueue returns false if the connection is closed or the queue is full
func (c *wsConn) enqueue(p sendPacket) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.sendQueue <- p:
		return true
	default:
		return false
	}
}

type publication struct {
	track  camera.Track
	sink   chan camera.AccessUnit
	cancel chan bool
	done   chan bool
}

// WebSocketTransport joins a room on a websocket relay.
// Data messages are JSON text frames. Video is sent as binary frames,
// each of which is a header followed by one Annex-B access unit.
type WebSocketTransport struct {
	Room     string // Added to the URL as the 'room' query parameter
	Identity string // Added to the URL as the 'identity' query parameter

	log    logs.Log
	dialer websocket.Dialer

	lock         sync.Mutex
	conn         *wsConn
	pub          *publication
	onData       DataHandler
	onDisconnect DisconnectHandler

	nextSeq       atomic.Uint32
	framesSent    atomic.Int64
	framesDropped atomic.Int64
	bytesSent     atomic.Int64
	dataSent      atomic.Int64
	dataReceived  atomic.Int64
}

func NewWebSocketTransport(log logs.Log, room, identity string) *WebSocketTransport {
	return &WebSocketTransport{
		Room:     room,
		Identity: identity,
		log:      logs.NewPrefixLogger(log, "Transport:"),
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

func (t *WebSocketTransport) OnData(handler DataHandler) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.onData = handler
}

func (t *WebSocketTransport) OnDisconnect(handler DisconnectHandler) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.onDisconnect = handler
}

func (t *WebSocketTransport) Connected() bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.conn != nil
}

func (t *WebSocketTransport) Stats() Stats {
	return Stats{
		FramesSent:    t.framesSent.Load(),
		FramesDropped: t.framesDropped.Load(),
		BytesSent:     t.bytesSent.Load(),
		DataSent:      t.dataSent.Load(),
		DataReceived:  t.dataReceived.Load(),
	}
}

func (t *WebSocketTransport) roomURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("Unsupported URL scheme '%v'", u.Scheme)
	}
	q := u.Query()
	if t.Room != "" && q.Get("room") == "" {
		q.Set("room", t.Room)
	}
	if t.Identity != "" && q.Get("identity") == "" {
		q.Set("identity", t.Identity)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (t *WebSocketTransport) Connect(ctx context.Context, rawURL, token string) error {
	t.lock.Lock()
	if t.conn != nil {
		t.lock.Unlock()
		return ErrAlreadyConnected
	}
	t.lock.Unlock()

	u, err := t.roomURL(rawURL)
	if err != nil {
		return fmt.Errorf("Invalid server URL: %w", err)
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	ws, resp, err := t.dialer.DialContext(ctx, u, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("%w (%v)", err, resp.Status)
		}
		return err
	}

	c := &wsConn{
		conn:      ws,
		sendQueue: make(chan sendPacket, SendQueueSize),
		closed:    make(chan bool),
	}

	t.lock.Lock()
	if t.conn != nil {
		// Lost a race with another Connect
		t.lock.Unlock()
		ws.Close()
		return ErrAlreadyConnected
	}
	t.conn = c
	t.lock.Unlock()

	c.wg.Add(2)
	go t.reader(c)
	go t.writer(c)
	t.log.Infof("Connected to %v", redactURL(u))
	return nil
}

func (t *WebSocketTransport) Disconnect(ctx context.Context) error {
	t.unpublish()

	t.lock.Lock()
	c := t.conn
	t.conn = nil
	t.lock.Unlock()
	if c == nil {
		return nil
	}

	c.userClose.Store(true)
	deadline := time.Now().Add(time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	c.close()

	done := make(chan bool)
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	t.log.Infof("Disconnected")
	return nil
}

// SendData sends a data message to every other participant in the room
func (t *WebSocketTransport) SendData(ctx context.Context, payload []byte, topic string) error {
	t.lock.Lock()
	c := t.conn
	t.lock.Unlock()
	if c == nil {
		return ErrNotConnected
	}
	j, err := json.Marshal(&Envelope{Type: EnvelopeData, Topic: topic, Payload: payload})
	if err != nil {
		return err
	}
	select {
	case <-c.closed:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	case c.sendQueue <- sendPacket{msgType: websocket.TextMessage, data: j}:
		t.dataSent.Add(1)
		return nil
	}
}

// Publish sends the track's frames to the room, until Disconnect.
// Frames that exceed the bitrate or frame rate budget are dropped, after which
// we wait for the next keyframe.
func (t *WebSocketTransport) Publish(ctx context.Context, track camera.Track, options PublishOptions) error {
	if track == nil {
		return errors.New("no track to publish")
	}
	if options.MaxBitrate <= 0 || options.MaxFPS <= 0 {
		return fmt.Errorf("Invalid publish options %+v", options)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	// A new track replaces the old one
	t.unpublish()

	t.lock.Lock()
	c := t.conn
	if c == nil {
		t.lock.Unlock()
		return ErrNotConnected
	}
	if t.pub != nil {
		t.lock.Unlock()
		return fmt.Errorf("track %v was published concurrently", t.pub.track.ID())
	}
	pub := &publication{
		track:  track,
		sink:   make(chan camera.AccessUnit, publishSinkSize),
		cancel: make(chan bool),
		done:   make(chan bool),
	}
	t.pub = pub
	t.lock.Unlock()

	track.AddSink(pub.sink)
	go t.publisher(c, pub, options)
	t.log.Infof("Publishing track %v (max %v bps, %v fps)", track.ID(), options.MaxBitrate, options.MaxFPS)
	return nil
}

func (t *WebSocketTransport) unpublish() {
	t.lock.Lock()
	pub := t.pub
	t.pub = nil
	t.lock.Unlock()
	if pub == nil {
		return
	}
	pub.track.RemoveSink(pub.sink)
	close(pub.cancel)
	<-pub.done
}

func (t *WebSocketTransport) publisher(c *wsConn, pub *publication, options PublishOptions) {
	defer close(pub.done)
	fpsLimit := rate.NewLimiter(rate.Limit(options.MaxFPS), 2)
	bitLimit := rate.NewLimiter(rate.Limit(options.MaxBitrate), options.MaxBitrate)
	needIDR := true
	for {
		select {
		case <-pub.cancel:
			return
		case <-c.closed:
			return
		case au := <-pub.sink:
			if needIDR && !au.IDR {
				t.framesDropped.Add(1)
				continue
			}
			msg, err := MarshalVideo(au, t.nextSeq.Add(1))
			if err != nil {
				t.log.Warnf("Failed to marshal access unit: %v", err)
				continue
			}
			now := time.Now()
			if !fpsLimit.AllowN(now, 1) || !bitLimit.AllowN(now, len(msg)*8) || !c.enqueue(sendPacket{msgType: websocket.BinaryMessage, data: msg}) {
				t.framesDropped.Add(1)
				needIDR = true
				continue
			}
			needIDR = false
		}
	}
}

func (t *WebSocketTransport) reader(c *wsConn) {
	defer c.wg.Done()
	var readErr error
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		env := Envelope{}
		if err := json.Unmarshal(data, &env); err != nil {
			t.log.Warnf("Failed to decode message: %v", err)
			continue
		}
		switch env.Type {
		case EnvelopeData:
			t.dataReceived.Add(1)
			t.lock.Lock()
			handler := t.onData
			t.lock.Unlock()
			if handler != nil {
				handler(env.Payload, env.Topic, env.Sender)
			}
		case EnvelopeJoined:
			t.log.Infof("Participant %v joined", env.Sender)
		}
	}
	c.close()

	if c.userClose.Load() {
		return
	}
	// The connection dropped underneath us
	t.lock.Lock()
	current := t.conn == c
	if current {
		t.conn = nil
	}
	handler := t.onDisconnect
	t.lock.Unlock()
	if current {
		t.log.Warnf("Connection lost: %v", readErr)
		go t.unpublish()
		if handler != nil {
			handler(readErr)
		}
	}
}

// Writer runs on its own goroutine, so that a slow network never blocks the camera
func (t *WebSocketTransport) writer(c *wsConn) {
	defer c.wg.Done()
	for {
		select {
		case <-c.closed:
			return
		case pkt := <-c.sendQueue:
			if err := c.conn.WriteMessage(pkt.msgType, pkt.data); err != nil {
				t.log.Infof("Error writing to websocket: %v", err)
				c.close()
				return
			}
			if pkt.msgType == websocket.BinaryMessage {
				t.framesSent.Add(1)
				t.bytesSent.Add(int64(len(pkt.data)))
			}
		}
	}
}

// MarshalVideo produces a binary video message: flags, sequence number, Annex-B access unit.
func MarshalVideo(au camera.AccessUnit, seq uint32) ([]byte, error) {
	annexB, err := h264.AnnexBMarshal(au.NALUs)
	if err != nil {
		return nil, err
	}
	buf := bytes.Buffer{}
	buf.Grow(VideoHeaderSize + len(annexB))
	flags := uint32(0)
	if au.IDR {
		flags |= VideoFlagIDR
	}
	binary.Write(&buf, binary.LittleEndian, flags)
	binary.Write(&buf, binary.LittleEndian, seq)
	buf.Write(annexB)
	return buf.Bytes(), nil
}

// UnmarshalVideo is the inverse of MarshalVideo
func UnmarshalVideo(msg []byte) (flags, seq uint32, nalus [][]byte, err error) {
	if len(msg) < VideoHeaderSize {
		return 0, 0, nil, errors.New("video message too short")
	}
	flags = binary.LittleEndian.Uint32(msg[0:4])
	seq = binary.LittleEndian.Uint32(msg[4:8])
	nalus, err = h264.AnnexBUnmarshal(msg[VideoHeaderSize:])
	return
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "?"
	}
	u.User = nil
	u.RawQuery = ""
	return u.String()
}
