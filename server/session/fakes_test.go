package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyclopcam/pointer/server/camera"
	"github.com/cyclopcam/pointer/server/configdb"
	"github.com/cyclopcam/pointer/server/transport"
)

type fakeTrack struct {
	id         string
	options    camera.TrackOptions
	startDelay time.Duration
	startErr   error
	started    atomic.Bool
	stopped    atomic.Bool
	sinks      camera.Sinks
}

func (t *fakeTrack) ID() string                            { return t.id }
func (t *fakeTrack) Options() camera.TrackOptions          { return t.options }
func (t *fakeTrack) AddSink(sink chan<- camera.AccessUnit) { t.sinks.Add(sink) }
func (t *fakeTrack) RemoveSink(sink chan<- camera.AccessUnit) {
	t.sinks.Remove(sink)
}

func (t *fakeTrack) Start(ctx context.Context) error {
	if t.startDelay != 0 {
		select {
		case <-time.After(t.startDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if t.startErr != nil {
		return t.startErr
	}
	t.started.Store(true)
	return nil
}

func (t *fakeTrack) Stop() error {
	t.stopped.Store(true)
	return errors.New("stop errors are ignored")
}

func (t *fakeTrack) live() bool {
	return t.started.Load() && !t.stopped.Load()
}

type fakeProvider struct {
	lock       sync.Mutex
	auth       camera.Authorization
	grant      bool
	createErr  error
	startErr   error
	startDelay time.Duration
	tracks     []*fakeTrack
	requests   int
}

func (p *fakeProvider) Authorization(ctx context.Context) (camera.Authorization, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.auth, nil
}

func (p *fakeProvider) RequestAccess(ctx context.Context) (bool, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.requests++
	if p.grant {
		p.auth = camera.AuthorizationGranted
	} else {
		p.auth = camera.AuthorizationDenied
	}
	return p.grant, nil
}

func (p *fakeProvider) CreateTrack(ctx context.Context, options camera.TrackOptions) (camera.Track, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.createErr != nil {
		return nil, p.createErr
	}
	t := &fakeTrack{
		id:         fmt.Sprintf("track-%v", len(p.tracks)+1),
		options:    options,
		startDelay: p.startDelay,
		startErr:   p.startErr,
	}
	p.tracks = append(p.tracks, t)
	return t, nil
}

func (p *fakeProvider) allTracks() []*fakeTrack {
	p.lock.Lock()
	defer p.lock.Unlock()
	return append([]*fakeTrack(nil), p.tracks...)
}

func (p *fakeProvider) liveTracks() []*fakeTrack {
	live := []*fakeTrack{}
	for _, t := range p.allTracks() {
		if t.live() {
			live = append(live, t)
		}
	}
	return live
}

type fakeTransport struct {
	lock         sync.Mutex
	connected    bool
	published    camera.Track
	lastURL      string
	lastToken    string
	connectCalls int
	publishCalls int
	connectErr   error
	publishErr   error
	connectGate  chan struct{} // If not nil, Connect blocks until this is closed, or ctx is done
	onData       transport.DataHandler
	onDisconnect transport.DisconnectHandler
}

func (t *fakeTransport) Connect(ctx context.Context, url, token string) error {
	t.lock.Lock()
	t.connectCalls++
	t.lastURL = url
	t.lastToken = token
	gate := t.connectGate
	t.lock.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	t.lock.Lock()
	defer t.lock.Unlock()
	if t.connectErr != nil {
		return t.connectErr
	}
	if t.connected {
		return transport.ErrAlreadyConnected
	}
	t.connected = true
	return nil
}

func (t *fakeTransport) Disconnect(ctx context.Context) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.connected = false
	t.published = nil
	return nil
}

func (t *fakeTransport) Publish(ctx context.Context, track camera.Track, options transport.PublishOptions) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.publishCalls++
	if !t.connected {
		return transport.ErrNotConnected
	}
	if t.publishErr != nil {
		return t.publishErr
	}
	t.published = track
	return nil
}

func (t *fakeTransport) SendData(ctx context.Context, payload []byte, topic string) error {
	return nil
}

func (t *fakeTransport) OnData(handler transport.DataHandler) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.onData = handler
}

func (t *fakeTransport) OnDisconnect(handler transport.DisconnectHandler) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.onDisconnect = handler
}

func (t *fakeTransport) Connected() bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.connected
}

// deliver simulates a data message arriving from the room
func (t *fakeTransport) deliver(payload []byte, topic string) {
	t.lock.Lock()
	h := t.onData
	t.lock.Unlock()
	h(payload, topic, "inference")
}

// drop simulates the network going away
func (t *fakeTransport) drop(err error) {
	t.lock.Lock()
	t.connected = false
	t.published = nil
	h := t.onDisconnect
	t.lock.Unlock()
	h(err)
}

func (t *fakeTransport) state() (connected bool, published camera.Track, connectCalls int) {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.connected, t.published, t.connectCalls
}

type fakeConfig struct {
	lock sync.Mutex
	cfg  configdb.StreamingConfig
}

func (c *fakeConfig) StreamingConfig() (configdb.StreamingConfig, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.cfg, nil
}

type sessionEvent struct {
	kind, state, message string
}

type fakeRecorder struct {
	lock   sync.Mutex
	events []sessionEvent
}

func (r *fakeRecorder) AddSessionEvent(kind, state, message string, detail *configdb.SessionEventDetail) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.events = append(r.events, sessionEvent{kind, state, message})
	return nil
}

func (r *fakeRecorder) all() []sessionEvent {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]sessionEvent(nil), r.events...)
}
