// Package session owns the camera track and the transport connection.
//
// Capture and streaming are orthogonal. The camera can run while we are disconnected,
// in which case it only feeds the local preview. All camera and transport failures are
// captured here, and exposed as a state transition plus a single "last error" string.
// Nothing in this package is fatal to the process.
package session

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/pointer/pkg/event"
	"github.com/cyclopcam/pointer/server/camera"
	"github.com/cyclopcam/pointer/server/configdb"
	"github.com/cyclopcam/pointer/server/posechannel"
	"github.com/cyclopcam/pointer/server/transport"
)

// ConfigSource supplies the server URL, access token, and room.
// It is read on every StartStreaming, so configuration changes apply on the next connect.
type ConfigSource interface {
	StreamingConfig() (configdb.StreamingConfig, error)
}

// EventRecorder persists state transitions and errors
type EventRecorder interface {
	AddSessionEvent(kind, state, message string, detail *configdb.SessionEventDetail) error
}

// Listener is notified with a fresh snapshot after every state change.
// Listeners must not call back into the session's Start/Stop functions.
type Listener = event.Listener[State]

type Options struct {
	Track    camera.TrackOptions
	Publish  transport.PublishOptions
	Recorder EventRecorder // May be nil

	// Upper bound on how long Close waits for the transport to disconnect
	CloseTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		Track:        camera.DefaultTrackOptions(),
		Publish:      transport.DefaultPublishOptions(),
		CloseTimeout: 5 * time.Second,
	}
}

type Session struct {
	log       logs.Log
	provider  camera.Provider
	transport transport.Transport
	config    ConfigSource
	channel   *posechannel.Channel
	opts      Options

	// Guards the observable state below
	lock       sync.Mutex
	connection ConnectionState
	capture    CaptureState
	streaming  bool
	track      camera.Track
	lastError  string
	room       string

	// Guards the capture task.
	// Every StartCapture and StopCapture increments captureGen, so that a task which
	// has been superseded will never commit its track.
	captureLock   sync.Mutex
	captureGen    int64
	captureCancel context.CancelFunc
	captureDone   chan struct{}

	// Guards connection transitions. Lock order is streamLock, then lock.
	streamLock    sync.Mutex
	connectGen    int64
	connectCancel context.CancelFunc

	// Serializes calls into the transport, so that a Disconnect waits for an in-flight Connect/Publish
	transportLock sync.Mutex

	listeners event.Sender[State]

	closeOnce sync.Once
	closed    bool // Guarded by captureLock
}

// New creates a session. The session takes ownership of the pose channel, registers it
// as the transport's data handler, and starts its freshness check.
func New(log logs.Log, provider camera.Provider, tr transport.Transport, cfg ConfigSource, channel *posechannel.Channel, opts Options) *Session {
	def := DefaultOptions()
	if opts.Track.Width == 0 {
		opts.Track = def.Track
	}
	if opts.Publish.MaxBitrate == 0 {
		opts.Publish = def.Publish
	}
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = def.CloseTimeout
	}
	s := &Session{
		log:       logs.NewPrefixLogger(log, "Session:"),
		provider:  provider,
		transport: tr,
		config:    cfg,
		channel:   channel,
		opts:      opts,
	}
	tr.OnData(channel.HandleData)
	tr.OnDisconnect(s.onTransportDisconnect)
	channel.Start()
	return s
}

// Close tears down the session: the capture task is cancelled, the track is stopped,
// the transport is disconnected, and the pose channel is closed.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.log.Infof("Closing")
		s.captureLock.Lock()
		s.closed = true
		s.captureLock.Unlock()
		s.StopCapture()

		ctx, cancel := context.WithTimeout(context.Background(), s.opts.CloseTimeout)
		defer cancel()
		s.StopStreaming(ctx)
		s.channel.Close()
	})
}

func (s *Session) Channel() *posechannel.Channel {
	return s.channel
}

// Track returns the active camera track, or nil
func (s *Session) Track() camera.Track {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.track
}

// Snapshot returns the current state. The presentation layer pulls one of these every frame.
func (s *Session) Snapshot() State {
	s.lock.Lock()
	st := s.snapshotNoLock()
	s.lock.Unlock()
	st.Pose = s.channel.Current()
	return st
}

func (s *Session) snapshotNoLock() State {
	st := State{
		Connection: s.connection,
		Capture:    s.capture,
		Streaming:  s.streaming,
		LastError:  s.lastError,
		Room:       s.room,
	}
	if s.track != nil {
		st.TrackID = s.track.ID()
	}
	return st
}

func (s *Session) AddListener(l Listener) {
	s.listeners.AddListener(l)
}

func (s *Session) RemoveListener(l Listener) {
	s.listeners.RemoveListener(l)
}

func (s *Session) notify() {
	s.listeners.SendEvent(s.Snapshot())
}

func (s *Session) recordEvent(kind, state, message string) {
	if s.opts.Recorder == nil {
		return
	}
	s.lock.Lock()
	detail := &configdb.SessionEventDetail{Room: s.room}
	if s.track != nil {
		detail.Camera = s.track.ID()
	}
	s.lock.Unlock()
	if err := s.opts.Recorder.AddSessionEvent(kind, state, message, detail); err != nil {
		s.log.Warnf("Failed to record session event: %v", err)
	}
}

// setConnection transitions the connection state. err == nil clears the last error.
// Must be called with streamLock held.
func (s *Session) setConnection(state ConnectionState, streaming bool, err error) {
	s.lock.Lock()
	changed := s.connection != state || s.streaming != streaming
	s.connection = state
	s.streaming = streaming
	if err != nil {
		s.lastError = err.Error()
	} else if state != Connecting {
		s.lastError = ""
	}
	s.lock.Unlock()

	if err != nil {
		s.log.Errorf("Connection %v: %v", state, err)
		s.recordEvent(configdb.SessionEventError, state.String(), err.Error())
	} else if changed {
		s.log.Infof("Connection %v", state)
		s.recordEvent(configdb.SessionEventState, state.String(), "")
	}
	s.notify()
}

// roomURL adds the room to the server URL, unless it already names one
func roomURL(raw, room string) (string, error) {
	if room == "" {
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	q := u.Query()
	if q.Get("room") == "" {
		q.Set("room", room)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
