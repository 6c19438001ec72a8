package session

import (
	"context"
	"fmt"

	"github.com/cyclopcam/pointer/server/configdb"
)

// StartStreaming connects to the room and publishes the active track.
//
// A call while Connecting returns ErrAlreadyConnecting and changes nothing.
// A call while Connected is a no-op. Every other failure moves the connection to
// Failed, and is also returned.
func (s *Session) StartStreaming(ctx context.Context) error {
	s.streamLock.Lock()

	s.lock.Lock()
	state := s.connection
	track := s.track
	s.lock.Unlock()

	switch state {
	case Connecting:
		s.streamLock.Unlock()
		return ErrAlreadyConnecting
	case Connected:
		s.streamLock.Unlock()
		return nil
	}

	cfg, err := s.config.StreamingConfig()
	if err != nil {
		s.log.Errorf("Failed to read streaming configuration: %v", err)
		cfg = configdb.StreamingConfig{}
	}
	if !cfg.IsConfigured() {
		// Refuse before touching the transport
		s.setConnection(Failed, false, ErrNotConfigured)
		s.streamLock.Unlock()
		return ErrNotConfigured
	}
	if track == nil {
		s.setConnection(Failed, false, ErrNoTrack)
		s.streamLock.Unlock()
		return ErrNoTrack
	}

	s.lock.Lock()
	s.room = cfg.Room
	s.lock.Unlock()

	s.connectGen++
	gen := s.connectGen
	cctx, cancel := context.WithCancel(ctx)
	s.connectCancel = cancel
	s.setConnection(Connecting, false, nil)
	s.streamLock.Unlock()

	err = s.connect(cctx, cfg)
	cancel()

	s.streamLock.Lock()
	defer s.streamLock.Unlock()
	if s.connectGen != gen {
		// StopStreaming got here first, and it owns the final state
		return context.Canceled
	}
	s.connectCancel = nil
	if err != nil {
		s.setConnection(Failed, false, err)
		return err
	}
	s.setConnection(Connected, true, nil)
	return nil
}

// connect dials the room and publishes the track. On failure, the transport is left disconnected.
func (s *Session) connect(ctx context.Context, cfg configdb.StreamingConfig) error {
	s.transportLock.Lock()
	defer s.transportLock.Unlock()

	// A previous failure may have left a half-open connection behind
	if s.transport.Connected() {
		s.transport.Disconnect(ctx)
	}

	u, err := roomURL(cfg.URL, cfg.Room)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}
	s.log.Infof("Connecting to room '%v'", cfg.Room)
	if err := s.transport.Connect(ctx, u, cfg.Token); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}

	// The track may have been replaced while we were connecting
	current := s.Track()
	if current == nil {
		s.transport.Disconnect(context.Background())
		return ErrNoTrack
	}
	if err := s.transport.Publish(ctx, current, s.opts.Publish); err != nil {
		s.transport.Disconnect(context.Background())
		return fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}
	return nil
}

// StopStreaming cancels an in-flight connect, disconnects the transport, and resets to Disconnected.
// It is safe to call when we are not connected.
func (s *Session) StopStreaming(ctx context.Context) error {
	s.streamLock.Lock()
	s.connectGen++
	gen := s.connectGen
	if s.connectCancel != nil {
		s.connectCancel()
		s.connectCancel = nil
	}
	s.streamLock.Unlock()

	// Wait for any connect or publish to settle, and then disconnect unconditionally
	s.transportLock.Lock()
	err := s.transport.Disconnect(ctx)
	s.transportLock.Unlock()
	if err != nil {
		s.log.Warnf("Disconnect: %v", err)
	}

	s.streamLock.Lock()
	defer s.streamLock.Unlock()
	if s.connectGen == gen {
		s.setConnection(Disconnected, false, nil)
	}
	return err
}

// onTransportDisconnect is called by the transport when the connection drops without us asking.
// It runs on the transport's reader goroutine, so we hand off to avoid blocking it.
func (s *Session) onTransportDisconnect(err error) {
	go s.connectionLost(err)
}

func (s *Session) connectionLost(cause error) {
	s.streamLock.Lock()
	defer s.streamLock.Unlock()
	s.lock.Lock()
	state := s.connection
	s.lock.Unlock()
	// Ignore a drop that raced with StopStreaming, or with a reconnect
	if state != Connected || s.transport.Connected() {
		return
	}
	err := ErrConnectionLost
	if cause != nil {
		err = fmt.Errorf("%w: %v", ErrConnectionLost, cause)
	}
	s.setConnection(Failed, false, err)
}
