package session

import (
	"context"
	"fmt"

	"github.com/cyclopcam/pointer/server/camera"
	"github.com/cyclopcam/pointer/server/configdb"
)

// StartCapture cancels any in-flight capture task, and launches a fresh one.
// The new task always creates a new track from scratch. Any existing track is stopped first.
// The returned channel is closed when the task has finished, whether it succeeded or not.
func (s *Session) StartCapture() <-chan struct{} {
	s.captureLock.Lock()
	defer s.captureLock.Unlock()

	done := make(chan struct{})
	if s.closed {
		close(done)
		return done
	}

	if s.captureCancel != nil {
		s.captureCancel()
	}
	prev := s.captureDone
	s.captureGen++
	gen := s.captureGen
	ctx, cancel := context.WithCancel(context.Background())
	s.captureCancel = cancel
	s.captureDone = done

	go func() {
		defer close(done)
		defer cancel()
		// Only one task touches the camera at a time
		if prev != nil {
			<-prev
		}
		s.runCapture(ctx, gen)
	}()
	return done
}

// StopCapture cancels the capture task, waits for it to exit, and then stops the active track.
// Errors from stopping the track are ignored. It is a no-op when no capture is active.
func (s *Session) StopCapture() {
	s.captureLock.Lock()
	s.captureGen++
	gen := s.captureGen
	if s.captureCancel != nil {
		s.captureCancel()
		s.captureCancel = nil
	}
	done := s.captureDone
	s.captureLock.Unlock()

	if done != nil {
		<-done
	}

	// If somebody called StartCapture while we were waiting, then the new task owns the camera now
	s.captureLock.Lock()
	if s.captureGen != gen {
		s.captureLock.Unlock()
		return
	}
	track, changed := s.takeTrack(CaptureIdle)
	s.captureLock.Unlock()

	if track != nil {
		s.stopTrack(track)
		s.recordEvent(configdb.SessionEventCapture, CaptureIdle.String(), "Capture stopped")
	}
	if changed {
		s.notify()
	}
}

func (s *Session) runCapture(ctx context.Context, gen int64) {
	// Never reuse a previous track
	s.captureLock.Lock()
	if s.captureGen != gen {
		s.captureLock.Unlock()
		return
	}
	old, _ := s.takeTrack(CaptureStarting)
	s.captureLock.Unlock()
	if old != nil {
		s.stopTrack(old)
	}
	s.notify()

	track, err := s.acquireTrack(ctx)
	if err != nil {
		if ctx.Err() != nil {
			s.log.Infof("Capture cancelled")
			return
		}
		s.captureFailed(gen, err)
		return
	}

	// Commit, unless we were superseded or cancelled while starting
	s.captureLock.Lock()
	committed := s.captureGen == gen && ctx.Err() == nil
	if committed {
		s.lock.Lock()
		s.track = track
		s.capture = CaptureActive
		s.lastError = ""
		s.lock.Unlock()
	}
	s.captureLock.Unlock()

	if !committed {
		s.log.Infof("Capture task superseded. Stopping its track %v", track.ID())
		s.stopTrack(track)
		return
	}

	s.log.Infof("Capture active on track %v", track.ID())
	s.recordEvent(configdb.SessionEventCapture, CaptureActive.String(), "")
	s.notify()

	s.republish(track)
}

// acquireTrack checks permission, then creates and starts a track.
// If an error is returned, then no track is left running.
func (s *Session) acquireTrack(ctx context.Context) (camera.Track, error) {
	auth, err := s.provider.Authorization(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	switch auth {
	case camera.AuthorizationDenied:
		return nil, ErrPermissionDenied
	case camera.AuthorizationNotDetermined:
		granted, err := s.provider.RequestAccess(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		if !granted {
			return nil, ErrPermissionDenied
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	track, err := s.provider.CreateTrack(ctx, s.opts.Track)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if err := track.Start(ctx); err != nil {
		s.stopTrack(track)
		return nil, fmt.Errorf("%w: %v", ErrTrackStartFailed, err)
	}
	return track, nil
}

func (s *Session) captureFailed(gen int64, err error) {
	s.captureLock.Lock()
	current := s.captureGen == gen
	if current {
		s.lock.Lock()
		s.capture = CaptureFailed
		s.lastError = err.Error()
		s.lock.Unlock()
	}
	s.captureLock.Unlock()
	if !current {
		return
	}
	s.log.Errorf("Capture failed: %v", err)
	s.recordEvent(configdb.SessionEventError, CaptureFailed.String(), err.Error())
	s.notify()
}

// takeTrack removes the active track, and sets the capture state.
// Must be called with captureLock held.
func (s *Session) takeTrack(next CaptureState) (camera.Track, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	track := s.track
	changed := s.capture != next || track != nil
	s.track = nil
	s.capture = next
	return track, changed
}

func (s *Session) stopTrack(track camera.Track) {
	if err := track.Stop(); err != nil {
		s.log.Warnf("Error stopping track %v: %v", track.ID(), err)
	}
}

// republish sends a replacement track to the room, if we are connected
func (s *Session) republish(track camera.Track) {
	s.streamLock.Lock()
	defer s.streamLock.Unlock()
	s.lock.Lock()
	connected := s.connection == Connected
	s.lock.Unlock()
	if !connected {
		return
	}

	s.transportLock.Lock()
	err := s.transport.Publish(context.Background(), track, s.opts.Publish)
	if err != nil {
		s.transport.Disconnect(context.Background())
	}
	s.transportLock.Unlock()
	if err != nil {
		s.setConnection(Failed, false, fmt.Errorf("%w: %v", ErrPublishFailed, err))
		return
	}
	s.log.Infof("Republished track %v", track.ID())
}
