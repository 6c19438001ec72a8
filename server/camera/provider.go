// Package camera acquires video tracks from a camera.
// The session state machine is the only owner of a track. It creates, starts, and stops it.
package camera

import (
	"context"
	"errors"
	"time"
)

type Authorization int

const (
	AuthorizationNotDetermined Authorization = iota
	AuthorizationGranted
	AuthorizationDenied
)

func (a Authorization) String() string {
	switch a {
	case AuthorizationNotDetermined:
		return "notDetermined"
	case AuthorizationGranted:
		return "granted"
	case AuthorizationDenied:
		return "denied"
	}
	return "unknown"
}

type Position string

const (
	PositionBack  Position = "back"
	PositionFront Position = "front"
)

// TrackOptions are the requested capture parameters. A camera may not honor them exactly.
type TrackOptions struct {
	Position Position `json:"position"`
	Width    int      `json:"width"`
	Height   int      `json:"height"`
	FPS      float64  `json:"fps"`
}

func DefaultTrackOptions() TrackOptions {
	return TrackOptions{
		Position: PositionBack,
		Width:    1280,
		Height:   720,
		FPS:      30,
	}
}

// AccessUnit is one encoded H264 frame, as a list of NALUs (without start codes)
type AccessUnit struct {
	NALUs    [][]byte
	IDR      bool      // True if this is a keyframe
	Received time.Time // Arrival time
}

var ErrTrackNotStarted = errors.New("track not started")

// Provider gives access to the camera
type Provider interface {
	// Authorization returns the current access state, without prompting
	Authorization(ctx context.Context) (Authorization, error)
	// RequestAccess asks for access, and returns true if it was granted
	RequestAccess(ctx context.Context) (bool, error)
	// CreateTrack creates a new track, which must be started before it produces frames
	CreateTrack(ctx context.Context, options TrackOptions) (Track, error)
}

// Track is a single video capture from a camera
type Track interface {
	ID() string
	Options() TrackOptions
	Start(ctx context.Context) error
	// Stop is idempotent
	Stop() error
	// AddSink registers a channel that receives every access unit. Frames are
	// dropped if the channel is full.
	AddSink(sink chan<- AccessUnit)
	RemoveSink(sink chan<- AccessUnit)
}
