package session

import (
	"fmt"

	"github.com/cyclopcam/pointer/pkg/pose"
)

// ConnectionState is the state of our connection to the room
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Failed
)

var connectionStateNames = []string{"disconnected", "connecting", "connected", "failed"}

func (c ConnectionState) String() string {
	if int(c) < 0 || int(c) >= len(connectionStateNames) {
		return fmt.Sprintf("ConnectionState(%d)", int(c))
	}
	return connectionStateNames[c]
}

func (c ConnectionState) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *ConnectionState) UnmarshalText(b []byte) error {
	for i, n := range connectionStateNames {
		if n == string(b) {
			*c = ConnectionState(i)
			return nil
		}
	}
	return fmt.Errorf("Unknown connection state '%v'", string(b))
}

// CaptureState is the state of the camera, which is independent of the connection
type CaptureState int

const (
	CaptureIdle CaptureState = iota
	CaptureStarting
	CaptureActive
	CaptureFailed
)

var captureStateNames = []string{"idle", "starting", "active", "failed"}

func (c CaptureState) String() string {
	if int(c) < 0 || int(c) >= len(captureStateNames) {
		return fmt.Sprintf("CaptureState(%d)", int(c))
	}
	return captureStateNames[c]
}

func (c CaptureState) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *CaptureState) UnmarshalText(b []byte) error {
	for i, n := range captureStateNames {
		if n == string(b) {
			*c = CaptureState(i)
			return nil
		}
	}
	return fmt.Errorf("Unknown capture state '%v'", string(b))
}

// State is a snapshot of everything the presentation layer shows
type State struct {
	Connection ConnectionState `json:"connection"`
	Capture    CaptureState    `json:"capture"`
	Streaming  bool            `json:"streaming"`
	TrackID    string          `json:"trackID,omitempty"`
	LastError  string          `json:"lastError,omitempty"`
	Room       string          `json:"room,omitempty"`
	Pose       *pose.Frame     `json:"pose,omitempty"`
}
