package session

import "errors"

var (
	ErrPermissionDenied  = errors.New("Camera permission denied")
	ErrDeviceUnavailable = errors.New("Camera unavailable")
	ErrTrackStartFailed  = errors.New("Camera track failed to start")
	ErrNotConfigured     = errors.New("LiveKit configuration not set. Set the server URL and access token")
	ErrConnectFailed     = errors.New("Connect failed")
	ErrPublishFailed     = errors.New("Publish failed")
	ErrNoTrack           = errors.New("No active camera track")
	ErrAlreadyConnecting = errors.New("Already connecting")
	ErrConnectionLost    = errors.New("Connection lost")
	ErrClosed            = errors.New("Session closed")
)
