// Package transport connects the session to a real-time room, where we publish our video
// track and exchange data messages with other participants.
package transport

import (
	"context"
	"errors"

	"github.com/cyclopcam/pointer/server/camera"
)

var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
)

// DataHandler receives data messages from other participants.
// It is called on the transport's reader goroutine, in arrival order.
type DataHandler func(payload []byte, topic, senderID string)

// DisconnectHandler is called when the connection drops without Disconnect being called
type DisconnectHandler func(err error)

// PublishOptions constrain the published video
type PublishOptions struct {
	MaxBitrate int     `json:"maxBitrate"` // bits per second
	MaxFPS     float64 `json:"maxFPS"`
	Simulcast  bool    `json:"simulcast"`
}

func DefaultPublishOptions() PublishOptions {
	return PublishOptions{
		MaxBitrate: 2 * 1000 * 1000,
		MaxFPS:     30,
		Simulcast:  false,
	}
}

// Transport is a connection to a room
type Transport interface {
	Connect(ctx context.Context, url, token string) error
	// Disconnect is a no-op if we are not connected
	Disconnect(ctx context.Context) error
	// Publish replaces any previously published track
	Publish(ctx context.Context, track camera.Track, options PublishOptions) error
	SendData(ctx context.Context, payload []byte, topic string) error
	OnData(handler DataHandler)
	OnDisconnect(handler DisconnectHandler)
	Connected() bool
}

// Envelope is a text message on the websocket
type Envelope struct {
	Type    string `json:"type"` // EnvelopeData or EnvelopeJoined
	Topic   string `json:"topic,omitempty"`
	Sender  string `json:"sender,omitempty"`
	Payload []byte `json:"payload,omitempty"`
}

const (
	EnvelopeData   = "data"
	EnvelopeJoined = "joined"
)

// Flags in the header of a binary video message
const (
	VideoFlagIDR = 1
)

// Size of the header of a binary video message: flags uint32, sequence uint32
const VideoHeaderSize = 8
