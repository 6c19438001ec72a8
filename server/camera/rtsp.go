package camera

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/bluenviron/gortsplib/v4/pkg/format/rtph264"
	"github.com/bluenviron/gortsplib/v4/pkg/liberrors"
	"github.com/bluenviron/mediacommon/pkg/codecs/h264"
	"github.com/bmharper/ringbuffer"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/pointer/pkg/gen"
	"github.com/pion/rtp"
)

var (
	ErrNoH264 = errors.New("camera has no H264 stream")
)

// RTSPConfig says where to find the camera
type RTSPConfig struct {
	URL      string `json:"url"` // eg rtsp://192.168.1.10:554/Streaming/Channels/101
	Username string `json:"username"`
	Password string `json:"-"`
}

// FullURL returns the URL with credentials embedded
func (c *RTSPConfig) FullURL() (*base.URL, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return nil, fmt.Errorf("Invalid camera URL: %w", err)
	}
	if u.Scheme != "rtsp" && u.Scheme != "rtsps" {
		return nil, fmt.Errorf("Invalid camera URL scheme '%v'", u.Scheme)
	}
	if u.Port() == "" {
		u.Host += ":554"
	}
	if c.Username != "" {
		u.User = url.UserPassword(c.Username, c.Password)
	}
	return base.ParseURL(u.String())
}

// RTSPProvider gets video from an IP camera.
// "Permission" is whether the camera accepts our credentials.
type RTSPProvider struct {
	Log    logs.Log
	Config RTSPConfig

	lock   sync.Mutex
	auth   Authorization
	nextID atomic.Int64
}

func NewRTSPProvider(log logs.Log, cfg RTSPConfig) *RTSPProvider {
	return &RTSPProvider{
		Log:    logs.NewPrefixLogger(log, "Camera:"),
		Config: cfg,
	}
}

func (p *RTSPProvider) Authorization(ctx context.Context) (Authorization, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.auth, nil
}

// RequestAccess asks the camera to describe its streams. A 401 or 403 means our
// credentials are wrong, which we report as a denial.
func (p *RTSPProvider) RequestAccess(ctx context.Context) (bool, error) {
	u, err := p.Config.FullURL()
	if err != nil {
		return false, err
	}
	client := &gortsplib.Client{}
	_, _, err = describe(ctx, client, u)
	closeClient(client)
	auth := AuthorizationGranted
	if err != nil {
		if !isAuthError(err) {
			return false, err
		}
		auth = AuthorizationDenied
	}
	p.lock.Lock()
	p.auth = auth
	p.lock.Unlock()
	p.Log.Infof("Access to %v: %v", redact(u), auth)
	return auth == AuthorizationGranted, nil
}

// CreateTrack connects to the camera and finds its H264 stream.
// The track does not produce frames until it is started.
func (p *RTSPProvider) CreateTrack(ctx context.Context, options TrackOptions) (Track, error) {
	u, err := p.Config.FullURL()
	if err != nil {
		return nil, err
	}
	t := &rtspTrack{
		id:      fmt.Sprintf("rtsp-%v", p.nextID.Add(1)),
		options: options,
		client:  &gortsplib.Client{},
		url:     u,
	}
	t.log = logs.NewPrefixLogger(p.Log, fmt.Sprintf("Track %v:", t.id))
	t.intervals = ringbuffer.NewRingP[time.Duration](32)

	desc, _, err := describe(ctx, t.client, u)
	if err != nil {
		closeClient(t.client)
		return nil, err
	}
	t.desc = desc
	t.media = desc.FindFormat(&t.format)
	if t.media == nil {
		closeClient(t.client)
		return nil, ErrNoH264
	}
	return t, nil
}

// TrackStats describe what a running track has actually delivered
type TrackStats struct {
	Frames  int64   `json:"frames"`
	Dropped int64   `json:"dropped"` // Frames not delivered because a sink was full
	FPS     float64 `json:"fps"`
	Width   int     `json:"width"`
	Height  int     `json:"height"`
}

type rtspTrack struct {
	id      string
	log     logs.Log
	options TrackOptions
	url     *base.URL
	client  *gortsplib.Client
	desc    *description.Session
	media   *description.Media
	format  *format.H264
	sinks   Sinks

	lock       sync.Mutex // Guards the fields below, which are written on the RTP goroutine
	started    bool
	stopped    bool
	gotIDR     bool
	lastFrame  time.Time
	intervals  ringbuffer.RingP[time.Duration]
	frames     int64
	width      int
	height     int
	warnedSize bool
}

func (t *rtspTrack) ID() string {
	return t.id
}

func (t *rtspTrack) Options() TrackOptions {
	return t.options
}

func (t *rtspTrack) AddSink(sink chan<- AccessUnit) {
	t.sinks.Add(sink)
}

func (t *rtspTrack) RemoveSink(sink chan<- AccessUnit) {
	t.sinks.Remove(sink)
}

func (t *rtspTrack) Start(ctx context.Context) error {
	t.lock.Lock()
	if t.stopped {
		t.lock.Unlock()
		return errors.New("track has been stopped")
	}
	if t.started {
		t.lock.Unlock()
		return nil
	}
	t.started = true
	t.lock.Unlock()

	decoder, err := t.format.CreateDecoder()
	if err != nil {
		return fmt.Errorf("Failed to create H264 decoder: %w", err)
	}
	if sps, _ := t.format.SafeParams(); sps != nil {
		t.onSPS(sps)
	}

	stop := context.AfterFunc(ctx, t.client.Close)
	defer stop()

	if _, err := t.client.Setup(t.desc.BaseURL, t.media, 0, 0); err != nil {
		return fmt.Errorf("RTSP setup failed: %w", err)
	}
	t.client.OnPacketRTP(t.media, t.format, func(pkt *rtp.Packet) {
		nalus, err := decoder.Decode(pkt)
		if err != nil {
			if !errors.Is(err, rtph264.ErrMorePacketsNeeded) && !errors.Is(err, rtph264.ErrNonStartingPacketAndNoPrevious) {
				t.log.Debugf("Decode error: %v", err)
			}
			return
		}
		t.onAccessUnit(nalus)
	})
	if _, err := t.client.Play(nil); err != nil {
		return fmt.Errorf("RTSP play failed: %w", err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	t.log.Infof("Playing %v", redact(t.url))

	go func() {
		err := t.client.Wait()
		t.lock.Lock()
		stopped := t.stopped
		t.lock.Unlock()
		if !stopped {
			t.log.Warnf("Stream ended: %v", err)
		}
	}()
	return nil
}

func (t *rtspTrack) Stop() error {
	t.lock.Lock()
	if t.stopped {
		t.lock.Unlock()
		return nil
	}
	t.stopped = true
	t.lock.Unlock()
	closeClient(t.client)
	t.log.Infof("Stopped")
	return nil
}

func (t *rtspTrack) Stats() TrackStats {
	t.lock.Lock()
	defer t.lock.Unlock()
	intervals := make([]time.Duration, 0, t.intervals.Len())
	for i := 0; i < t.intervals.Len(); i++ {
		intervals = append(intervals, t.intervals.Peek(i))
	}
	return TrackStats{
		Frames:  t.frames,
		Dropped: t.sinks.Dropped(),
		FPS:     gen.RoundFPS(gen.EstimateRate(intervals)),
		Width:   t.width,
		Height:  t.height,
	}
}

func (t *rtspTrack) onAccessUnit(nalus [][]byte) {
	now := time.Now()
	idr := h264.IDRPresent(nalus)
	for _, n := range nalus {
		if len(n) > 0 && h264.NALUType(n[0]&0x1f) == h264.NALUTypeSPS {
			t.onSPS(n)
		}
	}

	t.lock.Lock()
	if !t.gotIDR && !idr {
		// Wait for a keyframe, so that consumers can decode from the first frame we give them
		t.lock.Unlock()
		return
	}
	t.gotIDR = true
	if !t.lastFrame.IsZero() {
		t.intervals.Add(now.Sub(t.lastFrame))
	}
	t.lastFrame = now
	t.frames++
	t.lock.Unlock()

	t.sinks.Send(AccessUnit{
		NALUs:    nalus,
		IDR:      idr,
		Received: now,
	})
}

func (t *rtspTrack) onSPS(buf []byte) {
	var sps h264.SPS
	if err := sps.Unmarshal(buf); err != nil {
		return
	}
	t.lock.Lock()
	defer t.lock.Unlock()
	t.width = sps.Width()
	t.height = sps.Height()
	if !t.warnedSize && (t.width != t.options.Width || t.height != t.options.Height) {
		t.warnedSize = true
		t.log.Warnf("Requested %vx%v, but camera is sending %vx%v", t.options.Width, t.options.Height, t.width, t.height)
	}
}

// describe connects to the camera and asks for its session description.
// The client is closed if ctx is cancelled.
func describe(ctx context.Context, client *gortsplib.Client, u *base.URL) (*description.Session, *base.Response, error) {
	if err := client.Start(u.Scheme, u.Host); err != nil {
		return nil, nil, err
	}
	stop := context.AfterFunc(ctx, client.Close)
	defer stop()
	desc, resp, err := client.Describe(u)
	if err != nil && ctx.Err() != nil {
		return nil, nil, ctx.Err()
	}
	return desc, resp, err
}

func closeClient(client *gortsplib.Client) {
	defer func() {
		// Closing an unstarted or already closed client is not an error for us
		recover()
	}()
	client.Close()
}

func isAuthError(err error) bool {
	var bad liberrors.ErrClientBadStatusCode
	if errors.As(err, &bad) {
		return bad.Code == base.StatusUnauthorized || bad.Code == base.StatusForbidden
	}
	return strings.Contains(err.Error(), "401") || strings.Contains(err.Error(), "403")
}

// redact removes credentials from a URL, for logging
func redact(u *base.URL) string {
	return u.Host + u.Path
}
