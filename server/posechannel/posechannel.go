// Package posechannel holds the most recent pose received from the transport, for as long
// as it remains fresh.
package posechannel

import (
	"math"
	"sync"
	"time"

	"github.com/bmharper/ringbuffer"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/pointer/pkg/event"
	"github.com/cyclopcam/pointer/pkg/gen"
	"github.com/cyclopcam/pointer/pkg/pose"
)

type Config struct {
	Topic         string        // Only messages on this topic are decoded
	Freshness     time.Duration // A pose older than this is cleared
	CheckInterval time.Duration // How often we check for staleness
	HistorySize   int           // Number of arrival intervals kept for rate estimation
}

func DefaultConfig() Config {
	return Config{
		Topic:         "pose",
		Freshness:     500 * time.Millisecond,
		CheckInterval: 250 * time.Millisecond,
		HistorySize:   64,
	}
}

// Stats are counters since the channel was created
type Stats struct {
	Received       int64   `json:"received"`       // Messages decoded successfully
	Dropped        int64   `json:"dropped"`        // Messages that failed to decode
	Ignored        int64   `json:"ignored"`        // Messages on other topics
	Cleared        int64   `json:"cleared"`        // Number of times the pose went stale
	RateFPS        float64 `json:"rateFPS"`        // Estimated arrival rate
	LastFrameCount int64   `json:"lastFrameCount"` // Frame count of the most recent pose
}

// Listener is notified with the new pose each time it changes. The pose is nil when it is cleared.
type Listener = event.Listener[*pose.Frame]

// Channel is the single writer of the current pose.
// HandleData and the freshness check are mutually exclusive, and listeners are notified
// in the same order as the changes were made.
type Channel struct {
	log logs.Log
	cfg Config
	now func() time.Time

	notifyLock sync.Mutex // Held while changing state and notifying, to keep notifications ordered
	lock       sync.Mutex // Guards the fields below
	current    *pose.Frame
	lastArrive time.Time
	intervals  ringbuffer.RingP[time.Duration]
	stats      Stats

	historySize int

	listeners event.Sender[*pose.Frame]

	startOnce sync.Once
	closeOnce sync.Once
	shutdown  chan bool
	done      chan bool
}

func New(log logs.Log, cfg Config) *Channel {
	def := DefaultConfig()
	if cfg.Topic == "" {
		cfg.Topic = def.Topic
	}
	if cfg.Freshness <= 0 {
		cfg.Freshness = def.Freshness
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = def.CheckInterval
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	// The ring buffer needs a power of 2
	historySize := 1 << int(math.Ceil(math.Log2(float64(cfg.HistorySize))))
	return &Channel{
		log:         logs.NewPrefixLogger(log, "PoseChannel:"),
		cfg:         cfg,
		now:         time.Now,
		intervals:   ringbuffer.NewRingP[time.Duration](historySize),
		historySize: historySize,
		shutdown:    make(chan bool),
		done:        make(chan bool),
	}
}

func (c *Channel) Config() Config {
	return c.cfg
}

// Start launches the freshness check
func (c *Channel) Start() {
	c.startOnce.Do(func() {
		go c.freshnessLoop()
	})
}

// Close stops the freshness check. It is safe to call Close more than once, or without Start.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		close(c.shutdown)
		started := true
		c.startOnce.Do(func() { started = false })
		if started {
			<-c.done
		}
	})
}

func (c *Channel) AddListener(l Listener) {
	c.listeners.AddListener(l)
}

func (c *Channel) RemoveListener(l Listener) {
	c.listeners.RemoveListener(l)
}

// Current returns the most recent fresh pose, or nil
func (c *Channel) Current() *pose.Frame {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.current
}

// LastArrival returns the arrival time of the current pose, or the zero time
func (c *Channel) LastArrival() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.lastArrive
}

func (c *Channel) Stats() Stats {
	c.lock.Lock()
	defer c.lock.Unlock()
	s := c.stats
	intervals := make([]time.Duration, 0, c.intervals.Len())
	for i := 0; i < c.intervals.Len(); i++ {
		intervals = append(intervals, c.intervals.Peek(i))
	}
	s.RateFPS = gen.EstimateRate(intervals)
	return s
}

// HandleData receives a message from the transport.
// Messages on other topics are ignored. A message that fails to decode is dropped, and
// the previous pose is retained.
func (c *Channel) HandleData(payload []byte, topic, senderID string) {
	if topic != c.cfg.Topic {
		c.lock.Lock()
		c.stats.Ignored++
		c.lock.Unlock()
		return
	}
	frame, err := pose.Decode(payload)

	c.notifyLock.Lock()
	defer c.notifyLock.Unlock()

	c.lock.Lock()
	if err != nil {
		c.stats.Dropped++
		c.lock.Unlock()
		c.log.Warnf("Dropping message from %v: %v", senderID, err)
		return
	}
	now := c.now()
	if !c.lastArrive.IsZero() {
		c.intervals.Add(now.Sub(c.lastArrive))
	}
	c.current = frame
	c.lastArrive = now
	c.stats.Received++
	c.stats.LastFrameCount = frame.FrameCount
	c.lock.Unlock()

	c.listeners.SendEvent(frame)
}

func (c *Channel) freshnessLoop() {
	defer close(c.done)
	ticker := time.NewTicker(c.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.shutdown:
			return
		case <-ticker.C:
			c.checkFreshness()
		}
	}
}

// checkFreshness clears the pose if it is older than the freshness window.
// Returns true if the pose was cleared.
func (c *Channel) checkFreshness() bool {
	c.notifyLock.Lock()
	defer c.notifyLock.Unlock()

	c.lock.Lock()
	if c.lastArrive.IsZero() || c.now().Sub(c.lastArrive) <= c.cfg.Freshness {
		c.lock.Unlock()
		return false
	}
	age := c.now().Sub(c.lastArrive)
	c.current = nil
	c.lastArrive = time.Time{}
	// A gap this long says nothing about the producer's rate
	c.intervals = ringbuffer.NewRingP[time.Duration](c.historySize)
	c.stats.Cleared++
	c.lock.Unlock()

	c.log.Debugf("Pose is stale (%v old), clearing", age.Round(time.Millisecond))
	c.listeners.SendEvent(nil)
	return true
}
