package camera

import (
	"slices"
	"sync"
	"sync/atomic"
)

// Sinks fans access units out to listeners without ever blocking the producer
type Sinks struct {
	lock    sync.Mutex
	sinks   []chan<- AccessUnit
	dropped atomic.Int64
}

func (s *Sinks) Add(sink chan<- AccessUnit) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if !slices.Contains(s.sinks, sink) {
		s.sinks = append(s.sinks, sink)
	}
}

func (s *Sinks) Remove(sink chan<- AccessUnit) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if i := slices.Index(s.sinks, sink); i != -1 {
		s.sinks = slices.Delete(s.sinks, i, i+1)
	}
}

func (s *Sinks) Len() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.sinks)
}

// Send delivers au to every sink that has room for it
func (s *Sinks) Send(au AccessUnit) {
	s.lock.Lock()
	defer s.lock.Unlock()
	for _, sink := range s.sinks {
		select {
		case sink <- au:
		default:
			s.dropped.Add(1)
		}
	}
}

// Dropped returns the number of frames that were not delivered because a sink was full
func (s *Sinks) Dropped() int64 {
	return s.dropped.Load()
}
