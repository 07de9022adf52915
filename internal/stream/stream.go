// Package stream keeps the latest progress packet of the foreground session
// and notifies subscribers when it changes.
//
// It is a sampling stream: readers see only the most recent packet, and
// packets tagged with any session other than the bound one are dropped.
package stream

import (
	"sync"

	"github.com/accelara/gamedl/internal/model"
)

// Stream is a single-producer, multi-consumer latest-wins packet holder.
type Stream struct {
	mu      sync.RWMutex
	session string
	latest  *model.Packet
	nextSub int
	subs    map[int]chan struct{}
}

// New returns an unbound stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan struct{})}
}

// Bind accepts packets for sessionID only and forgets any previous packet.
func (s *Stream) Bind(sessionID string) {
	s.mu.Lock()
	s.session = sessionID
	s.latest = nil
	s.mu.Unlock()
	s.Notify()
}

// Unbind stops accepting packets and forgets the current one.
func (s *Stream) Unbind() {
	s.Bind("")
}

// Clear forgets the current packet but keeps the binding.
func (s *Stream) Clear() {
	s.mu.Lock()
	s.latest = nil
	s.mu.Unlock()
	s.Notify()
}

// Session returns the bound session id, empty when unbound.
func (s *Stream) Session() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// Publish stores p if it belongs to the bound session and reports whether
// it was accepted.
func (s *Stream) Publish(p model.Packet) bool {
	s.mu.Lock()
	if s.session == "" || p.SessionID != s.session {
		s.mu.Unlock()
		return false
	}
	s.latest = &p
	s.mu.Unlock()
	s.Notify()
	return true
}

// Latest returns the last accepted packet.
func (s *Stream) Latest() (model.Packet, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return model.Packet{}, false
	}
	return *s.latest, true
}

// Subscribe returns a channel that receives a signal after every change
// and a function that releases it. Signals coalesce; read Latest on wake.
func (s *Stream) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Notify wakes every subscriber without blocking.
func (s *Stream) Notify() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
