package services

import (
	"sync"
	"time"
)

const securityEventCap = 256

// SecurityEvent records a rejected validation attempt worth an operator's
// attention, most notably device mismatches on bound keys.
type SecurityEvent struct {
	At          time.Time `json:"at"`
	Kind        string    `json:"kind"`
	KeyValue    string    `json:"key,omitempty"`
	SourceAddr  string    `json:"ip,omitempty"`
	Fingerprint string    `json:"hwid,omitempty"`
	PayloadHash string    `json:"script,omitempty"`
	Detail      string    `json:"detail,omitempty"`
}

// SecurityLogService keeps a bounded in-memory ring of recent security
// events, newest first. Oldest entries fall off once the ring is full.
type SecurityLogService struct {
	mu     sync.Mutex
	events []SecurityEvent
}

func NewSecurityLogService() *SecurityLogService {
	return &SecurityLogService{}
}

// Record prepends an event, evicting the oldest once the cap is reached.
func (s *SecurityLogService) Record(ev SecurityEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append([]SecurityEvent{ev}, s.events...)
	if len(s.events) > securityEventCap {
		s.events = s.events[:securityEventCap]
	}
}

// Events returns a snapshot of recorded events, newest first.
func (s *SecurityLogService) Events() []SecurityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]SecurityEvent, len(s.events))
	copy(out, s.events)
	return out
}

// Clear drops all recorded events.
func (s *SecurityLogService) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}
