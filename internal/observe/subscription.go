package observe

import (
	"sync"

	"dockwave-backend/internal/models"
)

// MessageType tags what an observation message carries
type MessageType string

const (
	MsgSnapshot MessageType = "snapshot" // Every driver status of the shift plus its waves
	MsgStatus   MessageType = "status"   // One driver's status changed
	MsgWaves    MessageType = "waves"    // The shift's wave layout changed
)

// Close reasons
const (
	ReasonResync   = "resync"   // Fell behind; reconnect for a fresh snapshot
	ReasonClosed   = "closed"   // Unsubscribed by the caller
	ReasonShutdown = "shutdown" // Broker stopped
)

// Message is one item of a subscription stream
type Message struct {
	Type      MessageType                `json:"type"`
	ShiftID   string                     `json:"shift_id"`
	Statuses  []models.DriverShiftStatus `json:"statuses,omitempty"`
	Status    *models.DriverShiftStatus  `json:"status,omitempty"`
	Layout    *models.ShiftLayout        `json:"layout,omitempty"`
	Timestamp int64                      `json:"timestamp"`
}

// Subscription is one observer's ordered stream. Until the initial snapshot is sent
// live messages are parked in pending, so the snapshot always comes first.
type Subscription struct {
	ShiftID  string
	DriverID string // Empty for whole-shift subscriptions

	ch chan Message

	mu      sync.Mutex
	ready   bool
	pending []Message
	closed  bool
	reason  string
}

func newSubscription(shiftID, driverID string, size int) *Subscription {
	return &Subscription{
		ShiftID:  shiftID,
		DriverID: driverID,
		ch:       make(chan Message, size),
	}
}

// C is the message stream. It is closed when the subscription ends; Reason tells why.
func (s *Subscription) C() <-chan Message {
	return s.ch
}

// Reason returns why the stream was closed, or "" while it is open
func (s *Subscription) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

func (s *Subscription) wants(msg Message) bool {
	if s.DriverID == "" {
		return true
	}
	return msg.Type == MsgStatus && msg.Status != nil && msg.Status.DriverID == s.DriverID
}

// deliver queues msg without blocking. It reports false when the subscriber
// could not keep up and was closed for resync.
func (s *Subscription) deliver(msg Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	if !s.ready {
		// Room must stay for the snapshot itself
		if len(s.pending) >= cap(s.ch)-1 {
			s.closeLocked(ReasonResync)
			return false
		}
		s.pending = append(s.pending, msg)
		return true
	}
	select {
	case s.ch <- msg:
		return true
	default:
		s.closeLocked(ReasonResync)
		return false
	}
}

// start emits the snapshot, then everything that arrived while it was loading and is
// newer than what the snapshot already shows
func (s *Subscription) start(first Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	seen := snapshotVersions(first)
	queue := []Message{first}
	for _, msg := range s.pending {
		if msg.Type == MsgStatus && msg.Status != nil && msg.Status.Version <= seen[msg.Status.DriverID] {
			continue
		}
		queue = append(queue, msg)
	}
	s.pending = nil
	for _, msg := range queue {
		select {
		case s.ch <- msg:
		default:
			s.closeLocked(ReasonResync)
			return false
		}
	}
	s.ready = true
	return true
}

// snapshotVersions maps each driver in an opening message to the status version it carries
func snapshotVersions(first Message) map[string]int {
	seen := make(map[string]int, len(first.Statuses)+1)
	for _, st := range first.Statuses {
		seen[st.DriverID] = st.Version
	}
	if first.Status != nil {
		seen[first.Status.DriverID] = first.Status.Version
	}
	return seen
}

func (s *Subscription) close(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked(reason)
}

func (s *Subscription) closeLocked(reason string) {
	if s.closed {
		return
	}
	s.closed = true
	s.reason = reason
	s.pending = nil
	close(s.ch)
}
