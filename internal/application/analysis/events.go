package analysis

import (
	"sync"
	"time"

	domain "github.com/bryanwahyu/voiceguard/internal/domain/analysis"
)

// Event is published on every session transition.
type Event struct {
	SessionID domain.SessionID `json:"session_id"`
	Status    domain.Status    `json:"status"`
	Result    *domain.Result   `json:"result,omitempty"`
	Error     string           `json:"error,omitempty"`
	At        time.Time        `json:"at"`
}

// Terminal reports whether no further events follow for this run.
func (e Event) Terminal() bool {
	return e.Status == domain.StatusComplete || (e.Status == domain.StatusIdle && e.Error != "")
}

const subscriberBuffer = 16

// Broker fans session events out to subscribers. Publish never blocks;
// a subscriber that falls behind loses events.
type Broker struct {
	mu   sync.Mutex
	subs map[domain.SessionID]map[chan Event]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[domain.SessionID]map[chan Event]struct{})}
}

// Subscribe returns a channel of events for id and a func that releases it.
func (b *Broker) Subscribe(id domain.SessionID) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	set, ok := b.subs[id]
	if !ok {
		set = make(map[chan Event]struct{})
		b.subs[id] = set
	}
	set[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if set, ok := b.subs[id]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(b.subs, id)
				}
			}
			close(ch)
		})
	}
}

func (b *Broker) Publish(ev Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[ev.SessionID] {
		select {
		case ch <- ev:
		default:
		}
	}
}
