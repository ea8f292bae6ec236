// Package connectivity tracks whether the remote store is reachable and
// announces transitions to subscribers.
package connectivity

import (
	"sync"
	"time"

	"github.com/MrBigodon205/app-de-professor-sub003/internal/logging"
)

// Event is a connectivity transition.
type Event struct {
	Online bool      `json:"online"`
	Source string    `json:"source"`
	At     time.Time `json:"at"`
}

// Monitor holds the current connectivity state. Only transitions are
// published; repeated reports of the same state are absorbed.
type Monitor struct {
	// pub serializes Set so subscribers see transitions in commit order.
	pub sync.Mutex

	mu     sync.RWMutex
	online bool
	since  time.Time
	subs   map[int]chan Event
	nextID int
}

// NewMonitor creates a monitor in the given initial state.
func NewMonitor(initial bool) *Monitor {
	return &Monitor{
		online: initial,
		since:  time.Now(),
		subs:   make(map[int]chan Event),
	}
}

// Online reports the current state.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Since returns when the current state began.
func (m *Monitor) Since() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.since
}

// Set records a state reported by source and returns whether it changed.
func (m *Monitor) Set(online bool, source string) bool {
	m.pub.Lock()
	defer m.pub.Unlock()

	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return false
	}
	m.online = online
	m.since = time.Now()
	ev := Event{Online: online, Source: source, At: m.since}
	subs := make([]chan Event, 0, len(m.subs))
	for _, ch := range m.subs {
		subs = append(subs, ch)
	}
	m.mu.Unlock()

	logging.Info("connectivity changed", map[string]interface{}{
		"online": online,
		"source": source,
	})
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			logging.Warn("connectivity subscriber is full, event dropped", map[string]interface{}{"online": online})
		}
	}
	return true
}

// Subscribe returns a channel of transitions and a function that ends the
// subscription. Slow subscribers miss events rather than block Set.
func (m *Monitor) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = ch
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}
