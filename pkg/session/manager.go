package session

import (
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"

	"github.com/satrio/kurir/internal/observability"
	"github.com/satrio/kurir/pkg/message"
)

const (
	// DefaultTimeout is the idle age after which cleanup removes a session.
	DefaultTimeout = 60 * time.Minute

	// DefaultMaxConcurrent caps the number of live sessions.
	DefaultMaxConcurrent = 100
)

// Manager owns the live session table. It is the one piece of state
// shared across concurrently running adapters and the router; a single
// mutex guards both indexes.
type Manager struct {
	mu      sync.Mutex
	byKey   map[string]*Session
	byID    map[string]*Session
	now     func() time.Time
	stopGC  chan struct{}
	running bool

	timeout       time.Duration
	maxConcurrent int
}

// Option customizes a Manager.
type Option func(*Manager)

// WithTimeout overrides the idle timeout used by Cleanup.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithMaxConcurrent overrides the live session cap.
func WithMaxConcurrent(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxConcurrent = n
		}
	}
}

// withClock injects a fake clock for tests.
func withClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a session manager.
func NewManager(opts ...Option) *Manager {
	observability.EnsureRegistered()

	m := &Manager{
		byKey:         make(map[string]*Session),
		byID:          make(map[string]*Session),
		now:           time.Now,
		timeout:       DefaultTimeout,
		maxConcurrent: DefaultMaxConcurrent,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetOrCreate returns the live session for the conversation key, touching
// its last-active time. On a miss it creates the session, silently
// evicting the single oldest-by-activity session if the concurrency cap
// has been reached. Eviction sends no signal to the evicted owner; a new
// message simply starts a fresh session.
func (m *Manager) GetOrCreate(channelType, senderID string, conversationType message.ConversationType, groupID string) *Session {
	key := Key(channelType, senderID, conversationType, groupID)

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.byKey[key]; ok {
		s.LastActiveAt = m.now()
		return s
	}

	if len(m.byKey) >= m.maxConcurrent {
		m.evictOldestLocked()
	}

	id, err := gonanoid.New()
	if err != nil {
		// nanoid only fails when the OS entropy source does; fall back
		// to a time-derived id rather than refusing the message.
		id = m.now().Format("20060102150405.000000000")
	}

	now := m.now()
	s := &Session{
		ID:               id,
		UserID:           senderID,
		ChannelType:      channelType,
		ChannelID:        key,
		ConversationType: conversationType,
		GroupID:          groupID,
		CreatedAt:        now,
		LastActiveAt:     now,
		Metadata:         make(map[string]any),
	}
	m.byKey[key] = s
	m.byID[id] = s

	observability.RecordSessionCreated()
	observability.SetActiveSessions(len(m.byKey))

	log.Debug().
		Str("session_id", id).
		Str("key", key).
		Str("channel", channelType).
		Msg("Session created")

	return s
}

// Get returns a session by id without touching its activity time.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	return s, ok
}

// Remove deletes a session by id.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byID[id]
	if !ok {
		return false
	}
	delete(m.byID, id)
	delete(m.byKey, s.ChannelID)
	observability.SetActiveSessions(len(m.byKey))
	return true
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byKey)
}

// Cleanup removes every session idle past the timeout and returns the
// removed count.
func (m *Manager) Cleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.timeout)
	removed := 0
	for key, s := range m.byKey {
		if s.LastActiveAt.Before(cutoff) {
			delete(m.byKey, key)
			delete(m.byID, s.ID)
			removed++
		}
	}

	if removed > 0 {
		observability.RecordSessionsExpired(removed)
		observability.SetActiveSessions(len(m.byKey))
		log.Info().Int("removed", removed).Msg("Expired idle sessions")
	}
	return removed
}

// StartGC runs Cleanup on a fixed interval until StopGC is called.
func (m *Manager) StartGC(interval time.Duration) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopGC = make(chan struct{})
	stop := m.stopGC
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Cleanup()
			case <-stop:
				return
			}
		}
	}()

	log.Info().Dur("interval", interval).Msg("Session GC started")
}

// StopGC stops the background sweep. Safe to call more than once.
func (m *Manager) StopGC() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	close(m.stopGC)
}

// evictOldestLocked removes the least-recently-active session. Caller
// holds the mutex.
func (m *Manager) evictOldestLocked() {
	var oldest *Session
	for _, s := range m.byKey {
		if oldest == nil || s.LastActiveAt.Before(oldest.LastActiveAt) {
			oldest = s
		}
	}
	if oldest == nil {
		return
	}
	delete(m.byKey, oldest.ChannelID)
	delete(m.byID, oldest.ID)

	observability.RecordSessionEvicted()

	log.Info().
		Str("session_id", oldest.ID).
		Str("key", oldest.ChannelID).
		Msg("Evicted least recently active session")
}
