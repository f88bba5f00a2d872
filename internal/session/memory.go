package session

import (
	"context"
	"sort"
	"sync"
)

// MemoryBackend keeps sessions in process memory
type MemoryBackend struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	locksMu sync.Mutex
	locks   map[string]*phoneLock
}

type phoneLock struct {
	sem  chan struct{}
	refs int
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		sessions: make(map[string]*Session),
		locks:    make(map[string]*phoneLock),
	}
}

// Load returns a copy of the stored session
func (m *MemoryBackend) Load(_ context.Context, phone string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[phone]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

// Put stores a copy of s in the phone's slot
func (m *MemoryBackend) Put(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[s.Phone] = s.Clone()
	return nil
}

// Delete empties the phone's slot
func (m *MemoryBackend) Delete(_ context.Context, phone string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, phone)
	return nil
}

// Phones lists the phones with a stored session
func (m *MemoryBackend) Phones(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	phones := make([]string, 0, len(m.sessions))
	for p := range m.sessions {
		phones = append(phones, p)
	}
	sort.Strings(phones)
	return phones, nil
}

// Lock waits for the phone's lock or for ctx to end
func (m *MemoryBackend) Lock(ctx context.Context, phone string) (func(), error) {
	m.locksMu.Lock()
	l, ok := m.locks[phone]
	if !ok {
		l = &phoneLock{sem: make(chan struct{}, 1)}
		m.locks[phone] = l
	}
	l.refs++
	m.locksMu.Unlock()

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		m.release(phone, l)
		return nil, ErrLockTimeout
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.sem
			m.release(phone, l)
		})
	}, nil
}

func (m *MemoryBackend) release(phone string, l *phoneLock) {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()

	l.refs--
	if l.refs == 0 {
		delete(m.locks, phone)
	}
}
