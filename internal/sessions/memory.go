package sessions

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/cinebot/pkg/models"
)

// DefaultMaxMessages limits messages stored per session to prevent unbounded
// memory growth.
const DefaultMaxMessages = 1000

// MemoryStore is the in-process Store. Nothing survives a restart.
//
// Thread Safety:
// MemoryStore is safe for concurrent use.
type MemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string]*models.Session
	messages    map[string][]models.Message
	maxMessages int
	now         func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMaxMessages caps the history kept per session. Non-positive values keep
// the default.
func WithMaxMessages(n int) MemoryOption {
	return func(m *MemoryStore) {
		if n > 0 {
			m.maxMessages = n
		}
	}
}

// WithStoreClock overrides the store's time source.
func WithStoreClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		sessions:    map[string]*models.Session{},
		messages:    map[string][]models.Message{},
		maxMessages: DefaultMaxMessages,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryStore) Create(ctx context.Context, session *models.Session) error {
	if session == nil {
		return errors.New("session is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := cloneSession(session)
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if _, exists := m.sessions[clone.ID]; exists {
		return errors.New("session already exists")
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = m.now()
	}
	clone.UpdatedAt = clone.CreatedAt
	// Reflect generated fields back to caller.
	session.ID = clone.ID
	session.CreatedAt = clone.CreatedAt
	session.UpdatedAt = clone.UpdatedAt
	m.sessions[clone.ID] = clone
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return cloneSession(session), nil
}

func (m *MemoryStore) GetOrCreate(ctx context.Context, id string) (*models.Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id != "" {
		if session, ok := m.sessions[id]; ok {
			return cloneSession(session), false, nil
		}
	}

	// Unknown IDs start a fresh session under a new ID rather than adopting
	// the client's value.
	now := m.now()
	session := &models.Session{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.sessions[session.ID] = session
	return cloneSession(session), true, nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(m.sessions, id)
	delete(m.messages, id)
	return nil
}

// List returns sessions ordered by creation time.
func (m *MemoryStore) List(ctx context.Context, opts ListOptions) ([]Summary, error) {
	m.mu.RLock()
	out := make([]Summary, 0, len(m.sessions))
	for id, session := range m.sessions {
		if !opts.IdleSince.IsZero() && !session.UpdatedAt.Before(opts.IdleSince) {
			continue
		}
		out = append(out, Summary{
			Session:      *cloneSession(session),
			MessageCount: len(m.messages[id]),
		})
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Session, out[j].Session
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	start := max(opts.Offset, 0)
	if start > len(out) {
		return []Summary{}, nil
	}
	end := len(out)
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}
	return out[start:end], nil
}

// AppendMessages stores msgs as one unit: either every message is appended
// or none is.
func (m *MemoryStore) AppendMessages(ctx context.Context, sessionID string, msgs []models.Message) error {
	for i := range msgs {
		if !msgs[i].Role.Valid() {
			return errors.New("message has invalid role " + string(msgs[i].Role))
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	now := m.now()
	history := m.messages[sessionID]
	for _, msg := range msgs {
		clone := msg.Clone()
		clone.SessionID = sessionID
		if clone.ID == "" {
			clone.ID = uuid.NewString()
		}
		if clone.CreatedAt.IsZero() {
			clone.CreatedAt = now
		}
		history = append(history, clone)
	}
	m.messages[sessionID] = trimHistory(history, m.maxMessages)
	session.UpdatedAt = now
	return nil
}

// trimHistory keeps at most limit messages. The kept window starts at a user
// message when one exists, so it never opens with a tool result or an
// assistant message whose context was cut away.
func trimHistory(history []models.Message, limit int) []models.Message {
	if limit <= 0 || len(history) <= limit {
		return history
	}
	start := len(history) - limit
	for i := start; i < len(history); i++ {
		if history[i].Role == models.RoleUser {
			start = i
			break
		}
	}
	for start < len(history) && history[start].Role == models.RoleTool {
		start++
	}
	out := make([]models.Message, len(history)-start)
	copy(out, history[start:])
	return out
}

// GetHistory returns the newest limit messages, or all when limit <= 0.
func (m *MemoryStore) GetHistory(ctx context.Context, sessionID string, limit int) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return nil, ErrSessionNotFound
	}
	messages := m.messages[sessionID]
	start := 0
	if limit > 0 && len(messages) > limit {
		start = len(messages) - limit
	}
	out := models.CloneMessages(messages[start:])
	if out == nil {
		out = []models.Message{}
	}
	return out, nil
}

func (m *MemoryStore) ResetHistory(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	delete(m.messages, sessionID)
	session.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{Sessions: len(m.sessions)}
	for _, msgs := range m.messages {
		stats.Messages += len(msgs)
	}
	return stats, nil
}

func cloneSession(session *models.Session) *models.Session {
	if session == nil {
		return nil
	}
	clone := *session
	if session.Metadata != nil {
		clone.Metadata = make(map[string]any, len(session.Metadata))
		for k, v := range session.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}
