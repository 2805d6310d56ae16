package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/taleweaver/internal/conversation"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// Mode is the kind of conversation a session holds.
type Mode string

const (
	ModeChat     Mode = "chat"
	ModeCampaign Mode = "campaign"
)

var (
	ErrNotFound       = errors.New("session not found")
	ErrEnded          = errors.New("session ended")
	ErrTurnInProgress = errors.New("a turn is already in progress")
	ErrForbidden      = errors.New("session belongs to another actor")
)

type Session struct {
	ID             string                 `json:"session_id"`
	ActorID        string                 `json:"actor_id"`
	Mode           Mode                   `json:"mode"`
	CharacterID    string                 `json:"character_id,omitempty"`
	CampaignID     string                 `json:"campaign_id,omitempty"`
	Status         Status                 `json:"status"`
	TurnActive     bool                   `json:"turn_active"`
	Transcript     []conversation.Message `json:"transcript"`
	StartedAt      time.Time              `json:"started_at"`
	LastActivityAt time.Time              `json:"last_activity_at"`
}

// Manager keeps session transcripts in memory and ends sessions that stay
// idle past the inactivity timeout.
type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	inactivityTimeout time.Duration
	onExpire          func(*Session)
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 30 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		inactivityTimeout: inactivityTimeout,
	}
}

func (m *Manager) InactivityTimeout() time.Duration { return m.inactivityTimeout }

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Manager) Create(req CreateRequest) (*Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		ActorID:        req.ActorID,
		Mode:           req.Mode,
		CharacterID:    strings.TrimSpace(req.CharacterID),
		CampaignID:     strings.TrimSpace(req.CampaignID),
		Status:         StatusActive,
		StartedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return clone(s), nil
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

// GetFor is Get restricted to the session's own actor.
func (m *Manager) GetFor(actorID, sessionID string) (*Session, error) {
	s, err := m.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if s.ActorID != actorID {
		return nil, ErrForbidden
	}
	return s, nil
}

// BeginTurn marks the session busy. Only one turn runs per session at a
// time; the caller must FinishTurn.
func (m *Manager) BeginTurn(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if s.Status != StatusActive {
		return ErrEnded
	}
	if s.TurnActive {
		return ErrTurnInProgress
	}
	s.TurnActive = true
	s.LastActivityAt = time.Now().UTC()
	return nil
}

func (m *Manager) FinishTurn(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		s.TurnActive = false
		s.LastActivityAt = time.Now().UTC()
	}
}

// Append adds messages to the transcript in the given order.
func (m *Manager) Append(sessionID string, msgs ...conversation.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if s.Status != StatusActive {
		return ErrEnded
	}
	s.Transcript = append(s.Transcript, msgs...)
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// Transcript returns a copy of the session's messages.
func (m *Manager) Transcript(sessionID string) ([]conversation.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]conversation.Message, len(s.Transcript))
	copy(out, s.Transcript)
	return out, nil
}

func (m *Manager) End(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	s.Status = StatusEnded
	s.TurnActive = false
	s.LastActivityAt = time.Now().UTC()
	return clone(s), nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			count++
		}
	}
	return count
}

// Busy sessions are never expired mid-turn.
func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Session

	m.mu.Lock()
	for id, s := range m.sessions {
		if s.Status != StatusActive {
			if now.Sub(s.LastActivityAt) >= m.inactivityTimeout {
				delete(m.sessions, id)
			}
			continue
		}
		if s.TurnActive || now.Sub(s.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		s.Status = StatusEnded
		s.LastActivityAt = now
		expired = append(expired, clone(s))
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func clone(s *Session) *Session {
	c := *s
	c.Transcript = append([]conversation.Message(nil), s.Transcript...)
	return &c
}
