// Package conversation holds the in-memory transcript types shared by chat
// and campaign sessions.
package conversation

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Sender tells who produced a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderCharacter Sender = "character"
	SenderSystem    Sender = "system"
)

// GameMasterSpeaker is the speaker name used for GM narration and for users
// speaking as the GM.
const GameMasterSpeaker = "Game Master"

// Message is one transcript entry. CharacterID is set for character replies.
type Message struct {
	ID          string    `json:"id"`
	Sender      Sender    `json:"sender"`
	Speaker     string    `json:"speaker"`
	CharacterID string    `json:"characterId,omitempty"`
	Text        string    `json:"text"`
	Timestamp   time.Time `json:"timestamp"`
	Edited      bool      `json:"edited,omitempty"`
	Regenerated bool      `json:"regenerated,omitempty"`
}

// IsGameMaster reports whether the message was narrated by or as the GM.
func (m Message) IsGameMaster() bool {
	return strings.EqualFold(strings.TrimSpace(m.Speaker), GameMasterSpeaker)
}

// Window returns the last n messages. n <= 0 yields nil.
func Window(history []Message, n int) []Message {
	if n <= 0 || len(history) == 0 {
		return nil
	}
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

var (
	idMu      sync.Mutex
	idEntropy = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a lexically sortable message id.
func NewID(t time.Time) string {
	idMu.Lock()
	defer idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), idEntropy).String()
}

// Clock hands out strictly increasing timestamps so that replies produced in
// one turn keep their order after re-sorting.
type Clock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// Next returns max(now, last+1ms).
func (c *Clock) Next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now()
	if !t.After(c.last) {
		t = c.last.Add(time.Millisecond)
	}
	c.last = t
	return t
}
