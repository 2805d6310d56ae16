package memory

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type classifies what a memory record describes.
type Type string

const (
	TypeFact                 Type = "FACT"
	TypeEvent                Type = "EVENT"
	TypePreference           Type = "PREFERENCE"
	TypeRelationship         Type = "RELATIONSHIP"
	TypeConversation         Type = "CONVERSATION"
	TypeCampaignEvent        Type = "CAMPAIGN_EVENT"
	TypeCharacterInteraction Type = "CHARACTER_INTERACTION"
	TypePlayerDecision       Type = "PLAYER_DECISION"
	TypeWorldChange          Type = "WORLD_CHANGE"
	TypeQuestProgress        Type = "QUEST_PROGRESS"

	// TypeUnknown is assigned to legacy records persisted without a type.
	TypeUnknown Type = "unknown"
)

const (
	MinImportance     = 1
	MaxImportance     = 10
	DefaultImportance = 5
)

var knownTypes = map[Type]bool{
	TypeFact:                 true,
	TypeEvent:                true,
	TypePreference:           true,
	TypeRelationship:         true,
	TypeConversation:         true,
	TypeCampaignEvent:        true,
	TypeCharacterInteraction: true,
	TypePlayerDecision:       true,
	TypeWorldChange:          true,
	TypeQuestProgress:        true,
}

// ParseType maps user input onto a Type. Unrecognized input yields TypeUnknown.
func ParseType(s string) Type {
	t := Type(strings.ToUpper(strings.TrimSpace(s)))
	if knownTypes[t] {
		return t
	}
	return TypeUnknown
}

var (
	// ErrCorruptLog reports a persisted memory log that is not a JSON list.
	ErrCorruptLog = errors.New("memory log is not a list")
	// ErrEmptyCharacterID rejects writes without an owning character.
	ErrEmptyCharacterID = errors.New("character id is required")
	// ErrEmptyContent rejects blank memories.
	ErrEmptyContent = errors.New("memory content is required")
)

// Record is a single timestamped, typed, importance-weighted memory owned by one character.
// Records are never mutated after creation.
type Record struct {
	ID          string `json:"id"`
	CharacterID string `json:"characterId"`
	Content     string `json:"content"`
	Type        Type   `json:"type"`
	Importance  int    `json:"importance"`
	// Timestamp is ISO-8601 (RFC 3339) text as persisted.
	Timestamp string `json:"timestamp"`
}

// UnmarshalJSON decodes current and legacy record shapes. Older logs lack
// importance and type; those default to DefaultImportance and TypeUnknown.
// Importance may also be a numeric string and is clamped into range.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID          string          `json:"id"`
		CharacterID string          `json:"characterId"`
		Content     string          `json:"content"`
		Type        *string         `json:"type"`
		Importance  json.RawMessage `json:"importance"`
		Timestamp   string          `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = Record{
		ID:          raw.ID,
		CharacterID: raw.CharacterID,
		Content:     raw.Content,
		Type:        TypeUnknown,
		Importance:  DefaultImportance,
		Timestamp:   raw.Timestamp,
	}
	if raw.Type != nil && strings.TrimSpace(*raw.Type) != "" {
		r.Type = Type(*raw.Type)
	}
	if v, ok := decodeImportance(raw.Importance); ok {
		r.Importance = ClampImportance(int(math.Round(v)))
	}
	return nil
}

// decodeImportance accepts a JSON number or a numeric string. Anything else
// reports false and the default applies.
func decodeImportance(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return 0, false
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(str), 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

// Time parses Timestamp. ok is false for missing or unparseable values.
func (r Record) Time() (t time.Time, ok bool) {
	if r.Timestamp == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, r.Timestamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ClampImportance forces v into [MinImportance, MaxImportance].
func ClampImportance(v int) int {
	if v < MinImportance {
		return MinImportance
	}
	if v > MaxImportance {
		return MaxImportance
	}
	return v
}

// NewRecord validates input and builds a record with a fresh id.
func NewRecord(characterID, content string, typ Type, importance int, now time.Time) (Record, error) {
	characterID = strings.TrimSpace(characterID)
	if characterID == "" {
		return Record{}, ErrEmptyCharacterID
	}
	if strings.TrimSpace(content) == "" {
		return Record{}, ErrEmptyContent
	}
	if typ == "" {
		typ = TypeUnknown
	}
	return Record{
		ID:          uuid.NewString(),
		CharacterID: characterID,
		Content:     content,
		Type:        typ,
		Importance:  ClampImportance(importance),
		Timestamp:   now.UTC().Format(time.RFC3339Nano),
	}, nil
}

// DecodeLog parses a persisted per-character log. Anything that is not a JSON
// array yields ErrCorruptLog; callers treat that as an empty log.
func DecodeLog(raw []byte) ([]Record, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	if !strings.HasPrefix(trimmed, "[") {
		return nil, ErrCorruptLog
	}
	var records []Record
	if err := json.Unmarshal([]byte(trimmed), &records); err != nil {
		return nil, errors.Join(ErrCorruptLog, err)
	}
	return records, nil
}

// EncodeLog serializes records in the persisted JSON array format.
func EncodeLog(records []Record) ([]byte, error) {
	if records == nil {
		records = []Record{}
	}
	return json.Marshal(records)
}

// Store persists character memory logs.
type Store interface {
	// Add appends a new record to the character's log.
	Add(ctx context.Context, characterID, content string, typ Type, importance int) (Record, error)
	// List returns the character's records in insertion order.
	List(ctx context.Context, characterID string) ([]Record, error)
	// Delete removes one record and reports whether it existed.
	Delete(ctx context.Context, characterID, memoryID string) (bool, error)
	// DeleteAll drops the character's whole log (character deletion cascade).
	DeleteAll(ctx context.Context, characterID string) error
	Close() error
}
