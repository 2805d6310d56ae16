package session

import (
	"errors"
	"strings"
	"time"
)

// CreateRequest defines payload for creating a new session.
type CreateRequest struct {
	ActorID     string `json:"-"`
	Mode        Mode   `json:"mode"`
	CharacterID string `json:"character_id,omitempty"`
	CampaignID  string `json:"campaign_id,omitempty"`
}

func (r CreateRequest) Validate() error {
	switch r.Mode {
	case ModeChat:
		if strings.TrimSpace(r.CharacterID) == "" {
			return errors.New("character_id is required for chat sessions")
		}
	case ModeCampaign:
		if strings.TrimSpace(r.CampaignID) == "" {
			return errors.New("campaign_id is required for campaign sessions")
		}
	default:
		return errors.New("mode must be chat or campaign")
	}
	return nil
}

// CreateResponse returns created session metadata.
type CreateResponse struct {
	SessionID       string    `json:"session_id"`
	Mode            Mode      `json:"mode"`
	CharacterID     string    `json:"character_id,omitempty"`
	CampaignID      string    `json:"campaign_id,omitempty"`
	Status          Status    `json:"status"`
	StartedAt       time.Time `json:"started_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	InactivityTTLMS int64     `json:"inactivity_ttl_ms"`
}

// NewCreateResponse summarizes s for API callers.
func NewCreateResponse(s *Session, ttl time.Duration) CreateResponse {
	return CreateResponse{
		SessionID:       s.ID,
		Mode:            s.Mode,
		CharacterID:     s.CharacterID,
		CampaignID:      s.CampaignID,
		Status:          s.Status,
		StartedAt:       s.StartedAt,
		LastActivityAt:  s.LastActivityAt,
		InactivityTTLMS: ttl.Milliseconds(),
	}
}
