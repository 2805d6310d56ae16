package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ent0n29/taleweaver/internal/conversation"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeUserMessage    MessageType = "user_message"
	TypeClientControl  MessageType = "client_control"
	TypeTurnStart      MessageType = "turn_start"
	TypeCharacterReply MessageType = "character_reply"
	TypeTurnEnd        MessageType = "turn_end"
	TypeSystemEvent    MessageType = "system_event"
	TypeErrorEvent     MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// SpeakingAs mirrors turn.SpeakingAs on the wire.
type SpeakingAs struct {
	Kind        string `json:"kind"`
	CharacterID string `json:"character_id,omitempty"`
}

type UserMessage struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Text        string      `json:"text"`
	SpeakingAs  SpeakingAs  `json:"speaking_as"`
	RPMode      string      `json:"rp_mode,omitempty"`
	GMPrompt    string      `json:"gm_prompt,omitempty"`
	Temperature float64     `json:"temperature,omitempty"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
}

type Responder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type TurnStart struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	TurnID     string      `json:"turn_id"`
	Responders []Responder `json:"responders"`
	UseGMMode  bool        `json:"use_gm_mode"`
}

type CharacterReply struct {
	Type      MessageType          `json:"type"`
	SessionID string               `json:"session_id"`
	TurnID    string               `json:"turn_id"`
	Message   conversation.Message `json:"message"`
}

type TurnEnd struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
	Reason    string      `json:"reason"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeUserMessage:
		var msg UserMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || strings.TrimSpace(msg.Text) == "" {
			return nil, errors.New("invalid user_message")
		}
		switch msg.SpeakingAs.Kind {
		case "":
			msg.SpeakingAs.Kind = "player"
		case "player", "gm":
		case "character":
			if msg.SpeakingAs.CharacterID == "" {
				return nil, errors.New("invalid user_message: speaking_as.character_id required")
			}
		default:
			return nil, fmt.Errorf("invalid user_message: unknown speaker kind %q", msg.SpeakingAs.Kind)
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
