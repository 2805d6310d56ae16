package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessageUserMessage(t *testing.T) {
	raw := []byte(`{"type":"user_message","session_id":"s1","text":"Hello all","speaking_as":{"kind":"character","character_id":"aria"},"rp_mode":"lax"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	um, ok := msg.(UserMessage)
	if !ok {
		t.Fatalf("message type = %T, want UserMessage", msg)
	}
	if um.SessionID != "s1" || um.SpeakingAs.CharacterID != "aria" || um.RPMode != "lax" {
		t.Fatalf("unexpected user message: %+v", um)
	}
}

func TestParseClientMessageDefaultsToPlayer(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"user_message","session_id":"s1","text":"hi"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	if got := msg.(UserMessage).SpeakingAs.Kind; got != "player" {
		t.Fatalf("kind = %q, want player", got)
	}
}

func TestParseClientMessageRejectsInvalid(t *testing.T) {
	for _, raw := range []string{
		`{"type":"user_message","session_id":"s1","text":"   "}`,
		`{"type":"user_message","session_id":"s1","text":"x","speaking_as":{"kind":"character"}}`,
		`{"type":"user_message","session_id":"s1","text":"x","speaking_as":{"kind":"ghost"}}`,
		`{"type":"client_control","session_id":"s1"}`,
		`not json`,
	} {
		if _, err := ParseClientMessage([]byte(raw)); err == nil {
			t.Fatalf("ParseClientMessage(%s) expected error", raw)
		}
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageControl(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"client_control","session_id":"s1","action":"end"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	control, ok := msg.(ClientControl)
	if !ok || control.Action != "end" {
		t.Fatalf("unexpected client control: %#v", msg)
	}
}
