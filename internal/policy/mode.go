package policy

import (
	"fmt"
	"strings"
)

// Mode is the content-policy flag carried by every roleplay request.
type Mode string

const (
	FamilyFriendly Mode = "family-friendly"
	Lax            Mode = "lax"
)

// DefaultMode applies when the caller does not choose one.
const DefaultMode = FamilyFriendly

// ParseMode accepts the two policy names, case-insensitively. Empty input
// yields DefaultMode.
func ParseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return DefaultMode, nil
	case string(FamilyFriendly), "family_friendly", "familyfriendly", "sfw":
		return FamilyFriendly, nil
	case string(Lax):
		return Lax, nil
	default:
		return "", fmt.Errorf("unknown rp mode %q", raw)
	}
}

// Directive is the prompt text enforcing mode.
func Directive(mode Mode) string {
	switch mode {
	case Lax:
		return "Content policy: mature themes, darker conflict and strong language are allowed when the story calls for them. " +
			"Stay in character, never produce sexual content involving minors, and never give real-world instructions for causing harm."
	default:
		return "Content policy: keep every reply family-friendly. Avoid graphic violence, sexual content and profanity; " +
			"steer dark topics toward age-appropriate storytelling while staying in character."
	}
}
