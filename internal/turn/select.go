// Package turn decides which characters answer a campaign message and runs
// their replies in order.
package turn

import (
	"sort"
	"strings"

	"github.com/ent0n29/taleweaver/internal/conversation"
	"github.com/ent0n29/taleweaver/internal/entity"
)

// MaxResponders caps character replies per user message. The GM is extra.
const MaxResponders = 2

// Score weights. One table serves every selection path.
const (
	scoreNameMentioned = 10
	scoreTalkative     = 5
	scoreCurious       = 3
	scoreLeader        = 2
)

// SpeakerKind tells whose voice the user is typing in.
type SpeakerKind string

const (
	AsPlayer     SpeakerKind = "player"
	AsGameMaster SpeakerKind = "gm"
	AsCharacter  SpeakerKind = "character"
)

type SpeakingAs struct {
	Kind        SpeakerKind `json:"kind"`
	CharacterID string      `json:"characterId,omitempty"`
}

type Input struct {
	SpeakingAs   SpeakingAs
	Characters   []entity.Character
	Conversation []conversation.Message
	UserMessage  string
	GMType       entity.GMType
}

type Responder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Selection struct {
	Responders []Responder `json:"responders"`
	UseGMMode  bool        `json:"useGmMode"`
	// GMResponder is set whenever UseGMMode is.
	GMResponder *Responder `json:"gmResponder,omitempty"`
}

// Score rates how eager a character is to answer message.
func Score(c entity.Character, message string) int {
	score := 0
	name := strings.ToLower(strings.TrimSpace(c.Name))
	if name != "" && strings.Contains(strings.ToLower(message), name) {
		score += scoreNameMentioned
	}
	traits := strings.ToLower(c.Traits)
	if strings.Contains(traits, "talkative") {
		score += scoreTalkative
	}
	if strings.Contains(traits, "curious") {
		score += scoreCurious
	}
	if strings.Contains(strings.ToLower(c.Background), "leader") {
		score += scoreLeader
	}
	return score
}

// Select picks at most MaxResponders characters. Speaking as a character,
// the best scored other participants answer. Speaking as player or GM, the
// last character who spoke answers first and positively scored characters
// fill the rest. GM narration is added for AI-run campaigns, when the user
// speaks as GM, and whenever no character was chosen.
func Select(in Input) Selection {
	var responders []Responder
	if in.SpeakingAs.Kind == AsCharacter {
		var candidates []entity.Character
		for _, c := range in.Characters {
			if c.ID != in.SpeakingAs.CharacterID {
				candidates = append(candidates, c)
			}
		}
		for _, c := range rank(candidates, in.UserMessage, false) {
			if len(responders) == MaxResponders {
				break
			}
			responders = append(responders, Responder{ID: c.ID, Name: c.Name})
		}
	} else {
		chosen := map[string]bool{}
		if last, ok := lastCharacterSpeaker(in.Conversation, in.Characters); ok {
			responders = append(responders, Responder{ID: last.ID, Name: last.Name})
			chosen[last.ID] = true
		}
		var pool []entity.Character
		for _, c := range in.Characters {
			if !chosen[c.ID] {
				pool = append(pool, c)
			}
		}
		for _, c := range rank(pool, in.UserMessage, true) {
			if len(responders) == MaxResponders {
				break
			}
			responders = append(responders, Responder{ID: c.ID, Name: c.Name})
		}
	}

	sel := Selection{Responders: responders}
	if len(responders) == 0 || in.GMType == entity.GMTypeAI || in.SpeakingAs.Kind == AsGameMaster {
		sel.UseGMMode = true
		sel.GMResponder = &Responder{Name: conversation.GameMasterSpeaker}
	}
	return sel
}

func rank(chars []entity.Character, message string, positiveOnly bool) []entity.Character {
	type scored struct {
		c     entity.Character
		score int
	}
	list := make([]scored, 0, len(chars))
	for _, c := range chars {
		s := Score(c, message)
		if positiveOnly && s <= 0 {
			continue
		}
		list = append(list, scored{c: c, score: s})
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].score > list[j].score })
	out := make([]entity.Character, len(list))
	for i, s := range list {
		out[i] = s.c
	}
	return out
}

// lastCharacterSpeaker walks the transcript backwards past user, system and
// GM lines to the most recent character reply, if that character is present.
func lastCharacterSpeaker(history []conversation.Message, chars []entity.Character) (entity.Character, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		if m.Sender != conversation.SenderCharacter || m.IsGameMaster() {
			continue
		}
		for _, c := range chars {
			if (m.CharacterID != "" && m.CharacterID == c.ID) ||
				(m.CharacterID == "" && strings.EqualFold(strings.TrimSpace(m.Speaker), strings.TrimSpace(c.Name))) {
				return c, true
			}
		}
		return entity.Character{}, false
	}
	return entity.Character{}, false
}
