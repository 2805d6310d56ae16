package turn_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ent0n29/taleweaver/internal/conversation"
	"github.com/ent0n29/taleweaver/internal/entity"
	"github.com/ent0n29/taleweaver/internal/turn"
)

func ids(sel turn.Selection) []string {
	out := make([]string, 0, len(sel.Responders))
	for _, r := range sel.Responders {
		out = append(out, r.ID)
	}
	return out
}

var _ = Describe("Select", func() {
	var (
		eager  entity.Character
		quiet  entity.Character
		borin  entity.Character
		player turn.SpeakingAs
	)

	BeforeEach(func() {
		eager = entity.Character{ID: "eager", Name: "Aria", Traits: "talkative, curious", Background: "leader of the guild"}
		quiet = entity.Character{ID: "quiet", Name: "Mute", Traits: "shy"}
		borin = entity.Character{ID: "borin", Name: "Borin", Traits: "gruff"}
		player = turn.SpeakingAs{Kind: turn.AsPlayer}
	})

	Describe("Score", func() {
		It("adds talkative, curious and leader", func() {
			Expect(turn.Score(eager, "What do you all think?")).To(Equal(10))
			Expect(turn.Score(quiet, "What do you all think?")).To(Equal(0))
		})

		It("weighs a case-insensitive name mention highest", func() {
			Expect(turn.Score(borin, "hey BORIN, come here")).To(Equal(10))
		})
	})

	Context("speaking as a character", func() {
		It("prefers the eager candidate over a zero scorer", func() {
			sel := turn.Select(turn.Input{
				SpeakingAs:  turn.SpeakingAs{Kind: turn.AsCharacter, CharacterID: "borin"},
				Characters:  []entity.Character{quiet, eager, borin},
				UserMessage: "What do you all think?",
			})
			Expect(ids(sel)).To(Equal([]string{"eager", "quiet"}))
			Expect(sel.UseGMMode).To(BeFalse())
		})

		It("never picks the speaker and falls back to the GM when alone", func() {
			sel := turn.Select(turn.Input{
				SpeakingAs: turn.SpeakingAs{Kind: turn.AsCharacter, CharacterID: "borin"},
				Characters: []entity.Character{borin},
			})
			Expect(sel.Responders).To(BeEmpty())
			Expect(sel.UseGMMode).To(BeTrue())
			Expect(sel.GMResponder).NotTo(BeNil())
			Expect(sel.GMResponder.Name).To(Equal(conversation.GameMasterSpeaker))
		})
	})

	Context("speaking as the player", func() {
		It("lets the last character speaker answer first", func() {
			history := []conversation.Message{
				{Sender: conversation.SenderCharacter, Speaker: "Mute", CharacterID: "quiet", Text: "..."},
				{Sender: conversation.SenderCharacter, Speaker: conversation.GameMasterSpeaker, Text: "Thunder rolls."},
				{Sender: conversation.SenderUser, Speaker: "Player", Text: "Hm."},
			}
			sel := turn.Select(turn.Input{
				SpeakingAs:   player,
				Characters:   []entity.Character{eager, quiet, borin},
				Conversation: history,
				UserMessage:  "What do you all think?",
			})
			Expect(ids(sel)).To(Equal([]string{"quiet", "eager"}))
		})

		It("only fills with positive scores and falls back to the GM", func() {
			sel := turn.Select(turn.Input{
				SpeakingAs:  player,
				Characters:  []entity.Character{quiet, borin},
				UserMessage: "Anyone?",
			})
			Expect(sel.Responders).To(BeEmpty())
			Expect(sel.UseGMMode).To(BeTrue())
		})

		It("ignores a last speaker who is not a participant", func() {
			history := []conversation.Message{{Sender: conversation.SenderCharacter, Speaker: "Stranger", Text: "Hi"}}
			sel := turn.Select(turn.Input{
				SpeakingAs:   player,
				Characters:   []entity.Character{eager, quiet},
				Conversation: history,
			})
			Expect(ids(sel)).To(Equal([]string{"eager"}))
		})
	})

	It("adds the GM on top of characters for AI-run campaigns and GM speakers", func() {
		sel := turn.Select(turn.Input{SpeakingAs: player, Characters: []entity.Character{eager}, GMType: entity.GMTypeAI})
		Expect(ids(sel)).To(Equal([]string{"eager"}))
		Expect(sel.UseGMMode).To(BeTrue())

		sel = turn.Select(turn.Input{SpeakingAs: turn.SpeakingAs{Kind: turn.AsGameMaster}, Characters: []entity.Character{eager}})
		Expect(ids(sel)).To(Equal([]string{"eager"}))
		Expect(sel.UseGMMode).To(BeTrue())
	})

	It("never selects more than two characters", func() {
		many := []entity.Character{
			{ID: "a", Name: "Aa", Traits: "talkative"},
			{ID: "b", Name: "Bb", Traits: "curious"},
			{ID: "c", Name: "Cc", Background: "leader"},
			eager,
		}
		history := []conversation.Message{{Sender: conversation.SenderCharacter, CharacterID: "c", Speaker: "Cc"}}
		for _, as := range []turn.SpeakingAs{player, {Kind: turn.AsGameMaster}, {Kind: turn.AsCharacter, CharacterID: "a"}} {
			sel := turn.Select(turn.Input{SpeakingAs: as, Characters: many, Conversation: history, UserMessage: "aa bb cc Aria"})
			Expect(len(sel.Responders)).To(BeNumerically("<=", turn.MaxResponders))
		}
	})
})
