package turn_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ent0n29/taleweaver/internal/completion"
	"github.com/ent0n29/taleweaver/internal/conversation"
	"github.com/ent0n29/taleweaver/internal/entity"
	"github.com/ent0n29/taleweaver/internal/roleplay"
	"github.com/ent0n29/taleweaver/internal/turn"
)

type scriptedGenerator struct {
	failOn string
	err    error
	reqs   []roleplay.Request
}

func (g *scriptedGenerator) Respond(_ context.Context, req roleplay.Request) (roleplay.Response, error) {
	g.reqs = append(g.reqs, req)
	if g.failOn != "" && req.CharacterID == g.failOn {
		return roleplay.Response{}, g.err
	}
	who := req.CharacterID
	if req.Options.IsGameMaster {
		who = "gm"
	}
	return roleplay.Response{Text: "reply from " + who, Source: "test"}, nil
}

type countingObserver struct{ counts []int }

func (o *countingObserver) ObserveTurnResponders(n int) { o.counts = append(o.counts, n) }

var _ = Describe("Runner", func() {
	var (
		ctx       context.Context
		directory *entity.StaticDirectory
		gen       *scriptedGenerator
		observer  *countingObserver
		runner    *turn.Runner
	)

	BeforeEach(func() {
		ctx = context.Background()
		directory = entity.NewStaticDirectory(entity.Seed{
			Characters: []entity.Character{
				{ID: "aria", Name: "Aria", Traits: "talkative"},
				{ID: "borin", Name: "Borin", Traits: "curious"},
				{ID: "cato", Name: "Cato"},
			},
			Campaigns: []entity.Campaign{
				{ID: "heist", Name: "Heist", ParticipantIDs: []string{"aria", "borin", "cato"}, GMType: entity.GMTypeAI},
			},
		})
		gen = &scriptedGenerator{}
		observer = &countingObserver{}
		fixed := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
		runner = turn.NewRunner(directory, gen, conversation.NewClock(func() time.Time { return fixed }), nil, observer)
	})

	It("runs responders in order, GM last, with increasing timestamps", func() {
		var streamed []string
		res, err := runner.Play(ctx, turn.Turn{
			CampaignID: "heist",
			SpeakingAs: turn.SpeakingAs{Kind: turn.AsPlayer},
			Message:    "What now?",
			OnReply:    func(m conversation.Message) { streamed = append(streamed, m.Speaker) },
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(streamed).To(Equal([]string{"Aria", "Borin", conversation.GameMasterSpeaker}))
		Expect(res.Replies).To(HaveLen(3))
		Expect(res.UserMessage.Speaker).To(Equal("Player"))

		prev := res.UserMessage.Timestamp
		for _, r := range res.Replies {
			Expect(r.Timestamp.After(prev)).To(BeTrue())
			prev = r.Timestamp
		}
		Expect(observer.counts).To(Equal([]int{2}))
	})

	It("shows later responders the replies already produced", func() {
		_, err := runner.Play(ctx, turn.Turn{
			CampaignID: "heist",
			SpeakingAs: turn.SpeakingAs{Kind: turn.AsPlayer},
			Message:    "What now?",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(gen.reqs).To(HaveLen(3))

		Expect(gen.reqs[0].UserInput).To(Equal("What now?"))
		Expect(gen.reqs[0].History).To(BeEmpty())

		second := gen.reqs[1].History
		Expect(second).To(HaveLen(2))
		Expect(second[0].Text).To(Equal("What now?"))
		Expect(second[1].Text).To(Equal("reply from aria"))

		gm := gen.reqs[2]
		Expect(gm.Options.IsGameMaster).To(BeTrue())
		Expect(gm.CharacterID).To(BeEmpty())
		Expect(gm.History).To(HaveLen(3))
		Expect(gm.Options.CampaignID).To(Equal("heist"))
	})

	It("aborts the rest of the turn on a completion failure and keeps earlier replies", func() {
		gen.failOn = "borin"
		gen.err = &completion.DispatchError{Attempts: []completion.Attempt{{Backend: "local", Err: errors.New("down")}}}

		res, err := runner.Play(ctx, turn.Turn{CampaignID: "heist", SpeakingAs: turn.SpeakingAs{Kind: turn.AsPlayer}, Message: "Go"})
		Expect(err).To(HaveOccurred())

		var turnErr *turn.Error
		Expect(errors.As(err, &turnErr)).To(BeTrue())
		Expect(turnErr.ResponderID).To(Equal("borin"))
		Expect(turnErr.UserMessage()).To(Equal(completion.UserMessage))
		Expect(res.Replies).To(HaveLen(1))
		Expect(res.Replies[0].CharacterID).To(Equal("aria"))
		Expect(gen.reqs).To(HaveLen(2))
	})

	It("halts with ErrCharacterNotFound for an unknown responder", func() {
		gen.failOn = "ghost"
		gen.err = fmt.Errorf("%w: %w", roleplay.ErrUnknownSpeaker, entity.ErrNotFound)
		sel := turn.Selection{Responders: []turn.Responder{{ID: "ghost", Name: "Ghost"}, {ID: "aria", Name: "Aria"}}}

		res, err := runner.Run(ctx, turn.Turn{CampaignID: "heist", Message: "Boo"}, sel, "Player")
		Expect(errors.Is(err, turn.ErrCharacterNotFound)).To(BeTrue())
		Expect(errors.Is(err, entity.ErrNotFound)).To(BeTrue())
		Expect(res.Replies).To(BeEmpty())

		var turnErr *turn.Error
		Expect(errors.As(err, &turnErr)).To(BeTrue())
		Expect(turnErr.UserMessage()).To(Equal("Character not found."))
	})

	It("does not report a campaign vanishing mid-turn as a missing character", func() {
		gen.failOn = "aria"
		gen.err = fmt.Errorf("campaign %q: %w", "heist", entity.ErrNotFound)
		sel := turn.Selection{Responders: []turn.Responder{{ID: "aria", Name: "Aria"}}}

		_, err := runner.Run(ctx, turn.Turn{CampaignID: "heist", Message: "Hello?"}, sel, "Player")
		Expect(errors.Is(err, entity.ErrNotFound)).To(BeTrue())
		Expect(errors.Is(err, turn.ErrCharacterNotFound)).To(BeFalse())

		var turnErr *turn.Error
		Expect(errors.As(err, &turnErr)).To(BeTrue())
		Expect(turnErr.UserMessage()).To(ContainSubstring(`campaign "heist"`))
	})

	It("returns directory errors for the campaign verbatim", func() {
		_, err := runner.Play(ctx, turn.Turn{CampaignID: "missing"})
		Expect(errors.Is(err, entity.ErrNotFound)).To(BeTrue())
	})
})
