package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ent0n29/taleweaver/internal/completion"
	"github.com/ent0n29/taleweaver/internal/conversation"
	"github.com/ent0n29/taleweaver/internal/entity"
	"github.com/ent0n29/taleweaver/internal/logging"
	"github.com/ent0n29/taleweaver/internal/observability"
	"github.com/ent0n29/taleweaver/internal/policy"
	"github.com/ent0n29/taleweaver/internal/roleplay"
)

// ErrCharacterNotFound reports a selected responder that no longer resolves.
var ErrCharacterNotFound = errors.New("character not found")

// Error halts a turn. Replies produced before it are still returned.
type Error struct {
	ResponderID   string
	ResponderName string
	Err           error
}

func (e *Error) Error() string {
	who := e.ResponderName
	if who == "" {
		who = e.ResponderID
	}
	return fmt.Sprintf("turn halted at %s: %v", who, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// UserMessage is the text shown in the transcript in place of the missing
// reply.
func (e *Error) UserMessage() string {
	var de *completion.DispatchError
	switch {
	case errors.Is(e.Err, ErrCharacterNotFound):
		return "Character not found."
	case errors.Is(e.Err, entity.ErrUnauthorized), errors.Is(e.Err, entity.ErrNotFound):
		return e.Err.Error()
	case errors.As(e.Err, &de):
		return de.UserMessage()
	default:
		return completion.UserMessage
	}
}

// Generator produces one reply; roleplay.Service satisfies it.
type Generator interface {
	Respond(ctx context.Context, req roleplay.Request) (roleplay.Response, error)
}

// Observer receives per-turn responder counts.
type Observer interface {
	ObserveTurnResponders(n int)
}

type Runner struct {
	directory entity.Directory
	responder Generator
	clock     *conversation.Clock
	logger    *slog.Logger
	observer  Observer
}

func NewRunner(directory entity.Directory, responder Generator, clock *conversation.Clock, logger *slog.Logger, observer Observer) *Runner {
	if clock == nil {
		clock = conversation.NewClock(nil)
	}
	return &Runner{
		directory: directory,
		responder: responder,
		clock:     clock,
		logger:    logging.OrDiscard(logger),
		observer:  observer,
	}
}

// Turn is one user message in a campaign.
type Turn struct {
	Actor      entity.Actor
	CampaignID string
	SpeakingAs SpeakingAs
	// History is the transcript before Message.
	History     []conversation.Message
	Message     string
	RPMode      policy.Mode
	GMPrompt    string
	Temperature float64
	MaxTokens   int
	// OnStart, if set, sees the selection before any reply is generated.
	OnStart func(Selection)
	// OnReply, if set, sees each reply as soon as it exists.
	OnReply func(conversation.Message)
}

type Result struct {
	// UserMessage is the user's own line, timestamped before every reply.
	UserMessage conversation.Message
	Selection   Selection
	Replies     []conversation.Message
}

// Play loads the campaign and its participants, selects responders and runs
// them.
func (r *Runner) Play(ctx context.Context, t Turn) (Result, error) {
	camp, err := r.directory.Campaign(ctx, t.Actor, t.CampaignID)
	if err != nil {
		return Result{}, err
	}
	chars := make([]entity.Character, 0, len(camp.ParticipantIDs))
	for _, id := range camp.ParticipantIDs {
		c, err := r.directory.Character(ctx, t.Actor, id)
		if err != nil {
			if errors.Is(err, entity.ErrUnauthorized) {
				return Result{}, err
			}
			r.logger.Warn("skipping unresolvable participant", "campaign_id", camp.ID, "character_id", id, "error", err)
			continue
		}
		chars = append(chars, c)
	}
	gmType := camp.GMType
	if camp.AIGameMaster() {
		gmType = entity.GMTypeAI
	}
	sel := Select(Input{
		SpeakingAs:   t.SpeakingAs,
		Characters:   chars,
		Conversation: t.History,
		UserMessage:  t.Message,
		GMType:       gmType,
	})
	return r.Run(ctx, t, sel, speakerName(t.SpeakingAs, chars))
}

// Run generates replies strictly in selection order; each responder's prompt
// includes the replies already produced this turn. GM narration comes last.
// The first failure aborts the rest of the turn.
func (r *Runner) Run(ctx context.Context, t Turn, sel Selection, speaker string) (res Result, err error) {
	ctx, span := observability.StartSpan(ctx, "turn.run",
		attribute.String("campaign_id", t.CampaignID),
		attribute.Int("responders", len(sel.Responders)),
		attribute.Bool("gm", sel.UseGMMode),
	)
	defer func() { observability.EndSpan(span, err) }()
	if r.observer != nil {
		r.observer.ObserveTurnResponders(len(sel.Responders))
	}

	userAt := r.clock.Next()
	res = Result{
		Selection: sel,
		UserMessage: conversation.Message{
			ID:        conversation.NewID(userAt),
			Sender:    conversation.SenderUser,
			Speaker:   speaker,
			Text:      t.Message,
			Timestamp: userAt,
		},
	}
	if t.SpeakingAs.Kind == AsCharacter {
		res.UserMessage.CharacterID = t.SpeakingAs.CharacterID
	}
	if t.OnStart != nil {
		t.OnStart(sel)
	}

	steps := append([]Responder(nil), sel.Responders...)
	if sel.UseGMMode && sel.GMResponder != nil {
		steps = append(steps, *sel.GMResponder)
	}
	for i, step := range steps {
		gm := sel.UseGMMode && i == len(steps)-1 && sel.GMResponder != nil
		req := roleplay.Request{
			Actor:       t.Actor,
			CharacterID: step.ID,
			Options: roleplay.Options{
				Temperature:  t.Temperature,
				CampaignID:   t.CampaignID,
				IsGameMaster: gm,
				GMPrompt:     t.GMPrompt,
				RPMode:       t.RPMode,
				MaxTokens:    t.MaxTokens,
				SpeakerName:  speaker,
			},
		}
		if i == 0 {
			req.History = t.History
			req.UserInput = t.Message
		} else {
			req.History = transcript(t.History, res.UserMessage, res.Replies)
		}

		resp, err := r.responder.Respond(ctx, req)
		if err != nil {
			if errors.Is(err, roleplay.ErrUnknownSpeaker) {
				err = fmt.Errorf("%w: %w", ErrCharacterNotFound, err)
			}
			r.logger.Warn("turn aborted", "campaign_id", t.CampaignID, "responder", step.Name, "error", err)
			return res, &Error{ResponderID: step.ID, ResponderName: step.Name, Err: err}
		}

		at := r.clock.Next()
		reply := conversation.Message{
			ID:          conversation.NewID(at),
			Sender:      conversation.SenderCharacter,
			Speaker:     step.Name,
			CharacterID: step.ID,
			Text:        resp.Text,
			Timestamp:   at,
		}
		res.Replies = append(res.Replies, reply)
		if t.OnReply != nil {
			t.OnReply(reply)
		}
	}
	return res, nil
}

func transcript(history []conversation.Message, user conversation.Message, replies []conversation.Message) []conversation.Message {
	out := make([]conversation.Message, 0, len(history)+1+len(replies))
	out = append(out, history...)
	out = append(out, user)
	return append(out, replies...)
}

func speakerName(as SpeakingAs, chars []entity.Character) string {
	switch as.Kind {
	case AsGameMaster:
		return conversation.GameMasterSpeaker
	case AsCharacter:
		for _, c := range chars {
			if c.ID == as.CharacterID && strings.TrimSpace(c.Name) != "" {
				return c.Name
			}
		}
	}
	return "Player"
}
