// Package roleplay is the single entry point that turns a user message into
// an in-character reply: recall, prompt assembly, completion and memory
// write-back.
package roleplay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ent0n29/taleweaver/internal/campaign"
	"github.com/ent0n29/taleweaver/internal/completion"
	"github.com/ent0n29/taleweaver/internal/conversation"
	"github.com/ent0n29/taleweaver/internal/entity"
	"github.com/ent0n29/taleweaver/internal/logging"
	"github.com/ent0n29/taleweaver/internal/memory"
	"github.com/ent0n29/taleweaver/internal/policy"
	"github.com/ent0n29/taleweaver/internal/prompt"
	"github.com/ent0n29/taleweaver/internal/recall"
)

const (
	DefaultTemperature = 0.8
	DefaultMaxTokens   = 400

	// queryTurns is how many recent messages join the user input when
	// ranking memories.
	queryTurns         = 3
	writeBackTimeout   = 2 * time.Second
	chatImportance     = 3
	campaignImportance = 5
)

// ErrUnknownSpeaker marks a missing responder character, as opposed to a
// missing campaign or world. It always wraps entity.ErrNotFound.
var ErrUnknownSpeaker = errors.New("responder character not found")

// Options mirrors the per-call knobs of a roleplay request.
type Options struct {
	// Temperature <= 0 means DefaultTemperature.
	Temperature float64 `json:"temperature,omitempty"`
	CampaignID  string  `json:"campaignId,omitempty"`
	// EnrichedContext, when set, is used instead of loading and enriching
	// the campaign again.
	EnrichedContext *campaign.Context `json:"enrichedContext,omitempty"`
	WorldContext    *entity.World     `json:"worldContext,omitempty"`
	IsGameMaster    bool              `json:"isGameMaster,omitempty"`
	GMPrompt        string            `json:"gmPrompt,omitempty"`
	RPMode          policy.Mode       `json:"rpMode,omitempty"`
	MaxTokens       int               `json:"maxTokens,omitempty"`
	// SpeakerName is who the user input is attributed to in the prompt.
	SpeakerName string `json:"speakerName,omitempty"`
}

type Request struct {
	Actor       entity.Actor
	CharacterID string
	UserInput   string
	History     []conversation.Message
	Options     Options
}

type Response struct {
	Text   string `json:"response"`
	Source string `json:"source"`
}

// Completer is the completion dispatcher seen by the service.
type Completer interface {
	Complete(ctx context.Context, req completion.Request) (completion.Result, error)
}

// Observer receives memory write-back outcomes.
type Observer interface {
	ObserveMemoryEvent(event string)
}

type Deps struct {
	Directory        entity.Directory
	Store            memory.Store
	Retriever        *recall.Retriever
	Completer        Completer
	Logger           *slog.Logger
	Observer         Observer
	DefaultMaxTokens int
}

type Service struct {
	directory entity.Directory
	store     memory.Store
	retriever *recall.Retriever
	enricher  *campaign.Enricher
	completer Completer
	logger    *slog.Logger
	observer  Observer
	maxTokens int
	now       func() time.Time
}

func New(d Deps) (*Service, error) {
	if d.Directory == nil || d.Store == nil || d.Completer == nil {
		return nil, errors.New("roleplay: directory, store and completer are required")
	}
	logger := logging.OrDiscard(d.Logger)
	retriever := d.Retriever
	if retriever == nil {
		retriever = campaign.NewRetriever(d.Store, recall.WithLogger(logger))
	}
	maxTokens := d.DefaultMaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Service{
		directory: d.Directory,
		store:     d.Store,
		retriever: retriever,
		enricher:  campaign.NewEnricher(retriever),
		completer: d.Completer,
		logger:    logger,
		observer:  d.Observer,
		maxTokens: maxTokens,
		now:       time.Now,
	}, nil
}

// Respond produces one reply. Directory errors are returned verbatim,
// completion failures as *completion.DispatchError. Missing memories never
// fail the call.
func (s *Service) Respond(ctx context.Context, req Request) (Response, error) {
	character, system, err := s.assemble(ctx, req)
	if err != nil {
		return Response{}, err
	}
	opts := req.Options

	temperature := opts.Temperature
	if temperature <= 0 {
		temperature = DefaultTemperature
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = s.maxTokens
	}
	speaker := character.Name
	if opts.IsGameMaster {
		speaker = conversation.GameMasterSpeaker
	}
	res, err := s.completer.Complete(ctx, completion.Request{
		System:      system,
		Message:     backendMessage(req),
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Speaker:     speaker,
	})
	if err != nil {
		return Response{}, err
	}

	if !opts.IsGameMaster {
		s.writeBack(ctx, character.ID, req.UserInput, res.Text, opts.CampaignID)
	}
	return Response{Text: res.Text, Source: res.Source}, nil
}

// Preview returns the prompt Respond would send, without calling a backend
// or writing memories.
func (s *Service) Preview(ctx context.Context, req Request) (string, error) {
	_, system, err := s.assemble(ctx, req)
	return system, err
}

func (s *Service) assemble(ctx context.Context, req Request) (entity.Character, string, error) {
	character, err := s.resolveSpeaker(ctx, req)
	if err != nil {
		return entity.Character{}, "", err
	}
	opts := req.Options

	campaignCtx, err := s.campaignContext(ctx, req.Actor, opts)
	if err != nil {
		return entity.Character{}, "", err
	}
	var world *entity.World
	if campaignCtx == nil {
		world = s.worldContext(ctx, req.Actor, character, opts.WorldContext)
	}

	system := prompt.Assemble(character, req.History, prompt.Options{
		IsGameMaster: opts.IsGameMaster,
		GMPrompt:     opts.GMPrompt,
		Memories:     s.memories(ctx, req),
		Campaign:     campaignCtx,
		World:        world,
		RPMode:       opts.RPMode,
		SpeakerName:  opts.SpeakerName,
		UserInput:    req.UserInput,
	})
	return character, system, nil
}

func (s *Service) resolveSpeaker(ctx context.Context, req Request) (entity.Character, error) {
	if req.Options.IsGameMaster && strings.TrimSpace(req.CharacterID) == "" {
		return entity.Character{Name: conversation.GameMasterSpeaker}, nil
	}
	if strings.TrimSpace(req.CharacterID) == "" {
		return entity.Character{}, fmt.Errorf("%w: character id is required: %w", ErrUnknownSpeaker, entity.ErrNotFound)
	}
	c, err := s.directory.Character(ctx, req.Actor, req.CharacterID)
	if errors.Is(err, entity.ErrNotFound) {
		return entity.Character{}, fmt.Errorf("%w: %w", ErrUnknownSpeaker, err)
	}
	return c, err
}

func (s *Service) campaignContext(ctx context.Context, actor entity.Actor, opts Options) (*campaign.Context, error) {
	if opts.EnrichedContext != nil {
		c := *opts.EnrichedContext
		return &c, nil
	}
	if strings.TrimSpace(opts.CampaignID) == "" {
		return nil, nil
	}
	camp, err := s.directory.Campaign(ctx, actor, opts.CampaignID)
	if err != nil {
		return nil, err
	}
	participants := make([]entity.Character, 0, len(camp.ParticipantIDs))
	for _, id := range camp.ParticipantIDs {
		p, err := s.directory.Character(ctx, actor, id)
		if err != nil {
			s.logger.Warn("campaign participant unavailable", "campaign_id", camp.ID, "character_id", id, "error", err)
			continue
		}
		participants = append(participants, p)
	}
	c := s.enricher.Enrich(ctx, campaign.NewContext(camp, participants))
	return &c, nil
}

// Chat mode only names the world; a lookup failure just drops the name.
func (s *Service) worldContext(ctx context.Context, actor entity.Actor, c entity.Character, given *entity.World) *entity.World {
	if given != nil {
		return given
	}
	if c.WorldID == "" {
		return nil
	}
	w, err := s.directory.World(ctx, actor, c.WorldID)
	if err != nil {
		s.logger.Debug("world lookup failed", "world_id", c.WorldID, "error", err)
		return nil
	}
	return &w
}

func (s *Service) memories(ctx context.Context, req Request) string {
	if req.Options.IsGameMaster || req.CharacterID == "" {
		return ""
	}
	query := queryContext(req.UserInput, req.History)
	if id := strings.TrimSpace(req.Options.CampaignID); id != "" {
		return s.enricher.Memories(ctx, req.CharacterID, id, query)
	}
	var items []recall.Scored
	if strings.TrimSpace(query) == "" {
		items = s.retriever.Personality(ctx, req.CharacterID, recall.DefaultLimit)
	} else {
		items = s.retriever.Retrieve(ctx, req.CharacterID, query, recall.DefaultLimit, recall.DefaultMinScore)
	}
	return recall.FormatLines(items, s.now())
}

// Later responders of a campaign turn see the user input inside History and
// get no separate UserInput; the last transcript line stands in for it.
func backendMessage(req Request) string {
	if strings.TrimSpace(req.UserInput) != "" || len(req.History) == 0 {
		return req.UserInput
	}
	return req.History[len(req.History)-1].Text
}

func queryContext(input string, history []conversation.Message) string {
	parts := make([]string, 0, queryTurns+1)
	for _, m := range conversation.Window(history, queryTurns) {
		parts = append(parts, m.Text)
	}
	parts = append(parts, input)
	return strings.TrimSpace(strings.Join(parts, " "))
}

// writeBack stores what was said so later turns can recall it. It is
// best-effort: failures are logged and counted, never returned.
func (s *Service) writeBack(ctx context.Context, characterID, input, reply, campaignID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeBackTimeout)
	defer cancel()

	var (
		content    string
		typ        memory.Type
		importance int
	)
	if campaignID != "" {
		content = campaign.Tag(campaignID, `I said: "`+reply+`"`)
		typ, importance = memory.TypeCharacterInteraction, campaignImportance
	} else {
		if strings.TrimSpace(input) == "" {
			return
		}
		content = `User said: "` + strings.TrimSpace(input) + `". I replied: "` + reply + `"`
		typ, importance = memory.TypeConversation, chatImportance
	}
	content, redacted := policy.RedactPII(content)
	if _, err := s.store.Add(ctx, characterID, content, typ, importance); err != nil {
		s.logger.Warn("memory write-back failed", "character_id", characterID, "error", err)
		s.observe("write_failed")
		return
	}
	if redacted {
		s.observe("redacted")
	}
	s.observe("written")
}

func (s *Service) observe(event string) {
	if s.observer != nil {
		s.observer.ObserveMemoryEvent(event)
	}
}
